// Package router arma el chi.Router del servicio: /auth, /readyz y /metrics.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	authctrl "github.com/dropDatabas3/openidconnect/internal/http/controllers/auth"
	healthctrl "github.com/dropDatabas3/openidconnect/internal/http/controllers/health"
	httperrors "github.com/dropDatabas3/openidconnect/internal/http/errors"
	mw "github.com/dropDatabas3/openidconnect/internal/http/middlewares"
	"github.com/dropDatabas3/openidconnect/internal/rate"
	"github.com/dropDatabas3/openidconnect/internal/session"
)

type RateLimit struct {
	Enabled bool
	Limit   int
	Window  time.Duration
	// Limiter compartido (Redis). nil = límite en memoria por proceso.
	Limiter rate.Limiter
}

type Deps struct {
	Auth     *authctrl.Controllers
	Health   *healthctrl.HealthController
	Sessions session.Manager
	Metrics  http.Handler // nil = sin /metrics
	Rate     RateLimit
	CSRF     mw.CSRFConfig
}

func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithMetrics(),
		mw.WithSecurityHeaders(),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, r, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, r, httperrors.ErrMethodNotAllowed)
	})

	// health y métricas: sin logging (muy frecuentes) ni rate limit
	if d.Health != nil {
		r.Get("/readyz", d.Health.Readyz)
	}
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(mw.WithLogging(), mw.WithNoStore())
		if rl := rateLimiter(d.Rate); rl != nil {
			r.Use(rl)
		}
		registerAuthRoutes(r, d)
	})
	return r
}

func registerAuthRoutes(r chi.Router, d Deps) {
	c := d.Auth

	r.Get("/providers", c.Providers.List)
	r.Get("/session", c.Session.Current)

	r.With(mw.OptionalSession(d.Sessions)).Get("/{provider}", c.Login.Begin)
	r.Get("/{provider}/callback", c.Login.Callback)

	r.With(mw.OptionalSession(d.Sessions), mw.WithCSRF(d.CSRF)).Post("/logout", c.Session.Logout)

	r.Group(func(r chi.Router) {
		r.Use(mw.RequireSession(d.Sessions), mw.WithCSRF(d.CSRF))
		r.Get("/links", c.Links.List)
		r.Delete("/links/{provider}", c.Links.Unlink)
		r.Delete("/account", c.Links.DeleteAccount)
	})
}

func rateLimiter(cfg RateLimit) mw.Middleware {
	if !cfg.Enabled || cfg.Limit <= 0 {
		return nil
	}
	if cfg.Limiter != nil {
		return mw.WithRateLimit(mw.RateLimitConfig{Limiter: cfg.Limiter, KeyFunc: mw.IPPathRateKey})
	}
	return mw.WithMemoryRateLimit(cfg.Limit, cfg.Window)
}
