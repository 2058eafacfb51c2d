// Package app arma el relying party a partir de la configuración: stores,
// providers, flow controller, sesión y router HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/openidconnect/internal/cache"
	"github.com/dropDatabas3/openidconnect/internal/claims"
	"github.com/dropDatabas3/openidconnect/internal/config"
	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
	"github.com/dropDatabas3/openidconnect/internal/flow"
	"github.com/dropDatabas3/openidconnect/internal/flowstate"
	"github.com/dropDatabas3/openidconnect/internal/hooks"
	hookamqp "github.com/dropDatabas3/openidconnect/internal/hooks/amqp"
	httpserver "github.com/dropDatabas3/openidconnect/internal/http"
	authctrl "github.com/dropDatabas3/openidconnect/internal/http/controllers/auth"
	healthctrl "github.com/dropDatabas3/openidconnect/internal/http/controllers/health"
	mw "github.com/dropDatabas3/openidconnect/internal/http/middlewares"
	"github.com/dropDatabas3/openidconnect/internal/http/router"
	"github.com/dropDatabas3/openidconnect/internal/identity"
	"github.com/dropDatabas3/openidconnect/internal/metrics"
	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
	"github.com/dropDatabas3/openidconnect/internal/oidc"
	"github.com/dropDatabas3/openidconnect/internal/provider"
	"github.com/dropDatabas3/openidconnect/internal/rate"
	"github.com/dropDatabas3/openidconnect/internal/security/secretbox"
	tokens "github.com/dropDatabas3/openidconnect/internal/security/token"
	"github.com/dropDatabas3/openidconnect/internal/session"
	"github.com/dropDatabas3/openidconnect/internal/store"
)

// Options son las dependencias que no salen del archivo de config.
type Options struct {
	Version string
	// Registerer/Gatherer para /metrics. nil = default registry de prometheus.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// Plugins extra declarados por el host; nil = solo los built-in.
	Plugins *provider.Plugins
	// Policies y Observers se suman a los que arma la config.
	Policies  []hooks.AccountCreationPolicy
	Observers []hooks.PostAuthorizeObserver
	// Store reemplaza al de storage.driver (tests, embedding).
	Store repository.Store
}

// App is the wired relying party.
type App struct {
	Config    *config.Config
	Providers *provider.Registry
	Store     repository.Store
	Flow      *flow.Controller
	Linker    *identity.Linker
	Sessions  session.Manager
	Handler   http.Handler
	Server    *httpserver.Server

	closers []func() error
}

// New construye todo. Ante un error cierra lo que ya se abrió.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := logger.From(ctx).With(logger.Component("app"))

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := metrics.Register(opts.Registerer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if err := mw.RegisterHTTPMetrics(opts.Registerer); err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}

	httpClient := oidc.NewHTTPClient(cfg.HTTPTimeout())

	// ─── Providers ───
	var box *secretbox.Box
	if cfg.Security.SecretboxKey != "" {
		if box, err = secretbox.New(cfg.Security.SecretboxKey); err != nil {
			return nil, fmt.Errorf("secretbox: %w", err)
		}
	}
	a.Providers, err = provider.Load(ctx, cfg.Providers, provider.LoadOptions{
		Plugins:    opts.Plugins,
		Box:        box,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	log.Info("providers loaded", logger.Count(len(a.Providers.List())))

	// ─── Cache (flow state + rate limit) ───
	var (
		kv    cache.Client
		redis *rdb.Client
	)
	switch cfg.Cache.Kind {
	case "redis":
		kv, redis, err = cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
	default:
		kv = cache.NewMemory(cfg.Cache.Redis.Prefix, cfg.StateTTL())
	}
	a.closers = append(a.closers, kv.Close)

	// ─── Store ───
	a.Store = opts.Store
	if a.Store == nil {
		a.Store, err = store.Open(ctx, store.Config{
			Driver:   cfg.Storage.Driver,
			DSN:      cfg.Storage.DSN,
			MaxConns: cfg.Storage.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.Store.Close)
	}

	// ─── Hooks ───
	hk := hooks.New()
	if !*cfg.Linker.AllowCreate {
		hk.AddPolicy(hooks.DenyAll())
	}
	if cfg.Linker.RequireVerifiedEmail {
		hk.AddPolicy(hooks.RequireVerifiedEmail())
	}
	for _, p := range opts.Policies {
		hk.AddPolicy(p)
	}
	hk.AddObserver(hooks.AuditObserver())
	for _, o := range opts.Observers {
		hk.AddObserver(o)
	}
	var eventsProbe func(context.Context) error // nil = check deshabilitado
	if cfg.Events.AMQPURL != "" {
		conn, ch, err := hookamqp.Dial(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		hk.AddObserver(hookamqp.NewPublisher(ch, cfg.Events.Exchange, cfg.Events.RoutingKey))
		eventsProbe = func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("amqp connection closed")
			}
			return nil
		}
		log.Info("post-authorize events enabled", logger.String("exchange", cfg.Events.Exchange))
	}

	// ─── OIDC core ───
	jwks := oidc.NewJWKSCache(oidc.JWKSOptions{
		HTTPClient: httpClient,
		MinTTL:     cfg.JWKSMinTTL(),
		MaxTTL:     cfg.JWKSMaxTTL(),
	})
	validator := oidc.NewValidator(oidc.ValidatorOptions{
		JWKS:           jwks,
		HTTPClient:     httpClient,
		ClockSkew:      cfg.ClockSkew(),
		RequiredClaims: cfg.Linker.RequiredClaims,
	})
	a.Linker = identity.New(a.Store, hk, identity.Mapping{
		UsernameClaims: cfg.Linker.UsernameClaims,
		EmailClaim:     cfg.Linker.EmailClaim,
	})
	a.Flow = flow.New(flow.Deps{
		Providers: a.Providers,
		States:    flowstate.NewStore(kv),
		Client:    oidc.NewClient(httpClient),
		Validator: validator,
		Linker:    a.Linker,
		Notifier:  hk,
		Catalog:   claims.NewCatalog(),
	}, flow.Options{
		StateTTL:        cfg.StateTTL(),
		DefaultRedirect: cfg.Flow.DefaultRedirect,
		AllowedOrigins:  cfg.Flow.AllowedOrigins,
		WantedClaims:    cfg.Linker.RequiredClaims,
	})

	// ─── Session ───
	secret := []byte(cfg.Security.SessionSecret)
	if len(secret) == 0 {
		// sin secreto fuera de prod: uno efímero, las sesiones no sobreviven un restart
		s, err := tokens.GenerateOpaqueToken(32)
		if err != nil {
			return nil, err
		}
		secret = []byte(s)
		log.Warn("security.session_secret not set, using an ephemeral secret")
	}
	a.Sessions, err = session.NewCookie(session.CookieConfig{
		Name:   cfg.Security.SessionCookie,
		Secret: secret,
		TTL:    cfg.SessionTTL(),
		Secure: cfg.Security.CookieSecure,
	})
	if err != nil {
		return nil, err
	}

	// ─── HTTP ───
	auth := authctrl.NewControllers(authctrl.Deps{
		Flow:      a.Flow,
		Providers: a.Providers,
		Sessions:  a.Sessions,
		Links:     a.Linker,
	}, authctrl.Config{
		FailureRedirect: cfg.Flow.FailureRedirect,
		CookieSecure:    cfg.Security.CookieSecure,
		StateTTL:        cfg.StateTTL(),
	})
	health := healthctrl.NewHealthController(opts.Version,
		healthctrl.Check{Name: "store", Critical: true, Probe: a.Store.Ping},
		healthctrl.Check{Name: "cache", Critical: true, Probe: kv.Ping},
		healthctrl.Check{Name: "events", Probe: eventsProbe},
	)

	rl := router.RateLimit{
		Enabled: cfg.Rate.Enabled,
		Limit:   cfg.Rate.Limit,
		Window:  cfg.RateWindow(),
	}
	if redis != nil {
		rl.Limiter = rate.NewRedisLimiter(redis, cfg.Cache.Redis.Prefix+"rl:", cfg.Rate.Limit, cfg.RateWindow())
	}

	var metricsHandler http.Handler
	if opts.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
	} else {
		metricsHandler = promhttp.Handler()
	}

	a.Handler = router.New(router.Deps{
		Auth:     auth,
		Health:   health,
		Sessions: a.Sessions,
		Metrics:  metricsHandler,
		Rate:     rl,
	})
	a.Server = httpserver.NewServer(httpserver.ServerConfig{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.ReadTimeout(),
		WriteTimeout:    cfg.WriteTimeout(),
		ShutdownTimeout: cfg.ShutdownTimeout(),
	}, a.Handler)

	return a, nil
}

// Run sirve HTTP hasta que ctx se cancela.
func (a *App) Run(ctx context.Context) error {
	logger.From(ctx).Info("listening", logger.String("addr", a.Config.Server.Addr))
	return a.Server.Run(ctx)
}

// Close libera conexiones en orden inverso de apertura.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
