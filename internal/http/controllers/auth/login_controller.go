package auth

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/openidconnect/internal/flow"
	"github.com/dropDatabas3/openidconnect/internal/hooks"
	httperrors "github.com/dropDatabas3/openidconnect/internal/http/errors"
	mw "github.com/dropDatabas3/openidconnect/internal/http/middlewares"
	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
	"github.com/dropDatabas3/openidconnect/internal/session"
)

// FlashCookie lleva el primer mensaje de un login exitoso (ej: "cuenta
// vinculada") hasta la página de destino.
const FlashCookie = "oidc_flash"

// StateCookiePrefix + provider es la cookie que ata el state al navegador
// que arrancó el flujo. Sin ella el callback es login CSRF.
const StateCookiePrefix = "oidc_state_"

const stateCookiePath = "/auth/"

// LoginController handles GET /auth/{provider} and its callback.
type LoginController struct {
	flow     FlowService
	sessions session.Manager
	cfg      Config
}

func NewLoginController(f FlowService, sessions session.Manager, cfg Config) *LoginController {
	return &LoginController{flow: f, sessions: sessions, cfg: cfg}
}

// Begin handles GET /auth/{provider}?redirect=/path
func (c *LoginController) Begin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providerName := chi.URLParam(r, "provider")
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("LoginController.Begin"), logger.Provider(providerName))

	authz, err := c.flow.Begin(ctx, providerName, strings.TrimSpace(r.URL.Query().Get("redirect")), mw.AccountID(ctx))
	if err != nil {
		log.Warn("begin failed", logger.Err(err))
		httperrors.WriteError(w, r, toAppError(err))
		return
	}
	ttl := c.cfg.StateTTL
	if ttl <= 0 {
		ttl = flow.DefaultStateTTL
	}
	// Lax: el redirect top-level desde el provider la tiene que llevar
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookiePrefix + providerName,
		Value:    authz.State,
		Path:     stateCookiePath,
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   c.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authz.URL, http.StatusFound)
}

// Callback handles GET /auth/{provider}/callback
func (c *LoginController) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providerName := chi.URLParam(r, "provider")
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("LoginController.Callback"), logger.Provider(providerName))

	var bound string
	if ck, err := r.Cookie(StateCookiePrefix + providerName); err == nil {
		bound = ck.Value
	}
	// de un solo uso, igual que el state
	c.clearStateCookie(w, providerName)

	res, err := c.flow.HandleCallback(ctx, providerName, r.URL.Query(), bound)
	if err != nil {
		appErr := toAppError(err)
		var msgs []hooks.Message
		if res != nil {
			msgs = res.Messages
		}
		if c.cfg.FailureRedirect != "" {
			c.setFlash(w, msgs)
			http.Redirect(w, r, failureURL(c.cfg.FailureRedirect, appErr.Code, providerName), http.StatusFound)
			return
		}
		httperrors.WriteError(w, r, appErr, toMessages(msgs)...)
		return
	}

	if _, err := c.sessions.Establish(w, r, res.Account.ID, res.Provider); err != nil {
		log.Error("could not establish session", logger.AccountID(res.Account.ID), logger.Err(err))
		httperrors.WriteError(w, r, httperrors.ErrInternalServerError.WithCause(err))
		return
	}
	c.setFlash(w, res.Messages)
	http.Redirect(w, r, res.RedirectTarget, http.StatusFound)
}

func (c *LoginController) clearStateCookie(w http.ResponseWriter, providerName string) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookiePrefix + providerName,
		Value:    "",
		Path:     stateCookiePath,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *LoginController) setFlash(w http.ResponseWriter, msgs []hooks.Message) {
	if len(msgs) == 0 {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookie,
		Value:    url.QueryEscape(string(msgs[0].Level) + ":" + msgs[0].Text),
		Path:     "/",
		MaxAge:   60,
		Expires:  time.Now().Add(time.Minute),
		HttpOnly: false, // el front lo lee y lo borra
		Secure:   c.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func failureURL(base, code, providerName string) string {
	u, err := url.Parse(base)
	if err != nil {
		return "/"
	}
	q := u.Query()
	q.Set("error", strings.ToLower(code))
	q.Set("provider", providerName)
	u.RawQuery = q.Encode()
	return u.String()
}
