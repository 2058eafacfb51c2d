package auth

import (
	"net/http"

	"github.com/go-chi/render"

	dto "github.com/dropDatabas3/openidconnect/internal/http/dto/auth"
	httperrors "github.com/dropDatabas3/openidconnect/internal/http/errors"
	mw "github.com/dropDatabas3/openidconnect/internal/http/middlewares"
	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
	tokens "github.com/dropDatabas3/openidconnect/internal/security/token"
	"github.com/dropDatabas3/openidconnect/internal/session"
)

const csrfBytes = 32

// SessionController handles GET /auth/session and POST /auth/logout.
type SessionController struct {
	sessions session.Manager
	cfg      Config
}

func NewSessionController(sessions session.Manager, cfg Config) *SessionController {
	return &SessionController{sessions: sessions, cfg: cfg}
}

// Current devuelve la sesión (o authenticated=false) y rota el token CSRF.
func (c *SessionController) Current(w http.ResponseWriter, r *http.Request) {
	csrf, err := tokens.GenerateOpaqueToken(csrfBytes)
	if err != nil {
		httperrors.WriteError(w, r, httperrors.ErrInternalServerError.WithCause(err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     mw.DefaultCSRFCookie,
		Value:    csrf,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})

	resp := dto.SessionResponse{CSRFToken: csrf}
	if s, err := c.sessions.Current(r); err == nil {
		resp.Authenticated = true
		resp.AccountID = s.AccountID
		resp.Provider = s.Provider
		resp.ExpiresAt = s.ExpiresAt
	}
	render.JSON(w, r, resp)
}

// Logout borra la sesión. Idempotente: sin sesión también responde 204.
func (c *SessionController) Logout(w http.ResponseWriter, r *http.Request) {
	if id := mw.AccountID(r.Context()); id != "" {
		logger.From(r.Context()).Info("logout", logger.AccountID(id))
	}
	c.sessions.Clear(w, r)
	w.WriteHeader(http.StatusNoContent)
}
