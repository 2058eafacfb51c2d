package middlewares

import (
	"net/http"

	httperrors "github.com/dropDatabas3/openidconnect/internal/http/errors"
	"github.com/dropDatabas3/openidconnect/internal/session"
)

// OptionalSession carga la sesión del host si la hay; requests anónimos pasan
// igual. /auth/{provider} lo usa para vincular en vez de crear cuenta.
func OptionalSession(mgr session.Manager) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := mgr.Current(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// RequireSession responde 401 si no hay sesión válida.
func RequireSession(mgr session.Manager) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := mgr.Current(r)
			if err != nil {
				httperrors.WriteError(w, r, httperrors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}
