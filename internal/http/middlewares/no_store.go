package middlewares

import "net/http"

// WithNoStore: Cache-Control no-store + Pragma no-cache. Todas las rutas de
// /auth devuelven redirecciones con state o datos de sesión.
func WithNoStore() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Pragma", "no-cache")
			next.ServeHTTP(w, r)
		})
	}
}
