package middlewares

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dropDatabas3/openidconnect/internal/hooks/amqp"
)

// maxRequestIDLen: ids más largos del cliente se descartan y se genera uno nuevo.
const maxRequestIDLen = 128

// WithRequestID propaga X-Request-ID o genera uno. El id va al header de
// respuesta, al contexto y a los eventos publicados por AMQP.
func WithRequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
			if rid == "" || len(rid) > maxRequestIDLen {
				rid = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", rid)

			ctx := setRequestID(r.Context(), rid)
			ctx = amqp.WithRequestID(ctx, rid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
