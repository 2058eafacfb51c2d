package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/openidconnect/internal/http/errors"
)

const (
	DefaultCSRFHeader = "X-CSRF-Token"
	DefaultCSRFCookie = "oidc_csrf"
)

type CSRFConfig struct {
	HeaderName string // default X-CSRF-Token
	CookieName string // default oidc_csrf
}

var errCSRF = httperrors.New(http.StatusForbidden, "INVALID_CSRF_TOKEN", "CSRF token faltante o distinto.")

// WithCSRF: double-submit para métodos inseguros. La sesión vive en una
// cookie, así que logout y unlink exigen header == cookie.
func WithCSRF(cfg CSRFConfig) Middleware {
	headerName := strings.TrimSpace(cfg.HeaderName)
	if headerName == "" {
		headerName = DefaultCSRFHeader
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = DefaultCSRFCookie
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			hdr := strings.TrimSpace(r.Header.Get(headerName))
			ck, _ := r.Cookie(cookieName)
			if hdr == "" || ck == nil || ck.Value == "" ||
				subtle.ConstantTimeCompare([]byte(hdr), []byte(ck.Value)) != 1 {
				httperrors.WriteError(w, r, errCSRF)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
