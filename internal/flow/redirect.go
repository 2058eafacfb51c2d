package flow

import (
	"fmt"
	"net/url"
	"strings"
)

// SanitizeRedirect accepts a local absolute path ("/dashboard?tab=1") or an
// absolute URL whose origin is listed in allowedOrigins. Empty means fallback.
func SanitizeRedirect(target, fallback string, allowedOrigins []string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		if fallback == "" {
			fallback = "/"
		}
		return fallback, nil
	}
	if strings.ContainsAny(target, "\\\r\n\t") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRedirect, target)
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRedirect, target)
	}

	if u.Scheme == "" && u.Host == "" {
		// "//evil.example" parses as a host, so only single-slash paths get here
		if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || u.User != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidRedirect, target)
		}
		return target, nil
	}

	if u.Scheme != "https" && u.Scheme != "http" || u.Host == "" || u.User != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRedirect, target)
	}
	origin := strings.ToLower(u.Scheme + "://" + u.Host)
	for _, o := range allowedOrigins {
		if strings.ToLower(strings.TrimRight(o, "/")) == origin {
			return u.String(), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRedirect, target)
}
