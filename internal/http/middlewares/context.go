package middlewares

import (
	"context"

	"github.com/dropDatabas3/openidconnect/internal/session"
)

type ctxKey string

const (
	ctxRequestIDKey ctxKey = "request_id"
	ctxSessionKey   ctxKey = "session"
)

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// WithSession inyecta la sesión del host en el contexto.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, ctxSessionKey, s)
}

// GetRequestID retorna "" si WithRequestID no corrió.
func GetRequestID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return s
	}
	return ""
}

// GetSession retorna nil en requests anónimos.
func GetSession(ctx context.Context) *session.Session {
	if s, ok := ctx.Value(ctxSessionKey).(*session.Session); ok {
		return s
	}
	return nil
}

// AccountID is the signed-in account, or "".
func AccountID(ctx context.Context) string {
	if s := GetSession(ctx); s != nil {
		return s.AccountID
	}
	return ""
}
