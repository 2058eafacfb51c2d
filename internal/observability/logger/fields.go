package logger

import (
	"time"

	"go.uber.org/zap"
)

// ---- HTTP ----

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }
func UserAgent(v string) zap.Field { return zap.String("user_agent", v) }
func Bytes(v int) zap.Field        { return zap.Int("bytes", v) }

// Duration logs milliseconds, which is what the dashboards aggregate on.
func Duration(d time.Duration) zap.Field { return zap.Int64("duration_ms", d.Milliseconds()) }

// ---- Relying party ----

// Provider is the configured provider name, never the issuer URL.
func Provider(v string) zap.Field  { return zap.String("provider", v) }
func AccountID(v string) zap.Field { return zap.String("account_id", v) }
func ClientID(v string) zap.Field  { return zap.String("client_id", v) }

// Subject logs a fingerprint of the external subject identifier.
func Subject(v string) zap.Field { return zap.String("sub", MaskToken(v)) }

// State logs a fingerprint of a state token.
func State(v string) zap.Field { return zap.String("state", MaskToken(v)) }

// Email logs the masked address.
func Email(v string) zap.Field { return zap.String("email", MaskEmail(v)) }

// Reason is the machine-readable failure kind (expired, nonce_mismatch, ...).
func Reason(v string) zap.Field { return zap.String("reason", v) }

// ---- Sistema ----

func Component(v string) zap.Field { return zap.String("component", v) }
func Layer(v string) zap.Field     { return zap.String("layer", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Err(err error) zap.Field      { return zap.Error(err) }
func Count(v int) zap.Field        { return zap.Int("count", v) }

func String(key, v string) zap.Field  { return zap.String(key, v) }
func Int(key string, v int) zap.Field { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}
func Any(key string, v any) zap.Field { return zap.Any(key, v) }
