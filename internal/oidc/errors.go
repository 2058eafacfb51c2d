package oidc

import (
	"errors"
	"fmt"
)

// Validation failures. Every one of them ends the flow.
var (
	ErrMalformedToken         = errors.New("malformed id token")
	ErrSignatureVerification  = errors.New("id token signature verification failed")
	ErrIssuerMismatch         = errors.New("id token issuer mismatch")
	ErrAudienceMismatch       = errors.New("id token audience mismatch")
	ErrTokenExpired           = errors.New("id token expired")
	ErrTokenNotYetValid       = errors.New("id token not yet valid")
	ErrNonceMismatch          = errors.New("id token nonce mismatch")
	ErrInsufficientClaims     = errors.New("id token lacks required claims")
	ErrUnsupportedSigningAlgo = errors.New("unsupported id token signing algorithm")
)

// I/O failures against the provider.
var (
	ErrTokenExchange = errors.New("token exchange failed")
	ErrJWKSFetch     = errors.New("jwks fetch failed")
	ErrUserinfoFetch = errors.New("userinfo fetch failed")
)

// Error describes a failed call to a provider endpoint. errors.Is matches
// its Kind.
type Error struct {
	Kind       error
	Provider   string
	Op         string
	StatusCode int    // 0 when no HTTP response was received
	Code       string // OAuth error code, e.g. invalid_grant
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether trying the whole operation again may succeed:
// network failures and 5xx answers, never 4xx.
func (e *Error) Retryable() bool {
	if e.StatusCode == 0 {
		return e.Err != nil
	}
	return e.StatusCode >= 500
}

// Reason maps an error to the short label used in logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedToken):
		return "malformed"
	case errors.Is(err, ErrUnsupportedSigningAlgo):
		return "unsupported_alg"
	case errors.Is(err, ErrSignatureVerification):
		return "signature"
	case errors.Is(err, ErrIssuerMismatch):
		return "issuer"
	case errors.Is(err, ErrAudienceMismatch):
		return "audience"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenNotYetValid):
		return "not_yet_valid"
	case errors.Is(err, ErrNonceMismatch):
		return "nonce"
	case errors.Is(err, ErrInsufficientClaims):
		return "insufficient_claims"
	case errors.Is(err, ErrTokenExchange):
		return "token_exchange"
	case errors.Is(err, ErrJWKSFetch):
		return "jwks_fetch"
	case errors.Is(err, ErrUserinfoFetch):
		return "userinfo_fetch"
	default:
		return "other"
	}
}
