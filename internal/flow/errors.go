package flow

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/openidconnect/internal/identity"
	"github.com/dropDatabas3/openidconnect/internal/oidc"
	"github.com/dropDatabas3/openidconnect/internal/provider"
)

var (
	// ErrProviderNotFound is provider.ErrNotFound, re-exported for callers of
	// this package.
	ErrProviderNotFound = provider.ErrNotFound

	// ErrInvalidState: no pending flow matches the callback's state (unknown,
	// expired, already used, issued for another provider or for another
	// browser).
	ErrInvalidState        = errors.New("invalid or expired state")
	ErrAuthorizationDenied = errors.New("authorization denied by provider")
	ErrMissingCode         = errors.New("callback has no authorization code")
	ErrInvalidRedirect     = errors.New("redirect target not allowed")
)

// ProviderError is the error a provider reported on the callback
// (error=access_denied and friends). errors.Is(err, ErrAuthorizationDenied).
type ProviderError struct {
	Provider    string
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", ErrAuthorizationDenied, e.Provider, e.Code)
	if e.Description != "" {
		msg += " (" + e.Description + ")"
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return ErrAuthorizationDenied }

// failureReason labels a failed flow for metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrAuthorizationDenied):
		return "denied"
	case errors.Is(err, ErrMissingCode):
		return "missing_code"
	case errors.Is(err, ErrProviderNotFound):
		return "unknown_provider"
	case errors.Is(err, identity.ErrAccountCreationDenied):
		return "creation_denied"
	case errors.Is(err, identity.ErrProviderAlreadyLinked):
		return "already_linked"
	}
	if r := oidc.Reason(err); r != "other" {
		return r
	}
	return "error"
}

func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }
