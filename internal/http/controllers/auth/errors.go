package auth

import (
	"errors"

	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
	"github.com/dropDatabas3/openidconnect/internal/flow"
	"github.com/dropDatabas3/openidconnect/internal/hooks"
	httperrors "github.com/dropDatabas3/openidconnect/internal/http/errors"
	"github.com/dropDatabas3/openidconnect/internal/identity"
	"github.com/dropDatabas3/openidconnect/internal/oidc"
)

// toAppError traduce errores de flow/identity/oidc al sobre HTTP. La causa
// queda en Err para los logs; el cliente solo ve code y message.
func toAppError(err error) *httperrors.AppError {
	var pe *flow.ProviderError
	switch {
	case errors.As(err, &pe):
		return httperrors.ErrAuthorizationDenied.WithDetail(pe.Code).WithCause(err)
	case errors.Is(err, flow.ErrProviderNotFound):
		return httperrors.ErrProviderNotFound.WithCause(err)
	case errors.Is(err, flow.ErrInvalidState):
		return httperrors.ErrInvalidState.WithCause(err)
	case errors.Is(err, flow.ErrMissingCode):
		return httperrors.ErrMissingCode.WithCause(err)
	case errors.Is(err, flow.ErrInvalidRedirect):
		return httperrors.ErrInvalidRedirect.WithCause(err)
	case errors.Is(err, identity.ErrAccountCreationDenied):
		return httperrors.ErrAccountCreationDenied.WithCause(err)
	case errors.Is(err, identity.ErrProviderAlreadyLinked):
		return httperrors.ErrAlreadyLinked.WithCause(err)
	case errors.Is(err, identity.ErrLastIdentity):
		return httperrors.ErrLastIdentity.WithCause(err)
	case errors.Is(err, identity.ErrSessionAccount):
		return httperrors.ErrUnauthorized.WithCause(err)
	case errors.Is(err, repository.ErrNotFound):
		return httperrors.ErrNotFound.WithCause(err)
	case errors.Is(err, oidc.ErrTokenExchange),
		errors.Is(err, oidc.ErrJWKSFetch),
		errors.Is(err, oidc.ErrUserinfoFetch):
		return httperrors.ErrUpstream.WithDetail(oidc.Reason(err)).WithCause(err)
	}
	if r := oidc.Reason(err); r != "other" {
		// validation failure of the ID token
		return httperrors.ErrTokenInvalid.WithDetail(r).WithCause(err)
	}
	return httperrors.ErrInternalServerError.WithCause(err)
}

func toMessages(in []hooks.Message) []httperrors.Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]httperrors.Message, 0, len(in))
	for _, m := range in {
		out = append(out, httperrors.Message{Level: string(m.Level), Text: m.Text})
	}
	return out
}
