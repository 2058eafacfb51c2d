package hooks

import (
	"context"
	"strings"

	"github.com/dropDatabas3/openidconnect/internal/claims"
	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
	"github.com/dropDatabas3/openidconnect/internal/oidc"
)

// RequireVerifiedEmail denies creation unless email_verified is true.
func RequireVerifiedEmail() AccountCreationPolicy {
	return PolicyFunc(func(_ context.Context, c claims.Claims, _ string) (bool, *Message) {
		if c.Has("email") && c.Bool("email_verified") {
			return true, nil
		}
		return false, Error("Your e-mail address must be verified with the provider before an account can be created.")
	})
}

// AllowEmailDomains only lets addresses from domains create accounts.
func AllowEmailDomains(domains ...string) AccountCreationPolicy {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[strings.ToLower(strings.TrimPrefix(d, "@"))] = struct{}{}
	}
	return PolicyFunc(func(_ context.Context, c claims.Claims, _ string) (bool, *Message) {
		email := strings.ToLower(c.String("email"))
		at := strings.LastIndexByte(email, '@')
		if at > 0 {
			if _, ok := set[email[at+1:]]; ok {
				return true, nil
			}
		}
		return false, Error("Sign-ups are not open for this e-mail domain.")
	})
}

// DenyAll is used when account creation is switched off in configuration.
func DenyAll() AccountCreationPolicy {
	return PolicyFunc(func(context.Context, claims.Claims, string) (bool, *Message) {
		return false, Error("New accounts cannot be created. Sign in with an account you already linked.")
	})
}

// AuditObserver writes one structured log line per completed flow.
func AuditObserver() PostAuthorizeObserver {
	return ObserverFunc(func(ctx context.Context, _ *oidc.TokenSet, acc *repository.Account, c claims.Claims, provider string) error {
		logger.From(ctx).Info("authorized",
			logger.Component("audit"),
			logger.Provider(provider),
			logger.AccountID(acc.ID),
			logger.Subject(c.Subject()),
		)
		return nil
	})
}
