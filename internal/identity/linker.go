// Package identity maps provider identities to local accounts.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/openidconnect/internal/claims"
	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
	"github.com/dropDatabas3/openidconnect/internal/hooks"
	"github.com/dropDatabas3/openidconnect/internal/metrics"
	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
)

var (
	ErrAccountCreationDenied = errors.New("account creation denied")
	ErrMissingSubject        = errors.New("claims have no sub")
	ErrSessionAccount        = errors.New("session account not found")
	// ErrProviderAlreadyLinked: the session account already has a different
	// identity at this provider.
	ErrProviderAlreadyLinked = errors.New("account already linked to this provider")
	ErrLastIdentity          = errors.New("cannot remove the only linked identity")
)

// DeniedError is returned when a policy refuses to create an account.
// errors.Is(err, ErrAccountCreationDenied) holds.
type DeniedError struct {
	Provider string
	Message  *hooks.Message
}

func (e *DeniedError) Error() string {
	if e.Message != nil && e.Message.Text != "" {
		return fmt.Sprintf("%s: %s: %s", ErrAccountCreationDenied, e.Provider, e.Message.Text)
	}
	return fmt.Sprintf("%s: %s", ErrAccountCreationDenied, e.Provider)
}

func (e *DeniedError) Unwrap() error { return ErrAccountCreationDenied }

// Mode says how Resolve found the account.
type Mode string

const (
	ModeExisting Mode = "existing"
	ModeLinked   Mode = "linked"
	ModeCreated  Mode = "created"
)

type Resolution struct {
	Account *repository.Account
	Link    *repository.IdentityLink
	Mode    Mode
}

// Linker resolves (provider, sub) to an account, creating or linking as needed.
type Linker struct {
	store   repository.Store
	policy  hooks.AccountCreationPolicy
	mapping Mapping
}

// New builds a Linker. A nil policy allows every creation.
func New(store repository.Store, policy hooks.AccountCreationPolicy, mapping Mapping) *Linker {
	if policy == nil {
		policy = hooks.New()
	}
	if len(mapping.UsernameClaims) == 0 {
		mapping.UsernameClaims = DefaultMapping().UsernameClaims
	}
	return &Linker{store: store, policy: policy, mapping: mapping}
}

// Resolve returns the account for (provider, c.sub):
//  1. an existing link wins, its cached claims are refreshed;
//  2. otherwise a signed-in sessionAccountID gets the identity linked;
//  3. otherwise a new account is created if the policy allows it.
//
// Concurrent calls for the same identity end on one account: the store's
// unique (provider, subject) constraint rejects the losers, who then re-read
// the winner's link.
func (l *Linker) Resolve(ctx context.Context, provider string, c claims.Claims, sessionAccountID string) (res *Resolution, err error) {
	sub := c.Subject()
	if sub == "" {
		return nil, ErrMissingSubject
	}
	log := logger.From(ctx).With(logger.Component("identity"), logger.Provider(provider), logger.Subject(sub))
	defer func() {
		switch {
		case err == nil:
			metrics.AccountsResolved.WithLabelValues(provider, string(res.Mode)).Inc()
			log.Debug("identity resolved", logger.AccountID(res.Account.ID), logger.String("mode", string(res.Mode)))
		case errors.Is(err, ErrAccountCreationDenied):
			metrics.AccountsResolved.WithLabelValues(provider, "denied").Inc()
		}
	}()

	if res, err := l.existing(ctx, provider, sub, c); err == nil {
		if sessionAccountID != "" && sessionAccountID != res.Account.ID {
			log.Warn("identity belongs to another account than the session", logger.AccountID(res.Account.ID))
		}
		return res, nil
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	if sessionAccountID != "" {
		return l.link(ctx, provider, sub, c, sessionAccountID)
	}

	if ok, msg := l.policy.AllowAccountCreation(ctx, c, provider); !ok {
		return nil, &DeniedError{Provider: provider, Message: msg}
	}
	return l.create(ctx, provider, sub, c)
}

func (l *Linker) existing(ctx context.Context, provider, sub string, c claims.Claims) (*Resolution, error) {
	link, err := l.store.Identities().GetByProvider(ctx, provider, sub)
	if err != nil {
		return nil, err
	}
	acc, err := l.store.Accounts().Get(ctx, link.AccountID)
	if err != nil {
		// a link without account: treat like a missing link
		return nil, err
	}
	if c != nil {
		if err := l.store.Identities().UpdateClaims(ctx, link.ID, c); err != nil {
			// stale cached claims do not block a login
			logger.From(ctx).Warn("could not refresh cached claims",
				logger.Component("identity"), logger.Provider(provider), logger.Err(err))
		} else {
			link.Claims = c.Clone()
		}
	}
	return &Resolution{Account: acc, Link: link, Mode: ModeExisting}, nil
}

func (l *Linker) link(ctx context.Context, provider, sub string, c claims.Claims, accountID string) (*Resolution, error) {
	acc, err := l.store.Accounts().Get(ctx, accountID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionAccount, accountID)
		}
		return nil, err
	}
	link, err := l.store.Identities().Create(ctx, repository.IdentityLink{
		Provider:  provider,
		Subject:   sub,
		AccountID: acc.ID,
		Claims:    c.Clone(),
	})
	if err == nil {
		return &Resolution{Account: acc, Link: link, Mode: ModeLinked}, nil
	}
	if !repository.IsConflict(err) {
		return nil, err
	}
	// either someone linked this identity first, or the account already has
	// a link at this provider
	if res, ferr := l.existing(ctx, provider, sub, nil); ferr == nil {
		return res, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProviderAlreadyLinked, provider)
}

func (l *Linker) create(ctx context.Context, provider, sub string, c claims.Claims) (*Resolution, error) {
	username := l.mapping.Username(provider, c)
	if taken, err := l.store.Accounts().UsernameTaken(ctx, username); err != nil {
		return nil, err
	} else if taken {
		username = suffixed(username, provider, sub)
	}
	email := l.mapping.Email(c)

	for attempt := 0; ; attempt++ {
		acc, link, err := l.store.CreateAccountWithLink(ctx,
			repository.Account{Username: username, Email: email},
			repository.IdentityLink{Provider: provider, Subject: sub, Claims: c.Clone()},
		)
		if err == nil {
			return &Resolution{Account: acc, Link: link, Mode: ModeCreated}, nil
		}
		if !repository.IsConflict(err) {
			return nil, err
		}
		// lost a race for the link: use the winner's account
		res, ferr := l.existing(ctx, provider, sub, nil)
		if ferr == nil {
			return res, nil
		}
		if !repository.IsNotFound(ferr) {
			return nil, ferr
		}
		// the username was the conflict
		if attempt > 0 {
			return nil, fmt.Errorf("create account for %s: %w", provider, err)
		}
		username = suffixed(l.mapping.Username(provider, c), provider, sub)
	}
}

// Links lists the identities linked to accountID.
func (l *Linker) Links(ctx context.Context, accountID string) ([]repository.IdentityLink, error) {
	return l.store.Identities().ListByAccount(ctx, accountID)
}

// Unlink removes the account's identity at provider. The last identity cannot
// be removed; delete the account instead.
func (l *Linker) Unlink(ctx context.Context, accountID, provider string) error {
	links, err := l.store.Identities().ListByAccount(ctx, accountID)
	if err != nil {
		return err
	}
	found := false
	for _, ln := range links {
		if ln.Provider == provider {
			found = true
		}
	}
	if !found {
		return repository.ErrNotFound
	}
	if len(links) == 1 {
		return ErrLastIdentity
	}
	return l.store.Identities().Delete(ctx, accountID, provider)
}

// DeleteAccount removes the account and all its links.
func (l *Linker) DeleteAccount(ctx context.Context, accountID string) error {
	return l.store.Accounts().Delete(ctx, accountID)
}
