package repository

import (
	"context"
	"time"
)

// Account is the local account an external identity maps to.
type Account struct {
	ID        string
	Username  string
	Email     string
	CreatedAt time.Time
}

// IdentityLink binds (Provider, Subject) to a local account. Claims holds the
// last claims seen for the subject.
type IdentityLink struct {
	ID        string
	Provider  string
	Subject   string
	AccountID string
	Claims    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountRepository stores local accounts.
type AccountRepository interface {
	// Get retorna ErrNotFound si no existe.
	Get(ctx context.Context, id string) (*Account, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	// Delete removes the account and every link pointing at it.
	Delete(ctx context.Context, id string) error
}

// IdentityRepository stores identity links.
type IdentityRepository interface {
	// GetByProvider retorna ErrNotFound si no hay link para (provider, subject).
	GetByProvider(ctx context.Context, provider, subject string) (*IdentityLink, error)
	ListByAccount(ctx context.Context, accountID string) ([]IdentityLink, error)
	// Create fails with ErrConflict when (provider, subject) is already linked
	// or the account already has a link for provider.
	Create(ctx context.Context, link IdentityLink) (*IdentityLink, error)
	UpdateClaims(ctx context.Context, id string, claims map[string]any) error
	// Delete removes the account's link for provider; ErrNotFound if none.
	Delete(ctx context.Context, accountID, provider string) error
}

// Store groups both repositories plus the one operation that must touch them
// atomically.
type Store interface {
	Accounts() AccountRepository
	Identities() IdentityRepository
	// CreateAccountWithLink inserts the account and its first link in one
	// transaction. On ErrConflict nothing is persisted.
	CreateAccountWithLink(ctx context.Context, acc Account, link IdentityLink) (*Account, *IdentityLink, error)
	Ping(ctx context.Context) error
	Close() error
}
