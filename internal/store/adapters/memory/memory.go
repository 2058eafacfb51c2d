// Package memory is an in-process repository.Store for tests and single
// replica deployments that do not need links to survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
)

type linkKey struct{ provider, subject string }

type Store struct {
	mu        sync.RWMutex
	accounts  map[string]repository.Account
	usernames map[string]string // username -> account id
	links     map[string]repository.IdentityLink
	byKey     map[linkKey]string // (provider, subject) -> link id
	now       func() time.Time
}

func New() *Store {
	return &Store{
		accounts:  make(map[string]repository.Account),
		usernames: make(map[string]string),
		links:     make(map[string]repository.IdentityLink),
		byKey:     make(map[linkKey]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Accounts() repository.AccountRepository    { return accounts{s} }
func (s *Store) Identities() repository.IdentityRepository { return identities{s} }
func (s *Store) Ping(context.Context) error                { return nil }
func (s *Store) Close() error                              { return nil }

// Counts reports stored accounts and links, for tests.
func (s *Store) Counts() (accounts, links int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts), len(s.links)
}

func (s *Store) CreateAccountWithLink(_ context.Context, acc repository.Account, link repository.IdentityLink) (*repository.Account, *repository.IdentityLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usernames[acc.Username]; taken {
		return nil, nil, repository.ErrConflict
	}
	if _, dup := s.byKey[linkKey{link.Provider, link.Subject}]; dup {
		return nil, nil, repository.ErrConflict
	}
	now := s.now()
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	acc.CreatedAt = now
	s.accounts[acc.ID] = acc
	s.usernames[acc.Username] = acc.ID

	link.AccountID = acc.ID
	l := s.insertLinkLocked(link, now)
	return &acc, &l, nil
}

func (s *Store) insertLinkLocked(link repository.IdentityLink, now time.Time) repository.IdentityLink {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	link.CreatedAt, link.UpdatedAt = now, now
	link.Claims = cloneClaims(link.Claims)
	s.links[link.ID] = link
	s.byKey[linkKey{link.Provider, link.Subject}] = link.ID
	return link
}

type accounts struct{ s *Store }

func (a accounts) Get(_ context.Context, id string) (*repository.Account, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	acc, ok := a.s.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &acc, nil
}

func (a accounts) UsernameTaken(_ context.Context, username string) (bool, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	_, ok := a.s.usernames[username]
	return ok, nil
}

func (a accounts) Delete(_ context.Context, id string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	acc, ok := a.s.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	for lid, l := range a.s.links {
		if l.AccountID == id {
			delete(a.s.byKey, linkKey{l.Provider, l.Subject})
			delete(a.s.links, lid)
		}
	}
	delete(a.s.usernames, acc.Username)
	delete(a.s.accounts, id)
	return nil
}

type identities struct{ s *Store }

func (r identities) GetByProvider(_ context.Context, provider, subject string) (*repository.IdentityLink, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.byKey[linkKey{provider, subject}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	l := r.s.links[id]
	l.Claims = cloneClaims(l.Claims)
	return &l, nil
}

func (r identities) ListByAccount(_ context.Context, accountID string) ([]repository.IdentityLink, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []repository.IdentityLink
	for _, l := range r.s.links {
		if l.AccountID == accountID {
			l.Claims = cloneClaims(l.Claims)
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (r identities) Create(_ context.Context, link repository.IdentityLink) (*repository.IdentityLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[link.AccountID]; !ok {
		return nil, repository.ErrNotFound
	}
	if _, dup := r.s.byKey[linkKey{link.Provider, link.Subject}]; dup {
		return nil, repository.ErrConflict
	}
	for _, l := range r.s.links {
		if l.AccountID == link.AccountID && l.Provider == link.Provider {
			return nil, repository.ErrConflict
		}
	}
	l := r.s.insertLinkLocked(link, r.s.now())
	return &l, nil
}

func (r identities) UpdateClaims(_ context.Context, id string, claims map[string]any) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.links[id]
	if !ok {
		return repository.ErrNotFound
	}
	l.Claims = cloneClaims(claims)
	l.UpdatedAt = r.s.now()
	r.s.links[id] = l
	return nil
}

func (r identities) Delete(_ context.Context, accountID, provider string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, l := range r.s.links {
		if l.AccountID == accountID && l.Provider == provider {
			delete(r.s.byKey, linkKey{l.Provider, l.Subject})
			delete(r.s.links, id)
			return nil
		}
	}
	return repository.ErrNotFound
}

func cloneClaims(c map[string]any) map[string]any {
	if c == nil {
		return nil
	}
	out := make(map[string]any, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
