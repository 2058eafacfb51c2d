// Package flowstate persists pending authorization requests between the
// redirect to the provider and the callback.
package flowstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/openidconnect/internal/cache"
	tokens "github.com/dropDatabas3/openidconnect/internal/security/token"
)

var (
	ErrNotFound = errors.New("flow state not found")
	ErrExpired  = errors.New("flow state expired")
)

// State is one pending authorization request. It is single-use.
type State struct {
	Token            string    `json:"-"`
	Nonce            string    `json:"nonce"`
	Provider         string    `json:"provider"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	RedirectTarget   string    `json:"redirect_target"`
	SessionAccountID string    `json:"session_account_id,omitempty"`
	CodeVerifier     string    `json:"code_verifier,omitempty"`
}

// Store keeps states in a cache.Client under a hash of the state token, so
// raw tokens never appear as keys.
type Store struct {
	kv  cache.Client
	now func() time.Time
}

func NewStore(kv cache.Client) *Store {
	return &Store{kv: kv, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func key(token string) string {
	return "flow:" + tokens.SHA256Hex(token)
}

// Save persists st until st.ExpiresAt.
func (s *Store) Save(ctx context.Context, st State) error {
	if st.Token == "" {
		return errors.New("flowstate: empty token")
	}
	ttl := st.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrExpired
	}
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("flowstate: encode: %w", err)
	}
	return s.kv.Set(ctx, key(st.Token), string(b), ttl)
}

// Consume removes the state for token and returns it. The removal happens
// whatever the outcome: an expired state is deleted and reported as ErrExpired.
func (s *Store) Consume(ctx context.Context, token string) (State, error) {
	if token == "" {
		return State{}, ErrNotFound
	}
	raw, err := s.kv.Take(ctx, key(token))
	if cache.IsNotFound(err) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("flowstate: take: %w", err)
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, fmt.Errorf("flowstate: decode: %w", err)
	}
	st.Token = token
	if !s.now().Before(st.ExpiresAt) {
		return State{}, ErrExpired
	}
	return st, nil
}
