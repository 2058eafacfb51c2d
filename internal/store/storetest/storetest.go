// Package storetest holds the behaviour every repository.Store adapter must
// share. Adapter packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
)

// Run exercises s. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("CreateAndFetch", func(t *testing.T) { testCreateAndFetch(t, newStore(t)) })
	t.Run("DuplicateLinkRollsBack", func(t *testing.T) { testDuplicateLink(t, newStore(t)) })
	t.Run("OneLinkPerProvider", func(t *testing.T) { testOneLinkPerProvider(t, newStore(t)) })
	t.Run("UpdateClaims", func(t *testing.T) { testUpdateClaims(t, newStore(t)) })
	t.Run("DeleteAccountCascades", func(t *testing.T) { testDeleteCascade(t, newStore(t)) })
	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
}

func account(username string) repository.Account {
	return repository.Account{Username: username, Email: username + "@example.com"}
}

func link(provider, subject string) repository.IdentityLink {
	return repository.IdentityLink{Provider: provider, Subject: subject, Claims: map[string]any{"sub": subject}}
}

func testCreateAndFetch(t *testing.T, s repository.Store) {
	ctx := context.Background()
	acc, l, err := s.CreateAccountWithLink(ctx, account("alice"), link("google", "g-1"))
	require.NoError(t, err)
	require.NotEmpty(t, acc.ID)
	require.Equal(t, acc.ID, l.AccountID)

	got, err := s.Identities().GetByProvider(ctx, "google", "g-1")
	require.NoError(t, err)
	require.Equal(t, acc.ID, got.AccountID)
	require.Equal(t, "g-1", got.Claims["sub"])

	a, err := s.Accounts().Get(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", a.Username)

	taken, err := s.Accounts().UsernameTaken(ctx, "alice")
	require.NoError(t, err)
	require.True(t, taken)

	_, err = s.Identities().GetByProvider(ctx, "google", "other")
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.Accounts().Get(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func testDuplicateLink(t *testing.T, s repository.Store) {
	ctx := context.Background()
	_, _, err := s.CreateAccountWithLink(ctx, account("bob"), link("google", "dup"))
	require.NoError(t, err)

	_, _, err = s.CreateAccountWithLink(ctx, account("bob2"), link("google", "dup"))
	require.ErrorIs(t, err, repository.ErrConflict)

	taken, err := s.Accounts().UsernameTaken(ctx, "bob2")
	require.NoError(t, err)
	require.False(t, taken, "account insert must roll back with the link")

	// same subject under another provider is a different identity
	_, _, err = s.CreateAccountWithLink(ctx, account("bob3"), link("corp", "dup"))
	require.NoError(t, err)
}

func testOneLinkPerProvider(t *testing.T, s repository.Store) {
	ctx := context.Background()
	acc, _, err := s.CreateAccountWithLink(ctx, account("carol"), link("google", "c-1"))
	require.NoError(t, err)

	_, err = s.Identities().Create(ctx, repository.IdentityLink{Provider: "google", Subject: "c-2", AccountID: acc.ID})
	require.ErrorIs(t, err, repository.ErrConflict)

	l, err := s.Identities().Create(ctx, repository.IdentityLink{Provider: "corp", Subject: "c-2", AccountID: acc.ID})
	require.NoError(t, err)
	require.NotEmpty(t, l.ID)

	links, err := s.Identities().ListByAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)

	require.NoError(t, s.Identities().Delete(ctx, acc.ID, "corp"))
	require.ErrorIs(t, s.Identities().Delete(ctx, acc.ID, "corp"), repository.ErrNotFound)
}

func testUpdateClaims(t *testing.T, s repository.Store) {
	ctx := context.Background()
	_, l, err := s.CreateAccountWithLink(ctx, account("dave"), link("google", "d-1"))
	require.NoError(t, err)

	require.NoError(t, s.Identities().UpdateClaims(ctx, l.ID, map[string]any{"sub": "d-1", "name": "Dave"}))
	got, err := s.Identities().GetByProvider(ctx, "google", "d-1")
	require.NoError(t, err)
	require.Equal(t, "Dave", got.Claims["name"])
	require.False(t, got.UpdatedAt.Before(got.CreatedAt))

	require.ErrorIs(t, s.Identities().UpdateClaims(ctx, "missing", nil), repository.ErrNotFound)
}

func testDeleteCascade(t *testing.T, s repository.Store) {
	ctx := context.Background()
	acc, _, err := s.CreateAccountWithLink(ctx, account("erin"), link("google", "e-1"))
	require.NoError(t, err)

	require.NoError(t, s.Accounts().Delete(ctx, acc.ID))
	_, err = s.Identities().GetByProvider(ctx, "google", "e-1")
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.ErrorIs(t, s.Accounts().Delete(ctx, acc.ID), repository.ErrNotFound)
}

func testConcurrentCreate(t *testing.T, s repository.Store) {
	ctx := context.Background()
	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = s.CreateAccountWithLink(ctx, account(fmt.Sprintf("racer-%d", i)), link("google", "same-sub"))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, repository.ErrConflict)
	}
	require.Equal(t, 1, ok)
}
