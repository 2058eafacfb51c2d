package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
	"github.com/dropDatabas3/openidconnect/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		s, err := Open(context.Background(), filepath.Join(t.TempDir(), "rp.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), " ")
	require.Error(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rp.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, _, err = s.CreateAccountWithLink(ctx,
		repository.Account{Username: "kept"},
		repository.IdentityLink{Provider: "google", Subject: "k-1"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	l, err := s.Identities().GetByProvider(ctx, "google", "k-1")
	require.NoError(t, err)
	require.Empty(t, l.Claims)
}
