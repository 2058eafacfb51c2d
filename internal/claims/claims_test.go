package claims

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMerge_IDTokenWins(t *testing.T) {
	id := Claims{"sub": "123", "email": "id@example.com"}
	ui := Claims{"sub": "123", "email": "ui@example.com", "picture": "https://x/p.png"}

	got, err := Merge(id, ui)
	require.NoError(t, err)
	require.Equal(t, "id@example.com", got.String("email"))
	require.Equal(t, "https://x/p.png", got.String("picture"))
}

func TestMerge_RejectsForeignSubject(t *testing.T) {
	_, err := Merge(Claims{"sub": "a"}, Claims{"sub": "b"})
	require.Error(t, err)
}

func TestMerge_RequiresUserinfoSubject(t *testing.T) {
	for _, ui := range []Claims{
		{"email": "ui@example.com"},
		{"sub": "", "email": "ui@example.com"},
	} {
		got, err := Merge(Claims{"sub": "a"}, ui)
		require.ErrorContains(t, err, "no sub")
		require.Nil(t, got)
	}
}

func TestClaimsAccessors(t *testing.T) {
	c := Claims{
		"sub":            "s",
		"email_verified": "true",
		"aud":            []any{"a", "b", 3},
		"empty":          "",
	}
	require.True(t, c.Bool("email_verified"))
	require.Equal(t, []string{"a", "b"}, c.Strings("aud"))
	require.Equal(t, []string{"empty", "name"}, c.Missing("sub", "empty", "name"))
}

func TestCatalog_Scopes(t *testing.T) {
	cat := NewCatalog()
	got := cat.Scopes([]string{"email", "openid"}, "preferred_username", "email", "unknown")
	require.Equal(t, []string{"openid", "email", "profile"}, got)
}

func TestCatalog_Alteration(t *testing.T) {
	cat := NewCatalog(AlterFunc(func(e map[string]Entry) {
		e["groups"] = Entry{Scope: "groups", Description: "Group membership"}
		delete(e, "gender")
	}))

	e, ok := cat.Get("groups")
	require.True(t, ok)
	require.Equal(t, "groups", e.Scope)
	_, ok = cat.Get("gender")
	require.False(t, ok)
	require.Contains(t, cat.Scopes(nil, "groups"), "groups")
	require.Contains(t, cat.Names(), "groups")
}
