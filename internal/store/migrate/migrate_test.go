package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	sqlitemigrations "github.com/dropDatabas3/openidconnect/migrations/sqlite"
)

func TestParseOrdersAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_second.sql": {Data: []byte("SELECT 2;")},
		"0001_first.sql":  {Data: []byte("SELECT 1;")},
		"README.md":       {Data: []byte("ignored")},
	}
	migs, err := NewMigrator(fsys, SQLite).Parse()
	require.NoError(t, err)
	require.Len(t, migs, 2)
	require.Equal(t, 1, migs[0].Version)
	require.Equal(t, "second", migs[1].Name)
}

func TestRunSQLiteIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	m := NewMigrator(sqlitemigrations.FS, SQLite)

	res, err := m.Run(ctx, SQLExecer(db))
	require.NoError(t, err)
	require.Equal(t, []int{1}, res.Applied)

	res, err = m.Run(ctx, SQLExecer(db))
	require.NoError(t, err)
	require.Empty(t, res.Applied)
	require.Equal(t, []int{1}, res.Skipped)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM identity_link").Scan(&n))
	require.Zero(t, n)
}
