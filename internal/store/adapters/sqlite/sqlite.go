// Package sqlite provides a SQLite-backed repository.Store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
	"github.com/dropDatabas3/openidconnect/internal/store/migrate"
	migrations "github.com/dropDatabas3/openidconnect/migrations/sqlite"
)

// Store implements repository.Store over a single SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the bundled
// migrations. path may also be a full "file:" DSN.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite serializes writers anyway; a single connection keeps
	// transactions from failing with SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := migrate.NewMigrator(migrations.FS, migrate.SQLite).Run(ctx, migrate.SQLExecer(db)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Accounts() repository.AccountRepository    { return accountRepo{s} }
func (s *Store) Identities() repository.IdentityRepository { return identityRepo{s} }
func (s *Store) Ping(ctx context.Context) error            { return s.db.PingContext(ctx) }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(t time.Time) int64   { return t.UTC().UnixMilli() }
func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertLink(ctx context.Context, ex execer, l *repository.IdentityLink, now time.Time) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt, l.UpdatedAt = now, now
	claims, err := json.Marshal(orEmpty(l.Claims))
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO identity_link (id, provider, subject, account_id, claims, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Provider, l.Subject, l.AccountID, string(claims), toMillis(now), toMillis(now))
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

func (s *Store) CreateAccountWithLink(ctx context.Context, acc repository.Account, link repository.IdentityLink) (*repository.Account, *repository.IdentityLink, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	now := s.now()
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	acc.CreatedAt = now
	_, err = tx.ExecContext(ctx,
		`INSERT INTO account (id, username, email, created_at) VALUES (?, ?, ?, ?)`,
		acc.ID, acc.Username, acc.Email, toMillis(now))
	if isUniqueViolation(err) {
		return nil, nil, repository.ErrConflict
	}
	if err != nil {
		return nil, nil, err
	}

	link.AccountID = acc.ID
	if err := insertLink(ctx, tx, &link, now); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &acc, &link, nil
}

type accountRepo struct{ s *Store }

func (r accountRepo) Get(ctx context.Context, id string) (*repository.Account, error) {
	var a repository.Account
	var created int64
	err := r.s.db.QueryRowContext(ctx,
		`SELECT id, username, email, created_at FROM account WHERE id = ?`, id,
	).Scan(&a.ID, &a.Username, &a.Email, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = fromMillis(created)
	return &a, nil
}

func (r accountRepo) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM account WHERE username = ?`, username).Scan(&n)
	return n > 0, err
}

func (r accountRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM identity_link WHERE account_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM account WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit()
}

type identityRepo struct{ s *Store }

const linkColumns = `id, provider, subject, account_id, claims, created_at, updated_at`

type scanner interface{ Scan(dest ...any) error }

func scanLink(row scanner) (*repository.IdentityLink, error) {
	var l repository.IdentityLink
	var claims string
	var created, updated int64
	if err := row.Scan(&l.ID, &l.Provider, &l.Subject, &l.AccountID, &claims, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(claims), &l.Claims); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	l.CreatedAt, l.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &l, nil
}

func (r identityRepo) GetByProvider(ctx context.Context, provider, subject string) (*repository.IdentityLink, error) {
	l, err := scanLink(r.s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM identity_link WHERE provider = ? AND subject = ?`, provider, subject))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return l, err
}

func (r identityRepo) ListByAccount(ctx context.Context, accountID string) ([]repository.IdentityLink, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM identity_link WHERE account_id = ? ORDER BY provider`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []repository.IdentityLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (r identityRepo) Create(ctx context.Context, link repository.IdentityLink) (*repository.IdentityLink, error) {
	if _, err := (accountRepo{r.s}).Get(ctx, link.AccountID); err != nil {
		return nil, err
	}
	if err := insertLink(ctx, r.s.db, &link, r.s.now()); err != nil {
		return nil, err
	}
	return &link, nil
}

func (r identityRepo) UpdateClaims(ctx context.Context, id string, claims map[string]any) error {
	b, err := json.Marshal(orEmpty(claims))
	if err != nil {
		return err
	}
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE identity_link SET claims = ?, updated_at = ? WHERE id = ?`, string(b), toMillis(r.s.now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r identityRepo) Delete(ctx context.Context, accountID, provider string) error {
	res, err := r.s.db.ExecContext(ctx,
		`DELETE FROM identity_link WHERE account_id = ? AND provider = ?`, accountID, provider)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func orEmpty(c map[string]any) map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return c
}
