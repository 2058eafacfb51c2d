// Package pg implements repository.Store on PostgreSQL through pgxpool.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
	"github.com/dropDatabas3/openidconnect/internal/store/migrate"
	migrations "github.com/dropDatabas3/openidconnect/migrations/postgres"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

// Open connects, pings and migrates.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := migrate.NewMigrator(migrations.FS, migrate.Postgres).Run(ctx, migrate.PGXExecer(pool)); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// New wraps an existing, already migrated pool.
func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Accounts() repository.AccountRepository    { return accountRepo{s.pool} }
func (s *Store) Identities() repository.IdentityRepository { return identityRepo{s.pool} }
func (s *Store) Ping(ctx context.Context) error            { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertLink(ctx context.Context, q querier, l repository.IdentityLink) (*repository.IdentityLink, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	claims, err := json.Marshal(orEmpty(l.Claims))
	if err != nil {
		return nil, err
	}
	const query = `
		INSERT INTO identity_link (id, provider, subject, account_id, claims, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = q.QueryRow(ctx, query, l.ID, l.Provider, l.Subject, l.AccountID, claims).Scan(&l.CreatedAt, &l.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, repository.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) CreateAccountWithLink(ctx context.Context, acc repository.Account, link repository.IdentityLink) (*repository.Account, *repository.IdentityLink, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO account (id, username, email) VALUES ($1, $2, $3) RETURNING created_at`,
		acc.ID, acc.Username, acc.Email,
	).Scan(&acc.CreatedAt)
	if isUniqueViolation(err) {
		return nil, nil, repository.ErrConflict
	}
	if err != nil {
		return nil, nil, err
	}

	link.AccountID = acc.ID
	l, err := insertLink(ctx, tx, link)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return &acc, l, nil
}

type accountRepo struct{ pool *pgxpool.Pool }

func (r accountRepo) Get(ctx context.Context, id string) (*repository.Account, error) {
	var a repository.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, email, created_at FROM account WHERE id = $1`, id,
	).Scan(&a.ID, &a.Username, &a.Email, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r accountRepo) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM account WHERE username = $1)`, username).Scan(&exists)
	return exists, err
}

// Delete relies on ON DELETE CASCADE for the links.
func (r accountRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM account WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type identityRepo struct{ pool *pgxpool.Pool }

const linkColumns = `id, provider, subject, account_id, claims, created_at, updated_at`

func scanLink(row pgx.Row) (*repository.IdentityLink, error) {
	var l repository.IdentityLink
	var claims []byte
	if err := row.Scan(&l.ID, &l.Provider, &l.Subject, &l.AccountID, &claims, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &l.Claims); err != nil {
			return nil, fmt.Errorf("decode claims: %w", err)
		}
	}
	return &l, nil
}

func (r identityRepo) GetByProvider(ctx context.Context, provider, subject string) (*repository.IdentityLink, error) {
	l, err := scanLink(r.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM identity_link WHERE provider = $1 AND subject = $2`, provider, subject))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return l, err
}

func (r identityRepo) ListByAccount(ctx context.Context, accountID string) ([]repository.IdentityLink, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+linkColumns+` FROM identity_link WHERE account_id = $1 ORDER BY provider`, accountID)
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
	if _, err := (accountRepo{r.pool}).Get(ctx, link.AccountID); err != nil {
		return nil, err
	}
	return insertLink(ctx, r.pool, link)
}

func (r identityRepo) UpdateClaims(ctx context.Context, id string, claims map[string]any) error {
	b, err := json.Marshal(orEmpty(claims))
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE identity_link SET claims = $2, updated_at = $3 WHERE id = $1`, id, b, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r identityRepo) Delete(ctx context.Context, accountID, provider string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM identity_link WHERE account_id = $1 AND provider = $2`, accountID, provider)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
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
