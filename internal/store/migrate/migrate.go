// Package migrate applies embedded SQL schema migrations.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Formato de archivo: {version}_{name}.sql (ej: 0001_init.sql), en la raíz del FS.

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Execer abstracts database/sql and pgxpool for the migrator.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
	Versions(ctx context.Context, query string) ([]int, error)
}

// Migrator applies embedded SQL migrations in version order.
type Migrator struct {
	fsys    fs.FS
	dialect Dialect
}

func NewMigrator(fsys fs.FS, dialect Dialect) *Migrator {
	return &Migrator{fsys: fsys, dialect: dialect}
}

type Migration struct {
	Version int
	Name    string
	SQL     string
}

type MigrationResult struct {
	Applied  []int
	Skipped  []int
	Duration time.Duration
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// Parse lists the migrations found in the FS, sorted by version.
func (m *Migrator) Parse() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := migrationFilePattern.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		v, _ := strconv.Atoi(match[1])
		b, err := fs.ReadFile(m.fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		out = append(out, Migration{Version: v, Name: match[2], SQL: string(b)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Run applies every migration not yet recorded in _migrations.
func (m *Migrator) Run(ctx context.Context, ex Execer) (*MigrationResult, error) {
	start := time.Now()
	res := &MigrationResult{}

	create := `CREATE TABLE IF NOT EXISTS _migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
	if err := ex.Exec(ctx, create); err != nil {
		return res, fmt.Errorf("creating migrations table: %w", err)
	}

	versions, err := ex.Versions(ctx, "SELECT version FROM _migrations")
	if err != nil {
		return res, fmt.Errorf("getting applied migrations: %w", err)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	migs, err := m.Parse()
	if err != nil {
		return res, fmt.Errorf("parsing migrations: %w", err)
	}

	insert := "INSERT INTO _migrations (version, name) VALUES ($1, $2)"
	if m.dialect == SQLite {
		insert = "INSERT INTO _migrations (version, name) VALUES (?, ?)"
	}
	for _, mig := range migs {
		if applied[mig.Version] {
			res.Skipped = append(res.Skipped, mig.Version)
			continue
		}
		if err := ex.Exec(ctx, mig.SQL); err != nil {
			return res, fmt.Errorf("applying migration %04d_%s: %w", mig.Version, mig.Name, err)
		}
		if err := ex.Exec(ctx, insert, mig.Version, mig.Name); err != nil {
			return res, fmt.Errorf("recording migration %d: %w", mig.Version, err)
		}
		res.Applied = append(res.Applied, mig.Version)
	}
	res.Duration = time.Since(start)
	return res, nil
}

// SQLExecer adapts *sql.DB.
func SQLExecer(db *sql.DB) Execer { return sqlExecer{db} }

type sqlExecer struct{ db *sql.DB }

func (e sqlExecer) Exec(ctx context.Context, q string, args ...any) error {
	_, err := e.db.ExecContext(ctx, q, args...)
	return err
}

func (e sqlExecer) Versions(ctx context.Context, q string) ([]int, error) {
	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// PGXExecer adapts *pgxpool.Pool.
func PGXExecer(pool *pgxpool.Pool) Execer { return pgxExecer{pool} }

type pgxExecer struct{ pool *pgxpool.Pool }

func (e pgxExecer) Exec(ctx context.Context, q string, args ...any) error {
	_, err := e.pool.Exec(ctx, q, args...)
	return err
}

func (e pgxExecer) Versions(ctx context.Context, q string) ([]int, error) {
	rows, err := e.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
