package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/dropDatabas3/openidconnect/internal/config"
	"github.com/dropDatabas3/openidconnect/internal/store/migrate"
	pgmigrations "github.com/dropDatabas3/openidconnect/migrations/postgres"
	sqlitemigrations "github.com/dropDatabas3/openidconnect/migrations/sqlite"
)

func newMigrateCmd(g *globalFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones embebidas al storage configurado (postgres|sqlite)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := runContext(cmd)
			defer stop()
			return runMigrations(ctx, cmd.OutOrStdout(), cfg, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Solo lista las migraciones embebidas")
	return cmd
}

func runMigrations(ctx context.Context, w io.Writer, cfg *config.Config, dryRun bool) error {
	var (
		fsys    fs.FS
		dialect migrate.Dialect
	)
	switch cfg.Storage.Driver {
	case "postgres":
		fsys, dialect = pgmigrations.FS, migrate.Postgres
	case "sqlite":
		fsys, dialect = sqlitemigrations.FS, migrate.SQLite
	default:
		return fmt.Errorf("storage.driver %q has no schema to migrate", cfg.Storage.Driver)
	}
	m := migrate.NewMigrator(fsys, dialect)

	if dryRun {
		list, err := m.Parse()
		if err != nil {
			return err
		}
		for _, mg := range list {
			fmt.Fprintf(w, "%04d %s\n", mg.Version, mg.Name)
		}
		return nil
	}

	var ex migrate.Execer
	switch dialect {
	case migrate.Postgres:
		pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("pgxpool: %w", err)
		}
		defer pool.Close()
		ex = migrate.PGXExecer(pool)
	case migrate.SQLite:
		db, err := sql.Open("sqlite", cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer db.Close()
		ex = migrate.SQLExecer(db)
	}

	res, err := m.Run(ctx, ex)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "applied=%v skipped=%v took=%s\n", res.Applied, res.Skipped, res.Duration)
	return nil
}
