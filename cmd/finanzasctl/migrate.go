package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"finanzas/internal/storage"
	"finanzas/internal/storage/postgres"
)

// migrator runs schema migrations against the configured SQL backend.
type migrator struct {
	target  string
	up      func() error
	down    func(steps int) error
	version func() (uint, bool, error)
}

func (a *app) migrator() (migrator, error) {
	switch a.cfg.DataBackend {
	case "sqlite":
		path := a.cfg.SQLiteDBPath
		return migrator{
			target:  path,
			up:      func() error { return storage.RunMigrations(path) },
			down:    func(steps int) error { return storage.RollbackMigrations(path, steps) },
			version: func() (uint, bool, error) { return storage.MigrationVersion(path) },
		}, nil
	case "postgres":
		url := a.cfg.DatabaseURL
		if url == "" {
			return migrator{}, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		return migrator{
			target:  "postgres",
			up:      func() error { return postgres.RunMigrations(url) },
			down:    func(steps int) error { return postgres.RollbackMigrations(url, steps) },
			version: func() (uint, bool, error) { return postgres.MigrationVersion(url) },
		}, nil
	default:
		return migrator{}, fmt.Errorf("backend %q has no schema to migrate", a.cfg.DataBackend)
	}
}

func migrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Apply, roll back or inspect the schema migrations of the SQLite or
Postgres backend selected by DATA_BACKEND.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.migrator()
			if err != nil {
				return err
			}
			if err := m.up(); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			return printVersion(cmd, m)
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			m, err := a.migrator()
			if err != nil {
				return err
			}
			if err := m.down(steps); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			return printVersion(cmd, m)
		},
	}
	down.Flags().Int("steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.migrator()
			if err != nil {
				return err
			}
			return printVersion(cmd, m)
		},
	})
	return cmd
}

func printVersion(cmd *cobra.Command, m migrator) error {
	version, dirty, err := m.version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	status := successStyle.Render("clean")
	if dirty {
		status = errorStyle.Render("dirty")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: version %d (%s)\n",
		titleStyle.Render("schema"), m.target, version, status)
	return nil
}
