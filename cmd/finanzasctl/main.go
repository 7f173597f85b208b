package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"finanzas/internal/cli"
	"finanzas/internal/config"
	"finanzas/internal/log"
)

// app carries what every subcommand needs once flags and environment are read.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *log.Logger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "finanzasctl",
		Short:         "Administer the finanzas ledger",
		Long:          `finanzasctl migrates storage, manages users, prints reports and exports them to files or Google Sheets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cli.LoadEnvFile()
			a.cfg = config.LoadFrom(a.v)
			a.logger = log.New(log.Config{
				Level:     log.ParseLevel(a.cfg.LogLevel),
				Format:    a.cfg.LogFormat,
				Component: log.ComponentCLI,
				Output:    os.Stderr,
			})
			log.SetDefault(a.logger)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("backend", "", "storage backend (memory, sqlite, postgres)")
	flags.String("sqlite-db-path", "", "SQLite database file")
	flags.String("database-url", "", "Postgres connection URL")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	_ = a.v.BindPFlag("data_backend", flags.Lookup("backend"))
	_ = a.v.BindPFlag("sqlite_db_path", flags.Lookup("sqlite-db-path"))
	_ = a.v.BindPFlag("database_url", flags.Lookup("database-url"))
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))

	root.AddCommand(
		migrateCmd(a),
		usersCmd(a),
		reportCmd(a),
		exportCmd(a),
		sheetsCmd(a),
	)
	return root
}
