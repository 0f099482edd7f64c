package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mosacloud/drive/internal/config"
	"github.com/mosacloud/drive/internal/logging"
	"github.com/mosacloud/drive/internal/session"
)

var purgeFlags struct {
	backend string
	dsn     string
	maxIdle time.Duration
}

// purgeCmd removes idle sessions from a SQL store.
var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove idle navigation sessions from a SQL session store",
	Long: `Delete navigation sessions that were not touched for --max-idle.

The store is migrated first, so purge can also be used to create the schema.

Examples:
  navctl purge --backend postgres --dsn postgres://nav@localhost/nav?sslmode=disable
  navctl purge --backend sqlite --dsn navigator.db --max-idle 24h`,
	RunE: runPurge,
}

func init() {
	f := purgeCmd.Flags()
	f.StringVar(&purgeFlags.backend, "backend", config.BackendPostgres, "Session backend (postgres or sqlite)")
	f.StringVar(&purgeFlags.dsn, "dsn", "", "Database URL or SQLite path (required)")
	f.DurationVar(&purgeFlags.maxIdle, "max-idle", 12*time.Hour, "Idle time after which a session is removed")
	purgeCmd.MarkFlagRequired("dsn")
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	opts := session.Options{Kind: purgeFlags.backend}
	switch purgeFlags.backend {
	case config.BackendPostgres:
		opts.DatabaseURL = purgeFlags.dsn
	case config.BackendSQLite:
		opts.SQLitePath = purgeFlags.dsn
	default:
		return fmt.Errorf("purge needs a SQL backend, got %q", purgeFlags.backend)
	}

	backend, err := session.NewBackend(ctx, opts)
	if err != nil {
		return err
	}
	defer backend.Close()

	n, err := backend.Purge(ctx, purgeFlags.maxIdle)
	if err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}
	logging.Info("purged idle navigation sessions",
		logging.String("backend", backend.Name()),
		logging.Duration("max_idle", purgeFlags.maxIdle),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "%d sessions removed\n", n)
	return nil
}
