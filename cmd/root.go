// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reshapehq/reshape/cmd/flags"
	"github.com/reshapehq/reshape/internal/connstr"
	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/orchestrator"
	"github.com/reshapehq/reshape/pkg/state"
)

// Version is the reshape version, overridden at build time via
// -ldflags "-X github.com/reshapehq/reshape/cmd.Version=...".
var Version = "development"

func init() {
	viper.SetEnvPrefix("RESHAPE")
	viper.AutomaticEnv()
}

var rootCmd = &cobra.Command{
	Use:          "reshape",
	Short:        "Zero-downtime PostgreSQL schema migrations",
	SilenceUsage: true,
	Version:      Version,
}

// Execute runs the root command.
func Execute() error {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(abortCmd())
	rootCmd.AddCommand(removeCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(schemaQueryCmd())

	return rootCmd.Execute()
}

// newOrchestrator opens a connection per the bound flags/env vars and
// wires up the gateway, state store and orchestrator.
func newOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, func() error, error) {
	dsn, err := connstr.AppendSearchPathOption(flags.PostgresURL(), flags.Schema())
	if err != nil {
		return nil, nil, fmt.Errorf("reshape: building connection string: %w", err)
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("reshape: opening connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("reshape: connecting to database: %w", err)
	}

	if timeout := flags.LockTimeoutMs(); timeout > 0 {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET lock_timeout = '%dms'", timeout)); err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("reshape: setting lock_timeout: %w", err)
		}
	}
	if role := flags.Role(); role != "" {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET ROLE %s", pq.QuoteIdentifier(role))); err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("reshape: setting role %q: %w", role, err)
		}
	}

	gateway := db.New(conn)
	store := state.New(gateway, flags.ReservedSchema())
	o := orchestrator.New(gateway, store, flags.Schema(), Version)

	return o, gateway.Close, nil
}

// requireAcquirable surfaces db.ErrAlreadyRunning with CLI-appropriate
// wording rather than the bare sentinel.
func requireAcquirable(err error) error {
	if errors.Is(err, db.ErrAlreadyRunning) {
		return fmt.Errorf("another reshape invocation is already running against this database")
	}
	return err
}
