// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/reshapehq/reshape/cmd/flags"
	"github.com/reshapehq/reshape/internal/loader"
	"github.com/reshapehq/reshape/pkg/migrations"
	"github.com/reshapehq/reshape/pkg/orchestrator"
	"github.com/reshapehq/reshape/pkg/view"
)

func migrateCmd() *cobra.Command {
	var complete bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply unapplied migrations from the migrations directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), complete)
		},
	}

	flags.PgConnectionFlags(cmd)
	flags.MigrationsDirFlag(cmd)
	cmd.Flags().BoolVarP(&complete, "complete", "c", false, "Also complete the migration once started")

	return cmd
}

func runMigrate(ctx context.Context, complete bool) error {
	o, closeConn, err := newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer closeConn()

	migs, err := loader.Load(flags.MigrationsDir())
	if err != nil {
		return err
	}

	status, err := o.Status(ctx)
	if err != nil {
		return err
	}

	pending := unappliedMigrations(migs, status.CompletedMigrations)
	if len(pending) == 0 {
		pterm.Info.Println("No unapplied migrations found")
		return nil
	}

	// Every migration but the last must be left complete so that the
	// next one's Start sees an Idle state; only the final migration
	// respects the caller's --complete flag.
	for _, m := range pending[:len(pending)-1] {
		if err := runOne(ctx, o, m, true); err != nil {
			return requireAcquirable(err)
		}
	}
	if err := runOne(ctx, o, pending[len(pending)-1], complete); err != nil {
		return requireAcquirable(err)
	}
	return nil
}

func runOne(ctx context.Context, o *orchestrator.Orchestrator, m *migrations.Migration, complete bool) error {
	sp, _ := pterm.DefaultSpinner.WithText(fmt.Sprintf("Starting migration %q...", m.Name)).Start()

	if err := o.Start(ctx, m); err != nil {
		sp.Fail(fmt.Sprintf("Failed to start migration %q: %s", m.Name, err))
		return err
	}

	if complete {
		if err := o.Complete(ctx); err != nil {
			sp.Fail(fmt.Sprintf("Failed to complete migration %q: %s", m.Name, err))
			return err
		}
		sp.Success(fmt.Sprintf("Migration %q complete", m.Name))
		return nil
	}

	ns := view.Namespace(m.Name)
	sp.Success(fmt.Sprintf("New version of the schema available under %q — run `reshape complete` when ready to finish cutting over", ns))
	return nil
}

// unappliedMigrations returns the migs not yet present in completed,
// in order, stopping is not required: any migration not yet recorded
// complete still needs to run, even out of its original sequence.
func unappliedMigrations(migs []*migrations.Migration, completed []string) []*migrations.Migration {
	done := make(map[string]bool, len(completed))
	for _, name := range completed {
		done[name] = true
	}

	var pending []*migrations.Migration
	for _, m := range migs {
		if !done[m.Name] {
			pending = append(pending, m)
		}
	}
	return pending
}
