// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/reshapehq/reshape/cmd/flags"
)

func completeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Complete the in-progress migration, cutting applications fully over to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, closeConn, err := newOrchestrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeConn()

			sp, _ := pterm.DefaultSpinner.WithText("Completing migration...").Start()
			if err := o.Complete(cmd.Context()); err != nil {
				sp.Fail(fmt.Sprintf("Failed to complete migration: %s", err))
				return requireAcquirable(err)
			}
			sp.Success("Migration complete")
			return nil
		},
	}

	flags.PgConnectionFlags(cmd)
	return cmd
}
