// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/reshapehq/reshape/cmd/flags"
)

func abortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Abort the in-progress migration, undoing its actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, closeConn, err := newOrchestrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeConn()

			sp, _ := pterm.DefaultSpinner.WithText("Aborting migration...").Start()
			if err := o.Abort(cmd.Context()); err != nil {
				sp.Fail(fmt.Sprintf("Failed to abort migration: %s", err))
				return requireAcquirable(err)
			}
			sp.Success("Migration aborted")
			return nil
		},
	}

	flags.PgConnectionFlags(cmd)
	return cmd
}
