// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/reshapehq/reshape/cmd/flags"
)

func removeCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Drop the reserved metadata schema and all view-namespace artefacts (unsafe reset)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("remove is destructive: pass --yes to confirm")
			}

			o, closeConn, err := newOrchestrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeConn()

			sp, _ := pterm.DefaultSpinner.WithText("Removing reshape metadata...").Start()
			if err := o.Remove(cmd.Context()); err != nil {
				sp.Fail(fmt.Sprintf("Failed to remove reshape metadata: %s", err))
				return requireAcquirable(err)
			}
			sp.Success("reshape metadata removed")
			return nil
		},
	}

	flags.PgConnectionFlags(cmd)
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the destructive removal")
	return cmd
}
