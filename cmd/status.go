// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reshapehq/reshape/cmd/flags"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the engine's current migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, closeConn, err := newOrchestrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeConn()

			st, err := o.Status(cmd.Context())
			if err != nil {
				return requireAcquirable(err)
			}

			fmt.Printf("Status:      %s\n", st.Status)
			if st.CurrentVersion != "" {
				fmt.Printf("Current:     %s\n", st.CurrentVersion)
			}
			if st.InProgressMigration != "" {
				fmt.Printf("In progress: %s\n", st.InProgressMigration)
			}
			fmt.Printf("Completed:   %d migration(s)\n", len(st.CompletedMigrations))
			for _, name := range st.CompletedMigrations {
				fmt.Printf("  - %s\n", name)
			}
			return nil
		},
	}

	flags.PgConnectionFlags(cmd)
	return cmd
}
