// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reshapehq/reshape/cmd/flags"
	"github.com/reshapehq/reshape/internal/loader"
	"github.com/reshapehq/reshape/pkg/view"
)

func schemaQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schema-query",
		Aliases: []string{"generate-schema-query"},
		Short:   "Print the `SET search_path` statement for the latest migration, with no database connection required",
		RunE: func(cmd *cobra.Command, args []string) error {
			migs, err := loader.Load(flags.MigrationsDir())
			if err != nil {
				return err
			}
			if len(migs) == 0 {
				return fmt.Errorf("no migrations found in %q", flags.MigrationsDir())
			}

			latest := migs[len(migs)-1]
			fmt.Printf("SET search_path TO %s\n", view.Namespace(latest.Name))
			return nil
		},
	}

	flags.MigrationsDirFlag(cmd)
	return cmd
}
