package command

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateLimit int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations in ascending key order",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()
		applied, err := env.engine.Migrate(cmd.Context(), env.db, env.migrations, migrateLimit)
		for _, id := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", id)
		}
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to apply")
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().IntVar(&migrateLimit, "limit", 0, "apply at most N pending migrations (0 applies all)")
	rootCmd.AddCommand(migrateCmd)
}
