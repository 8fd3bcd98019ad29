package command

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rollbackSteps int

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert the most recently applied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()
		reverted, err := env.engine.Rollback(cmd.Context(), env.db, env.migrations, rollbackSteps)
		for _, id := range reverted {
			fmt.Fprintf(cmd.OutOrStdout(), "reverted %s\n", id)
		}
		if err != nil {
			return err
		}
		if len(reverted) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to revert")
		}
		return nil
	},
}

func init() {
	rollbackCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "revert the N most recently applied migrations")
	rootCmd.AddCommand(rollbackCmd)
}
