package command

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the standing of every known migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()
		statuses, err := env.engine.Status(cmd.Context(), env.db, env.migrations)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tAPPLIED AT")
		for _, s := range statuses {
			switch {
			case s.Pending():
				fmt.Fprintf(w, "%s\t%s\tpending\t\n", s.Migration.ID, s.Migration.Name)
			case s.Orphaned():
				fmt.Fprintf(w, "%s\t%s\torphaned\t%s\n", s.Applied.ID, s.Applied.Name,
					s.Applied.AppliedAt.Format(time.RFC3339))
			default:
				fmt.Fprintf(w, "%s\t%s\tapplied\t%s\n", s.Migration.ID, s.Migration.Name,
					s.Applied.AppliedAt.Format(time.RFC3339))
			}
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
