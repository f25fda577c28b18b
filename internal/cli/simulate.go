package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/rally/internal/simulate"
)

// NewSimulateCmd creates the simulate command.
func NewSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Cross the trigger threshold concurrently and verify the outcome",
		Long: "Seeds venues, has many users toggle interest at once and checks that each\n" +
			"venue claimed exactly one episode, that counts did not drift and that a\n" +
			"replayed idempotency key does not toggle twice. With --confirm every member\n" +
			"then confirms and each group must form with a chat.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hc, err := newClient(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			cfg := simulate.Config{}
			cfg.Venues, _ = cmd.Flags().GetInt("venues")
			cfg.UsersPerVenue, _ = cmd.Flags().GetInt("users")
			cfg.Threshold, _ = cmd.Flags().GetInt("threshold")
			cfg.Quorum, _ = cmd.Flags().GetInt("quorum")
			cfg.Workers, _ = cmd.Flags().GetInt("workers")
			cfg.Confirm, _ = cmd.Flags().GetBool("confirm")
			cfg.Prefix, _ = cmd.Flags().GetString("prefix")

			stats, err := simulate.Run(cmd.Context(), hc, cfg)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"toggles %d (failed %d), triggers %d, action items %d, confirmations %d, groups formed %d in %s\n",
				stats.TogglesSubmitted, stats.TogglesFailed, stats.Triggers, stats.ActionItems,
				stats.Confirmations, stats.GroupsFormed, stats.Duration)
			return nil
		},
	}
	cmd.Flags().Int("venues", 0, "venues to contest (0 = 10)")
	cmd.Flags().Int("users", 0, "users per venue (0 = 8)")
	cmd.Flags().Int("threshold", 0, "the server's trigger threshold (0 = 3)")
	cmd.Flags().Int("quorum", 0, "the server's formation quorum (0 = 3)")
	cmd.Flags().Int("workers", 0, "concurrent requests (0 = 2 per CPU)")
	cmd.Flags().Bool("confirm", false, "confirm every membership afterwards")
	cmd.Flags().String("prefix", "", "ID namespace for generated venues and users")
	return cmd
}
