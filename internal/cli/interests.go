package cli

import (
	"github.com/spf13/cobra"
)

// NewToggleCmd creates the toggle command.
func NewToggleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toggle <venue>",
		Short: "Flip your interest in a venue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			hc, err := newClient(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			key, _ := cmd.Flags().GetString("idempotency-key")

			res, err := hc.ToggleInterest(cmd.Context(), user, args[0], key)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			writeToggle(cmd.OutOrStdout(), args[0], res)
			return nil
		},
	}
	cmd.Flags().String("idempotency-key", "", "replay-safe key; a repeated key does not toggle again")
	return cmd
}

// NewRecommendCmd creates the recommend command.
func NewRecommendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "List venues ranked for you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := requireUser(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			hc, err := newClient(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			limit, _ := cmd.Flags().GetInt("limit")

			recs, err := hc.GetRecommendations(cmd.Context(), user, limit)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), recs)
			}
			writeRecommendations(cmd.OutOrStdout(), recs)
			return nil
		},
	}
	cmd.Flags().Int("limit", 0, "maximum venues to list (0 = server default)")
	return cmd
}
