package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/rally/internal/client/statussync"
	"github.com/okian/rally/internal/domain/model"
)

const defaultPollInterval = 5 * time.Second

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <action-item>",
		Short: "Fetch the confirmation snapshot of an action item once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hc, err := newClient(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			user, _ := cmd.Flags().GetString("user")
			syncer := statussync.New(hc, user)
			defer syncer.Close()

			view, err := syncer.Refresh(cmd.Context(), args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return writeView(cmd, view)
		},
	}
}

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <action-item>",
		Short: "Poll an action item and print every change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hc, err := newClient(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			user, _ := cmd.Flags().GetString("user")
			interval, _ := cmd.Flags().GetDuration("interval")
			limit, _ := cmd.Flags().GetDuration("for")
			untilDone, _ := cmd.Flags().GetBool("until-done")

			updates := make(chan statussync.View, 16)
			syncer := statussync.New(hc, user,
				statussync.WithInterval(interval),
				statussync.WithOnUpdate(func(v statussync.View) {
					select {
					case updates <- v:
					default:
					}
				}),
			)
			defer syncer.Close()

			ctx := cmd.Context()
			id := args[0]
			if err := syncer.Watch(ctx, id, "cli"); err != nil {
				return writeCommandError(cmd, err)
			}
			defer syncer.Unwatch(id, "cli")

			var deadline <-chan time.Time
			if limit > 0 {
				timer := time.NewTimer(limit)
				defer timer.Stop()
				deadline = timer.C
			}

			var lastVersion int64 = -1
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-deadline:
					return nil
				case v := <-updates:
					if v.Synced && v.Err == nil && v.Pending == nil && v.Server.Version == lastVersion {
						continue
					}
					lastVersion = v.Server.Version
					if err := writeView(cmd, v); err != nil {
						return err
					}
					if untilDone && settled(v) {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().Duration("interval", defaultPollInterval, "poll interval")
	cmd.Flags().Duration("for", 0, "stop after this long (0 = until interrupted)")
	cmd.Flags().Bool("until-done", false, "stop once the item is formed with a chat or dismissed")
	return cmd
}

// NewConfirmCmd creates the confirm command.
func NewConfirmCmd() *cobra.Command {
	return newRespondCmd("confirm", "Confirm you are joining the group", (*statussync.Synchronizer).Confirm)
}

// NewDeclineCmd creates the decline command.
func NewDeclineCmd() *cobra.Command {
	return newRespondCmd("decline", "Decline joining the group", (*statussync.Synchronizer).Decline)
}

type respondFunc func(s *statussync.Synchronizer, ctx context.Context, actionItemID string) (statussync.View, error)

func newRespondCmd(use, short string, send respondFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <action-item>",
		Short: short,
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
			syncer := statussync.New(hc, user)
			defer syncer.Close()

			view, err := send(syncer, cmd.Context(), args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return writeView(cmd, view)
		},
	}
}

// settled reports whether the item reached a state polling cannot change:
// dismissed, or formed with its chat attached.
func settled(v statussync.View) bool {
	if !v.Synced {
		return false
	}
	switch v.Server.Status {
	case model.StatusDismissed:
		return true
	case model.StatusFormed:
		return v.Server.ChatID != ""
	default:
		return false
	}
}
