package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/okian/rally/internal/client/statussync"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/types"
)

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// viewJSON is the machine-readable form of a synchronized view.
type viewJSON struct {
	Effective model.ConfirmationSnapshot `json:"effective"`
	Pending   *statussync.Overlay        `json:"pending,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

func writeView(cmd *cobra.Command, v statussync.View) error {
	w := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		out := viewJSON{Effective: v.Effective(), Pending: v.Pending}
		if v.Err != nil {
			out.Error = v.Err.Error()
		}
		return writeJSON(w, out)
	}
	if !v.Synced {
		if v.Err != nil {
			fmt.Fprintf(w, "%s: %v\n", v.ActionItemID, v.Err)
		}
		return nil
	}
	writeSnapshot(w, v.Effective(), v.UserID, v.Pending)
	if v.Err != nil {
		fmt.Fprintf(w, "  last error: %v\n", v.Err)
	}
	return nil
}

func writeSnapshot(w io.Writer, s model.ConfirmationSnapshot, me string, pending *statussync.Overlay) {
	venue := s.VenueID
	if s.VenueName != "" {
		venue = s.VenueName + " (" + s.VenueID + ")"
	}
	fmt.Fprintf(w, "%s at %s: %s (version %d)\n", s.ActionItemID, venue, s.Status, s.Version)
	fmt.Fprintf(w, "  %-20s initiator\n", s.Initiator)
	for _, row := range s.Confirmations {
		note := ""
		if row.UserID == me {
			note = "  <- you"
			if pending != nil {
				note += ", sending"
			}
		}
		fmt.Fprintf(w, "  %-20s %s%s\n", row.UserID, row.Status, note)
	}
	if s.ChatID != "" {
		fmt.Fprintf(w, "  chat %s\n", s.ChatID)
	}
}

func writeToggle(w io.Writer, venueID string, r types.ToggleResult) {
	state := "not interested"
	if r.Interested {
		state = "interested"
	}
	fmt.Fprintf(w, "%s: %s, %d interested\n", venueID, state, r.InterestedCount)
	if r.ActionItem == nil {
		return
	}
	verb := "active"
	if r.ActionItemTriggered {
		verb = "triggered"
	}
	member := "not a member"
	if r.ActionItem.Member {
		member = "member"
	}
	fmt.Fprintf(w, "  action item %s %s (initiator %s, %s)\n", r.ActionItem.ID, verb, r.ActionItem.InitiatorID, member)
}

func writeRecommendations(w io.Writer, recs []types.Recommendation) {
	for i, r := range recs {
		fmt.Fprintf(w, "%2d. %-24s %5.2f  %s\n", i+1, r.VenueName, r.Score, strings.TrimSpace(r.Reason))
	}
}
