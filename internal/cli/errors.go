package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ErrNoUser is returned by commands that act on behalf of a user when --user is unset.
var ErrNoUser = errors.New("no user: pass --user or set RALLY_USER")

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
	return err
}
