// Package cli implements rallyctl, a command line client for the
// coordination API.
package cli

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/rally/internal/client"
	"github.com/okian/rally/pkg/logger"
)

// AppName is the binary name.
const AppName = "rallyctl"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

const (
	defaultURL     = "http://localhost:9080"
	urlEnv         = "RALLY_URL"
	userEnv        = "RALLY_USER"
	defaultTimeout = 10 * time.Second
)

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "rallyctl - client for the rally coordination API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(logger.WithWriter(cmd.ErrOrStderr())); err != nil {
				return err
			}
			level, _ := cmd.Flags().GetString("log-level")
			return logger.SetLevelString(level)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	url := os.Getenv(urlEnv)
	if url == "" {
		url = defaultURL
	}
	cmd.PersistentFlags().String("url", url, "base URL of the rally server (env "+urlEnv+")")
	cmd.PersistentFlags().String("user", os.Getenv(userEnv), "acting user ID (env "+userEnv+")")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")
	cmd.PersistentFlags().Duration("timeout", defaultTimeout, "per-request timeout")
	cmd.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")

	cmd.AddCommand(
		NewStatusCmd(),
		NewWatchCmd(),
		NewConfirmCmd(),
		NewDeclineCmd(),
		NewToggleCmd(),
		NewRecommendCmd(),
		NewSimulateCmd(),
	)
	return cmd
}

// Execute runs the root command until ctx is done.
func Execute(ctx context.Context) error {
	return NewRootCmd(Version).ExecuteContext(ctx)
}

// newClient builds an API client from the persistent flags.
func newClient(cmd *cobra.Command) (*client.HTTPClient, error) {
	url, _ := cmd.Flags().GetString("url")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return client.New(url, client.WithTimeout(timeout), client.WithLogger(logger.Named("client")))
}

// requireUser returns the --user flag or ErrNoUser.
func requireUser(cmd *cobra.Command) (string, error) {
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return "", ErrNoUser
	}
	return user, nil
}
