package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "duealert",
	Short: "duealert - due-item notifications and offline action queue",
	Long: `duealert watches a backlog of due items and tells you about them through
the best channel available: a background agent, desktop notifications, or an
in-terminal banner.

Actions taken while the backend is unreachable are queued durably and
replayed in order once connectivity returns.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "duealert %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func requireEngine() error {
	if Engine == nil {
		return fmt.Errorf("engine not initialized")
	}
	return nil
}
