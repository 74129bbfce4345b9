package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the notification engine in the foreground",
	Long: `Run the notification engine until interrupted.

The engine resolves the desktop notification permission, scans the due
backlog on a timer, delivers alerts through the agent, desktop or terminal
banner, replays queued actions when connectivity returns, and serves the
host API configured under api.listen.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUntilSignal(RunDaemon, "engine")
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the background delivery agent",
	Long: `Run the background delivery agent until interrupted.

The agent accepts engine connections on agent.listen, shows notifications on
their behalf, caches the latest due-item snapshot and can replay the action
queue when asked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUntilSignal(RunAgent, "agent")
	},
}

func runUntilSignal(run func(ctx context.Context) error, name string) error {
	if run == nil {
		return fmt.Errorf("%s not initialized", name)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		return fmt.Errorf("running %s: %w", name, err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd, agentCmd)
}
