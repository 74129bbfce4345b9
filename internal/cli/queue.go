package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/duealert/internal/core"
)

var queueJSON bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the offline action queue",
	Long: `Commands for the durable queue of actions recorded while the backend
was unreachable. Queued actions are replayed oldest first.`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued actions, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireEngine(); err != nil {
			return err
		}
		actions, err := Engine.PendingActions(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing queued actions: %w", err)
		}
		out := cmd.OutOrStdout()
		if queueJSON {
			return writeJSON(out, actions)
		}
		if len(actions) == 0 {
			fmt.Fprintln(out, "The action queue is empty.")
			return nil
		}
		fmt.Fprintf(out, "%-38s %-20s %-8s %s\n", "ID", "TYPE", "ATTEMPTS", "ENQUEUED")
		for _, a := range actions {
			fmt.Fprintf(out, "%-38s %-20s %-8d %s\n", a.ID, a.ActionType, a.Attempts, a.EnqueuedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var queueAddCmd = &cobra.Command{
	Use:   "add <action-type> [json-payload]",
	Short: "Queue an action for later replay",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireEngine(); err != nil {
			return err
		}
		var payload json.RawMessage
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("payload is not valid JSON: %s", args[1])
			}
			payload = json.RawMessage(args[1])
		}
		action, err := Engine.Enqueue(cmd.Context(), args[0], payload)
		if err != nil {
			return fmt.Errorf("queueing action: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (%s). %d action(s) pending.\n", action.ID, action.ActionType, Engine.QueueSize())
		return nil
	},
}

var queueFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Replay queued actions against the backend now",
	Long: `Replay queued actions oldest first. Replay stops at the first failure;
the failed action and everything after it stay queued.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireEngine(); err != nil {
			return err
		}
		res, err := Engine.Flush(cmd.Context())
		out := cmd.OutOrStdout()
		if err != nil {
			if errors.Is(err, core.ErrNoReplayer) {
				return fmt.Errorf("no backend configured; set backend.url in %s.yaml", core.ConfigFileName)
			}
			if res.Failed == nil {
				return fmt.Errorf("flushing queue: %w", err)
			}
		}
		if queueJSON {
			return writeJSON(out, res)
		}
		fmt.Fprintf(out, "Replayed %d action(s), %d remaining.\n", len(res.Replayed), res.Remaining)
		if res.Failed != nil {
			fmt.Fprintf(out, "Stopped at %s (%s) after %d attempt(s): %v\n", res.Failed.ID, res.Failed.ActionType, res.Failed.Attempts, err)
		}
		return nil
	},
}

var queueSizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Print the number of queued actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireEngine(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), Engine.QueueSize())
		return nil
	},
}

func init() {
	queueCmd.PersistentFlags().BoolVar(&queueJSON, "json", false, "Output as JSON")
	queueCmd.AddCommand(queueListCmd, queueAddCmd, queueFlushCmd, queueSizeCmd)
	rootCmd.AddCommand(queueCmd)
}
