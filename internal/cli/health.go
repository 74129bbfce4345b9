package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var healthWebhook string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show delivery and queue health alerts",
	Long: `Evaluate health conditions against the event log and display any
triggered alerts.

Checks cover actions that keep failing to replay, repeated delivery failures,
scans skipped because the due-item source was unreachable, and a growing
offline queue. With --webhook the alerts are also posted to a Slack-compatible
incoming webhook.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if AlertEngine == nil {
			return fmt.Errorf("alert engine not initialized (observability may be disabled)")
		}

		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			return fmt.Errorf("evaluating health: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(alerts) == 0 {
			fmt.Fprintln(out, "No active health alerts.")
		} else {
			fmt.Fprintf(out, "%d active alert(s):\n\n", len(alerts))
			for _, alert := range alerts {
				severity := strings.ToUpper(string(alert.Severity))
				fmt.Fprintf(out, "  [%s] %s\n", severity, alert.Message)
				fmt.Fprintf(out, "         triggered at %s\n\n", alert.TriggeredAt.Format("2006-01-02 15:04 UTC"))
			}
		}

		if healthWebhook != "" {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := newNotifier(healthWebhook).Notify(ctx, alerts); err != nil {
				return fmt.Errorf("posting health alerts: %w", err)
			}
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthWebhook, "webhook", "", "Slack-compatible webhook URL to post alerts to")
	rootCmd.AddCommand(healthCmd)
}
