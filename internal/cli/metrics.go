package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display delivery and queue metrics",
	Long: `Display aggregated metrics derived from the event log.

Metrics include alert deliveries by channel, suppressed and failed
deliveries, scan counts, and offline actions queued and replayed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		out := cmd.OutOrStdout()
		if metricsJSON {
			return writeJSON(out, metrics)
		}

		fmt.Fprintf(out, "Metrics (since %s)\n\n", sinceTime.Format("2006-01-02 15:04"))
		rows := []struct {
			label string
			value int
		}{
			{"Events recorded:", metrics.EventCount},
			{"Alerts delivered:", metrics.AlertsDelivered},
			{"Alerts suppressed:", metrics.AlertsSuppressed},
			{"Alerts failed:", metrics.AlertsFailed},
			{"Alerts expired:", metrics.AlertsExpired},
			{"Alerts dismissed:", metrics.AlertsDismissed},
			{"Scans completed:", metrics.ScansCompleted},
			{"Scans skipped:", metrics.ScansSkipped},
			{"Actions queued:", metrics.ActionsEnqueued},
			{"Actions replayed:", metrics.ActionsReplayed},
			{"Replay failures:", metrics.ReplayFailures},
		}
		for _, r := range rows {
			fmt.Fprintf(out, "  %-24s %d\n", r.label, r.value)
		}

		if len(metrics.DeliveredByChannel) > 0 {
			fmt.Fprintln(out, "\n  Delivered by channel:")
			channels := make([]string, 0, len(metrics.DeliveredByChannel))
			for ch := range metrics.DeliveredByChannel {
				channels = append(channels, ch)
			}
			sort.Strings(channels)
			for _, ch := range channels {
				fmt.Fprintf(out, "    %-20s %d\n", ch+":", metrics.DeliveredByChannel[ch])
			}
		}

		if metrics.OldestEvent != nil {
			fmt.Fprintf(out, "\n  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Fprintf(out, "  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// or "24h" and returns the corresponding time in the past.
func parseSinceDuration(s string) (time.Time, error) {
	now := time.Now().UTC()
	s = strings.TrimSpace(s)
	if s == "" {
		return now.AddDate(0, 0, -7), nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return now.AddDate(0, 0, -days), nil
	}

	if strings.HasSuffix(s, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid hour duration %q", s)
		}
		return now.Add(-time.Duration(hours) * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 30d, 24h)", s)
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	rootCmd.AddCommand(metricsCmd)
}
