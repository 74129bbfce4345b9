package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/duealert/pkg/models"
)

var (
	scanDryRun bool
	scanJSON   bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one due-item scan now",
	Long: `Run a single scan of the due backlog and deliver an alert for every item
that is overdue or due within the scan window.

With --dry-run the alerts are built and printed but nothing is delivered.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireEngine(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if scanDryRun {
			alerts, err := Engine.Preview(cmd.Context())
			if err != nil {
				return fmt.Errorf("previewing scan: %w", err)
			}
			if scanJSON {
				return writeJSON(out, alerts)
			}
			printAlerts(out, alerts)
			return nil
		}

		if err := Engine.Init(cmd.Context()); err != nil {
			return fmt.Errorf("initializing engine: %w", err)
		}
		report, err := Engine.ScanNow(cmd.Context())
		if err != nil {
			return fmt.Errorf("scanning: %w", err)
		}
		if scanJSON {
			return writeJSON(out, report)
		}
		fmt.Fprintf(out, "Scanned %d item(s): %d selected, %d delivered, %d suppressed, %d failed\n",
			report.Candidates, report.Selected, report.Delivered, report.Suppressed, report.Failed)
		for _, r := range report.Results {
			switch {
			case r.Suppressed:
				fmt.Fprintf(out, "  %-28s suppressed (already showing)\n", r.Tag)
			case r.Channel == "":
				fmt.Fprintf(out, "  %-28s not delivered\n", r.Tag)
			default:
				fmt.Fprintf(out, "  %-28s via %s\n", r.Tag, r.Channel)
			}
		}
		return nil
	},
}

func printAlerts(out io.Writer, alerts []models.AlertItem) {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "Nothing is due.")
		return
	}
	fmt.Fprintf(out, "%d alert(s) would be delivered:\n\n", len(alerts))
	for _, a := range alerts {
		fmt.Fprintf(out, "  [%s] %s\n", a.Priority, a.Title)
		fmt.Fprintf(out, "         %s\n", a.Body)
	}
}

func writeJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting JSON: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func init() {
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "Print the alerts without delivering them")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(scanCmd)
}
