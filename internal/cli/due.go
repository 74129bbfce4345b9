package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/duealert/internal/storage"
	"github.com/valter-silva-au/duealert/pkg/models"
)

var (
	dueStatusFilter string
	dueKindFilter   string
	dueJSON         bool

	dueAddID       string
	dueAddTitle    string
	dueAddDue      string
	dueAddPriority string
	dueAddKind     string
)

var dueCmd = &cobra.Command{
	Use:   "due",
	Short: "Manage the due-item backlog",
	Long: `Commands for the backlog file the scanner reads. A host application
normally writes this file; these commands let you inspect and edit it by hand.`,
}

var dueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List due items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadDue(); err != nil {
			return err
		}
		var filter storage.DueFilter
		for _, s := range splitCSV(dueStatusFilter) {
			filter.Status = append(filter.Status, models.CandidateStatus(s))
		}
		for _, k := range splitCSV(dueKindFilter) {
			filter.Kind = append(filter.Kind, models.AlertKind(k))
		}
		items := Due.Filter(filter)
		out := cmd.OutOrStdout()
		if dueJSON {
			return writeJSON(out, items)
		}
		printDueItems(out, items, time.Now())
		return nil
	},
}

var dueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a due item",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadDue(); err != nil {
			return err
		}
		item := models.DueCandidate{
			ID:       dueAddID,
			Kind:     models.AlertKind(dueAddKind),
			Title:    dueAddTitle,
			Priority: models.Priority(dueAddPriority),
		}
		if dueAddDue != "" {
			at, err := parseDueTime(dueAddDue)
			if err != nil {
				return err
			}
			item.DueAt = &at
		}
		if err := Due.Add(item); err != nil {
			return err
		}
		if err := Due.Save(); err != nil {
			return fmt.Errorf("saving due backlog: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s.\n", item.ID)
		return nil
	},
}

var dueCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Mark a due item completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateDue(cmd, args[0], "Completed", func(id string) error {
			return Due.SetStatus(id, models.CandidateCompleted)
		})
	},
}

var dueRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a due item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateDue(cmd, args[0], "Removed", func(id string) error {
			return Due.Remove(id)
		})
	},
}

func updateDue(cmd *cobra.Command, id, verb string, apply func(string) error) error {
	if err := loadDue(); err != nil {
		return err
	}
	if err := apply(id); err != nil {
		return err
	}
	if err := Due.Save(); err != nil {
		return fmt.Errorf("saving due backlog: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s.\n", verb, id)
	return nil
}

func loadDue() error {
	if Due == nil {
		return fmt.Errorf("due backlog not initialized")
	}
	if err := Due.Load(); err != nil {
		return fmt.Errorf("loading due backlog: %w", err)
	}
	return nil
}

// parseDueTime accepts RFC 3339 timestamps or a bare local date.
func parseDueTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --due %q (use 2006-01-02 or RFC 3339)", s)
}

func printDueItems(out io.Writer, items []models.DueCandidate, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(out, "No due items.")
		return
	}
	fmt.Fprintf(out, "%-16s %-10s %-8s %-12s %-18s %s\n", "ID", "KIND", "PRIORITY", "STATUS", "DUE", "TITLE")
	for _, it := range items {
		due := "-"
		if it.DueAt != nil {
			due = it.DueAt.Local().Format("2006-01-02 15:04")
			if it.DueAt.Before(now) && !it.Completed() {
				due += "!"
			}
		}
		fmt.Fprintf(out, "%-16s %-10s %-8s %-12s %-18s %s\n", it.ID, it.Kind, it.Priority, it.Status, due, it.Title)
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func init() {
	dueListCmd.Flags().StringVar(&dueStatusFilter, "status", "", "Comma-separated statuses to include")
	dueListCmd.Flags().StringVar(&dueKindFilter, "kind", "", "Comma-separated kinds to include")
	dueListCmd.Flags().BoolVar(&dueJSON, "json", false, "Output as JSON")

	dueAddCmd.Flags().StringVar(&dueAddID, "id", "", "Entity ID (required)")
	dueAddCmd.Flags().StringVar(&dueAddTitle, "title", "", "Title shown in the alert")
	dueAddCmd.Flags().StringVar(&dueAddDue, "due", "", "Due date (2006-01-02 or RFC 3339)")
	dueAddCmd.Flags().StringVar(&dueAddPriority, "priority", string(models.PriorityMedium), "Priority: low, medium or high")
	dueAddCmd.Flags().StringVar(&dueAddKind, "kind", string(models.KindTask), "Kind: task or catalogue")
	_ = dueAddCmd.MarkFlagRequired("id")

	dueCmd.AddCommand(dueListCmd, dueAddCmd, dueCompleteCmd, dueRemoveCmd)
	rootCmd.AddCommand(dueCmd)
}
