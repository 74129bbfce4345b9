package integration

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/valter-silva-au/duealert/pkg/models"
)

var (
	bannerBase = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
	bannerHigh   = bannerBase.BorderForeground(lipgloss.Color("196"))
	bannerMedium = bannerBase.BorderForeground(lipgloss.Color("214"))
	bannerLow    = bannerBase.BorderForeground(lipgloss.Color("39"))

	bannerTitle  = lipgloss.NewStyle().Bold(true)
	bannerMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	actionsStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// TerminalBanner is the in-process fallback channel. It renders alerts as
// bordered boxes on a terminal and remembers which are still showing.
type TerminalBanner struct {
	out io.Writer

	mu   sync.Mutex
	live map[string]models.AlertItem
}

// NewTerminalBanner creates a banner writing to out.
func NewTerminalBanner(out io.Writer) *TerminalBanner {
	return &TerminalBanner{out: out, live: make(map[string]models.AlertItem)}
}

// Show renders alert. Expiry is enforced by the delivery chain, which calls
// Dismiss.
func (b *TerminalBanner) Show(alert models.AlertItem, expiry time.Duration) error {
	b.mu.Lock()
	b.live[alert.ID] = alert
	b.mu.Unlock()

	_, err := fmt.Fprintln(b.out, RenderBanner(alert, expiry))
	return err
}

// Dismiss forgets a shown banner. Unknown IDs are ignored.
func (b *TerminalBanner) Dismiss(alertID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.live, alertID)
	return nil
}

// ShowNotice prints a one-line informational notice.
func (b *TerminalBanner) ShowNotice(text string) {
	_, _ = fmt.Fprintln(b.out, noticeStyle.Render("! "+text))
}

// Live returns the banners still showing, oldest first.
func (b *TerminalBanner) Live() []models.AlertItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.AlertItem, 0, len(b.live))
	for _, a := range b.live {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// RenderBanner formats alert the way the terminal banner shows it.
func RenderBanner(alert models.AlertItem, expiry time.Duration) string {
	style := bannerLow
	switch {
	case alert.RequiresInteraction():
		style = bannerHigh
	case alert.Priority == models.PriorityMedium:
		style = bannerMedium
	}

	lines := []string{bannerTitle.Render(alert.Title), alert.Body}
	if len(alert.Actions) > 0 {
		labels := make([]string, len(alert.Actions))
		for i, a := range alert.Actions {
			labels[i] = "[" + a.Label + "]"
		}
		lines = append(lines, actionsStyle.Render(strings.Join(labels, " ")))
	}
	if expiry > 0 {
		lines = append(lines, bannerMuted.Render(fmt.Sprintf("closes in %s", expiry)))
	} else {
		lines = append(lines, bannerMuted.Render("stays until dismissed"))
	}
	return style.Render(strings.Join(lines, "\n"))
}
