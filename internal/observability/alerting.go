package observability

import (
	"fmt"
	"sort"
	"time"
)

// AlertSeverity represents the urgency of a health alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert is a triggered health condition of the engine itself, not a due-item
// notification.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when health alerts fire.
type AlertThresholds struct {
	// ReplayFailures is the number of failed replays of one action, counted
	// since its last success, after which the action is reported stuck.
	ReplayFailures int `yaml:"replay_failures" json:"replay_failures"`
	// DeliveryFailures is the number of alert.failed events in Window.
	DeliveryFailures int `yaml:"delivery_failures" json:"delivery_failures"`
	// SkippedScans is the number of consecutive skipped scans.
	SkippedScans int `yaml:"skipped_scans" json:"skipped_scans"`
	// MaxPending is the largest acceptable queue backlog.
	MaxPending int           `yaml:"max_pending" json:"max_pending"`
	Window     time.Duration `yaml:"window" json:"window"`
}

// DefaultAlertThresholds returns the defaults used by `duealert health`.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		ReplayFailures:   5,
		DeliveryFailures: 3,
		SkippedScans:     3,
		MaxPending:       50,
		Window:           24 * time.Hour,
	}
}

// AlertEngine evaluates health conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate reads events and checks all conditions, returning any triggered alerts.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("reading events for health checks: %w", err)
	}

	var alerts []Alert
	alerts = append(alerts, ae.checkStuckActions(events, now)...)
	alerts = append(alerts, ae.checkDeliveryFailures(events, now)...)
	alerts = append(alerts, ae.checkSkippedScans(events, now)...)
	alerts = append(alerts, ae.checkQueueBacklog(events, now)...)
	return alerts, nil
}

// checkStuckActions reports queued actions whose replay keeps failing.
func (ae *alertEngine) checkStuckActions(events []Event, now time.Time) []Alert {
	failures := make(map[string]int)
	for _, event := range events {
		id, _ := event.Data["action_id"].(string)
		if id == "" {
			continue
		}
		switch event.Type {
		case EventReplayFailed:
			failures[id]++
		case EventQueueReplayed:
			delete(failures, id)
		}
	}

	ids := make([]string, 0, len(failures))
	for id, n := range failures {
		if n >= ae.thresholds.ReplayFailures {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	alerts := make([]Alert, 0, len(ids))
	for _, id := range ids {
		alerts = append(alerts, Alert{
			ID:          "stuck-" + id,
			Condition:   "action_stuck",
			Severity:    SeverityHigh,
			Message:     fmt.Sprintf("queued action %s failed to replay %d times", id, failures[id]),
			TriggeredAt: now,
		})
	}
	return alerts
}

// checkDeliveryFailures reports alerts that reached no channel in the window.
func (ae *alertEngine) checkDeliveryFailures(events []Event, now time.Time) []Alert {
	since := now.Add(-ae.thresholds.Window)
	count := 0
	for _, event := range events {
		if event.Type == EventAlertFailed && !event.Time.Before(since) {
			count++
		}
	}
	if count < ae.thresholds.DeliveryFailures || count == 0 {
		return nil
	}
	return []Alert{{
		ID:          "delivery-failing",
		Condition:   "delivery_failing",
		Severity:    SeverityHigh,
		Message:     fmt.Sprintf("%d alerts could not be delivered on any channel in the last %s", count, ae.thresholds.Window),
		TriggeredAt: now,
	}}
}

// checkSkippedScans reports a run of skipped scans with no completed scan
// after them.
func (ae *alertEngine) checkSkippedScans(events []Event, now time.Time) []Alert {
	run := 0
	for _, event := range events {
		switch event.Type {
		case EventScanSkipped:
			run++
		case EventScanCompleted:
			run = 0
		}
	}
	if run < ae.thresholds.SkippedScans || run == 0 {
		return nil
	}
	return []Alert{{
		ID:          "scans-skipped",
		Condition:   "scans_skipped",
		Severity:    SeverityMedium,
		Message:     fmt.Sprintf("the last %d scans were skipped", run),
		TriggeredAt: now,
	}}
}

// checkQueueBacklog reports a queue that keeps growing.
func (ae *alertEngine) checkQueueBacklog(events []Event, now time.Time) []Alert {
	pending := make(map[string]bool)
	for _, event := range events {
		id, _ := event.Data["action_id"].(string)
		if id == "" {
			continue
		}
		switch event.Type {
		case EventQueueEnqueued:
			pending[id] = true
		case EventQueueReplayed:
			delete(pending, id)
		}
	}
	if len(pending) <= ae.thresholds.MaxPending {
		return nil
	}
	return []Alert{{
		ID:          "queue-backlog",
		Condition:   "queue_backlog",
		Severity:    SeverityMedium,
		Message:     fmt.Sprintf("queue holds %d actions, exceeding the maximum of %d", len(pending), ae.thresholds.MaxPending),
		TriggeredAt: now,
	}}
}
