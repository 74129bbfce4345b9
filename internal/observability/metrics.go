package observability

import (
	"fmt"
	"time"
)

// Metrics holds calculated metrics derived from the event log.
type Metrics struct {
	AlertsDelivered    int            `json:"alerts_delivered"`
	DeliveredByChannel map[string]int `json:"delivered_by_channel"`
	AlertsSuppressed   int            `json:"alerts_suppressed"`
	AlertsFailed       int            `json:"alerts_failed"`
	AlertsExpired      int            `json:"alerts_expired"`
	AlertsDismissed    int            `json:"alerts_dismissed"`
	ScansCompleted     int            `json:"scans_completed"`
	ScansSkipped       int            `json:"scans_skipped"`
	ActionsEnqueued    int            `json:"actions_enqueued"`
	ActionsReplayed    int            `json:"actions_replayed"`
	ReplayFailures     int            `json:"replay_failures"`
	EventCount         int            `json:"event_count"`
	OldestEvent        *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent        *time.Time     `json:"newest_event,omitempty"`
}

// Pending is the number of enqueued actions without a matching replay in the
// window. It can go negative when the window starts mid-backlog.
func (m *Metrics) Pending() int {
	return m.ActionsEnqueued - m.ActionsReplayed
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into metrics.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{DeliveredByChannel: make(map[string]int)}
	m.EventCount = len(events)

	for _, event := range events {
		t := event.Time
		if m.OldestEvent == nil || t.Before(*m.OldestEvent) {
			m.OldestEvent = &t
		}
		if m.NewestEvent == nil || t.After(*m.NewestEvent) {
			m.NewestEvent = &t
		}

		switch event.Type {
		case EventAlertDelivered:
			m.AlertsDelivered++
			if ch, ok := event.Data["channel"].(string); ok && ch != "" {
				m.DeliveredByChannel[ch]++
			}
		case EventAlertSuppressed:
			m.AlertsSuppressed++
		case EventAlertFailed:
			m.AlertsFailed++
		case EventAlertExpired:
			m.AlertsExpired++
		case EventAlertDismissed:
			m.AlertsDismissed++
		case EventScanCompleted:
			m.ScansCompleted++
		case EventScanSkipped:
			m.ScansSkipped++
		case EventQueueEnqueued:
			m.ActionsEnqueued++
		case EventQueueReplayed:
			m.ActionsReplayed++
		case EventReplayFailed:
			m.ReplayFailures++
		}
	}

	return m, nil
}
