package observability

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// =============================================================================
// Property: delivered-by-channel sums to delivered
// =============================================================================

// *For any* sequence of delivery events across channels, the per-channel
// counts SHALL sum to AlertsDelivered and every event SHALL be counted.
func TestPropertyMetrics_ChannelCountsSumToDelivered(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		log, err := NewJSONLEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
		if err != nil {
			rt.Fatalf("creating event log: %v", err)
		}
		defer log.Close()

		base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
		types := []string{EventAlertDelivered, EventAlertSuppressed, EventAlertFailed, EventQueueEnqueued}
		channels := []string{"agent", "platform", "banner"}

		n := rapid.IntRange(0, 30).Draw(rt, "n")
		wantDelivered := 0
		for i := 0; i < n; i++ {
			typ := rapid.SampledFrom(types).Draw(rt, fmt.Sprintf("type_%d", i))
			data := map[string]any{}
			if typ == EventAlertDelivered {
				wantDelivered++
				data["channel"] = rapid.SampledFrom(channels).Draw(rt, fmt.Sprintf("channel_%d", i))
			}
			offset := rapid.IntRange(0, 1000).Draw(rt, fmt.Sprintf("offset_%d", i))
			if err := log.Write(Event{Time: base.Add(time.Duration(offset) * time.Minute), Type: typ, Data: data}); err != nil {
				rt.Fatalf("writing event: %v", err)
			}
		}

		m, err := NewMetricsCalculator(log).Calculate(base.Add(-time.Hour))
		if err != nil {
			rt.Fatalf("calculating metrics: %v", err)
		}

		sum := 0
		for _, c := range m.DeliveredByChannel {
			sum += c
		}
		if sum != m.AlertsDelivered || m.AlertsDelivered != wantDelivered {
			rt.Errorf("channel sum %d, delivered %d, want %d", sum, m.AlertsDelivered, wantDelivered)
		}
		if m.EventCount != n {
			rt.Errorf("EventCount = %d, want %d", m.EventCount, n)
		}
		if n > 0 && m.OldestEvent.After(*m.NewestEvent) {
			rt.Errorf("oldest %v after newest %v", m.OldestEvent, m.NewestEvent)
		}
	})
}
