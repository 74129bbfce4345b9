package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event represents a single observable event in the system.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"` // INFO, WARN, ERROR
	Type    string         `json:"type"`  // e.g. "alert.delivered", "queue.replayed"
	Message string         `json:"msg"`
	Data    map[string]any `json:"data,omitempty"`
}

// EventFilter specifies criteria for reading events.
type EventFilter struct {
	Since *time.Time
	Until *time.Time
	Type  string
	Level string
}

// EventLog defines the interface for writing and reading events.
type EventLog interface {
	Write(event Event) error
	Read(filter EventFilter) ([]Event, error)
	Close() error
}

// jsonlEventLog implements EventLog using append-only JSONL files.
type jsonlEventLog struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewJSONLEventLog creates a new EventLog backed by a JSONL file at the given
// path, creating the parent directory when needed.
func NewJSONLEventLog(path string) (EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &jsonlEventLog{
		path: path,
		file: f,
	}, nil
}

// Write appends a JSON-encoded event followed by a newline to the log file.
func (l *jsonlEventLog) Write(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// Read scans the log file line by line and returns the events matching the
// filter. Malformed lines are skipped.
func (l *jsonlEventLog) Read(filter EventFilter) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		if matchesEventFilter(event, filter) {
			events = append(events, event)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning event log: %w", err)
	}

	return events, nil
}

// Close closes the underlying log file.
func (l *jsonlEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing event log: %w", err)
	}
	return nil
}

func matchesEventFilter(event Event, filter EventFilter) bool {
	if filter.Since != nil && event.Time.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && event.Time.After(*filter.Until) {
		return false
	}
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	if filter.Level != "" && event.Level != filter.Level {
		return false
	}
	return true
}

// Recorder adapts an EventLog to the narrow LogEvent interface the engine
// services write through.
type Recorder struct {
	Log EventLog
	Now func() time.Time
}

// NewRecorder wraps log.
func NewRecorder(log EventLog) *Recorder {
	return &Recorder{Log: log, Now: time.Now}
}

// LogEvent stamps and writes one domain event.
func (r *Recorder) LogEvent(eventType string, data map[string]any) error {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return r.Log.Write(Event{
		Time:    now().UTC(),
		Level:   levelFor(eventType),
		Type:    eventType,
		Message: strings.ReplaceAll(eventType, ".", " "),
		Data:    data,
	})
}

// levelFor maps failure-shaped event types to WARN.
func levelFor(eventType string) string {
	switch eventType {
	case EventAlertFailed, EventReplayFailed, EventScanSkipped:
		return "WARN"
	default:
		return "INFO"
	}
}

// Event types written by the engine services.
const (
	EventAlertSuppressed = "alert.suppressed"
	EventAlertDelivered  = "alert.delivered"
	EventAlertFailed     = "alert.failed"
	EventAlertDismissed  = "alert.dismissed"
	EventAlertExpired    = "alert.expired"
	EventQueueEnqueued   = "queue.enqueued"
	EventQueueReplayed   = "queue.replayed"
	EventReplayFailed    = "queue.replay_failed"
	EventScanCompleted   = "scan.completed"
	EventScanSkipped     = "scan.skipped"
)
