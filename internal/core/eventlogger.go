package core

// EventLogger is the subset of the observability event log that core
// services need. Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// logEvent writes to el when it is configured. Event log failures never
// interrupt delivery or replay.
func logEvent(el EventLogger, eventType string, data map[string]any) {
	if el == nil {
		return
	}
	_ = el.LogEvent(eventType, data)
}
