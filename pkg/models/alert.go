package models

import "time"

// AlertKind identifies the template family an alert belongs to.
type AlertKind string

const (
	KindTask      AlertKind = "task"
	KindCatalogue AlertKind = "catalogue"
	KindSystem    AlertKind = "system"
)

// Priority represents the urgency of an alert or due candidate.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// AlertStatus is the read state of an alert. The host application owns it.
type AlertStatus string

const (
	AlertUnread AlertStatus = "unread"
	AlertRead   AlertStatus = "read"
)

// AlertActionType names an interaction offered on a delivered alert.
type AlertActionType string

const (
	ActionComplete AlertActionType = "complete"
	ActionView     AlertActionType = "view"
	ActionDismiss  AlertActionType = "dismiss"
)

// AlertAction is a button shown alongside an alert.
type AlertAction struct {
	Type  AlertActionType `json:"type" yaml:"type"`
	Label string          `json:"label" yaml:"label"`
}

// AlertItem is the unit of notification handed to the delivery chain.
type AlertItem struct {
	ID             string        `json:"id" yaml:"id"`
	Kind           AlertKind     `json:"kind" yaml:"kind"`
	Title          string        `json:"title" yaml:"title"`
	Body           string        `json:"body" yaml:"body"`
	SourceEntityID string        `json:"source_entity_id" yaml:"source_entity_id"`
	Priority       Priority      `json:"priority" yaml:"priority"`
	CreatedAt      time.Time     `json:"created_at" yaml:"created_at"`
	Status         AlertStatus   `json:"status" yaml:"status"`
	DueAt          *time.Time    `json:"due_at,omitempty" yaml:"due_at,omitempty"`
	Overdue        bool          `json:"overdue" yaml:"overdue"`
	Actions        []AlertAction `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Tag is the de-duplication key shared by every alert about the same
// entity of the same kind.
func (a AlertItem) Tag() string {
	return AlertTag(a.Kind, a.SourceEntityID)
}

// RequiresInteraction reports whether the alert must stay visible until the
// user dismisses it.
func (a AlertItem) RequiresInteraction() bool {
	return a.Priority == PriorityHigh || a.Overdue
}

// AlertTag builds the tag for a kind and source entity id.
func AlertTag(kind AlertKind, sourceEntityID string) string {
	return string(kind) + ":" + sourceEntityID
}

// DefaultAlertActions returns the buttons offered on due-item alerts.
func DefaultAlertActions() []AlertAction {
	return []AlertAction{
		{Type: ActionComplete, Label: "Mark complete"},
		{Type: ActionView, Label: "View"},
	}
}
