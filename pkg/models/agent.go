package models

// AgentMessageType names a message of the background agent protocol.
type AgentMessageType string

const (
	MsgSendAlert         AgentMessageType = "SEND_ALERT"
	MsgCacheDueItems     AgentMessageType = "CACHE_DUE_ITEMS"
	MsgSyncQueuedActions AgentMessageType = "SYNC_QUEUED_ACTIONS"
	MsgAlertAction       AgentMessageType = "ALERT_ACTION"
	MsgAck               AgentMessageType = "ACK"
)

// AgentMessage is the envelope exchanged with the background delivery agent.
// ID correlates an ACK with the message it acknowledges.
type AgentMessage struct {
	Type           AgentMessageType `json:"type"`
	ID             string           `json:"id,omitempty"`
	Alert          *AlertItem       `json:"alert,omitempty"`
	Items          []DueCandidate   `json:"items,omitempty"`
	SourceEntityID string           `json:"source_entity_id,omitempty"`
	Tag            string           `json:"tag,omitempty"`
	Action         AlertActionType  `json:"action,omitempty"`
	Error          string           `json:"error,omitempty"`
}
