// Package mcp provides an MCP (Model Context Protocol) server that lets AI
// assistants inspect upcoming due alerts, the offline action queue and the
// delivery metrics.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valter-silva-au/duealert/internal/core"
	"github.com/valter-silva-au/duealert/internal/observability"
	"github.com/valter-silva-au/duealert/pkg/models"
)

// Engine is the slice of core.Engine the tools use.
type Engine interface {
	Preview(ctx context.Context) ([]models.AlertItem, error)
	Enqueue(ctx context.Context, actionType string, payload json.RawMessage) (models.QueuedAction, error)
	PendingActions(ctx context.Context) ([]models.QueuedAction, error)
	Status() core.EngineStatus
}

// Server wraps the engine and exposes it as MCP tools.
type Server struct {
	server      *gomcp.Server
	engine      Engine
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine
}

// NewServer creates a new MCP server. metricsCalc and alertEngine may be nil
// when no event log is configured.
func NewServer(engine Engine, metricsCalc observability.MetricsCalculator, alertEngine observability.AlertEngine, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		engine:      engine,
		metricsCalc: metricsCalc,
		alertEngine: alertEngine,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "duealert", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run serves over stdio, blocking until the client disconnects or the
// context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type previewInput struct{}

type alertOutput struct {
	ID                  string `json:"id"`
	Tag                 string `json:"tag"`
	Kind                string `json:"kind"`
	Title               string `json:"title"`
	Body                string `json:"body"`
	Priority            string `json:"priority"`
	Overdue             bool   `json:"overdue"`
	RequiresInteraction bool   `json:"requires_interaction"`
	DueAt               string `json:"due_at,omitempty"`
}

type previewOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

type queueStatusInput struct {
	IncludeActions bool `json:"include_actions,omitempty" jsonschema:"list the queued actions as well as the count"`
}

type actionOutput struct {
	ID         string `json:"id"`
	ActionType string `json:"action_type"`
	Payload    string `json:"payload"`
	EnqueuedAt string `json:"enqueued_at"`
	Attempts   int    `json:"attempts"`
}

type queueStatusOutput struct {
	Size       int            `json:"size"`
	Online     bool           `json:"online"`
	Capability string         `json:"capability"`
	LiveAlerts int            `json:"live_alerts"`
	Actions    []actionOutput `json:"actions,omitempty"`
}

type enqueueInput struct {
	ActionType string `json:"action_type" jsonschema:"the backend operation to replay later, e.g. complete_task"`
	Payload    string `json:"payload,omitempty" jsonschema:"JSON-encoded payload passed to the backend unchanged"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
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
	OldestEvent        string         `json:"oldest_event,omitempty"`
	NewestEvent        string         `json:"newest_event,omitempty"`
}

type getHealthInput struct{}

type healthAlertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getHealthOutput struct {
	Alerts []healthAlertOutput `json:"alerts"`
	Count  int                 `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "preview_due_alerts",
		Description: "List the alerts the next scan would deliver, without delivering them.",
	}, s.handlePreview)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "queue_status",
		Description: "Report the offline action queue size, connectivity and notification capability.",
	}, s.handleQueueStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "enqueue_action",
		Description: "Queue a backend action for replay when connectivity returns.",
	}, s.handleEnqueue)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get delivery and queue metrics aggregated from the event log.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_health",
		Description: "Evaluate health checks (stuck actions, failing delivery, skipped scans, queue backlog).",
	}, s.handleGetHealth)
}

// --- Tool handlers ---

func (s *Server) handlePreview(ctx context.Context, _ *gomcp.CallToolRequest, _ previewInput) (*gomcp.CallToolResult, previewOutput, error) {
	alerts, err := s.engine.Preview(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("previewing due alerts: %s", err)), previewOutput{Alerts: []alertOutput{}}, nil
	}

	out := previewOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertToOutput(a)
	}
	return nil, out, nil
}

func (s *Server) handleQueueStatus(ctx context.Context, _ *gomcp.CallToolRequest, input queueStatusInput) (*gomcp.CallToolResult, queueStatusOutput, error) {
	st := s.engine.Status()
	out := queueStatusOutput{
		Size:       st.QueueSize,
		Online:     st.Online,
		Capability: string(st.Capability),
		LiveAlerts: len(st.LiveAlerts),
	}
	if input.IncludeActions {
		actions, err := s.engine.PendingActions(ctx)
		if err != nil {
			return errorResult(fmt.Sprintf("listing queued actions: %s", err)), queueStatusOutput{}, nil
		}
		out.Actions = make([]actionOutput, len(actions))
		for i, a := range actions {
			out.Actions[i] = actionToOutput(a)
		}
	}
	return nil, out, nil
}

func (s *Server) handleEnqueue(ctx context.Context, _ *gomcp.CallToolRequest, input enqueueInput) (*gomcp.CallToolResult, actionOutput, error) {
	if input.ActionType == "" {
		return errorResult("action_type is required"), actionOutput{}, nil
	}
	var payload json.RawMessage
	if input.Payload != "" {
		if !json.Valid([]byte(input.Payload)) {
			return errorResult("payload is not valid JSON"), actionOutput{}, nil
		}
		payload = json.RawMessage(input.Payload)
	}

	action, err := s.engine.Enqueue(ctx, input.ActionType, payload)
	if err != nil {
		return errorResult(fmt.Sprintf("enqueueing %s: %s", input.ActionType, err)), actionOutput{}, nil
	}
	return nil, actionToOutput(action), nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (no event log configured)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := ParseSince(sinceStr, time.Now().UTC())
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	m, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		AlertsDelivered:    m.AlertsDelivered,
		DeliveredByChannel: m.DeliveredByChannel,
		AlertsSuppressed:   m.AlertsSuppressed,
		AlertsFailed:       m.AlertsFailed,
		AlertsExpired:      m.AlertsExpired,
		AlertsDismissed:    m.AlertsDismissed,
		ScansCompleted:     m.ScansCompleted,
		ScansSkipped:       m.ScansSkipped,
		ActionsEnqueued:    m.ActionsEnqueued,
		ActionsReplayed:    m.ActionsReplayed,
		ReplayFailures:     m.ReplayFailures,
		EventCount:         m.EventCount,
	}
	if out.DeliveredByChannel == nil {
		out.DeliveredByChannel = make(map[string]int)
	}
	if m.OldestEvent != nil {
		out.OldestEvent = m.OldestEvent.Format(time.RFC3339)
	}
	if m.NewestEvent != nil {
		out.NewestEvent = m.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetHealth(_ context.Context, _ *gomcp.CallToolRequest, _ getHealthInput) (*gomcp.CallToolResult, getHealthOutput, error) {
	if s.alertEngine == nil {
		return errorResult("health checks not available (no event log configured)"), getHealthOutput{Alerts: []healthAlertOutput{}}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating health: %s", err)), getHealthOutput{Alerts: []healthAlertOutput{}}, nil
	}

	out := getHealthOutput{
		Alerts: make([]healthAlertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = healthAlertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

func alertToOutput(a models.AlertItem) alertOutput {
	out := alertOutput{
		ID:                  a.ID,
		Tag:                 a.Tag(),
		Kind:                string(a.Kind),
		Title:               a.Title,
		Body:                a.Body,
		Priority:            string(a.Priority),
		Overdue:             a.Overdue,
		RequiresInteraction: a.RequiresInteraction(),
	}
	if a.DueAt != nil {
		out.DueAt = a.DueAt.Format(time.RFC3339)
	}
	return out
}

func actionToOutput(a models.QueuedAction) actionOutput {
	return actionOutput{
		ID:         a.ID,
		ActionType: a.ActionType,
		Payload:    string(a.Payload),
		EnqueuedAt: a.EnqueuedAt.Format(time.RFC3339),
		Attempts:   a.Attempts,
	}
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{DeliveredByChannel: make(map[string]int)}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// ParseSince parses a human-friendly duration string like "7d", "30d" or
// "24h" into the corresponding time before now.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if num < 0 {
		return time.Time{}, fmt.Errorf("invalid duration %q: negative", s)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	case 'm':
		return now.Add(-time.Duration(num) * time.Minute), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d, h or m)", string(suffix))
	}
}
