package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/valter-silva-au/duealert/pkg/models"
)

// TokenSource returns the bearer token for backend calls. An empty token
// sends no Authorization header.
type TokenSource func() (string, error)

// HTTPReplayer sends queued actions to the backend action endpoint. Any 2xx
// response confirms the action; everything else is a failure to retry.
type HTTPReplayer struct {
	endpoint string
	client   *http.Client
	token    TokenSource
}

// NewHTTPReplayer creates a replayer posting to endpoint.
func NewHTTPReplayer(endpoint string, timeout time.Duration, token TokenSource) *HTTPReplayer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPReplayer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		token:    token,
	}
}

type replayRequest struct {
	ID         string          `json:"id"`
	ActionType string          `json:"action_type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Replay posts one action. The action ID doubles as the idempotency key so
// a backend can discard a retry of an action it already applied.
func (r *HTTPReplayer) Replay(ctx context.Context, action models.QueuedAction) error {
	payload := action.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	body, err := json.Marshal(replayRequest{
		ID:         action.ID,
		ActionType: action.ActionType,
		Payload:    payload,
		EnqueuedAt: action.EnqueuedAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling action %s: %w", action.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building replay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", action.ID)
	if r.token != nil {
		tok, err := r.token()
		if err != nil {
			return fmt.Errorf("reading backend token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting action %s: %w", action.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned status %d for %s: %s", resp.StatusCode, action.ActionType, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
