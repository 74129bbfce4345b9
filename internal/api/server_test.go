package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/duealert/internal/core"
	"github.com/valter-silva-au/duealert/internal/storage"
	"github.com/valter-silva-au/duealert/pkg/models"
)

// =============================================================================
// Stub engine
// =============================================================================

type stubEngine struct {
	mu          sync.Mutex
	enqueued    []string
	enqueueErr  error
	flushRes    core.FlushResult
	flushErr    error
	size        int
	pending     []models.QueuedAction
	online      []bool
	interacted  []string
	interactErr error
	preview     []models.AlertItem
	scan        core.ScanReport
	scanErr     error
}

func (s *stubEngine) Enqueue(_ context.Context, actionType string, payload json.RawMessage) (models.QueuedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueErr != nil {
		return models.QueuedAction{}, s.enqueueErr
	}
	s.enqueued = append(s.enqueued, actionType)
	return models.QueuedAction{ID: "act-1", ActionType: actionType, Payload: payload}, nil
}

func (s *stubEngine) Flush(context.Context) (core.FlushResult, error) { return s.flushRes, s.flushErr }
func (s *stubEngine) QueueSize() int                                 { return s.size }
func (s *stubEngine) PendingActions(context.Context) ([]models.QueuedAction, error) {
	return s.pending, nil
}

func (s *stubEngine) ReportConnectivity(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = append(s.online, online)
}

func (s *stubEngine) Interact(tag string, action models.AlertActionType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interactErr != nil {
		return s.interactErr
	}
	s.interacted = append(s.interacted, tag+"/"+string(action))
	return nil
}

func (s *stubEngine) Preview(context.Context) ([]models.AlertItem, error) { return s.preview, nil }
func (s *stubEngine) ScanNow(context.Context) (core.ScanReport, error)    { return s.scan, s.scanErr }
func (s *stubEngine) Status() core.EngineStatus {
	return core.EngineStatus{Capability: models.CapabilityGranted, Online: true, QueueSize: s.size, Initialized: true}
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding %s %s response %q: %v", method, path, w.Body.String(), err)
	}
	return w, resp
}

func dataOf(t *testing.T, resp Response, into any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		t.Fatalf("decoding data %s: %v", raw, err)
	}
}

// =============================================================================
// Handlers
// =============================================================================

func TestPostAction(t *testing.T) {
	eng := &stubEngine{}
	h := NewServer(eng, nil).Handler()

	w, resp := do(t, h, http.MethodPost, "/v1/actions", `{"action_type":"complete_task","payload":{"id":"T-1"}}`)
	if w.Code != http.StatusOK || resp.Code != codeOK {
		t.Fatalf("status = %d, resp = %+v", w.Code, resp)
	}
	var action models.QueuedAction
	dataOf(t, resp, &action)
	if action.ID != "act-1" || string(action.Payload) != `{"id":"T-1"}` {
		t.Errorf("action = %+v", action)
	}
	if len(eng.enqueued) != 1 || eng.enqueued[0] != "complete_task" {
		t.Errorf("enqueued = %v", eng.enqueued)
	}
}

func TestPostAction_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing type", `{"payload":1}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &stubEngine{}
			w, resp := do(t, NewServer(eng, nil).Handler(), http.MethodPost, "/v1/actions", tt.body)
			if w.Code != http.StatusBadRequest || resp.Code != string(core.CodeInvalidInput) {
				t.Errorf("status = %d, code = %q", w.Code, resp.Code)
			}
			if len(eng.enqueued) != 0 {
				t.Error("engine called for invalid body")
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid input", &core.EngineError{Code: core.CodeInvalidInput, Message: "bad"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"storage", &core.EngineError{Code: core.CodeStorage, Message: "disk"}, http.StatusInternalServerError, "STORAGE_ERROR"},
		{"disposed", core.ErrDisposed, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"queue closed", core.ErrQueueClosed, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &stubEngine{enqueueErr: tt.err}
			w, resp := do(t, NewServer(eng, nil).Handler(), http.MethodPost, "/v1/actions", `{"action_type":"x"}`)
			if w.Code != tt.status || resp.Code != tt.code {
				t.Errorf("got %d %q, want %d %q", w.Code, resp.Code, tt.status, tt.code)
			}
		})
	}
}

func TestGetQueue(t *testing.T) {
	eng := &stubEngine{size: 2, pending: []models.QueuedAction{{ID: "a"}, {ID: "b"}}}
	h := NewServer(eng, nil).Handler()

	_, resp := do(t, h, http.MethodGet, "/v1/queue", "")
	var q queueResponse
	dataOf(t, resp, &q)
	if q.Size != 2 || q.Actions != nil {
		t.Errorf("queue = %+v", q)
	}

	_, resp = do(t, h, http.MethodGet, "/v1/queue?list=true", "")
	q = queueResponse{}
	dataOf(t, resp, &q)
	if len(q.Actions) != 2 || q.Actions[0].ID != "a" {
		t.Errorf("queue list = %+v", q)
	}
}

func TestPostFlush(t *testing.T) {
	t.Run("replayed", func(t *testing.T) {
		eng := &stubEngine{flushRes: core.FlushResult{Replayed: []models.QueuedAction{{ID: "a"}, {ID: "b"}}}}
		w, resp := do(t, NewServer(eng, nil).Handler(), http.MethodPost, "/v1/queue/flush", "")
		var f flushResponse
		dataOf(t, resp, &f)
		if w.Code != http.StatusOK || f.Replayed != 2 || f.Remaining != 0 {
			t.Errorf("status %d, flush = %+v", w.Code, f)
		}
	})
	t.Run("halted", func(t *testing.T) {
		eng := &stubEngine{
			flushRes: core.FlushResult{Failed: &models.QueuedAction{ID: "c"}, Remaining: 1},
			flushErr: &core.EngineError{Code: core.CodeReplay, Message: "replaying"},
		}
		w, resp := do(t, NewServer(eng, nil).Handler(), http.MethodPost, "/v1/queue/flush", "")
		var f flushResponse
		dataOf(t, resp, &f)
		if w.Code != http.StatusOK || f.FailedActionID != "c" || f.Remaining != 1 {
			t.Errorf("status %d, flush = %+v", w.Code, f)
		}
	})
	t.Run("no replayer", func(t *testing.T) {
		eng := &stubEngine{flushErr: core.ErrNoReplayer}
		w, resp := do(t, NewServer(eng, nil).Handler(), http.MethodPost, "/v1/queue/flush", "")
		if w.Code != http.StatusConflict || resp.Code != "NO_REPLAYER" {
			t.Errorf("got %d %q", w.Code, resp.Code)
		}
	})
}

func TestPostConnectivity(t *testing.T) {
	eng := &stubEngine{}
	h := NewServer(eng, nil).Handler()

	if w, _ := do(t, h, http.MethodPost, "/v1/connectivity", `{"online":false}`); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w, _ := do(t, h, http.MethodPost, "/v1/connectivity", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing online: status = %d", w.Code)
	}
	if len(eng.online) != 1 || eng.online[0] {
		t.Errorf("reports = %v", eng.online)
	}
}

func TestPostInteraction(t *testing.T) {
	eng := &stubEngine{}
	h := NewServer(eng, nil).Handler()

	w, _ := do(t, h, http.MethodPost, "/v1/alerts/task:T-1/interactions", `{"action":"complete"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(eng.interacted) != 1 || eng.interacted[0] != "task:T-1/complete" {
		t.Errorf("interactions = %v", eng.interacted)
	}

	eng.interactErr = &core.EngineError{Code: core.CodeInvalidInput, Message: "unknown alert action"}
	if w, _ := do(t, h, http.MethodPost, "/v1/alerts/task:T-1/interactions", `{"action":"snooze"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad action: status = %d", w.Code)
	}
}

func TestGetPreviewAndScan(t *testing.T) {
	eng := &stubEngine{
		scan: core.ScanReport{Candidates: 3, Selected: 1, Delivered: 1, Alerts: []models.AlertItem{{ID: "x", Title: "Task overdue"}}},
	}
	h := NewServer(eng, nil).Handler()

	_, resp := do(t, h, http.MethodGet, "/v1/alerts/preview", "")
	var alerts []models.AlertItem
	dataOf(t, resp, &alerts)
	if alerts == nil || len(alerts) != 0 {
		t.Errorf("preview = %v, want empty list", alerts)
	}

	_, resp = do(t, h, http.MethodPost, "/v1/scan", "")
	var s scanResponse
	dataOf(t, resp, &s)
	if s.Candidates != 3 || s.Delivered != 1 || len(s.Alerts) != 1 {
		t.Errorf("scan = %+v", s)
	}

	eng.scanErr = &core.EngineError{Code: core.CodeSource, Message: "fetching due items"}
	if w, _ := do(t, h, http.MethodPost, "/v1/scan", ""); w.Code != http.StatusBadGateway {
		t.Errorf("source failure: status = %d", w.Code)
	}
}

func TestGetStatus(t *testing.T) {
	_, resp := do(t, NewServer(&stubEngine{size: 4}, nil).Handler(), http.MethodGet, "/v1/status", "")
	var st core.EngineStatus
	dataOf(t, resp, &st)
	if st.QueueSize != 4 || st.Capability != models.CapabilityGranted {
		t.Errorf("status = %+v", st)
	}
}

// =============================================================================
// Against a real engine
// =============================================================================

func TestServer_EnqueueOfflineThenFlushOnReconnect(t *testing.T) {
	var mu sync.Mutex
	var replayed []string
	conn := core.NewConnectivityMonitor(false)
	eng, err := core.NewEngine(context.Background(), core.EngineOptions{
		Store: storage.NewMemoryActionStore(),
		Replayer: core.ReplayerFunc(func(_ context.Context, a models.QueuedAction) error {
			mu.Lock()
			defer mu.Unlock()
			replayed = append(replayed, a.ActionType)
			return nil
		}),
		Connectivity: conn,
		ManualScan:   true,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Dispose()
	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	h := NewServer(eng, nil).Handler()
	for _, typ := range []string{"first", "second"} {
		if w, resp := do(t, h, http.MethodPost, "/v1/actions", `{"action_type":"`+typ+`"}`); w.Code != http.StatusOK {
			t.Fatalf("enqueue %s: %d %+v", typ, w.Code, resp)
		}
	}
	_, resp := do(t, h, http.MethodGet, "/v1/queue", "")
	var q queueResponse
	dataOf(t, resp, &q)
	if q.Size != 2 {
		t.Fatalf("queue size = %d, want 2", q.Size)
	}

	do(t, h, http.MethodPost, "/v1/connectivity", `{"online":true}`)

	deadline := time.Now().Add(2 * time.Second)
	for eng.QueueSize() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(replayed) != 2 || replayed[0] != "first" || replayed[1] != "second" {
		t.Errorf("replayed = %v", replayed)
	}
}
