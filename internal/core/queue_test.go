package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/duealert/pkg/models"
	"pgregory.net/rapid"
)

// fatalHelper is satisfied by both *testing.T and *rapid.T.
type fatalHelper interface {
	Helper()
	Fatalf(format string, args ...any)
}

func newTestQueue(t fatalHelper, store *memStore, r Replayer) *ActionQueue {
	t.Helper()
	q, err := NewActionQueue(context.Background(), QueueOptions{
		Store:    store,
		Replayer: r,
		Clock:    newFakeClock(scanNow),
	})
	if err != nil {
		t.Fatalf("NewActionQueue: %v", err)
	}
	return q
}

func mustEnqueue(t fatalHelper, q *ActionQueue, actionType string) models.QueuedAction {
	t.Helper()
	a, err := q.Enqueue(context.Background(), actionType, json.RawMessage(`{"task_id":"`+actionType+`"}`))
	if err != nil {
		t.Fatalf("Enqueue(%s): %v", actionType, err)
	}
	return a
}

// =============================================================================
// Enqueue
// =============================================================================

func TestActionQueue_EnqueuePersists(t *testing.T) {
	store := &memStore{}
	q := newTestQueue(t, store, newScriptedReplayer())

	a := mustEnqueue(t, q, "complete_task")
	if a.ID == "" || a.Attempts != 0 || !a.EnqueuedAt.Equal(scanNow) {
		t.Errorf("action = %+v", a)
	}
	if q.Size() != 1 {
		t.Errorf("Size() = %d, want 1", q.Size())
	}
	if got := store.types(); len(got) != 1 || got[0] != "complete_task" {
		t.Errorf("stored %v, want [complete_task]", got)
	}
}

func TestActionQueue_EnqueueValidation(t *testing.T) {
	q := newTestQueue(t, &memStore{}, nil)
	tests := []struct {
		name       string
		actionType string
		payload    string
	}{
		{"empty type", "", `{}`},
		{"invalid json", "x", `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Enqueue(context.Background(), tt.actionType, json.RawMessage(tt.payload))
			if CodeOf(err) != CodeInvalidInput {
				t.Errorf("err = %v, want INVALID_INPUT", err)
			}
		})
	}
}

func TestActionQueue_EmptyPayloadBecomesNull(t *testing.T) {
	q := newTestQueue(t, &memStore{}, nil)
	a, err := q.Enqueue(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if string(a.Payload) != "null" {
		t.Errorf("payload = %s, want null", a.Payload)
	}
}

func TestNewActionQueue_LoadsExistingSize(t *testing.T) {
	store := &memStore{actions: []models.QueuedAction{{ID: "1", ActionType: "a"}, {ID: "2", ActionType: "b"}}}
	q := newTestQueue(t, store, nil)
	if q.Size() != 2 {
		t.Errorf("Size() = %d, want 2", q.Size())
	}

	store.failLen = true
	if _, err := NewActionQueue(context.Background(), QueueOptions{Store: store}); CodeOf(err) != CodeStorage {
		t.Errorf("err = %v, want STORAGE_ERROR", err)
	}
}

// =============================================================================
// Flush
// =============================================================================

func TestActionQueue_ABScenario(t *testing.T) {
	store := &memStore{}
	r := newScriptedReplayer("B")
	q := newTestQueue(t, store, r)
	mustEnqueue(t, q, "A")
	mustEnqueue(t, q, "B")

	res, err := q.Flush(context.Background())
	if CodeOf(err) != CodeReplay {
		t.Fatalf("err = %v, want REPLAY_FAILED", err)
	}
	if len(res.Replayed) != 1 || res.Replayed[0].ActionType != "A" {
		t.Errorf("replayed = %+v, want [A]", res.Replayed)
	}
	if res.Failed == nil || res.Failed.ActionType != "B" || res.Failed.Attempts != 1 {
		t.Errorf("failed = %+v, want B with 1 attempt", res.Failed)
	}
	if got := store.types(); len(got) != 1 || got[0] != "B" {
		t.Errorf("stored after first flush %v, want [B]", got)
	}
	if q.Size() != 1 || res.Remaining != 1 {
		t.Errorf("Size() = %d Remaining = %d, want 1", q.Size(), res.Remaining)
	}

	r.setFailing("B", false)
	res, err = q.Flush(context.Background())
	if err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if len(res.Replayed) != 1 || res.Replayed[0].ActionType != "B" {
		t.Errorf("replayed = %+v, want [B]", res.Replayed)
	}
	if q.Size() != 0 {
		t.Errorf("Size() = %d, want 0", q.Size())
	}
	if got := r.replayedTypes(); strings.Join(got, ",") != "A,B" {
		t.Errorf("backend saw %v, want [A B]", got)
	}
}

func TestActionQueue_FailedActionKeepsPosition(t *testing.T) {
	store := &memStore{}
	r := newScriptedReplayer("A")
	q := newTestQueue(t, store, r)
	mustEnqueue(t, q, "A")
	mustEnqueue(t, q, "B")

	for i := 0; i < 3; i++ {
		if _, err := q.Flush(context.Background()); err == nil {
			t.Fatal("expected replay failure")
		}
	}
	if got := store.types(); strings.Join(got, ",") != "A,B" {
		t.Errorf("stored %v, want [A B]", got)
	}
	if store.actions[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", store.actions[0].Attempts)
	}
	if len(r.replayedTypes()) != 0 {
		t.Errorf("B replayed ahead of A: %v", r.replayedTypes())
	}
}

func TestActionQueue_FlushWithoutReplayer(t *testing.T) {
	q := newTestQueue(t, &memStore{}, nil)
	mustEnqueue(t, q, "A")
	if _, err := q.Flush(context.Background()); !errors.Is(err, ErrNoReplayer) {
		t.Errorf("err = %v, want ErrNoReplayer", err)
	}
	q.SetReplayer(newScriptedReplayer())
	if _, err := q.Flush(context.Background()); err != nil {
		t.Errorf("Flush after SetReplayer: %v", err)
	}
}

func TestActionQueue_ConcurrentTriggersCoalesce(t *testing.T) {
	store := &memStore{}
	r := newScriptedReplayer()
	r.gate = make(chan struct{})
	r.entered = make(chan struct{}, 1)
	q := newTestQueue(t, store, r)
	mustEnqueue(t, q, "A")

	done := make(chan FlushResult, 1)
	go func() {
		res, err := q.Flush(context.Background())
		if err != nil {
			t.Errorf("Flush: %v", err)
		}
		done <- res
	}()

	select {
	case <-r.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("flush never reached the replayer")
	}

	for i := 0; i < 3; i++ {
		res, err := q.Flush(context.Background())
		if err != nil || !res.Coalesced {
			t.Fatalf("trigger %d: coalesced=%v err=%v", i, res.Coalesced, err)
		}
	}
	close(r.gate)

	res := <-done
	if res.Passes != 2 {
		t.Errorf("passes = %d, want 2 (one follow-up for three triggers)", res.Passes)
	}
	if len(res.Replayed) != 1 {
		t.Errorf("replayed = %d, want 1", len(res.Replayed))
	}
}

// lockingStore is a memStore shared with other processes.
type lockingStore struct {
	*memStore
	locks   int
	unlocks int
	held    bool
	lockErr error
}

func (s *lockingStore) LockFlush(context.Context) (func(), error) {
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	s.locks++
	s.held = true
	return func() {
		s.unlocks++
		s.held = false
	}, nil
}

func TestActionQueue_FlushHoldsStoreLock(t *testing.T) {
	store := &lockingStore{memStore: &memStore{}}
	var heldDuringReplay []bool
	q, err := NewActionQueue(context.Background(), QueueOptions{
		Store: store,
		Replayer: ReplayerFunc(func(context.Context, models.QueuedAction) error {
			heldDuringReplay = append(heldDuringReplay, store.held)
			return nil
		}),
	})
	if err != nil {
		t.Fatalf("NewActionQueue: %v", err)
	}
	for _, typ := range []string{"A", "B"} {
		if _, err := q.Enqueue(context.Background(), typ, nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	if _, err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if store.locks != 1 || store.unlocks != 1 {
		t.Errorf("locks=%d unlocks=%d, want one of each per flush", store.locks, store.unlocks)
	}
	for i, held := range heldDuringReplay {
		if !held {
			t.Errorf("replay %d ran without the flush lock", i)
		}
	}
}

func TestActionQueue_FlushLockFailureReplaysNothing(t *testing.T) {
	store := &lockingStore{memStore: &memStore{}, lockErr: errors.New("lock busy")}
	r := newScriptedReplayer()
	q, err := NewActionQueue(context.Background(), QueueOptions{Store: store, Replayer: r})
	if err != nil {
		t.Fatalf("NewActionQueue: %v", err)
	}
	mustEnqueue(t, q, "A")

	res, err := q.Flush(context.Background())
	if err == nil || !strings.Contains(err.Error(), "lock busy") {
		t.Fatalf("Flush = %v, want lock error", err)
	}
	if res.Passes != 0 || len(r.replayedTypes()) != 0 || res.Remaining != 1 {
		t.Errorf("result = %+v, replayed %v", res, r.replayedTypes())
	}

	store.lockErr = nil
	if _, err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush after lock freed: %v", err)
	}
	if q.Size() != 0 {
		t.Errorf("Size = %d, want 0", q.Size())
	}
}

func TestActionQueue_SizeReadsStore(t *testing.T) {
	store := &memStore{}
	q := newTestQueue(t, store, newScriptedReplayer())
	mustEnqueue(t, q, "A")

	// Another process appends directly to the shared store.
	store.mu.Lock()
	store.actions = append(store.actions, models.QueuedAction{ID: "ext", ActionType: "B"})
	store.mu.Unlock()
	if q.Size() != 2 {
		t.Errorf("Size = %d, want 2", q.Size())
	}

	store.mu.Lock()
	store.failLen = true
	store.mu.Unlock()
	if q.Size() != 2 {
		t.Errorf("Size with unreadable store = %d, want last known 2", q.Size())
	}
}

func TestActionQueue_OnFlushedCallback(t *testing.T) {
	var got []FlushResult
	q, err := NewActionQueue(context.Background(), QueueOptions{
		Store:     &memStore{},
		Replayer:  newScriptedReplayer(),
		OnFlushed: func(r FlushResult) { got = append(got, r) },
	})
	if err != nil {
		t.Fatalf("NewActionQueue: %v", err)
	}
	mustEnqueue(t, q, "A")
	if _, err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(got) != 1 || len(got[0].Replayed) != 1 {
		t.Errorf("callbacks = %+v", got)
	}
}

func TestActionQueue_Close(t *testing.T) {
	store := &memStore{}
	q := newTestQueue(t, store, newScriptedReplayer())
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !store.isClosed() {
		t.Error("store not closed")
	}
	if _, err := q.Enqueue(context.Background(), "A", nil); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrQueueClosed", err)
	}
	if _, err := q.Flush(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Flush after Close = %v, want ErrQueueClosed", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestActionQueue_CloseDuringFlushSkipsFollowUp(t *testing.T) {
	store := &memStore{}
	r := newScriptedReplayer()
	r.gate = make(chan struct{})
	r.entered = make(chan struct{}, 1)
	q := newTestQueue(t, store, r)
	mustEnqueue(t, q, "A")

	done := make(chan FlushResult, 1)
	go func() {
		res, _ := q.Flush(context.Background())
		done <- res
	}()
	<-r.entered

	if res, _ := q.Flush(context.Background()); !res.Coalesced {
		t.Fatal("second trigger not coalesced")
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if store.isClosed() {
		t.Fatal("store closed under a running flush")
	}
	close(r.gate)

	res := <-done
	if res.Passes != 1 {
		t.Errorf("passes = %d, want 1 after Close", res.Passes)
	}
	if !store.isClosed() {
		t.Error("store not closed after flush finished")
	}
}

// =============================================================================
// Properties
// =============================================================================

// Flush replays a strict prefix of the queue in enqueue order and leaves the
// failing action and its successors stored in order.
func TestPropertyActionQueue_FIFOHaltsOnFailure(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 15).Draw(t, "n")
		failAt := rapid.IntRange(-1, n-1).Draw(t, "failAt")

		types := make([]string, n)
		for i := range types {
			types[i] = fmt.Sprintf("act%02d", i)
		}
		var failing []string
		if failAt >= 0 {
			failing = append(failing, types[failAt])
		}

		store := &memStore{}
		r := newScriptedReplayer(failing...)
		q := newTestQueue(t, store, r)
		for _, typ := range types {
			mustEnqueue(t, q, typ)
		}

		res, err := q.Flush(context.Background())

		wantReplayed := types
		var wantLeft []string
		if failAt >= 0 {
			wantReplayed = types[:failAt]
			wantLeft = types[failAt:]
			if err == nil {
				t.Fatal("expected replay error")
			}
		} else if err != nil {
			t.Fatalf("Flush: %v", err)
		}

		if got := r.replayedTypes(); strings.Join(got, ",") != strings.Join(wantReplayed, ",") {
			t.Fatalf("replayed %v, want %v", got, wantReplayed)
		}
		if got := store.types(); strings.Join(got, ",") != strings.Join(wantLeft, ",") {
			t.Fatalf("left %v, want %v", got, wantLeft)
		}
		if res.Remaining != len(wantLeft) || q.Size() != len(wantLeft) {
			t.Fatalf("remaining = %d size = %d, want %d", res.Remaining, q.Size(), len(wantLeft))
		}
	})
}
