package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/valter-silva-au/duealert/pkg/models"
)

// =============================================================================
// Manual clock
// =============================================================================

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	seq     int
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock only fires timers when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	seq    int
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: fn, seq: c.seq}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d, firing due timers in order. Timers
// scheduled by fired callbacks run too if they fall inside the window.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.fn()
	}
}

// active returns the number of timers that are neither stopped nor fired.
func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// =============================================================================
// Notifiers and channels
// =============================================================================

type shownBanner struct {
	Alert  models.AlertItem
	Expiry time.Duration
}

type fakeNotifier struct {
	mu        sync.Mutex
	shown     []shownBanner
	dismissed []string
	notices   []string
	err       error
}

func (n *fakeNotifier) Show(alert models.AlertItem, expiry time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.shown = append(n.shown, shownBanner{Alert: alert, Expiry: expiry})
	return nil
}

func (n *fakeNotifier) Dismiss(alertID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dismissed = append(n.dismissed, alertID)
	return nil
}

func (n *fakeNotifier) ShowNotice(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, text)
}

func (n *fakeNotifier) shownCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.shown)
}

func (n *fakeNotifier) noticeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type fakePlatform struct {
	mu    sync.Mutex
	sent  []models.AlertItem
	err   error
	calls int
}

func (p *fakePlatform) Notify(_ context.Context, alert models.AlertItem, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, alert)
	return nil
}

type fakeAgent struct {
	mu    sync.Mutex
	ready bool
	err   error
	block bool
	msgs  []models.AgentMessage
}

func (a *fakeAgent) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

func (a *fakeAgent) Send(ctx context.Context, msg models.AgentMessage) error {
	a.mu.Lock()
	block, err := a.block, a.err
	a.msgs = append(a.msgs, msg)
	a.mu.Unlock()
	if block && msg.Type == models.MsgSendAlert {
		<-ctx.Done()
		return ErrAgentTimeout
	}
	return err
}

func (a *fakeAgent) messages(typ models.AgentMessageType) []models.AgentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AgentMessage
	for _, m := range a.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// =============================================================================
// Capability prompter
// =============================================================================

type countingPrompter struct {
	mu      sync.Mutex
	calls   int
	state   models.CapabilityState
	err     error
	release chan struct{}
}

func (p *countingPrompter) Prompt(ctx context.Context) (models.CapabilityState, error) {
	p.mu.Lock()
	p.calls++
	release := p.release
	p.mu.Unlock()
	if release != nil {
		<-release
	}
	return p.state, p.err
}

func (p *countingPrompter) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// =============================================================================
// Due source
// =============================================================================

type fakeSource struct {
	mu    sync.Mutex
	items []models.DueCandidate
	err   error
	calls int
}

func (s *fakeSource) DueCandidates(context.Context) ([]models.DueCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]models.DueCandidate(nil), s.items...), nil
}

func (s *fakeSource) set(items []models.DueCandidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// =============================================================================
// Action store and replayer
// =============================================================================

type memStore struct {
	mu      sync.Mutex
	actions []models.QueuedAction
	closed  bool
	failLen bool
}

func (s *memStore) Append(_ context.Context, a models.QueuedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store closed")
	}
	s.actions = append(s.actions, a)
	return nil
}

func (s *memStore) List(context.Context) ([]models.QueuedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("store closed")
	}
	return append([]models.QueuedAction(nil), s.actions...), nil
}

func (s *memStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.actions {
		if a.ID == id {
			s.actions = append(s.actions[:i], s.actions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStore) IncrementAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.actions {
		if s.actions[i].ID == id {
			s.actions[i].Attempts++
			return s.actions[i].Attempts, nil
		}
	}
	return 0, fmt.Errorf("action %s not found", id)
}

func (s *memStore) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLen {
		return 0, errors.New("len failed")
	}
	return len(s.actions), nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *memStore) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.actions))
	for i, a := range s.actions {
		out[i] = a.ActionType
	}
	return out
}

// scriptedReplayer fails every action whose type is in failing.
type scriptedReplayer struct {
	mu       sync.Mutex
	failing  map[string]bool
	replayed []string
	calls    int
	gate     chan struct{}
	entered  chan struct{}
}

func newScriptedReplayer(failing ...string) *scriptedReplayer {
	r := &scriptedReplayer{failing: make(map[string]bool)}
	for _, f := range failing {
		r.failing[f] = true
	}
	return r
}

func (r *scriptedReplayer) Replay(_ context.Context, a models.QueuedAction) error {
	r.mu.Lock()
	r.calls++
	gate, entered := r.gate, r.entered
	r.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing[a.ActionType] {
		return fmt.Errorf("backend rejected %s", a.ActionType)
	}
	r.replayed = append(r.replayed, a.ActionType)
	return nil
}

func (r *scriptedReplayer) setFailing(actionType string, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing[actionType] = fail
}

func (r *scriptedReplayer) replayedTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.replayed...)
}

// =============================================================================
// Event log
// =============================================================================

type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEvents) LogEvent(eventType string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return nil
}

func (r *recordingEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// =============================================================================
// Helpers
// =============================================================================

func timePtr(t time.Time) *time.Time { return &t }

func testAlert(id string, priority models.Priority, overdue bool) models.AlertItem {
	return models.AlertItem{
		ID:             "alert-" + id,
		Kind:           models.KindTask,
		Title:          "Task due soon",
		Body:           "body",
		SourceEntityID: id,
		Priority:       priority,
		Status:         models.AlertUnread,
		Overdue:        overdue,
	}
}
