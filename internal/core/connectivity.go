package core

import "sync"

// ConnectivityEvent names a connectivity transition.
type ConnectivityEvent string

const (
	WentOnline  ConnectivityEvent = "went-online"
	WentOffline ConnectivityEvent = "went-offline"
)

// ConnectivityMonitor tracks the online state reported by platform adapters
// and fires exactly one event per transition. It never polls.
type ConnectivityMonitor struct {
	mu     sync.Mutex
	online bool
	subs   map[ConnectivityEvent]map[uint64]func()
	nextID uint64
}

// NewConnectivityMonitor creates a monitor with the given initial state.
func NewConnectivityMonitor(online bool) *ConnectivityMonitor {
	return &ConnectivityMonitor{
		online: online,
		subs:   make(map[ConnectivityEvent]map[uint64]func()),
	}
}

// IsOnline returns the last reported state.
func (m *ConnectivityMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Report records the current connectivity. Subscribers are notified only if
// the state differs from the previous report.
func (m *ConnectivityMonitor) Report(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	ev := WentOffline
	if online {
		ev = WentOnline
	}
	fns := make([]func(), 0, len(m.subs[ev]))
	for _, fn := range m.subs[ev] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Subscribe registers fn for ev and returns its unsubscribe function.
func (m *ConnectivityMonitor) Subscribe(ev ConnectivityEvent, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	if m.subs[ev] == nil {
		m.subs[ev] = make(map[uint64]func())
	}
	m.subs[ev][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs[ev], id)
		})
	}
}

// ListenerCount returns how many subscribers are registered for ev.
func (m *ConnectivityMonitor) ListenerCount(ev ConnectivityEvent) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[ev])
}
