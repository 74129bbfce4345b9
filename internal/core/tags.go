package core

import (
	"sort"
	"sync"
)

// LiveAlert describes the alert currently holding a tag.
type LiveAlert struct {
	Tag     string
	AlertID string
	Channel string
	cancel  func()
}

// TagRegistry enforces at most one live alert per tag.
type TagRegistry struct {
	mu   sync.Mutex
	live map[string]*LiveAlert
}

// NewTagRegistry creates an empty TagRegistry.
func NewTagRegistry() *TagRegistry {
	return &TagRegistry{live: make(map[string]*LiveAlert)}
}

// claim reserves tag for alertID. It returns false if another alert already
// holds the tag.
func (r *TagRegistry) claim(tag, alertID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.live[tag]; taken {
		return false
	}
	r.live[tag] = &LiveAlert{Tag: tag, AlertID: alertID}
	return true
}

// bind records which channel delivered the alert and how to cancel its
// expiry timer.
func (r *TagRegistry) bind(tag, alertID, channel string, cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if la, ok := r.live[tag]; ok && la.AlertID == alertID {
		la.Channel = channel
		la.cancel = cancel
	}
}

// release frees tag. When alertID is non-empty the tag is only released if it
// is still held by that alert.
func (r *TagRegistry) release(tag, alertID string) (LiveAlert, bool) {
	r.mu.Lock()
	la, ok := r.live[tag]
	if !ok || (alertID != "" && la.AlertID != alertID) {
		r.mu.Unlock()
		return LiveAlert{}, false
	}
	delete(r.live, tag)
	r.mu.Unlock()

	if la.cancel != nil {
		la.cancel()
	}
	return *la, true
}

// IsLive reports whether tag is currently held.
func (r *TagRegistry) IsLive(tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[tag]
	return ok
}

// Snapshot returns the live alerts sorted by tag.
func (r *TagRegistry) Snapshot() []LiveAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LiveAlert, 0, len(r.live))
	for _, la := range r.live {
		out = append(out, LiveAlert{Tag: la.Tag, AlertID: la.AlertID, Channel: la.Channel})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Len returns the number of live tags.
func (r *TagRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
