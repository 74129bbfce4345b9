package core

import (
	"context"
	"sync"

	"github.com/valter-silva-au/duealert/pkg/models"
)

// CapabilityPrompter asks the platform (or the user) for permission to show
// platform notifications.
type CapabilityPrompter interface {
	Prompt(ctx context.Context) (models.CapabilityState, error)
}

// Gatekeeper tracks the notification capability. The first Request prompts;
// concurrent callers share that prompt; determined answers are cached.
type Gatekeeper struct {
	prompter CapabilityPrompter

	mu       sync.Mutex
	state    models.CapabilityState
	inflight *capabilityRequest
	onChange []func(models.CapabilityState)
}

type capabilityRequest struct {
	done  chan struct{}
	state models.CapabilityState
	err   error
}

// NewGatekeeper creates a Gatekeeper in the undetermined state.
func NewGatekeeper(prompter CapabilityPrompter) *Gatekeeper {
	return &Gatekeeper{
		prompter: prompter,
		state:    models.CapabilityUndetermined,
	}
}

// Request returns the capability state, prompting only if it is still
// undetermined and no prompt is already running.
func (g *Gatekeeper) Request(ctx context.Context) (models.CapabilityState, error) {
	g.mu.Lock()
	if g.state.Determined() {
		s := g.state
		g.mu.Unlock()
		return s, nil
	}
	if req := g.inflight; req != nil {
		g.mu.Unlock()
		return waitCapability(ctx, req)
	}
	req := &capabilityRequest{done: make(chan struct{})}
	g.inflight = req
	g.mu.Unlock()

	go g.runPrompt(req)

	return waitCapability(ctx, req)
}

// runPrompt runs detached from the caller's context so a cancelled caller
// does not abort the prompt for everyone sharing it.
func (g *Gatekeeper) runPrompt(req *capabilityRequest) {
	state := models.CapabilityUndetermined
	var err error
	if g.prompter != nil {
		state, err = g.prompter.Prompt(context.Background())
	}
	if err != nil {
		state = models.CapabilityUndetermined
	}

	g.mu.Lock()
	req.state, req.err = state, err
	g.inflight = nil
	changed := g.state != state
	g.state = state
	listeners := append([]func(models.CapabilityState){}, g.onChange...)
	g.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(state)
		}
	}
	close(req.done)
}

func waitCapability(ctx context.Context, req *capabilityRequest) (models.CapabilityState, error) {
	select {
	case <-req.done:
		return req.state, req.err
	case <-ctx.Done():
		return models.CapabilityUndetermined, ctx.Err()
	}
}

// State returns the cached capability state without prompting.
func (g *Gatekeeper) State() models.CapabilityState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Granted reports whether platform notifications are allowed.
func (g *Gatekeeper) Granted() bool {
	return g.State() == models.CapabilityGranted
}

// Reevaluate replaces the cached state after the user changed platform
// settings. Listeners run only when the state actually changes.
func (g *Gatekeeper) Reevaluate(state models.CapabilityState) {
	g.mu.Lock()
	if g.state == state {
		g.mu.Unlock()
		return
	}
	g.state = state
	listeners := append([]func(models.CapabilityState){}, g.onChange...)
	g.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

// OnChange registers fn to run whenever the cached state changes.
func (g *Gatekeeper) OnChange(fn func(models.CapabilityState)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = append(g.onChange, fn)
}
