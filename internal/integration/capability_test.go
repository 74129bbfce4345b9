package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/duealert/pkg/models"
)

func newTestCapabilityFile(t *testing.T) *CapabilityFile {
	t.Helper()
	return NewCapabilityFile(filepath.Join(t.TempDir(), "capability.yaml"))
}

// --- CapabilityFile ---

func TestCapabilityFile_MissingIsUndetermined(t *testing.T) {
	state, err := newTestCapabilityFile(t).Load()
	if err != nil || state != models.CapabilityUndetermined {
		t.Fatalf("Load = %q, %v", state, err)
	}
}

func TestCapabilityFile_SaveLoadReset(t *testing.T) {
	f := newTestCapabilityFile(t)
	for _, s := range []models.CapabilityState{models.CapabilityGranted, models.CapabilityDenied} {
		if err := f.Save(s); err != nil {
			t.Fatalf("Save(%s): %v", s, err)
		}
		got, err := f.Load()
		if err != nil || got != s {
			t.Fatalf("Load = %q, %v; want %q", got, err, s)
		}
	}
	if _, err := os.Stat(f.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}
	if err := f.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got, _ := f.Load(); got != models.CapabilityUndetermined {
		t.Errorf("after Reset = %q", got)
	}
	if err := f.Reset(); err != nil {
		t.Errorf("second Reset = %v", err)
	}
}

func TestCapabilityFile_RejectsUndetermined(t *testing.T) {
	if err := newTestCapabilityFile(t).Save(models.CapabilityUndetermined); err == nil {
		t.Fatal("expected error saving undetermined")
	}
}

func TestCapabilityFile_Malformed(t *testing.T) {
	f := newTestCapabilityFile(t)
	if err := os.WriteFile(f.Path(), []byte("state: [x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

// --- Prompters ---

type countingPrompt struct {
	calls int
	state models.CapabilityState
	err   error
}

func (p *countingPrompt) Prompt(context.Context) (models.CapabilityState, error) {
	p.calls++
	return p.state, p.err
}

func TestPersistentPrompter_AsksOnceThenRemembers(t *testing.T) {
	f := newTestCapabilityFile(t)
	inner := &countingPrompt{state: models.CapabilityDenied}
	p := PersistentPrompter{File: f, Next: inner}

	for i := 0; i < 2; i++ {
		state, err := p.Prompt(context.Background())
		if err != nil || state != models.CapabilityDenied {
			t.Fatalf("Prompt #%d = %q, %v", i, state, err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner prompts = %d, want 1", inner.calls)
	}
}

func TestPersistentPrompter_ErrorNotStored(t *testing.T) {
	f := newTestCapabilityFile(t)
	p := PersistentPrompter{File: f, Next: &countingPrompt{state: models.CapabilityUndetermined, err: errors.New("no tty")}}
	if _, err := p.Prompt(context.Background()); err == nil {
		t.Fatal("expected prompt error")
	}
	if state, _ := f.Load(); state != models.CapabilityUndetermined {
		t.Errorf("stored %q after failed prompt", state)
	}
}

func TestNewPrompter_FixedModes(t *testing.T) {
	tests := []struct {
		mode string
		want models.CapabilityState
	}{
		{"granted", models.CapabilityGranted},
		{"denied", models.CapabilityDenied},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			state, err := NewPrompter(tt.mode, nil).Prompt(context.Background())
			if err != nil || state != tt.want {
				t.Errorf("Prompt = %q, %v; want %q", state, err, tt.want)
			}
		})
	}
	if _, ok := NewPrompter("prompt", nil).(HuhPrompter); !ok {
		t.Error("prompt mode should ask interactively")
	}
	if _, ok := NewPrompter("granted", newTestCapabilityFile(t)).(PersistentPrompter); !ok {
		t.Error("a capability file should wrap the prompter")
	}
}

// A stored decision beats the configured mode.
func TestNewPrompter_FileOverridesMode(t *testing.T) {
	f := newTestCapabilityFile(t)
	_ = f.Save(models.CapabilityDenied)
	state, err := NewPrompter("granted", f).Prompt(context.Background())
	if err != nil || state != models.CapabilityDenied {
		t.Errorf("Prompt = %q, %v; want denied", state, err)
	}
}

// --- CapabilityWatcher ---

func TestCapabilityWatcher_AppliesChanges(t *testing.T) {
	f := newTestCapabilityFile(t)
	got := make(chan models.CapabilityState, 16)
	w, err := WatchCapability(f, func(s models.CapabilityState) { got <- s }, quietLogger())
	if err != nil {
		t.Fatalf("WatchCapability: %v", err)
	}
	defer w.Close()

	if err := f.Save(models.CapabilityGranted); err != nil {
		t.Fatal(err)
	}
	waitState(t, got, models.CapabilityGranted)

	if err := f.Reset(); err != nil {
		t.Fatal(err)
	}
	waitState(t, got, models.CapabilityUndetermined)
}

func TestCapabilityWatcher_NeverSeesPartialSave(t *testing.T) {
	f := newTestCapabilityFile(t)
	if err := f.Save(models.CapabilityDenied); err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var seen []models.CapabilityState
	w, err := WatchCapability(f, func(s models.CapabilityState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}, quietLogger())
	if err != nil {
		t.Fatalf("WatchCapability: %v", err)
	}
	defer w.Close()

	states := []models.CapabilityState{models.CapabilityGranted, models.CapabilityDenied}
	for i := 0; i < 40; i++ {
		if err := f.Save(states[i%2]); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("watcher applied nothing")
	}
	for _, s := range seen {
		if !s.Determined() {
			t.Fatalf("watcher applied %q from a partially written file", s)
		}
	}
}

func TestCapabilityWatcher_IgnoresOtherFiles(t *testing.T) {
	f := newTestCapabilityFile(t)
	got := make(chan models.CapabilityState, 4)
	w, err := WatchCapability(f, func(s models.CapabilityState) { got <- s }, quietLogger())
	if err != nil {
		t.Fatalf("WatchCapability: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(filepath.Dir(f.Path()), "other.yaml"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-got:
		t.Fatalf("unexpected apply(%q)", s)
	case <-time.After(100 * time.Millisecond):
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func waitState(t *testing.T, ch <-chan models.CapabilityState, want models.CapabilityState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("state %q not applied within 2s", want)
		}
	}
}
