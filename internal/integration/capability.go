package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/valter-silva-au/duealert/internal/core"
	"github.com/valter-silva-au/duealert/pkg/models"
)

// CapabilityRecord is the persisted answer to the permission prompt.
type CapabilityRecord struct {
	State     models.CapabilityState `yaml:"state"`
	DecidedAt time.Time              `yaml:"decided_at"`
}

// CapabilityFile stores the capability decision so it survives restarts and
// can be changed from the CLI while the engine runs.
type CapabilityFile struct {
	path string
}

// NewCapabilityFile creates a CapabilityFile at path.
func NewCapabilityFile(path string) *CapabilityFile {
	return &CapabilityFile{path: path}
}

// Path returns the file location.
func (f *CapabilityFile) Path() string { return f.path }

// Load returns the persisted state, or undetermined when nothing is stored.
func (f *CapabilityFile) Load() (models.CapabilityState, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.CapabilityUndetermined, nil
		}
		return models.CapabilityUndetermined, fmt.Errorf("reading capability file: %w", err)
	}
	var rec CapabilityRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return models.CapabilityUndetermined, fmt.Errorf("parsing capability file: %w", err)
	}
	if !rec.State.Determined() {
		return models.CapabilityUndetermined, nil
	}
	return rec.State, nil
}

// Save persists a determined state.
func (f *CapabilityFile) Save(state models.CapabilityState) error {
	if !state.Determined() {
		return fmt.Errorf("saving capability: state %q is not a decision", state)
	}
	data, err := yaml.Marshal(CapabilityRecord{State: state, DecidedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshaling capability: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("saving capability: creating directory: %w", err)
	}
	// The watcher reads the file on every event, so it must never see a
	// partial write.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("saving capability: writing file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("saving capability: replacing file: %w", err)
	}
	return nil
}

// Reset removes the decision so the next run prompts again.
func (f *CapabilityFile) Reset() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("resetting capability: %w", err)
	}
	return nil
}

// FixedPrompter answers every prompt with the same state. It backs the
// granted and denied capability modes.
type FixedPrompter struct {
	State models.CapabilityState
}

func (p FixedPrompter) Prompt(context.Context) (models.CapabilityState, error) {
	return p.State, nil
}

// HuhPrompter asks the user in the terminal.
type HuhPrompter struct {
	// Accessible switches huh to its line-based mode for screen readers and
	// non-TTY sessions.
	Accessible bool
}

func (p HuhPrompter) Prompt(ctx context.Context) (models.CapabilityState, error) {
	allow := true
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Allow duealert to show desktop notifications?").
			Description("Due and overdue items are announced outside the terminal.").
			Affirmative("Allow").
			Negative("Don't allow").
			Value(&allow),
	)).WithAccessible(p.Accessible)

	if err := form.RunWithContext(ctx); err != nil {
		return models.CapabilityUndetermined, fmt.Errorf("capability prompt: %w", err)
	}
	if allow {
		return models.CapabilityGranted, nil
	}
	return models.CapabilityDenied, nil
}

// PersistentPrompter answers from the capability file when a decision is
// stored, and otherwise asks next and stores the answer.
type PersistentPrompter struct {
	File *CapabilityFile
	Next core.CapabilityPrompter
}

func (p PersistentPrompter) Prompt(ctx context.Context) (models.CapabilityState, error) {
	state, err := p.File.Load()
	if err != nil {
		return models.CapabilityUndetermined, err
	}
	if state.Determined() {
		return state, nil
	}
	state, err = p.Next.Prompt(ctx)
	if err != nil {
		return state, err
	}
	if state.Determined() {
		if err := p.File.Save(state); err != nil {
			return state, err
		}
	}
	return state, nil
}

// NewPrompter builds the prompter for a capability mode (prompt, granted,
// denied). Every mode consults the capability file first.
func NewPrompter(mode string, file *CapabilityFile) core.CapabilityPrompter {
	var next core.CapabilityPrompter
	switch mode {
	case "granted":
		next = FixedPrompter{State: models.CapabilityGranted}
	case "denied":
		next = FixedPrompter{State: models.CapabilityDenied}
	default:
		next = HuhPrompter{Accessible: os.Getenv("ACCESSIBLE") != ""}
	}
	if file == nil {
		return next
	}
	return PersistentPrompter{File: file, Next: next}
}

// CapabilityWatcher re-evaluates the gatekeeper whenever the capability file
// changes on disk.
type CapabilityWatcher struct {
	file   *CapabilityFile
	apply  func(models.CapabilityState)
	log    logrus.FieldLogger
	w      *fsnotify.Watcher
	done   chan struct{}
	closed chan struct{}
}

// WatchCapability starts watching file. apply receives every state read
// after a change, undetermined when the file is removed.
func WatchCapability(file *CapabilityFile, apply func(models.CapabilityState), log logrus.FieldLogger) (*CapabilityWatcher, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	dir := filepath.Dir(file.Path())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("watching capability: creating directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watching capability: %w", err)
	}
	// The directory is watched so that atomic replaces and removals are seen.
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching capability dir %s: %w", dir, err)
	}
	cw := &CapabilityWatcher{
		file:   file,
		apply:  apply,
		log:    log.WithField("component", "capability-watcher"),
		w:      w,
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go cw.loop()
	return cw, nil
}

func (cw *CapabilityWatcher) loop() {
	defer close(cw.closed)
	target := filepath.Clean(cw.file.Path())
	for {
		select {
		case <-cw.done:
			return
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			state, err := cw.file.Load()
			if err != nil {
				cw.log.WithError(err).Warn("ignoring unreadable capability file")
				continue
			}
			cw.apply(state)
		case err, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			cw.log.WithError(err).Warn("capability watcher error")
		}
	}
}

// Close stops watching.
func (cw *CapabilityWatcher) Close() error {
	select {
	case <-cw.done:
		return nil
	default:
	}
	close(cw.done)
	err := cw.w.Close()
	<-cw.closed
	return err
}
