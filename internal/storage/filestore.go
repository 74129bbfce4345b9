package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/valter-silva-au/duealert/pkg/models"
)

// FileActionStore keeps the queue in a single JSON file. The engine and the
// background agent may share the file, so every operation holds an flock on
// a sibling .lock file and rereads the queue first. A whole flush holds a
// second flock on .flush.lock (see LockFlush). Writes go through a
// temporary file and a rename, so a crash never leaves a half-written queue.
type FileActionStore struct {
	path string
	mu   sync.Mutex
}

type fileQueueState struct {
	Version string       `json:"version"`
	Actions []fileAction `json:"actions"`
}

// fileAction keeps the payload as a string so it is written and read back
// byte for byte.
type fileAction struct {
	ID         string    `json:"id"`
	ActionType string    `json:"action_type"`
	Payload    string    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

const fileQueueVersion = "2"

// NewFileActionStore opens (or starts) the queue file at path.
func NewFileActionStore(path string) (*FileActionStore, error) {
	if path == "" {
		return nil, fmt.Errorf("opening file queue: %w", ErrInvalidDSN)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("opening file queue %s: %w", path, err)
	}
	s := &FileActionStore{path: path}
	if err := s.view(func([]models.QueuedAction) error { return nil }); err != nil {
		return nil, fmt.Errorf("opening file queue %s: %w", path, err)
	}
	return s, nil
}

// Path returns the queue file location.
func (s *FileActionStore) Path() string { return s.path }

func (s *FileActionStore) Append(_ context.Context, action models.QueuedAction) error {
	err := s.update(func(actions []models.QueuedAction) ([]models.QueuedAction, error) {
		return append(actions, action), nil
	})
	if err != nil {
		return fmt.Errorf("appending action %s: %w", action.ID, err)
	}
	return nil
}

func (s *FileActionStore) List(context.Context) ([]models.QueuedAction, error) {
	var out []models.QueuedAction
	err := s.view(func(actions []models.QueuedAction) error {
		out = actions
		return nil
	})
	return out, err
}

// Remove deletes the action. Removing an unknown ID is not an error; another
// process may have replayed it already.
func (s *FileActionStore) Remove(_ context.Context, id string) error {
	err := s.update(func(actions []models.QueuedAction) ([]models.QueuedAction, error) {
		idx := indexOf(actions, id)
		if idx < 0 {
			return actions, nil
		}
		return append(actions[:idx], actions[idx+1:]...), nil
	})
	if err != nil {
		return fmt.Errorf("removing action %s: %w", id, err)
	}
	return nil
}

func (s *FileActionStore) IncrementAttempts(_ context.Context, id string) (int, error) {
	var attempts int
	err := s.update(func(actions []models.QueuedAction) ([]models.QueuedAction, error) {
		idx := indexOf(actions, id)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrActionNotFound, id)
		}
		actions[idx].Attempts++
		attempts = actions[idx].Attempts
		return actions, nil
	})
	if err != nil {
		if errors.Is(err, ErrActionNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("recording attempt for %s: %w", id, err)
	}
	return attempts, nil
}

func (s *FileActionStore) Len(ctx context.Context) (int, error) {
	actions, err := s.List(ctx)
	return len(actions), err
}

func (s *FileActionStore) Close() error { return nil }

// flushLockPoll is how often a waiting flush retries the flush lock.
const flushLockPoll = 20 * time.Millisecond

// LockFlush holds the queue's flush lock until unlock is called. Every
// process flushing the same file waits for it, so an action is replayed by
// one flush only.
func (s *FileActionStore) LockFlush(ctx context.Context) (func(), error) {
	release, err := lockFileContext(ctx, s.path+".flush.lock", flushLockPoll)
	if err != nil {
		return nil, fmt.Errorf("locking %s for flush: %w", s.path, err)
	}
	return func() { _ = release() }, nil
}

func indexOf(actions []models.QueuedAction, id string) int {
	for i, a := range actions {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// view runs fn on the current queue under the file lock.
func (s *FileActionStore) view(fn func([]models.QueuedAction) error) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	actions, err := s.load()
	if err != nil {
		return err
	}
	return fn(actions)
}

// update rereads the queue, applies fn and writes the result, all under the
// file lock.
func (s *FileActionStore) update(fn func([]models.QueuedAction) ([]models.QueuedAction, error)) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	actions, err := s.load()
	if err != nil {
		return err
	}
	next, err := fn(actions)
	if err != nil {
		return err
	}
	return s.save(next)
}

func (s *FileActionStore) lock() (func(), error) {
	s.mu.Lock()
	release, err := lockFile(s.path + ".lock")
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return func() {
		_ = release()
		s.mu.Unlock()
	}, nil
}

// load reads the queue file. A missing or empty file is an empty queue.
func (s *FileActionStore) load() ([]models.QueuedAction, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var state fileQueueState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing queue file: %w", err)
	}
	actions := make([]models.QueuedAction, len(state.Actions))
	for i, a := range state.Actions {
		actions[i] = models.QueuedAction{
			ID:         a.ID,
			ActionType: a.ActionType,
			Payload:    json.RawMessage(a.Payload),
			EnqueuedAt: a.EnqueuedAt,
			Attempts:   a.Attempts,
		}
	}
	return actions, nil
}

// save writes the queue atomically. An empty queue removes the file.
func (s *FileActionStore) save(actions []models.QueuedAction) error {
	if len(actions) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	state := fileQueueState{Version: fileQueueVersion, Actions: make([]fileAction, len(actions))}
	for i, a := range actions {
		state.Actions[i] = fileAction{
			ID:         a.ID,
			ActionType: a.ActionType,
			Payload:    string(a.Payload),
			EnqueuedAt: a.EnqueuedAt,
			Attempts:   a.Attempts,
		}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling queue: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
