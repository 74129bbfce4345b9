package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/valter-silva-au/duealert/pkg/models"
)

// MemoryActionStore is a process-local queue for tests and ephemeral runs.
type MemoryActionStore struct {
	mu      sync.Mutex
	actions []models.QueuedAction
}

// NewMemoryActionStore creates an empty MemoryActionStore.
func NewMemoryActionStore() *MemoryActionStore {
	return &MemoryActionStore{}
}

func (s *MemoryActionStore) Append(_ context.Context, action models.QueuedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

func (s *MemoryActionStore) List(context.Context) ([]models.QueuedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.QueuedAction(nil), s.actions...), nil
}

func (s *MemoryActionStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.actions {
		if a.ID == id {
			s.actions = append(s.actions[:i:i], s.actions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryActionStore) IncrementAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.actions {
		if s.actions[i].ID == id {
			s.actions[i].Attempts++
			return s.actions[i].Attempts, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrActionNotFound, id)
}

func (s *MemoryActionStore) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions), nil
}

func (s *MemoryActionStore) Close() error { return nil }
