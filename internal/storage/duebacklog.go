package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/valter-silva-au/duealert/pkg/models"
	"gopkg.in/yaml.v3"
)

// DueFile represents the top-level structure of due.yaml.
type DueFile struct {
	Version string                         `yaml:"version"`
	Items   map[string]models.DueCandidate `yaml:"items"`
}

// DueFilter selects candidates by status and kind. Empty fields match all.
type DueFilter struct {
	Status []models.CandidateStatus
	Kind   []models.AlertKind
}

// DueBacklog is the file-backed registry of due-able entities. The host
// application writes it; the scanner reads it through DueCandidates.
type DueBacklog interface {
	Add(item models.DueCandidate) error
	Get(id string) (*models.DueCandidate, error)
	SetStatus(id string, status models.CandidateStatus) error
	Remove(id string) error
	All() []models.DueCandidate
	Filter(filter DueFilter) []models.DueCandidate
	Load() error
	Save() error

	// DueCandidates reloads the file and returns every item. It satisfies
	// core.DueSource.
	DueCandidates(ctx context.Context) ([]models.DueCandidate, error)
}

type fileDueBacklog struct {
	path string

	mu   sync.Mutex
	data DueFile
}

// NewDueBacklog creates a DueBacklog backed by the YAML file at path.
func NewDueBacklog(path string) DueBacklog {
	return &fileDueBacklog{path: path, data: emptyDueFile()}
}

func emptyDueFile() DueFile {
	return DueFile{Version: "1.0", Items: make(map[string]models.DueCandidate)}
}

func (b *fileDueBacklog) Add(item models.DueCandidate) error {
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		return fmt.Errorf("adding due item: ID must not be empty")
	}
	if item.Kind == "" {
		item.Kind = models.KindTask
	}
	if item.Status == "" {
		item.Status = models.CandidatePending
	}
	if !item.Priority.Valid() {
		item.Priority = models.PriorityMedium
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.data.Items[item.ID]; exists {
		return fmt.Errorf("adding due item: %s already exists", item.ID)
	}
	b.data.Items[item.ID] = item
	return nil
}

func (b *fileDueBacklog) Get(id string) (*models.DueCandidate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, exists := b.data.Items[id]
	if !exists {
		return nil, fmt.Errorf("due item %s not found", id)
	}
	return &item, nil
}

func (b *fileDueBacklog) SetStatus(id string, status models.CandidateStatus) error {
	switch status {
	case models.CandidatePending, models.CandidateInProgress, models.CandidateCompleted:
	default:
		return fmt.Errorf("updating due item %s: unknown status %q", id, status)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	item, exists := b.data.Items[id]
	if !exists {
		return fmt.Errorf("updating due item: %s not found", id)
	}
	item.Status = status
	b.data.Items[id] = item
	return nil
}

func (b *fileDueBacklog) Remove(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.data.Items[id]; !exists {
		return fmt.Errorf("removing due item: %s not found", id)
	}
	delete(b.data.Items, id)
	return nil
}

// All returns every item sorted by ID.
func (b *fileDueBacklog) All() []models.DueCandidate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sortedItems(b.data.Items)
}

func (b *fileDueBacklog) Filter(filter DueFilter) []models.DueCandidate {
	var out []models.DueCandidate
	for _, item := range b.All() {
		if len(filter.Status) > 0 && !contains(filter.Status, item.Status) {
			continue
		}
		if len(filter.Kind) > 0 && !contains(filter.Kind, item.Kind) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (b *fileDueBacklog) DueCandidates(ctx context.Context) ([]models.DueCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.Load(); err != nil {
		return nil, err
	}
	return b.All(), nil
}

// Load reads due.yaml. A missing file is an empty backlog.
func (b *fileDueBacklog) Load() error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			b.mu.Lock()
			b.data = emptyDueFile()
			b.mu.Unlock()
			return nil
		}
		return fmt.Errorf("loading due items: %w", err)
	}

	var df DueFile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return fmt.Errorf("loading due items: parsing YAML: %w", err)
	}
	if df.Items == nil {
		df.Items = make(map[string]models.DueCandidate)
	}
	for id, item := range df.Items {
		if item.ID == "" {
			item.ID = id
			df.Items[id] = item
		}
	}

	b.mu.Lock()
	b.data = df
	b.mu.Unlock()
	return nil
}

func (b *fileDueBacklog) Save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o750); err != nil {
		return fmt.Errorf("saving due items: creating directory: %w", err)
	}

	b.mu.Lock()
	data, err := yaml.Marshal(&b.data)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("saving due items: marshaling YAML: %w", err)
	}
	if err := os.WriteFile(b.path, data, 0o600); err != nil {
		return fmt.Errorf("saving due items: writing file: %w", err)
	}
	return nil
}

func sortedItems(m map[string]models.DueCandidate) []models.DueCandidate {
	items := make([]models.DueCandidate, 0, len(m))
	for _, item := range m {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func contains[T comparable](haystack []T, needle T) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
