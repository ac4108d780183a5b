package task

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Store holds task records keyed by ID, safe for use from concurrently
// running goroutines. Reads return value snapshots, so no caller can reach
// into shared state; all mutation goes through Update.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	outputDir string
}

func NewStore(outputDir string) *Store {
	return &Store{
		tasks:     make(map[string]*Task),
		outputDir: outputDir,
	}
}

// Patch is an atomic partial update to a task record. Zero-valued fields are
// left untouched.
type Patch struct {
	Status      Status
	Error       string
	OutputPath  string
	CompletedAt *time.Time
}

// Create allocates a fresh task ID, inserts a pending record, and returns a
// snapshot of it. IDs are base57-encoded UUIDv4s and never reused.
func (s *Store) Create() Task {
	t := &Task{
		ID:        shortuuid.New(),
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()
	return *t
}

// Get returns a snapshot of the record, or false if the ID is unknown.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Update merges the patch into the record. Unknown IDs are a no-op. Records
// in a terminal status are immutable; a patch against one is dropped.
func (s *Store) Update(id string, p Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return
	}
	if t.Status.Terminal() {
		log.Printf("Ignoring update to terminal task %s", id)
		return
	}

	if p.Status != "" {
		t.Status = p.Status
	}
	if p.Error != "" {
		t.Error = p.Error
	}
	if p.OutputPath != "" {
		t.OutputPath = p.OutputPath
	}
	if p.CompletedAt != nil {
		t.CompletedAt = p.CompletedAt
	}
}

// List returns snapshots of all records.
func (s *Store) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}

// OutputPath derives the artifact location for a task ID. The naming is
// deterministic so the result endpoint can locate audio without a lookup.
func (s *Store) OutputPath(id string) string {
	return filepath.Join(s.outputDir, id+".wav")
}
