package task

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"ttsapi/config"
	"ttsapi/tts"
)

// SynthesisEngine is the inference collaborator as the manager sees it.
type SynthesisEngine interface {
	Synthesize(ctx context.Context, p tts.Params, outputPath string) error
}

// job pairs a task ID with its immutable request parameters for handoff to
// the worker loop.
type job struct {
	id     string
	params tts.Params
}

// Manager dispatches synthesis tasks. Async submissions go through a buffered
// queue drained by the worker loop under a concurrency semaphore; sync
// requests run inline on the caller's goroutine. Either way runTask is the
// only writer for a given task ID.
type Manager struct {
	cfg            *config.Config
	store          *Store
	engine         SynthesisEngine
	queue          chan job
	concurrencySem chan struct{}
	baseCtx        context.Context
}

func NewManager(cfg *config.Config, store *Store, engine SynthesisEngine) (*Manager, error) {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}

	m := &Manager{
		cfg:            cfg,
		store:          store,
		engine:         engine,
		queue:          make(chan job, queueSize),
		concurrencySem: make(chan struct{}, cfg.MaxConcurrency),
		baseCtx:        context.Background(),
	}
	return m, nil
}

func (m *Manager) Start(ctx context.Context) {
	log.Println("Task manager started. Concurrency limit:", m.cfg.MaxConcurrency)
	m.baseCtx = ctx
	go m.workerLoop(ctx)
	if m.cfg.OutputLocalLifetime > 0 {
		go m.cleanupLoop(ctx)
	}
}

// workerLoop pulls tasks from the queue and processes them
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("Worker loop shutting down.")
			return
		case j := <-m.queue:
			// Wait for a free processing slot
			m.concurrencySem <- struct{}{}
			go func(j job) {
				defer func() { <-m.concurrencySem }() // Release slot
				m.runTask(ctx, j.id, j.params)
			}(j)
		}
	}
}

// Submit creates a pending record, hands it to the worker loop, and returns
// the pending snapshot immediately. Callers poll for the outcome.
func (m *Manager) Submit(p tts.Params) Task {
	t := m.store.Create()
	m.queue <- job{id: t.ID, params: p}
	log.Printf("Task %s submitted to queue.", t.ID)
	return t
}

// RunSync creates a record and runs it to a terminal status on the calling
// goroutine, returning the terminal snapshot. The synthesis runs under the
// manager's base context rather than the caller's, so a client hanging up
// does not abort inference.
func (m *Manager) RunSync(p tts.Params) Task {
	t := m.store.Create()
	m.runTask(m.baseCtx, t.ID, p)

	res, _ := m.store.Get(t.ID)
	return res
}

// Get returns a snapshot of the record for taskID.
func (m *Manager) Get(taskID string) (Task, bool) {
	return m.store.Get(taskID)
}

// runTask drives one record through processing to a terminal status. It is
// the sole writer for its task ID, and every exit path leaves the record
// terminal: engine faults of any kind end up in the record, never escape.
func (m *Manager) runTask(ctx context.Context, id string, p tts.Params) {
	defer func() {
		if r := recover(); r != nil {
			m.finishFailed(id, fmt.Sprintf("synthesis panic: %v", r))
		}
	}()

	log.Printf("Processing task %s", id)
	m.store.Update(id, Patch{Status: StatusProcessing})

	outputPath := m.store.OutputPath(id)
	if err := m.engine.Synthesize(ctx, p, outputPath); err != nil {
		log.Printf("Task %s failed: %v", id, err)
		m.finishFailed(id, err.Error())
		return
	}

	// The engine claimed success; trust the file, not the claim.
	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		log.Printf("Task %s produced no output at %s", id, outputPath)
		m.finishFailed(id, "synthesis reported success but produced no output")
		return
	}

	now := time.Now()
	m.store.Update(id, Patch{
		Status:      StatusCompleted,
		OutputPath:  outputPath,
		CompletedAt: &now,
	})
	log.Printf("Task %s completed successfully.", id)
}

func (m *Manager) finishFailed(id, msg string) {
	now := time.Now()
	m.store.Update(id, Patch{
		Status:      StatusFailed,
		Error:       msg,
		CompletedAt: &now,
	})
}

// cleanupLoop periodically removes old output files. Records are kept for the
// process lifetime; only artifacts age out.
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.OutputLocalLifetime / 4) // Check 4 times per lifetime
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Cleanup loop shutting down.")
			return
		case <-ticker.C:
			for _, t := range m.store.List() {
				if t.Status != StatusCompleted || t.OutputPath == "" || t.CompletedAt == nil {
					continue
				}
				if time.Since(*t.CompletedAt) > m.cfg.OutputLocalLifetime {
					log.Printf("Cleaning up old output file: %s", t.OutputPath)
					os.Remove(t.OutputPath)
				}
			}
		}
	}
}
