// Package executor runs cancellation requests as independent asynchronous
// tasks with a concurrency cap and a per-task timeout.
//
// Task lifecycle: QUEUED → RUNNING → SUCCEEDED | FAILED.
// A task keeps running after the submitting request returns.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teyyyyy/MedGrab/internal/domain"
	"github.com/teyyyyy/MedGrab/internal/infra/observability"
)

// ErrAtCapacity is returned by Submit when the wait queue is full.
var ErrAtCapacity = errors.New("executor at capacity")

// ErrTaskNotFound is returned by Get for unknown or evicted task ids.
var ErrTaskNotFound = errors.New("task not found")

// Processor runs one cancellation workflow.
type Processor interface {
	ProcessCancellation(ctx context.Context, req domain.CancellationRequest) (domain.CancellationOutcome, error)
}

// ─── Configuration ──────────────────────────────────────────────────────────

// Config controls executor behavior.
type Config struct {
	MaxConcurrent  int           `toml:"max_concurrent"`  // running tasks (default: 4)
	MaxQueued      int           `toml:"max_queued"`      // tasks waiting for a slot (default: 64)
	DefaultTimeout time.Duration `toml:"default_timeout"` // whole-workflow deadline (default: 2m)
	Retain         int           `toml:"retain"`          // finished tasks kept for lookup (default: 1000)
}

// DefaultConfig returns safe executor defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  4,
		MaxQueued:      64,
		DefaultTimeout: 2 * time.Minute,
		Retain:         1000,
	}
}

// ─── Task ───────────────────────────────────────────────────────────────────

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskQueued    TaskState = "QUEUED"
	TaskRunning   TaskState = "RUNNING"
	TaskSucceeded TaskState = "SUCCEEDED"
	TaskFailed    TaskState = "FAILED"
)

// Task is a snapshot of one submitted cancellation.
type Task struct {
	ID         string                      `json:"id"`
	Request    domain.CancellationRequest  `json:"request"`
	State      TaskState                   `json:"state"`
	Outcome    *domain.CancellationOutcome `json:"outcome,omitempty"`
	Error      string                      `json:"error,omitempty"`
	Err        error                       `json:"-"`
	CreatedAt  time.Time                   `json:"created_at"`
	StartedAt  *time.Time                  `json:"started_at,omitempty"`
	FinishedAt *time.Time                  `json:"finished_at,omitempty"`
}

// Done reports whether the task reached a final state.
func (t Task) Done() bool {
	return t.State == TaskSucceeded || t.State == TaskFailed
}

// ─── Executor ───────────────────────────────────────────────────────────────

// Executor manages task execution lifecycle.
type Executor struct {
	mu        sync.RWMutex
	config    Config
	proc      Processor
	logger    *log.Logger
	sem       chan struct{} // running slots
	tasks     map[string]*Task
	finished  []string // eviction order
	pending   int      // submitted and not finished
	queued    int
	active    int
	completed int64
	failed    int64
	idle      chan struct{} // closed when pending drops to zero

	// Injectable for testing.
	now func() time.Time
}

// New creates a task executor.
func New(cfg Config, proc Processor, logger *log.Logger) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{
		config: cfg,
		proc:   proc,
		logger: logger,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		tasks:  make(map[string]*Task),
		now:    time.Now,
	}
}

// Submit validates and enqueues a cancellation. Returns immediately.
// The task is detached from ctx's cancellation but keeps its values.
func (e *Executor) Submit(ctx context.Context, req domain.CancellationRequest) (Task, error) {
	if err := req.Validate(); err != nil {
		return Task{}, err
	}

	e.mu.Lock()
	if e.pending >= e.config.MaxConcurrent+e.config.MaxQueued {
		e.mu.Unlock()
		return Task{}, fmt.Errorf("%w (%d running, %d queued)", ErrAtCapacity, e.config.MaxConcurrent, e.config.MaxQueued)
	}
	task := &Task{
		ID:        uuid.NewString(),
		Request:   req,
		State:     TaskQueued,
		CreatedAt: e.now().UTC(),
	}
	e.tasks[task.ID] = task
	if e.pending == 0 {
		e.idle = make(chan struct{})
	}
	e.pending++
	e.queued++
	snapshot := *task
	e.mu.Unlock()
	observability.ExecutorQueued.Inc()

	go e.execute(context.WithoutCancel(ctx), task.ID)

	e.logger.Printf("[executor] queued task %s for booking %s", task.ID, req.BookingID)
	return snapshot, nil
}

// execute runs a task through the full lifecycle.
func (e *Executor) execute(ctx context.Context, id string) {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	e.mu.Lock()
	task := e.tasks[id]
	started := e.now().UTC()
	task.State = TaskRunning
	task.StartedAt = &started
	req := task.Request
	e.queued--
	e.active++
	e.mu.Unlock()
	observability.ExecutorQueued.Dec()
	observability.ExecutorActive.Inc()

	execCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	out, err := e.proc.ProcessCancellation(execCtx, req)

	e.mu.Lock()
	finished := e.now().UTC()
	task.FinishedAt = &finished
	if err != nil {
		task.State = TaskFailed
		task.Err = err
		task.Error = err.Error()
		e.failed++
	} else {
		task.State = TaskSucceeded
		task.Outcome = &out
		e.completed++
	}
	e.active--
	e.pending--
	if e.pending == 0 {
		close(e.idle)
	}
	e.retire(id)
	e.mu.Unlock()

	observability.ExecutorActive.Dec()
	observability.ExecutorTasks.WithLabelValues(string(task.State)).Inc()
	if err != nil {
		e.logger.Printf("[executor] task %s failed: %v", id, err)
	} else {
		e.logger.Printf("[executor] task %s finished: %s", id, out.Status)
	}
}

// retire records a finished task and evicts the oldest beyond Retain.
// Caller holds e.mu.
func (e *Executor) retire(id string) {
	e.finished = append(e.finished, id)
	if e.config.Retain <= 0 {
		return
	}
	for len(e.finished) > e.config.Retain {
		delete(e.tasks, e.finished[0])
		e.finished = e.finished[1:]
	}
}

// Get returns a snapshot of the task.
func (e *Executor) Get(id string) (Task, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return *t, nil
}

// Wait blocks until no task is pending or ctx is done. A Submit made while
// tasks are still pending extends the wait.
func (e *Executor) Wait(ctx context.Context) error {
	e.mu.RLock()
	if e.pending == 0 {
		e.mu.RUnlock()
		return nil
	}
	idle := e.idle
	e.mu.RUnlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats summarizes executor activity.
type Stats struct {
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	MaxSlots  int   `json:"max_slots"`
	FreeSlots int   `json:"free_slots"`
}

// Stats returns current executor statistics.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Active:    e.active,
		Queued:    e.queued,
		Completed: e.completed,
		Failed:    e.failed,
		MaxSlots:  e.config.MaxConcurrent,
		FreeSlots: e.config.MaxConcurrent - e.active,
	}
}
