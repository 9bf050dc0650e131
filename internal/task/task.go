package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a launched task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	// StatusPartial means the task finished but some units of work failed,
	// e.g. an extraction run where one batch was dropped.
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusPartial, StatusFailed:
		return true
	default:
		return false
	}
}

// Task is a point-in-time snapshot of a launched operation. Copies are
// handed out; the manager keeps the only mutable state.
type Task struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	CaseID     string    `json:"case_id"`
	Status     Status    `json:"status"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Outcome is what a task function returns: an optional result payload and
// whether every unit of work succeeded.
type Outcome struct {
	Result   any
	Complete bool
}

// Fn is the unit a task runs. The context it receives is detached from the
// caller's request so an HTTP disconnect never kills the work.
type Fn func(ctx context.Context) (Outcome, error)

type entry struct {
	task Task
	done chan struct{}
}

// Manager launches tasks detached from their originating request and serves
// snapshots of their progress.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{entries: map[string]*entry{}}
}

// Launch starts fn in the background and returns the task ID immediately.
func (m *Manager) Launch(ctx context.Context, kind, caseID string, fn Fn) string {
	id := uuid.New().String()
	e := &entry{
		task: Task{
			ID:        id,
			Kind:      kind,
			CaseID:    caseID,
			Status:    StatusPending,
			StartedAt: time.Now().UTC(),
		},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.entries[id] = e
	m.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go m.run(detached, e, fn)
	return id
}

func (m *Manager) run(ctx context.Context, e *entry, fn Fn) {
	m.setStatus(e, StatusRunning, nil, nil)

	outcome, err := fn(ctx)

	switch {
	case err != nil:
		zap.L().Error("task failed",
			zap.String("task_id", e.task.ID),
			zap.String("kind", e.task.Kind),
			zap.Error(err))
		m.setStatus(e, StatusFailed, outcome.Result, err)
	case !outcome.Complete:
		m.setStatus(e, StatusPartial, outcome.Result, nil)
	default:
		m.setStatus(e, StatusSucceeded, outcome.Result, nil)
	}
	close(e.done)
}

func (m *Manager) setStatus(e *entry, status Status, result any, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.task.Status = status
	e.task.Result = result
	if err != nil {
		e.task.Error = err.Error()
	}
	if status.Terminal() {
		e.task.FinishedAt = time.Now().UTC()
	}
}

// Get returns a snapshot of the task, or false when the ID is unknown.
func (m *Manager) Get(id string) (Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return Task{}, false
	}
	return e.task, true
}

// Wait blocks until the task finishes, the timeout passes or ctx is
// canceled. The bool reports whether the task reached a terminal state; a
// false return is the degraded answer, handing back a still-running
// snapshot instead of blocking the caller forever.
func (m *Manager) Wait(ctx context.Context, id string, timeout time.Duration) (Task, bool) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return Task{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.done:
		snap, _ := m.Get(id)
		return snap, true
	case <-timer.C:
	case <-ctx.Done():
	}
	snap, _ := m.Get(id)
	return snap, snap.Status.Terminal()
}
