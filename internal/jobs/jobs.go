// SPDX-License-Identifier: MIT

// Package jobs tracks background audit runs: launch, status bookkeeping,
// cancellation and graceful drain.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/subhogram/riskobot/internal/log"
	"github.com/subhogram/riskobot/internal/metrics"
	"github.com/subhogram/riskobot/internal/types"
)

// ErrAlreadyRunning is returned when a run ID is started twice.
var ErrAlreadyRunning = errors.New("jobs: run already exists")

// ErrStopped is returned when starting a run on a stopped manager.
var ErrStopped = errors.New("jobs: manager stopped")

// RunFunc is the body of a background run. The context is cancelled on
// Cancel or manager shutdown.
type RunFunc func(ctx context.Context) error

// StatusFunc is invoked on every status transition, outside the manager lock.
type StatusFunc func(id string, status types.JobStatus, runErr string)

// Snapshot is the externally visible state of one run.
type Snapshot struct {
	ID          string          `json:"id"`
	Status      types.JobStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
	Error       string          `json:"error,omitempty"`
}

type handle struct {
	snap   Snapshot
	cancel context.CancelFunc
}

// Manager launches and tracks background runs.
type Manager struct {
	mu       sync.Mutex
	runs     map[string]*handle
	onStatus StatusFunc
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopped  bool
	stopOnce sync.Once
}

// NewManager creates a Manager. onStatus may be nil.
func NewManager(onStatus StatusFunc) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		runs:     make(map[string]*handle),
		onStatus: onStatus,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches fn under the given run ID and returns immediately. The run
// transitions running -> completed|failed|cancelled depending on fn's outcome
// and context state.
func (m *Manager) Start(id string, fn RunFunc) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if _, exists := m.runs[id]; exists {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}

	runCtx, runCancel := context.WithCancel(m.ctx)
	h := &handle{
		snap: Snapshot{
			ID:        id,
			Status:    types.JobStatusRunning,
			StartedAt: time.Now(),
		},
		cancel: runCancel,
	}
	m.runs[id] = h
	m.wg.Add(1)
	m.mu.Unlock()

	m.notify(id, types.JobStatusRunning, "")

	go func() {
		defer m.wg.Done()
		defer runCancel()

		err := fn(log.ContextWithRunID(runCtx, id))

		status := types.JobStatusCompleted
		errText := ""
		switch {
		case runCtx.Err() != nil:
			status = types.JobStatusCancelled
			errText = runCtx.Err().Error()
		case err != nil:
			status = types.JobStatusFailed
			errText = err.Error()
		}

		m.mu.Lock()
		h.snap.Status = status
		h.snap.CompletedAt = time.Now()
		h.snap.Error = errText
		m.mu.Unlock()

		metrics.IncRun(status.String())
		metrics.ObserveRunDuration(time.Since(h.snap.StartedAt))
		m.notify(id, status, errText)
	}()
	return nil
}

// Cancel requests cancellation of a run. Returns false when the run is
// unknown or already terminal.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	h, ok := m.runs[id]
	terminal := ok && h.snap.Status.IsTerminal()
	m.mu.Unlock()
	if !ok || terminal {
		return false
	}
	h.cancel()
	return true
}

// Status returns the snapshot of a run.
func (m *Manager) Status(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.runs[id]
	if !ok {
		return Snapshot{}, false
	}
	return h.snap, true
}

// Active returns the number of non-terminal runs.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.runs {
		if !h.snap.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// Stop cancels all in-flight runs and waits for them to drain.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		m.mu.Unlock()
		m.cancel()
		m.wg.Wait()
	})
}

func (m *Manager) notify(id string, status types.JobStatus, errText string) {
	if m.onStatus != nil {
		m.onStatus(id, status, errText)
	}
}
