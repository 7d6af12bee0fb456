package worker

import (
	"context"
	"sync"
)

// Registry tracks the cancel function of every running job. Cancels that
// arrive before a job starts are remembered so the job never runs.
type Registry struct {
	mu       sync.Mutex
	running  map[string]context.CancelFunc
	canceled map[string]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		running:  make(map[string]context.CancelFunc),
		canceled: make(map[string]struct{}),
	}
}

// Start derives the job context. ok is false when the job was canceled
// before it started; the returned done func must always be called.
func (r *Registry) Start(ctx context.Context, jobID string) (context.Context, func(), bool) {
	jobCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.canceled[jobID]; ok {
		delete(r.canceled, jobID)
		cancel()
		return jobCtx, func() {}, false
	}
	r.running[jobID] = cancel
	return jobCtx, func() {
		r.mu.Lock()
		delete(r.running, jobID)
		r.mu.Unlock()
		cancel()
	}, true
}

// Cancel stops jobID if it is running and reports whether it was.
// Otherwise the cancel is kept for a later Start.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.running[jobID]; ok {
		cancel()
		return true
	}
	r.canceled[jobID] = struct{}{}
	return false
}

// Running reports how many jobs are in flight.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}
