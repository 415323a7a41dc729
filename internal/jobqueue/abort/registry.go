// Package abort implements the in-process cooperative cancellation
// registry a running JobQueue consults to let callers abort an
// in-flight job or every job sharing a jobRunId. Grounded on the
// reference stack's runtime.Registry (mutex-guarded map keyed by id)
// generalized from a handler registry to a cancel-handle registry.
package abort

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/taskforge/internal/jobqueue"
)

// handle bundles a job's cancellation function with the context whose
// Done channel/Err a Runner observes via jobqueue.Context.
type handle struct {
	cancel context.CancelCauseFunc
	ctx    context.Context
}

// Registry tracks one cancellation handle per currently in-flight job id.
// Entries are removed when the job finishes, whether it aborted or not;
// a Registry holds no history once a job leaves PROCESSING/ABORTING.
type Registry struct {
	mu      sync.Mutex
	handles map[uuid.UUID]handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[uuid.UUID]handle)}
}

// Register derives a cancellable context from parent for jobID and stores
// its cancel handle. The returned jobqueue.Context is what the scheduling
// loop hands to the Runner; the returned context.Context is what the loop
// itself should use to bound the job's execution goroutine.
func (r *Registry) Register(parent context.Context, jobID uuid.UUID) (context.Context, jobqueue.Context) {
	ctx, cancel := context.WithCancelCause(parent)
	r.mu.Lock()
	r.handles[jobID] = handle{cancel: cancel, ctx: ctx}
	r.mu.Unlock()

	jqCtx := jobqueue.Context{
		Done: ctx.Done(),
		Err:  func() error { return context.Cause(ctx) },
	}
	return ctx, jqCtx
}

// Abort cancels jobID's context with jobqueue's AbortSignalJobError as
// the cause, so Context.Err() surfaces a typed reason to the Runner. It
// is a no-op if jobID is not currently registered (already finished, or
// never started).
func (r *Registry) Abort(jobID uuid.UUID) bool {
	r.mu.Lock()
	h, ok := r.handles[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel(&jobqueue.AbortSignalJobError{Message: "aborted by caller"})
	return true
}

// AbortRun cancels every currently registered job whose id is in ids,
// used to implement abort-by-jobRunId: the queue resolves the run's job
// ids via the store, then calls AbortRun with that set.
func (r *Registry) AbortRun(ids []uuid.UUID) int {
	n := 0
	for _, id := range ids {
		if r.Abort(id) {
			n++
		}
	}
	return n
}

// Drop removes jobID's handle once its execution has finished. Calling
// Drop without a prior Register is a safe no-op.
func (r *Registry) Drop(jobID uuid.UUID) {
	r.mu.Lock()
	delete(r.handles, jobID)
	r.mu.Unlock()
}

// Active reports whether jobID currently has a registered handle.
func (r *Registry) Active(jobID uuid.UUID) bool {
	r.mu.Lock()
	_, ok := r.handles[jobID]
	r.mu.Unlock()
	return ok
}
