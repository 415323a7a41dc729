// Package jobqueue defines the durable job entity and the error taxonomy
// shared by every backend and orchestrator in this module.
package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Job. Transitions form the DAG
// described in the job queue design: PENDING -> PROCESSING -> {COMPLETED,
// FAILED, PENDING (retry), ABORTING -> FAILED}.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusAborting   Status = "ABORTING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusSkipped    Status = "SKIPPED"
)

// Job is the durable unit of work. A Job is never mutated except by its
// owning queue (add, claim, complete, abort); storage backends persist it
// verbatim.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	QueueName   string          `json:"queue_name"`
	JobRunID    uuid.UUID       `json:"job_run_id,omitempty"`
	TaskType    string          `json:"task_type"`
	Input       json.RawMessage `json:"input"`
	Fingerprint string          `json:"fingerprint"`
	Status      Status          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Retries     int             `json:"retries"`
	MaxRetries  int             `json:"max_retries"`
	RunAfter    time.Time       `json:"run_after"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeadlineAt  *time.Time      `json:"deadline_at,omitempty"`
}

// Clone returns a shallow copy safe to hand to a caller without letting
// them mutate the backend's bookkeeping copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	return &cp
}

// Runner is the contract every job implementation must satisfy. signal is
// closed (via ctx.Done) when the job is asked to abort; implementations
// are expected to observe it and return an AbortSignalJobError promptly.
// Nothing forcibly preempts a Runner that ignores the signal.
type Runner interface {
	Execute(ctx Context) (output any, err error)
}

// RunnerFunc adapts a plain function to the Runner interface, mirroring
// the handler-registry pattern used for job dispatch.
type RunnerFunc func(ctx Context) (any, error)

func (f RunnerFunc) Execute(ctx Context) (any, error) { return f(ctx) }

// Context is the minimal execution handle passed to Runner.Execute. It
// carries the cooperative cancellation signal and nothing else: jobs have
// no access to the store, the registry, or other jobs.
type Context struct {
	// Done is closed when the job must abort (explicit abort call or
	// deadline reached).
	Done <-chan struct{}
	// Err returns the reason Done was closed, once it has been.
	Err func() error
}
