// Package store defines the JobStore capability set and hosts its four
// backend implementations (memory, sqlstore, badgerstore). JobQueue holds
// a Store, never a concrete backend type -- the orchestrator is agnostic
// to which of the four is wired in.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/taskforge/internal/jobqueue"
)

// Store is the polymorphic persistence layer every backend implements.
// Atomicity of Next is the one hard requirement: two concurrent Next
// calls against the same backend instance must never return the same
// job.
type Store interface {
	// Add inserts job, assigning CreatedAt/UpdatedAt if zero. Fails with
	// jobqueue.ErrDuplicate if job.ID already exists.
	Add(ctx context.Context, job *jobqueue.Job) error
	// Get returns the job with the given id, or (nil, nil) if absent.
	Get(ctx context.Context, id uuid.UUID) (*jobqueue.Job, error)
	// Peek returns up to n PENDING jobs ordered by (runAfter ASC,
	// createdAt ASC, id ASC), without claiming them.
	Peek(ctx context.Context, queueName string, n int) ([]*jobqueue.Job, error)
	// Next atomically selects the earliest eligible PENDING job for
	// queueName (runAfter <= now) and transitions it to PROCESSING,
	// returning it. Returns (nil, nil) if none is eligible.
	Next(ctx context.Context, queueName string) (*jobqueue.Job, error)
	// Processing returns all PROCESSING jobs for queueName.
	Processing(ctx context.Context, queueName string) ([]*jobqueue.Job, error)
	// Aborting returns all ABORTING jobs for queueName.
	Aborting(ctx context.Context, queueName string) ([]*jobqueue.Job, error)
	// Complete applies the outcome classification for id: see
	// JobQueue.finish in jobqueue/queue for the exact rules. outcome fully
	// describes the resulting row.
	Complete(ctx context.Context, id uuid.UUID, outcome Outcome) error
	// Abort transitions id from PROCESSING to ABORTING. It is a no-op
	// (not an error) if the job is not currently PROCESSING.
	Abort(ctx context.Context, id uuid.UUID) error
	// GetJobsByRunID returns every job sharing runID.
	GetJobsByRunID(ctx context.Context, runID uuid.UUID) ([]*jobqueue.Job, error)
	// OutputForInput returns the output of a COMPLETED job matching
	// (taskType, fingerprint(input)), or (nil, false) if none exists.
	OutputForInput(ctx context.Context, taskType string, input any) (output []byte, ok bool, err error)
	// Size returns the total number of jobs currently stored for
	// queueName (every status).
	Size(ctx context.Context, queueName string) (int, error)
	// DeleteAll removes every job for queueName.
	DeleteAll(ctx context.Context, queueName string) error
	// Prune deletes jobs in one of the given terminal statuses whose
	// UpdatedAt is older than olderThan; with no statuses given, jobs of
	// every status are eligible. It implements the repo's chosen
	// retention policy (retain-forever by default, pruned only when the
	// embedding process calls this explicitly).
	Prune(ctx context.Context, queueName string, olderThan time.Time, statuses ...jobqueue.Status) (int, error)
}

// Outcome describes the terminal or re-queue state Complete should apply.
// Exactly one of the three shapes is populated, selected by Kind.
type Outcome struct {
	Kind OutcomeKind

	// OutcomeCompleted / OutcomeFailed
	Output []byte // json, OutcomeCompleted only
	Error  string // OutcomeFailed only

	// OutcomeRetry
	RetryAt time.Time

	// IncrementRetries requests retries+1 be persisted alongside this
	// Complete call. OutcomeRetry always implies it; OutcomeFailed sets
	// it only when the failure is a RetryableJobError that exhausted its
	// budget, so the exhausting attempt is still counted. Every other
	// failure kind (abort, permanent, panic) leaves retries untouched.
	IncrementRetries bool
}

type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeFailed
	OutcomeRetry
)
