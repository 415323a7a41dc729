// Package queue implements the JobQueue orchestrator: the scheduling
// loop that pulls eligible jobs from a Store, dispatches them to a
// registered Runner under a RateLimiter, and classifies their outcome.
// Grounded directly on the reference stack's jobs/worker.Worker (its
// polling runLoop, panic recovery, and missingHandlerError/panicError
// shapes; no per-job heartbeat is carried over), generalized from a single
// SQL-backed worker pool to a per-queue scheduler running over any
// store.Store/ratelimit.Limiter pair.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/taskforge/internal/jobqueue"
	"github.com/yungbote/taskforge/internal/jobqueue/abort"
	"github.com/yungbote/taskforge/internal/jobqueue/events"
	"github.com/yungbote/taskforge/internal/jobqueue/fingerprint"
	"github.com/yungbote/taskforge/internal/jobqueue/ratelimit"
	"github.com/yungbote/taskforge/internal/jobqueue/store"
	"github.com/yungbote/taskforge/internal/platform/logger"
	"github.com/yungbote/taskforge/internal/platform/tracing"
)

// DefaultWaitDuration bounds the scheduling loop's polling granularity,
// mirroring the teacher's 1-second runLoop ticker, tightened for the
// faster in-process queues this module targets.
const DefaultWaitDuration = 100 * time.Millisecond

// missingRunnerError mirrors the reference stack's missingHandlerError:
// a job was claimed for a taskType no Runner was ever registered for.
type missingRunnerError struct{ TaskType string }

func (e *missingRunnerError) Error() string {
	return fmt.Sprintf("no runner registered for task_type=%s", e.TaskType)
}

// panicError wraps a recovered panic value without leaking it into the
// persisted error column, matching the teacher's panicError.
type panicError struct{ val any }

func (e *panicError) Error() string { return "panic: unexpected error" }

type waitResult struct {
	output json.RawMessage
	err    error
}

// Options configures a JobQueue at construction time.
type Options struct {
	Name         string
	Store        store.Store
	Limiter      ratelimit.Limiter
	Bus          *events.Bus
	Log          *logger.Logger
	WaitDuration time.Duration
}

// JobQueue is a single named queue's orchestrator: one scheduling loop,
// one Store, one Limiter, many registered Runners (one per taskType).
type JobQueue struct {
	name         string
	store        store.Store
	limiter      ratelimit.Limiter
	bus          *events.Bus
	log          *logger.Logger
	waitDuration time.Duration

	abortReg *abort.Registry

	runnersMu sync.RWMutex
	runners   map[string]jobqueue.Runner

	waitersMu sync.Mutex
	waiters   map[uuid.UUID][]chan waitResult

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}
	// jobsWG tracks in-flight execute goroutines only; the scheduling
	// loop itself is not a member so it can safely Wait() on it before
	// exiting.
	jobsWG sync.WaitGroup

	startOnce sync.Once
}

// New builds a JobQueue. Callers must call Register for every taskType
// they intend to run before calling Start.
func New(opts Options) *JobQueue {
	wait := opts.WaitDuration
	if wait <= 0 {
		wait = DefaultWaitDuration
	}
	return &JobQueue{
		name:         opts.Name,
		store:        opts.Store,
		limiter:      opts.Limiter,
		bus:          opts.Bus,
		log:          opts.Log.With("component", "JobQueue", "queue", opts.Name),
		waitDuration: wait,
		abortReg:     abort.NewRegistry(),
		runners:      make(map[string]jobqueue.Runner),
		waiters:      make(map[uuid.UUID][]chan waitResult),
		stopCh:       make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Name returns the queue's configured name.
func (q *JobQueue) Name() string { return q.name }

// Register installs a Runner for taskType, replacing any prior Runner
// for the same taskType.
func (q *JobQueue) Register(taskType string, runner jobqueue.Runner) {
	q.runnersMu.Lock()
	defer q.runnersMu.Unlock()
	q.runners[taskType] = runner
}

func (q *JobQueue) runnerFor(taskType string) (jobqueue.Runner, bool) {
	q.runnersMu.RLock()
	defer q.runnersMu.RUnlock()
	r, ok := q.runners[taskType]
	return r, ok
}

// Add assigns id/jobRunId if absent, computes the input fingerprint, and
// delegates to the Store, emitting job_added on success.
func (q *JobQueue) Add(ctx context.Context, job *jobqueue.Job) (uuid.UUID, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.JobRunID == uuid.Nil {
		job.JobRunID = uuid.New()
	}
	job.QueueName = q.name
	if job.Status == "" {
		job.Status = jobqueue.StatusPending
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = time.Now()
	}

	var input any
	if len(job.Input) > 0 {
		if err := json.Unmarshal(job.Input, &input); err != nil {
			return uuid.Nil, fmt.Errorf("unmarshal job input: %w", err)
		}
	}
	fp, err := fingerprint.Of(input)
	if err != nil {
		return uuid.Nil, fmt.Errorf("fingerprint job input: %w", err)
	}
	job.Fingerprint = fp

	if err := q.store.Add(ctx, job); err != nil {
		return uuid.Nil, err
	}
	if q.bus != nil {
		q.bus.JobAdded(job)
	}
	return job.ID, nil
}

// Start launches the scheduling loop. Calling Start more than once is a
// no-op, matching the idempotent start() the design requires.
func (q *JobQueue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		if q.bus != nil {
			q.bus.QueueStart(q.name)
		}
		go q.schedulingLoop(ctx)
	})
}

// Stop signals the scheduling loop to exit and blocks until every
// in-flight job has observed cancellation or completed. Idempotent.
func (q *JobQueue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})
	<-q.stopped
	if q.bus != nil {
		q.bus.QueueStop(q.name)
	}
}

func (q *JobQueue) schedulingLoop(ctx context.Context) {
	defer close(q.stopped)

	// runCtx parents every job's abort handle, so Stop can signal all
	// in-flight jobs before waiting for them.
	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)

	for {
		select {
		case <-q.stopCh:
			cancelRun(&jobqueue.AbortSignalJobError{Message: "queue stopped"})
			q.jobsWG.Wait()
			return
		case <-ctx.Done():
			q.jobsWG.Wait()
			return
		default:
		}

		if !q.limiter.CanProceed() {
			q.sleepUntil(q.limiter.NextAvailableTime())
			continue
		}

		job, err := q.store.Next(ctx, q.name)
		if err != nil {
			q.log.Warn("store.Next failed", "error", err)
			q.sleep()
			continue
		}
		if job == nil {
			q.sleep()
			continue
		}

		q.limiter.RecordJobStart()

		deadlineCtx := runCtx
		var cancelDeadline context.CancelFunc
		if job.DeadlineAt != nil {
			deadlineCtx, cancelDeadline = context.WithDeadline(runCtx, *job.DeadlineAt)
		}
		_, jqCtx := q.abortReg.Register(deadlineCtx, job.ID)

		if q.bus != nil {
			q.bus.JobStart(job)
		}

		q.jobsWG.Add(1)
		go q.execute(ctx, jqCtx, job, cancelDeadline)
	}
}

func (q *JobQueue) sleep() { q.sleepFor(q.waitDuration) }

func (q *JobQueue) sleepUntil(t time.Time) {
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	if d > q.waitDuration {
		d = q.waitDuration
	}
	q.sleepFor(d)
}

func (q *JobQueue) sleepFor(d time.Duration) {
	select {
	case <-time.After(d):
	case <-q.stopCh:
	}
}

// execute runs one claimed job to completion, converting panics and
// dispatch failures into terminal errors exactly as the teacher's
// runLoop does for its handler registry.
func (q *JobQueue) execute(ctx context.Context, jqCtx jobqueue.Context, job *jobqueue.Job, cancelDeadline context.CancelFunc) {
	defer q.jobsWG.Done()
	defer q.limiter.RecordJobCompletion()
	defer q.abortReg.Drop(job.ID)
	if cancelDeadline != nil {
		defer cancelDeadline()
	}

	_, span := tracing.Tracer().Start(ctx, "jobqueue.execute",
		trace.WithAttributes(
			attribute.String("jobqueue.queue", q.name),
			attribute.String("jobqueue.task_type", job.TaskType),
			attribute.String("jobqueue.job_id", job.ID.String()),
		),
	)
	defer span.End()

	runner, ok := q.runnerFor(job.TaskType)
	if !ok {
		span.RecordError(&missingRunnerError{TaskType: job.TaskType})
		q.finish(ctx, job, nil, &missingRunnerError{TaskType: job.TaskType})
		return
	}

	var output any
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				q.log.Error("job runner panic", "job_id", job.ID, "task_type", job.TaskType, "panic", r)
				runErr = &panicError{val: r}
			}
		}()
		output, runErr = runner.Execute(jqCtx)
	}()

	if runErr != nil {
		span.RecordError(runErr)
	}
	q.finish(ctx, job, output, runErr)
}

// finish classifies runErr/output and applies the result via
// Store.Complete, then notifies waiters and the EventBus. This is the
// one place outcome classification happens, per the design's retry
// policy in §4.5.
func (q *JobQueue) finish(ctx context.Context, job *jobqueue.Job, output any, runErr error) {
	if runErr == nil {
		var raw json.RawMessage
		if output != nil {
			b, err := json.Marshal(output)
			if err != nil {
				runErr = &jobqueue.PermanentJobError{Cause: fmt.Errorf("marshal output: %w", err)}
			} else {
				raw = b
			}
		}
		if runErr == nil {
			q.completeSuccess(ctx, job, raw)
			return
		}
	}

	var abortErr *jobqueue.AbortSignalJobError
	var retryErr *jobqueue.RetryableJobError
	var permErr *jobqueue.PermanentJobError

	switch {
	case errors.As(runErr, &abortErr):
		q.completeFailed(ctx, job, runErr, false)
		if q.bus != nil {
			q.bus.JobAborting(job)
		}
	case errors.As(runErr, &retryErr):
		// Count this attempt before checking the budget, so a retry that
		// exhausts MaxRetries still reports the attempt that exhausted it.
		if job.Retries+1 >= job.MaxRetries {
			q.completeFailed(ctx, job, runErr, true)
			return
		}
		outcome := store.Outcome{Kind: store.OutcomeRetry, RetryAt: retryErr.RetryDate}
		if err := q.store.Complete(ctx, job.ID, outcome); err != nil {
			q.log.Warn("complete(retry) failed", "job_id", job.ID, "error", err)
			return
		}
		if q.bus != nil {
			q.bus.JobRetry(job, runErr)
		}
	case errors.As(runErr, &permErr):
		q.completeFailed(ctx, job, runErr, false)
	default:
		q.completeFailed(ctx, job, runErr, false)
	}
}

func (q *JobQueue) completeSuccess(ctx context.Context, job *jobqueue.Job, output json.RawMessage) {
	if err := q.store.Complete(ctx, job.ID, store.Outcome{Kind: store.OutcomeCompleted, Output: output}); err != nil {
		q.log.Warn("complete(success) failed", "job_id", job.ID, "error", err)
		return
	}
	job.Status = jobqueue.StatusCompleted
	job.Output = output
	q.notifyWaiters(job.ID, waitResult{output: output})
	if q.bus != nil {
		q.bus.JobComplete(job)
	}
}

func (q *JobQueue) completeFailed(ctx context.Context, job *jobqueue.Job, cause error, incrementRetries bool) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	outcome := store.Outcome{Kind: store.OutcomeFailed, Error: msg, IncrementRetries: incrementRetries}
	if err := q.store.Complete(ctx, job.ID, outcome); err != nil {
		q.log.Warn("complete(failed) failed", "job_id", job.ID, "error", err)
		return
	}
	job.Status = jobqueue.StatusFailed
	job.Error = msg
	q.notifyWaiters(job.ID, waitResult{err: cause})
	if q.bus != nil {
		q.bus.JobError(job, cause)
	}
}

// Abort transitions id to ABORTING in the store and cancels its local
// abort handle, if any. Emits job_aborting regardless of whether a local
// handle existed, per the design: abort is a store-level hint first, an
// in-process signal second.
func (q *JobQueue) Abort(ctx context.Context, id uuid.UUID) error {
	if err := q.store.Abort(ctx, id); err != nil {
		return err
	}
	q.abortReg.Abort(id)
	if q.bus != nil {
		if job, err := q.store.Get(ctx, id); err == nil && job != nil {
			q.bus.JobAborting(job)
		}
	}
	return nil
}

// AbortJobRun aborts every job sharing runID that is currently PENDING or
// PROCESSING.
func (q *JobQueue) AbortJobRun(ctx context.Context, runID uuid.UUID) error {
	jobs, err := q.store.GetJobsByRunID(ctx, runID)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.Status != jobqueue.StatusPending && job.Status != jobqueue.StatusProcessing {
			continue
		}
		if err := q.Abort(ctx, job.ID); err != nil {
			q.log.Warn("abort failed during abortJobRun", "job_id", job.ID, "run_id", runID, "error", err)
			continue
		}
		// A PENDING job has no abort handle and Store.Abort leaves it
		// PENDING, so it is failed here directly.
		if job.Status == jobqueue.StatusPending {
			q.completeFailed(ctx, job, &jobqueue.AbortSignalJobError{Message: "aborted by caller"}, false)
		}
	}
	return nil
}

// Status reports the queue's total stored job count (every status, as
// Store.Size counts) and its in-flight job count, for jobqueuectl's
// status command.
func (q *JobQueue) Status(ctx context.Context) (size int, processing int, err error) {
	size, err = q.store.Size(ctx, q.name)
	if err != nil {
		return 0, 0, err
	}
	jobs, err := q.store.Processing(ctx, q.name)
	if err != nil {
		return 0, 0, err
	}
	return size, len(jobs), nil
}

// WaitFor blocks until id reaches a terminal status, returning its
// output on COMPLETED or the terminal error otherwise. If id is already
// terminal when WaitFor is called, it returns immediately; for a FAILED
// job that error is built from the stored message only, so the Runner's
// typed error (e.g. *jobqueue.AbortSignalJobError) is not available to
// errors.As on that path.
func (q *JobQueue) WaitFor(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, jobqueue.ErrNotFound
	}
	switch job.Status {
	case jobqueue.StatusCompleted:
		return job.Output, nil
	case jobqueue.StatusFailed:
		return nil, fmt.Errorf("job failed: %s", job.Error)
	}

	ch := make(chan waitResult, 1)
	q.waitersMu.Lock()
	q.waiters[id] = append(q.waiters[id], ch)
	q.waitersMu.Unlock()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.output, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *JobQueue) notifyWaiters(id uuid.UUID, r waitResult) {
	q.waitersMu.Lock()
	chans := q.waiters[id]
	delete(q.waiters, id)
	q.waitersMu.Unlock()
	for _, ch := range chans {
		ch <- r
	}
}

// On subscribes handler to topic for this queue's events only.
func (q *JobQueue) On(topic events.Topic, handler events.Handler) (unsubscribe func()) {
	if q.bus == nil {
		return func() {}
	}
	return q.bus.Subscribe(q.name, topic, handler)
}
