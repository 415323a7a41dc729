package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/taskforge/internal/jobqueue"
	"github.com/yungbote/taskforge/internal/jobqueue/events"
	"github.com/yungbote/taskforge/internal/jobqueue/ratelimit"
	"github.com/yungbote/taskforge/internal/jobqueue/store/memory"
	"github.com/yungbote/taskforge/internal/platform/logger"
)

func newTestQueue(t *testing.T, limiter ratelimit.Limiter) (*JobQueue, *events.Bus) {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	if limiter == nil {
		limiter = ratelimit.NewConcurrencyLimiter(100, 0, 0)
	}
	bus := events.New()
	q := New(Options{
		Name:         "q",
		Store:        memory.New(),
		Limiter:      limiter,
		Bus:          bus,
		Log:          log,
		WaitDuration: 2 * time.Millisecond,
	})
	return q, bus
}

func input(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// S1: basic add/complete.
func TestJobQueue_BasicAddComplete(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, nil)
	q.Register("task1", jobqueue.RunnerFunc(func(jobqueue.Context) (any, error) {
		return map[string]any{"result": "success"}, nil
	}))

	id, err := q.Add(ctx, &jobqueue.Job{TaskType: "task1", Input: input(t, map[string]any{"data": "input1"}), MaxRetries: 3})
	require.NoError(t, err)

	q.Start(ctx)
	out, err := q.WaitFor(ctx, id)
	require.NoError(t, err)
	q.Stop()

	require.JSONEq(t, `{"result":"success"}`, string(out))

	got, err := q.store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, jobqueue.StatusCompleted, got.Status)
}

// S2: FIFO ordering.
func TestJobQueue_FIFOOrdering(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, ratelimit.NewConcurrencyLimiter(1, 0, 0))

	var order []string
	done := make(chan struct{}, 2)
	q.Register("task1", jobqueue.RunnerFunc(func(jobqueue.Context) (any, error) {
		order = append(order, "ran")
		done <- struct{}{}
		// With a concurrency cap of 1 runs are sequential, so the output
		// is the job's position in execution order.
		return len(order), nil
	}))

	idA, err := q.Add(ctx, &jobqueue.Job{TaskType: "task1", Input: input(t, map[string]any{"n": 1}), MaxRetries: 3})
	require.NoError(t, err)
	idB, err := q.Add(ctx, &jobqueue.Job{TaskType: "task1", Input: input(t, map[string]any{"n": 2}), MaxRetries: 3})
	require.NoError(t, err)

	q.Start(ctx)
	outA, err := q.WaitFor(ctx, idA)
	require.NoError(t, err)
	outB, err := q.WaitFor(ctx, idB)
	require.NoError(t, err)
	q.Stop()

	require.Len(t, order, 2)
	require.JSONEq(t, `1`, string(outA))
	require.JSONEq(t, `2`, string(outB))
}

// S3: drain — jobs complete before/around stop().
func TestJobQueue_Drain(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, nil)

	q.Register("task1", jobqueue.RunnerFunc(func(jobqueue.Context) (any, error) {
		return map[string]any{"result": "output1"}, nil
	}))
	q.Register("task2", jobqueue.RunnerFunc(func(jobqueue.Context) (any, error) {
		return map[string]any{"result": "output2"}, nil
	}))

	var lastID uuid.UUID
	for i, tt := range []string{"task1", "task2", "task1", "task2"} {
		id, err := q.Add(ctx, &jobqueue.Job{TaskType: tt, Input: input(t, map[string]any{"n": i}), MaxRetries: 3})
		require.NoError(t, err)
		lastID = id
	}

	q.Start(ctx)
	time.Sleep(5 * time.Millisecond)
	q.Stop()

	got, err := q.store.Get(ctx, lastID)
	require.NoError(t, err)
	require.Equal(t, jobqueue.StatusCompleted, got.Status)
	require.JSONEq(t, `{"result":"output2"}`, string(got.Output))
}

// S4: rate limiting leaves at least one job PENDING.
func TestJobQueue_RateLimitLeavesJobPending(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimit.NewConcurrencyLimiter(4, 4, time.Second)
	q, _ := newTestQueue(t, limiter)

	q.Register("task1", jobqueue.RunnerFunc(func(jobqueue.Context) (any, error) {
		return "ok", nil
	}))

	for i := 0; i < 6; i++ {
		_, err := q.Add(ctx, &jobqueue.Job{TaskType: "task1", Input: input(t, map[string]any{"n": i}), MaxRetries: 3})
		require.NoError(t, err)
	}

	q.Start(ctx)
	time.Sleep(5 * time.Millisecond)
	q.Stop()

	jobs, err := q.store.Peek(ctx, "q", 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(jobs), 1)
}

// S5: abort in-flight.
func TestJobQueue_AbortInFlight(t *testing.T) {
	ctx := context.Background()
	q, bus := newTestQueue(t, nil)

	abortingSeen := make(chan uuid.UUID, 1)
	bus.Subscribe("q", events.TopicJobAborting, func(ev events.Event) {
		abortingSeen <- ev.Job.ID
	})

	q.Register("task1", jobqueue.RunnerFunc(func(jc jobqueue.Context) (any, error) {
		<-jc.Done
		return nil, jc.Err()
	}))

	id, err := q.Add(ctx, &jobqueue.Job{TaskType: "task1", Input: input(t, map[string]any{}), MaxRetries: 3})
	require.NoError(t, err)

	q.Start(ctx)
	time.Sleep(5 * time.Millisecond)

	got, err := q.store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, jobqueue.StatusProcessing, got.Status)

	require.NoError(t, q.Abort(ctx, id))

	_, err = q.WaitFor(ctx, id)
	require.Error(t, err)
	var abortErr *jobqueue.AbortSignalJobError
	require.True(t, errors.As(err, &abortErr))

	select {
	case gotID := <-abortingSeen:
		require.Equal(t, id, gotID)
	case <-time.After(time.Second):
		t.Fatal("expected job_aborting event")
	}
	q.Stop()
}

// S6: abort by jobRunId only affects jobs in that run.
func TestJobQueue_AbortByRun(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, nil)

	var blocked int32
	q.Register("task1", jobqueue.RunnerFunc(func(jc jobqueue.Context) (any, error) {
		atomic.AddInt32(&blocked, 1)
		<-jc.Done
		return nil, jc.Err()
	}))

	runA := uuid.New()
	runB := uuid.New()
	j1, err := q.Add(ctx, &jobqueue.Job{TaskType: "task1", JobRunID: runA, Input: input(t, map[string]any{"n": 1}), MaxRetries: 3})
	require.NoError(t, err)
	j2, err := q.Add(ctx, &jobqueue.Job{TaskType: "task1", JobRunID: runA, Input: input(t, map[string]any{"n": 2}), MaxRetries: 3})
	require.NoError(t, err)
	j3, err := q.Add(ctx, &jobqueue.Job{TaskType: "task1", JobRunID: runB, Input: input(t, map[string]any{"n": 3}), MaxRetries: 3})
	require.NoError(t, err)
	j4, err := q.Add(ctx, &jobqueue.Job{TaskType: "task1", JobRunID: runB, Input: input(t, map[string]any{"n": 4}), MaxRetries: 3})
	require.NoError(t, err)

	q.Start(ctx)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&blocked) == 4 }, time.Second, time.Millisecond)

	require.NoError(t, q.AbortJobRun(ctx, runA))
	time.Sleep(5 * time.Millisecond)

	g1, _ := q.store.Get(ctx, j1)
	g2, _ := q.store.Get(ctx, j2)
	g3, _ := q.store.Get(ctx, j3)
	g4, _ := q.store.Get(ctx, j4)

	require.Equal(t, jobqueue.StatusFailed, g1.Status)
	require.Equal(t, jobqueue.StatusFailed, g2.Status)
	require.Equal(t, jobqueue.StatusProcessing, g3.Status)
	require.Equal(t, jobqueue.StatusProcessing, g4.Status)

	q.Stop()
}
