package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/taskforge/internal/jobqueue"
	"github.com/yungbote/taskforge/internal/jobqueue/events"
	"github.com/yungbote/taskforge/internal/jobqueue/ratelimit"
	"github.com/yungbote/taskforge/internal/jobqueue/store/memory"
	"github.com/yungbote/taskforge/internal/platform/logger"
)

func newNamedQueue(t *testing.T, name string) *JobQueue {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return New(Options{
		Name:         name,
		Store:        memory.New(),
		Limiter:      ratelimit.NewConcurrencyLimiter(10, 0, 0),
		Bus:          events.New(),
		Log:          log,
		WaitDuration: 2 * time.Millisecond,
	})
}

func TestRegistry_RegisterGetDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	q1 := newNamedQueue(t, "a")
	require.NoError(t, r.RegisterQueue(q1))

	got, ok := r.GetQueue("a")
	require.True(t, ok)
	require.Same(t, q1, got)

	_, ok = r.GetQueue("missing")
	require.False(t, ok)

	q2 := newNamedQueue(t, "a")
	require.Error(t, r.RegisterQueue(q2))
}

func TestRegistry_StartStopAllQueues(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	qa := newNamedQueue(t, "a")
	qb := newNamedQueue(t, "b")
	require.NoError(t, r.RegisterQueue(qa))
	require.NoError(t, r.RegisterQueue(qb))

	completed := make(chan string, 2)
	runner := jobqueue.RunnerFunc(func(jobqueue.Context) (any, error) { return "ok", nil })
	qa.Register("t", runner)
	qb.Register("t", runner)

	idA, err := qa.Add(ctx, &jobqueue.Job{TaskType: "t", MaxRetries: 1})
	require.NoError(t, err)
	idB, err := qb.Add(ctx, &jobqueue.Job{TaskType: "t", MaxRetries: 1})
	require.NoError(t, err)

	r.StartQueues(ctx)

	_, err = qa.WaitFor(ctx, idA)
	require.NoError(t, err)
	completed <- "a"
	_, err = qb.WaitFor(ctx, idB)
	require.NoError(t, err)
	completed <- "b"

	require.NoError(t, r.StopQueues(ctx))
	close(completed)
	var names []string
	for n := range completed {
		names = append(names, n)
	}
	require.ElementsMatch(t, []string{"a", "b"}, names)
}
