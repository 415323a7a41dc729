package badgerstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/taskforge/internal/jobqueue"
	"github.com/yungbote/taskforge/internal/jobqueue/fingerprint"
	"github.com/yungbote/taskforge/internal/jobqueue/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRow(t *testing.T, queue, taskType string, input map[string]any) *jobqueue.Job {
	t.Helper()
	b, err := json.Marshal(input)
	require.NoError(t, err)
	fp, err := fingerprint.Of(input)
	require.NoError(t, err)
	return &jobqueue.Job{
		ID:          uuid.New(),
		QueueName:   queue,
		TaskType:    taskType,
		Input:       b,
		Fingerprint: fp,
		Status:      jobqueue.StatusPending,
		MaxRetries:  3,
		RunAfter:    time.Now(),
	}
}

func TestBadgerStore_AddNextCompleteMemoize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job := newRow(t, "q", "task1", map[string]any{"data": "input1"})
	require.NoError(t, s.Add(ctx, job))

	claimed, err := s.Next(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, jobqueue.StatusProcessing, claimed.Status)

	out, _ := json.Marshal(map[string]any{"result": "success"})
	require.NoError(t, s.Complete(ctx, claimed.ID, store.Outcome{Kind: store.OutcomeCompleted, Output: out}))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobqueue.StatusCompleted, got.Status)

	output, ok, err := s.OutputForInput(ctx, "task1", map[string]any{"data": "input1"})
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"result":"success"}`, string(output))
}

func TestBadgerStore_DuplicateAddFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := newRow(t, "q", "task1", map[string]any{"a": 1})
	require.NoError(t, s.Add(ctx, job))
	require.Error(t, s.Add(ctx, job))
}

func TestBadgerStore_RetryRequeues(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := newRow(t, "q", "task1", map[string]any{"a": 1})
	require.NoError(t, s.Add(ctx, job))
	claimed, err := s.Next(ctx, "q")
	require.NoError(t, err)

	retryAt := time.Now().Add(time.Hour)
	require.NoError(t, s.Complete(ctx, claimed.ID, store.Outcome{Kind: store.OutcomeRetry, RetryAt: retryAt}))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobqueue.StatusPending, got.Status)
	require.Equal(t, 1, got.Retries)
	require.WithinDuration(t, retryAt, got.RunAfter, time.Second)

	next, err := s.Next(ctx, "q")
	require.NoError(t, err)
	require.Nil(t, next)
}

func TestBadgerStore_ConcurrentNextClaimsEachJobOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Add(ctx, newRow(t, "q", "task1", map[string]any{"i": i})))
	}

	seen := map[uuid.UUID]bool{}
	resultCh := make(chan *jobqueue.Job, 10)
	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func() {
			for {
				j, err := s.Next(ctx, "q")
				require.NoError(t, err)
				if j == nil {
					return
				}
				resultCh <- j
			}
		}()
	}
	go func() {
		for i := 0; i < 10; i++ {
			j := <-resultCh
			seen[j.ID] = true
		}
		close(done)
	}()
	<-done
	require.Len(t, seen, 10)
}

func TestBadgerStore_AbortAndSize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	job := newRow(t, "q", "task1", map[string]any{"a": 1})
	require.NoError(t, s.Add(ctx, job))
	claimed, err := s.Next(ctx, "q")
	require.NoError(t, err)

	require.NoError(t, s.Abort(ctx, claimed.ID))
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobqueue.StatusAborting, got.Status)

	sz, err := s.Size(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, 1, sz)

	require.NoError(t, s.DeleteAll(ctx, "q"))
	sz, err = s.Size(ctx, "q")
	require.NoError(t, err)
	require.Zero(t, sz)
}
