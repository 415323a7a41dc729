package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/taskforge/internal/jobqueue"
	"github.com/yungbote/taskforge/internal/jobqueue/fingerprint"
	"github.com/yungbote/taskforge/internal/jobqueue/store"
)

func newJob(t *testing.T, queue, taskType string, input map[string]any) *jobqueue.Job {
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

func TestStore_S1_AddCompleteMemoize(t *testing.T) {
	ctx := context.Background()
	s := New()

	job := newJob(t, "q", "task1", map[string]any{"data": "input1"})
	require.NoError(t, s.Add(ctx, job))

	sz, err := s.Size(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, 1, sz)

	claimed, err := s.Next(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, jobqueue.StatusProcessing, claimed.Status)

	out, _ := json.Marshal(map[string]any{"result": "success"})
	require.NoError(t, s.Complete(ctx, claimed.ID, store.Outcome{Kind: store.OutcomeCompleted, Output: out}))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobqueue.StatusCompleted, got.Status)
	require.JSONEq(t, `{"result":"success"}`, string(got.Output))

	output, ok, err := s.OutputForInput(ctx, "task1", map[string]any{"data": "input1"})
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"result":"success"}`, string(output))
}

func TestStore_S2_FIFOOrdering(t *testing.T) {
	ctx := context.Background()
	s := New()
	runAfter := time.Now()

	a := newJob(t, "q", "task1", map[string]any{"data": "a"})
	a.RunAfter = runAfter
	b := newJob(t, "q", "task1", map[string]any{"data": "b"})
	b.RunAfter = runAfter

	require.NoError(t, s.Add(ctx, a))
	time.Sleep(time.Millisecond)
	require.NoError(t, s.Add(ctx, b))

	first, err := s.Next(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, a.ID, first.ID)

	second, err := s.Next(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, b.ID, second.ID)
}

func TestStore_NextNeverDoubleClaimsConcurrently(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 50; i++ {
		require.NoError(t, s.Add(ctx, newJob(t, "q", "task1", map[string]any{"i": i})))
	}

	seen := sync.Map{}
	var wg sync.WaitGroup
	var dupes int32
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := s.Next(ctx, "q")
				require.NoError(t, err)
				if j == nil {
					return
				}
				if _, loaded := seen.LoadOrStore(j.ID, true); loaded {
					mu.Lock()
					dupes++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	require.Zero(t, dupes)
}

func TestStore_DeleteAll(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Add(ctx, newJob(t, "q", "task1", map[string]any{"a": 1})))
	require.NoError(t, s.DeleteAll(ctx, "q"))
	sz, err := s.Size(ctx, "q")
	require.NoError(t, err)
	require.Zero(t, sz)
}

func TestStore_AbortTransitionsProcessingToAborting(t *testing.T) {
	ctx := context.Background()
	s := New()
	job := newJob(t, "q", "task1", map[string]any{"a": 1})
	require.NoError(t, s.Add(ctx, job))
	claimed, err := s.Next(ctx, "q")
	require.NoError(t, err)
	require.NoError(t, s.Abort(ctx, claimed.ID))
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, jobqueue.StatusAborting, got.Status)
}
