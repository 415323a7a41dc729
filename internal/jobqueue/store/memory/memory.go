// Package memory implements store.Store with plain maps guarded by a
// mutex, the teacher's concurrency-safe-map idiom (jobs/runtime.Registry)
// generalized from a single read-mostly dispatch table to a full
// read-write job ledger.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/taskforge/internal/jobqueue"
	"github.com/yungbote/taskforge/internal/jobqueue/fingerprint"
	"github.com/yungbote/taskforge/internal/jobqueue/store"
)

// Store is the in-memory JobStore backend. Zero value is not usable; use
// New.
type Store struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*jobqueue.Job
}

// New builds an empty in-memory store.
func New() *Store {
	return &Store{jobs: make(map[uuid.UUID]*jobqueue.Job)}
}

func (s *Store) Add(_ context.Context, job *jobqueue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return jobqueue.ErrDuplicate
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*jobqueue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return j.Clone(), nil
}

func (s *Store) Peek(_ context.Context, queueName string, n int) ([]*jobqueue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eligible := s.pendingSorted(queueName)
	if n > 0 && n < len(eligible) {
		eligible = eligible[:n]
	}
	out := make([]*jobqueue.Job, len(eligible))
	for i, j := range eligible {
		out[i] = j.Clone()
	}
	return out, nil
}

// Next is the atomicity-critical operation: it holds s.mu for
// the entire select-then-claim, so two concurrent Next calls on the same
// *Store can never observe (and thus never both claim) the same job.
func (s *Store) Next(_ context.Context, queueName string) (*jobqueue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	candidates := s.pendingSorted(queueName)
	for _, j := range candidates {
		if j.RunAfter.After(now) {
			continue
		}
		j.Status = jobqueue.StatusProcessing
		j.UpdatedAt = now
		return j.Clone(), nil
	}
	return nil, nil
}

// pendingSorted returns PENDING jobs for queueName in (runAfter ASC,
// createdAt ASC, id ASC) order. Caller must hold s.mu.
func (s *Store) pendingSorted(queueName string) []*jobqueue.Job {
	var out []*jobqueue.Job
	for _, j := range s.jobs {
		if j.QueueName == queueName && j.Status == jobqueue.StatusPending {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].RunAfter.Equal(out[k].RunAfter) {
			return out[i].RunAfter.Before(out[k].RunAfter)
		}
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return out
}

func (s *Store) byStatus(queueName string, status jobqueue.Status) []*jobqueue.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*jobqueue.Job
	for _, j := range s.jobs {
		if j.QueueName == queueName && j.Status == status {
			out = append(out, j.Clone())
		}
	}
	return out
}

func (s *Store) Processing(_ context.Context, queueName string) ([]*jobqueue.Job, error) {
	return s.byStatus(queueName, jobqueue.StatusProcessing), nil
}

func (s *Store) Aborting(_ context.Context, queueName string) ([]*jobqueue.Job, error) {
	return s.byStatus(queueName, jobqueue.StatusAborting), nil
}

func (s *Store) Complete(_ context.Context, id uuid.UUID, outcome store.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return jobqueue.ErrNotFound
	}
	now := time.Now()
	j.UpdatedAt = now
	switch outcome.Kind {
	case store.OutcomeCompleted:
		// Tie-break rule: persistence wins the ABORTING/success race.
		j.Status = jobqueue.StatusCompleted
		j.Output = outcome.Output
		j.Error = ""
	case store.OutcomeFailed:
		j.Status = jobqueue.StatusFailed
		j.Error = outcome.Error
		if outcome.IncrementRetries {
			j.Retries++
		}
	case store.OutcomeRetry:
		j.Status = jobqueue.StatusPending
		j.RunAfter = outcome.RetryAt
		j.Retries++
	}
	return nil
}

func (s *Store) Abort(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return jobqueue.ErrNotFound
	}
	if j.Status == jobqueue.StatusProcessing {
		j.Status = jobqueue.StatusAborting
		j.UpdatedAt = time.Now()
	}
	return nil
}

func (s *Store) GetJobsByRunID(_ context.Context, runID uuid.UUID) ([]*jobqueue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*jobqueue.Job
	for _, j := range s.jobs {
		if j.JobRunID == runID {
			out = append(out, j.Clone())
		}
	}
	return out, nil
}

func (s *Store) OutputForInput(_ context.Context, taskType string, input any) ([]byte, bool, error) {
	fp, err := fingerprint.Of(input)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Memoization tie-break: stable within a process by iterating in a
	// deterministic (id-sorted) order and taking the first match.
	var matches []*jobqueue.Job
	for _, j := range s.jobs {
		if j.TaskType == taskType && j.Fingerprint == fp && j.Status == jobqueue.StatusCompleted {
			matches = append(matches, j)
		}
	}
	if len(matches) == 0 {
		return nil, false, nil
	}
	sort.Slice(matches, func(i, k int) bool { return matches[i].ID.String() < matches[k].ID.String() })
	return matches[0].Output, true, nil
}

func (s *Store) Size(_ context.Context, queueName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.QueueName == queueName {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteAll(_ context.Context, queueName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.QueueName == queueName {
			delete(s.jobs, id)
		}
	}
	return nil
}

func (s *Store) Prune(_ context.Context, queueName string, olderThan time.Time, statuses ...jobqueue.Status) (int, error) {
	allowed := make(map[jobqueue.Status]bool, len(statuses))
	for _, st := range statuses {
		allowed[st] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.QueueName != queueName {
			continue
		}
		if len(allowed) > 0 && !allowed[j.Status] {
			continue
		}
		if j.UpdatedAt.Before(olderThan) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}
