// Package badgerstore implements store.Store over BadgerDB via
// badgerhold, the closest Go-native analogue to the spec's browser-local
// IndexedDB backend: a single-file embedded object store with
// declarative secondary indexes, no separate server process. Grounded on
// the reference stack's internal/storage (BadgerDB/badgerhold) package.
package badgerstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"

	"github.com/yungbote/taskforge/internal/jobqueue"
	"github.com/yungbote/taskforge/internal/jobqueue/fingerprint"
	"github.com/yungbote/taskforge/internal/jobqueue/store"
)

// row is the badgerhold-persisted shape of a Job. badgerholdIndex tags
// index QueueName, JobRunID, TaskType, Fingerprint, Status and RunAfter
// each on its own; badgerhold has no compound index, so the
// (status, runAfter) and (taskType, fingerprint, status) lookups are
// queries combining criteria on these single-field indexes.
type row struct {
	ID          uuid.UUID `badgerholdKey:"ID"`
	QueueName   string    `badgerholdIndex:"QueueName"`
	JobRunID    uuid.UUID `badgerholdIndex:"JobRunID"`
	TaskType    string    `badgerholdIndex:"TaskType"`
	Input       []byte
	Fingerprint string `badgerholdIndex:"Fingerprint"`
	Status      string `badgerholdIndex:"Status"`
	Output      []byte
	Error       string
	Retries     int
	MaxRetries  int
	RunAfter    time.Time `badgerholdIndex:"RunAfter"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeadlineAt  *time.Time
}

func toJob(r *row) *jobqueue.Job {
	return &jobqueue.Job{
		ID:          r.ID,
		QueueName:   r.QueueName,
		JobRunID:    r.JobRunID,
		TaskType:    r.TaskType,
		Input:       r.Input,
		Fingerprint: r.Fingerprint,
		Status:      jobqueue.Status(r.Status),
		Output:      r.Output,
		Error:       r.Error,
		Retries:     r.Retries,
		MaxRetries:  r.MaxRetries,
		RunAfter:    r.RunAfter,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		DeadlineAt:  r.DeadlineAt,
	}
}

func fromJob(j *jobqueue.Job) *row {
	return &row{
		ID:          j.ID,
		QueueName:   j.QueueName,
		JobRunID:    j.JobRunID,
		TaskType:    j.TaskType,
		Input:       j.Input,
		Fingerprint: j.Fingerprint,
		Status:      string(j.Status),
		Output:      j.Output,
		Error:       j.Error,
		Retries:     j.Retries,
		MaxRetries:  j.MaxRetries,
		RunAfter:    j.RunAfter,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		DeadlineAt:  j.DeadlineAt,
	}
}

// Store is a BadgerDB-backed JobStore. One *Store may serve multiple
// queues; rows are scoped by QueueName the same way the SQL/memory
// backends scope by queue_name.
type Store struct {
	db *badgerhold.Store
	// claimMu serializes Next so the find-then-upsert pair is atomic;
	// badgerhold has no SELECT ... FOR UPDATE equivalent, so this plays
	// the same role the teacher's transaction does for the SQL backends.
	claimMu chan struct{}
}

// Open opens (or creates) a BadgerDB-backed store at dir.
func Open(dir string) (*Store, error) {
	opts := badgerhold.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.Logger = nil
	db, err := badgerhold.Open(opts)
	if err != nil {
		return nil, jobqueue.NewStoreError("open", err)
	}
	s := &Store{db: db, claimMu: make(chan struct{}, 1)}
	s.claimMu <- struct{}{}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Add(_ context.Context, job *jobqueue.Job) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	r := fromJob(job)
	err := s.db.Insert(r.ID, r)
	if err == badgerhold.ErrKeyExists {
		return jobqueue.ErrDuplicate
	}
	if err != nil {
		return jobqueue.NewStoreError("add", err)
	}
	return nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*jobqueue.Job, error) {
	var r row
	err := s.db.Get(id, &r)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, jobqueue.NewStoreError("get", err)
	}
	return toJob(&r), nil
}

func (s *Store) Peek(_ context.Context, queueName string, n int) ([]*jobqueue.Job, error) {
	q := badgerhold.Where("QueueName").Eq(queueName).
		And("Status").Eq(string(jobqueue.StatusPending)).
		SortBy("RunAfter", "CreatedAt")
	if n > 0 {
		q = q.Limit(n)
	}
	var rows []row
	if err := s.db.Find(&rows, q); err != nil {
		return nil, jobqueue.NewStoreError("peek", err)
	}
	out := make([]*jobqueue.Job, len(rows))
	for i := range rows {
		out[i] = toJob(&rows[i])
	}
	return out, nil
}

func (s *Store) Next(_ context.Context, queueName string) (*jobqueue.Job, error) {
	<-s.claimMu
	defer func() { s.claimMu <- struct{}{} }()

	now := time.Now()
	q := badgerhold.Where("QueueName").Eq(queueName).
		And("Status").Eq(string(jobqueue.StatusPending)).
		And("RunAfter").Le(now).
		SortBy("RunAfter", "CreatedAt").
		Limit(1)
	var rows []row
	if err := s.db.Find(&rows, q); err != nil {
		return nil, jobqueue.NewStoreError("next", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	claimed := rows[0]
	claimed.Status = string(jobqueue.StatusProcessing)
	claimed.UpdatedAt = now
	if err := s.db.Update(claimed.ID, &claimed); err != nil {
		return nil, jobqueue.NewStoreError("next", err)
	}
	return toJob(&claimed), nil
}

func (s *Store) byStatus(queueName, status string) ([]*jobqueue.Job, error) {
	q := badgerhold.Where("QueueName").Eq(queueName).And("Status").Eq(status)
	var rows []row
	if err := s.db.Find(&rows, q); err != nil {
		return nil, jobqueue.NewStoreError("list", err)
	}
	out := make([]*jobqueue.Job, len(rows))
	for i := range rows {
		out[i] = toJob(&rows[i])
	}
	return out, nil
}

func (s *Store) Processing(_ context.Context, queueName string) ([]*jobqueue.Job, error) {
	return s.byStatus(queueName, string(jobqueue.StatusProcessing))
}

func (s *Store) Aborting(_ context.Context, queueName string) ([]*jobqueue.Job, error) {
	return s.byStatus(queueName, string(jobqueue.StatusAborting))
}

func (s *Store) Complete(_ context.Context, id uuid.UUID, outcome store.Outcome) error {
	var r row
	if err := s.db.Get(id, &r); err != nil {
		if err == badgerhold.ErrNotFound {
			return jobqueue.ErrNotFound
		}
		return jobqueue.NewStoreError("complete", err)
	}
	r.UpdatedAt = time.Now()
	switch outcome.Kind {
	case store.OutcomeCompleted:
		r.Status = string(jobqueue.StatusCompleted)
		r.Output = outcome.Output
		r.Error = ""
	case store.OutcomeFailed:
		r.Status = string(jobqueue.StatusFailed)
		r.Error = outcome.Error
		if outcome.IncrementRetries {
			r.Retries++
		}
	case store.OutcomeRetry:
		r.Status = string(jobqueue.StatusPending)
		r.RunAfter = outcome.RetryAt
		r.Retries++
	}
	if err := s.db.Update(id, &r); err != nil {
		return jobqueue.NewStoreError("complete", err)
	}
	return nil
}

func (s *Store) Abort(_ context.Context, id uuid.UUID) error {
	var r row
	if err := s.db.Get(id, &r); err != nil {
		if err == badgerhold.ErrNotFound {
			return jobqueue.ErrNotFound
		}
		return jobqueue.NewStoreError("abort", err)
	}
	if r.Status != string(jobqueue.StatusProcessing) {
		return nil
	}
	r.Status = string(jobqueue.StatusAborting)
	r.UpdatedAt = time.Now()
	if err := s.db.Update(id, &r); err != nil {
		return jobqueue.NewStoreError("abort", err)
	}
	return nil
}

func (s *Store) GetJobsByRunID(_ context.Context, runID uuid.UUID) ([]*jobqueue.Job, error) {
	var rows []row
	if err := s.db.Find(&rows, badgerhold.Where("JobRunID").Eq(runID)); err != nil {
		return nil, jobqueue.NewStoreError("get_jobs_by_run_id", err)
	}
	out := make([]*jobqueue.Job, len(rows))
	for i := range rows {
		out[i] = toJob(&rows[i])
	}
	return out, nil
}

func (s *Store) OutputForInput(_ context.Context, taskType string, input any) ([]byte, bool, error) {
	fp, err := fingerprint.Of(input)
	if err != nil {
		return nil, false, err
	}
	var rows []row
	q := badgerhold.Where("TaskType").Eq(taskType).
		And("Fingerprint").Eq(fp).
		And("Status").Eq(string(jobqueue.StatusCompleted)).
		SortBy("ID").
		Limit(1)
	if err := s.db.Find(&rows, q); err != nil {
		return nil, false, jobqueue.NewStoreError("output_for_input", err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0].Output, true, nil
}

func (s *Store) Size(_ context.Context, queueName string) (int, error) {
	n, err := s.db.Count(&row{}, badgerhold.Where("QueueName").Eq(queueName))
	if err != nil {
		return 0, jobqueue.NewStoreError("size", err)
	}
	return n, nil
}

func (s *Store) DeleteAll(_ context.Context, queueName string) error {
	if err := s.db.DeleteMatching(&row{}, badgerhold.Where("QueueName").Eq(queueName)); err != nil {
		return jobqueue.NewStoreError("delete_all", err)
	}
	return nil
}

func (s *Store) Prune(_ context.Context, queueName string, olderThan time.Time, statuses ...jobqueue.Status) (int, error) {
	q := badgerhold.Where("QueueName").Eq(queueName).And("UpdatedAt").Lt(olderThan)
	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		q = q.And("Status").In(toAnySlice(strs)...)
	}
	var rows []row
	if err := s.db.Find(&rows, q); err != nil {
		return 0, jobqueue.NewStoreError("prune", err)
	}
	if err := s.db.DeleteMatching(&row{}, q); err != nil {
		return 0, jobqueue.NewStoreError("prune", err)
	}
	return len(rows), nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
