package sqlstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/taskforge/internal/jobqueue"
	"github.com/yungbote/taskforge/internal/jobqueue/fingerprint"
	"github.com/yungbote/taskforge/internal/jobqueue/store"
)

// Dialect isolates the one claim-strategy difference between the two SQL
// backends this package serves.
type Dialect interface {
	// Claim atomically selects and claims the earliest eligible PENDING
	// row for queueName, or returns (nil, nil) if none is eligible.
	Claim(ctx context.Context, db *gorm.DB, queueName string, now time.Time) (*Row, error)
}

// Store is a GORM-backed JobStore. Construct via NewPostgres or
// NewSQLite, which plug in the appropriate Dialect.
type Store struct {
	db      *gorm.DB
	dialect Dialect
}

func newStore(db *gorm.DB, dialect Dialect) (*Store, error) {
	if err := autoMigrate(db); err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: dialect}, nil
}

func (s *Store) Add(ctx context.Context, job *jobqueue.Job) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	row := fromJob(job)
	err := s.db.WithContext(ctx).Create(row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return jobqueue.ErrDuplicate
		}
		// gorm only maps driver errors to ErrDuplicatedKey when the
		// connection enables TranslateError, so also check for the id.
		var n int64
		if cErr := s.db.WithContext(ctx).Model(&Row{}).Where("id = ?", job.ID).Count(&n).Error; cErr == nil && n > 0 {
			return jobqueue.ErrDuplicate
		}
		return jobqueue.NewStoreError("add", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*jobqueue.Job, error) {
	var row Row
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, jobqueue.NewStoreError("get", err)
	}
	return toJob(&row), nil
}

func (s *Store) Peek(ctx context.Context, queueName string, n int) ([]*jobqueue.Job, error) {
	q := s.db.WithContext(ctx).
		Where("queue_name = ? AND status = ?", queueName, string(jobqueue.StatusPending)).
		Order("run_after ASC, created_at ASC, id ASC")
	if n > 0 {
		q = q.Limit(n)
	}
	var rows []Row
	if err := q.Find(&rows).Error; err != nil {
		return nil, jobqueue.NewStoreError("peek", err)
	}
	out := make([]*jobqueue.Job, len(rows))
	for i := range rows {
		out[i] = toJob(&rows[i])
	}
	return out, nil
}

func (s *Store) Next(ctx context.Context, queueName string) (*jobqueue.Job, error) {
	row, err := s.dialect.Claim(ctx, s.db, queueName, time.Now())
	if err != nil {
		return nil, jobqueue.NewStoreError("next", err)
	}
	return toJob(row), nil
}

func (s *Store) byStatus(ctx context.Context, queueName, status string) ([]*jobqueue.Job, error) {
	var rows []Row
	err := s.db.WithContext(ctx).
		Where("queue_name = ? AND status = ?", queueName, status).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, jobqueue.NewStoreError("list", err)
	}
	out := make([]*jobqueue.Job, len(rows))
	for i := range rows {
		out[i] = toJob(&rows[i])
	}
	return out, nil
}

func (s *Store) Processing(ctx context.Context, queueName string) ([]*jobqueue.Job, error) {
	return s.byStatus(ctx, queueName, string(jobqueue.StatusProcessing))
}

func (s *Store) Aborting(ctx context.Context, queueName string) ([]*jobqueue.Job, error) {
	return s.byStatus(ctx, queueName, string(jobqueue.StatusAborting))
}

func (s *Store) Complete(ctx context.Context, id uuid.UUID, outcome store.Outcome) error {
	now := time.Now()
	updates := map[string]any{"updated_at": now}
	switch outcome.Kind {
	case store.OutcomeCompleted:
		updates["status"] = string(jobqueue.StatusCompleted)
		updates["output"] = outcome.Output
		updates["error"] = ""
	case store.OutcomeFailed:
		updates["status"] = string(jobqueue.StatusFailed)
		updates["error"] = outcome.Error
		if outcome.IncrementRetries {
			updates["retries"] = gormExprIncrement()
		}
	case store.OutcomeRetry:
		updates["status"] = string(jobqueue.StatusPending)
		updates["run_after"] = outcome.RetryAt
		updates["retries"] = gormExprIncrement()
	}
	res := s.db.WithContext(ctx).Model(&Row{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return jobqueue.NewStoreError("complete", res.Error)
	}
	if res.RowsAffected == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

func (s *Store) Abort(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&Row{}).
		Where("id = ? AND status = ?", id, string(jobqueue.StatusProcessing)).
		Updates(map[string]any{"status": string(jobqueue.StatusAborting), "updated_at": time.Now()})
	if res.Error != nil {
		return jobqueue.NewStoreError("abort", res.Error)
	}
	return nil
}

func (s *Store) GetJobsByRunID(ctx context.Context, runID uuid.UUID) ([]*jobqueue.Job, error) {
	var rows []Row
	if err := s.db.WithContext(ctx).Where("job_run_id = ?", runID).Find(&rows).Error; err != nil {
		return nil, jobqueue.NewStoreError("get_jobs_by_run_id", err)
	}
	out := make([]*jobqueue.Job, len(rows))
	for i := range rows {
		out[i] = toJob(&rows[i])
	}
	return out, nil
}

func (s *Store) OutputForInput(ctx context.Context, taskType string, input any) ([]byte, bool, error) {
	fp, err := fingerprint.Of(input)
	if err != nil {
		return nil, false, err
	}
	var row Row
	err = s.db.WithContext(ctx).
		Where("task_type = ? AND fingerprint = ? AND status = ?", taskType, fp, string(jobqueue.StatusCompleted)).
		Order("id ASC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, jobqueue.NewStoreError("output_for_input", err)
	}
	return []byte(row.Output), true, nil
}

func (s *Store) Size(ctx context.Context, queueName string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Row{}).Where("queue_name = ?", queueName).Count(&count).Error
	if err != nil {
		return 0, jobqueue.NewStoreError("size", err)
	}
	return int(count), nil
}

func (s *Store) DeleteAll(ctx context.Context, queueName string) error {
	if err := s.db.WithContext(ctx).Where("queue_name = ?", queueName).Delete(&Row{}).Error; err != nil {
		return jobqueue.NewStoreError("delete_all", err)
	}
	return nil
}

func (s *Store) Prune(ctx context.Context, queueName string, olderThan time.Time, statuses ...jobqueue.Status) (int, error) {
	q := s.db.WithContext(ctx).Where("queue_name = ? AND updated_at < ?", queueName, olderThan)
	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		q = q.Where("status IN ?", strs)
	}
	res := q.Delete(&Row{})
	if res.Error != nil {
		return 0, jobqueue.NewStoreError("prune", res.Error)
	}
	return int(res.RowsAffected), nil
}
