// Package sqlstore implements store.Store over GORM, shared by the
// embedded-SQLite and server-Postgres backends. The only difference
// between the two is the claim strategy in Next (see sqlite.go /
// postgres.go): Postgres can lock a row with SELECT ... FOR UPDATE
// SKIP LOCKED the way the teacher's jobRunRepo.ClaimNextRunnable does;
// SQLite has no SKIP LOCKED, so the whole claim runs inside one
// serialized write transaction instead.
package sqlstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Row is the jobs table schema, matching the Job entity field-for-field
// plus the index set required by the design (status; (status, runAfter);
// jobRunId; (taskType, fingerprint, status)).
type Row struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey"`
	QueueName   string         `gorm:"column:queue_name;not null;index"`
	JobRunID    uuid.UUID      `gorm:"type:uuid;column:job_run_id;index"`
	TaskType    string         `gorm:"column:task_type;not null;index:idx_task_fp_status,priority:1"`
	Input       datatypes.JSON `gorm:"column:input"`
	Fingerprint string         `gorm:"column:fingerprint;index:idx_task_fp_status,priority:2"`
	Status      string         `gorm:"column:status;not null;index;index:idx_status_runafter,priority:1;index:idx_task_fp_status,priority:3"`
	Output      datatypes.JSON `gorm:"column:output"`
	Error       string         `gorm:"column:error"`
	Retries     int            `gorm:"column:retries;not null;default:0"`
	MaxRetries  int            `gorm:"column:max_retries;not null;default:0"`
	RunAfter    time.Time      `gorm:"column:run_after;not null;index:idx_status_runafter,priority:2"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null;index"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null"`
	DeadlineAt  *time.Time     `gorm:"column:deadline_at"`
}

func (Row) TableName() string { return "jobs" }

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Row{})
}
