// Package sqlledger implements ratelimit.Ledger over a GORM connection,
// backing the job_queue_rate_limit table used by both the
// embedded-SQLite and server-Postgres JobStore backends.
package sqlledger

import (
	"time"

	"gorm.io/gorm"
)

// Row is the job_queue_rate_limit schema: (queue, started_at), indexed on
// (queue, started_at) as required by the persisted relational schema.
type Row struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Queue     string    `gorm:"column:queue;not null;index:idx_queue_started,priority:1"`
	StartedAt time.Time `gorm:"column:started_at;not null;index:idx_queue_started,priority:2"`
}

func (Row) TableName() string { return "job_queue_rate_limit" }

// Ledger implements ratelimit.Ledger for one named queue.
type Ledger struct {
	db    *gorm.DB
	queue string
}

// New builds a SQL-backed ledger for queue, auto-migrating the
// job_queue_rate_limit table if it does not already exist.
func New(db *gorm.DB, queue string) (*Ledger, error) {
	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, err
	}
	return &Ledger{db: db, queue: queue}, nil
}

func (l *Ledger) Record(t time.Time) error {
	return l.db.Create(&Row{Queue: l.queue, StartedAt: t}).Error
}

func (l *Ledger) CountSince(since time.Time) (int, error) {
	var count int64
	err := l.db.Model(&Row{}).
		Where("queue = ? AND started_at >= ?", l.queue, since).
		Count(&count).Error
	return int(count), err
}

func (l *Ledger) Prune(olderThan time.Time) error {
	return l.db.Where("queue = ? AND started_at < ?", l.queue, olderThan).Delete(&Row{}).Error
}
