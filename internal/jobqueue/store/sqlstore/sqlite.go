package sqlstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/taskforge/internal/jobqueue"
)

// ImmediateDSN appends mattn/go-sqlite3's _txlock=immediate query
// parameter to dsn if not already present. Without it, database/sql's
// BeginTx issues a plain deferred BEGIN: the read that opens Claim's
// transaction takes no lock at all, so two concurrent Claim calls can
// both pass their SELECT before either attempts to upgrade to a write
// lock, and the loser of that upgrade race returns SQLITE_BUSY instead
// of simply waiting its turn. _txlock=immediate makes every BEGIN this
// connection issues acquire the write lock upfront, which is what
// actually serializes concurrent Claim calls against the same file.
func ImmediateDSN(dsn string) string {
	if strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_txlock=immediate"
}

// sqliteDialect claims a row inside a single write transaction. SQLite
// has no SKIP LOCKED; provided the connection was opened with
// _txlock=immediate (see ImmediateDSN), gorm.DB.Transaction's BEGIN
// acquires the write lock immediately, so the whole select-then-update
// runs serialized against any other transaction touching the same
// database file without a BUSY/upgrade race.
type sqliteDialect struct{}

func (sqliteDialect) Claim(ctx context.Context, db *gorm.DB, queueName string, now time.Time) (*Row, error) {
	var claimed *Row
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Row
		err := tx.Where("queue_name = ? AND status = ? AND run_after <= ?", queueName, string(jobqueue.StatusPending), now).
			Order("run_after ASC, created_at ASC, id ASC").
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if uErr := tx.Model(&Row{}).Where("id = ?", row.ID).
			Updates(map[string]any{"status": string(jobqueue.StatusProcessing), "updated_at": now}).Error; uErr != nil {
			return uErr
		}
		row.Status = string(jobqueue.StatusProcessing)
		row.UpdatedAt = now
		claimed = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// NewSQLite builds an embedded-SQL JobStore backend over an existing
// GORM connection (gorm.io/driver/sqlite), single-file relational
// storage suitable for a single-process deployment.
func NewSQLite(db *gorm.DB) (*Store, error) {
	return newStore(db, sqliteDialect{})
}
