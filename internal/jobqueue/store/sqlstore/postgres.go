package sqlstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/taskforge/internal/jobqueue"
)

// postgresDialect claims a row with SELECT ... FOR UPDATE SKIP LOCKED,
// directly grounded on the reference stack's
// jobRunRepo.ClaimNextRunnable.
type postgresDialect struct{}

func (postgresDialect) Claim(ctx context.Context, db *gorm.DB, queueName string, now time.Time) (*Row, error) {
	var claimed *Row
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Row
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue_name = ? AND status = ? AND run_after <= ?", queueName, string(jobqueue.StatusPending), now).
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

// NewPostgres builds a server-SQL JobStore backend over an existing GORM
// connection (gorm.io/driver/postgres), using SELECT ... FOR UPDATE SKIP
// LOCKED for claim atomicity across multiple worker goroutines/processes
// sharing the same database.
func NewPostgres(db *gorm.DB) (*Store, error) {
	return newStore(db, postgresDialect{})
}
