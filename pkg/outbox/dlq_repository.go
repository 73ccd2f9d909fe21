package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	"github.com/angelmondragon/eventpass-backend/pkg/pagination"
)

const (
	defaultDLQPage = 50
	maxDLQPage     = 200
)

// DeadLetterFilter narrows a DLQ listing. After is the keyset cursor on
// (failed_at, id), newest first.
type DeadLetterFilter struct {
	EventType enums.OutboxEventType
	After     *pagination.Cursor
	Limit     int
}

type DeadLetterPage struct {
	Items      []models.OutboxDLQ
	NextCursor string
}

type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := truncate(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

func (r *DLQRepository) List(ctx context.Context, filter DeadLetterFilter) (*DeadLetterPage, error) {
	limit := pagination.Clamp(filter.Limit, defaultDLQPage, maxDLQPage)
	query := r.db.WithContext(ctx).Model(&models.OutboxDLQ{})
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if c := filter.After; c != nil {
		query = query.Where("failed_at < ? OR (failed_at = ? AND id < ?)", c.At, c.At, c.ID)
	}
	var rows []models.OutboxDLQ
	if err := query.Order("failed_at DESC").Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, err
	}
	page := &DeadLetterPage{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		last := page.Items[limit-1]
		page.NextCursor = pagination.Cursor{At: last.FailedAt, ID: last.ID}.Encode()
	}
	return page, nil
}

// LockTx loads a DLQ entry for update. Returns gorm.ErrRecordNotFound when
// the entry is gone.
func (r *DLQRepository) LockTx(tx *gorm.DB, id uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	err := lockForUpdate(tx).Where("id = ?", id).Take(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *DLQRepository) DeleteTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Where("id = ?", id).Delete(&models.OutboxDLQ{}).Error
}

// DeleteFailedBefore prunes dead letters that failed before cutoff, oldest
// first, at most limit rows.
func (r *DLQRepository) DeleteFailedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	db := r.db
	if tx != nil {
		db = tx
	}
	oldest := db.Model(&models.OutboxDLQ{}).
		Select("id").
		Where("failed_at < ?", cutoff).
		Order("failed_at ASC").
		Limit(limit)
	res := db.Where("id IN (?)", oldest).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}
