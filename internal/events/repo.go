// Package events reads the event catalogue the payment core depends on.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

// Repository exposes the event read model.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, id uuid.UUID) (*models.Event, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) (bool, error)
	ListCompletedWithoutSnapshot(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an event repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Get returns the event or a NotFound error.
func (r *repository) Get(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load event")
	}
	return &event, nil
}

// MarkCompleted records the completion announced by the event service. It
// reports false when the event was already completed or does not exist.
func (r *repository) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ? AND status <> ?", id, enums.EventStatusCompleted).
		Updates(map[string]any{
			"status":       enums.EventStatusCompleted,
			"completed_at": completedAt.UTC(),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListCompletedWithoutSnapshot returns completed paid events that still lack a
// payout snapshot, oldest completion first.
func (r *repository) ListCompletedWithoutSnapshot(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Table("events AS e").
		Select("e.id").
		Joins("LEFT JOIN payout_snapshots ps ON ps.event_id = e.id").
		Where("e.status = ? AND e.is_paid = ? AND ps.id IS NULL", enums.EventStatusCompleted, true).
		Order("e.completed_at ASC").
		Limit(limit).
		Pluck("e.id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
