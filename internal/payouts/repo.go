package payouts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
)

// Repository persists payout requests and snapshots.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindSnapshot(ctx context.Context, eventID uuid.UUID) (*models.PayoutSnapshot, error)
	CreateSnapshot(ctx context.Context, snapshot *models.PayoutSnapshot) error
	SaveSnapshot(ctx context.Context, snapshot *models.PayoutSnapshot) error
	FindRequest(ctx context.Context, eventID uuid.UUID) (*models.PayoutRequest, error)
	CreateRequest(ctx context.Context, request *models.PayoutRequest) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindSnapshot returns nil when the event has no snapshot yet.
func (r *repository) FindSnapshot(ctx context.Context, eventID uuid.UUID) (*models.PayoutSnapshot, error) {
	var snapshot models.PayoutSnapshot
	res := r.db.WithContext(ctx).Where("event_id = ?", eventID).Limit(1).Find(&snapshot)
	if res.Error != nil || res.RowsAffected == 0 {
		return nil, res.Error
	}
	return &snapshot, nil
}

func (r *repository) CreateSnapshot(ctx context.Context, snapshot *models.PayoutSnapshot) error {
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(snapshot).Error
}

func (r *repository) SaveSnapshot(ctx context.Context, snapshot *models.PayoutSnapshot) error {
	return r.db.WithContext(ctx).Save(snapshot).Error
}

// FindRequest returns nil when the host has not requested a payout.
func (r *repository) FindRequest(ctx context.Context, eventID uuid.UUID) (*models.PayoutRequest, error) {
	var request models.PayoutRequest
	res := r.db.WithContext(ctx).Where("event_id = ?", eventID).Limit(1).Find(&request)
	if res.Error != nil || res.RowsAffected == 0 {
		return nil, res.Error
	}
	return &request, nil
}

func (r *repository) CreateRequest(ctx context.Context, request *models.PayoutRequest) error {
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(request).Error
}
