package reconcile

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/pagination"
)

const (
	defaultCallbackPage = 50
	maxCallbackPage     = 200
)

// CallbackRepository stores the audit trail of gateway outcomes.
type CallbackRepository interface {
	WithTx(tx *gorm.DB) CallbackRepository
	Record(ctx context.Context, row *models.GatewayCallback) error
	List(ctx context.Context, filter CallbackFilter) (*CallbackPage, error)
}

// CallbackFilter narrows the operator view of recorded callbacks.
type CallbackFilter struct {
	FlaggedOnly bool
	OrderID     *uuid.UUID
	After       *pagination.Cursor
	Limit       int
}

// CallbackPage is one page of the audit trail. NextCursor is empty on the
// last page.
type CallbackPage struct {
	Items      []models.GatewayCallback
	NextCursor string
}

type callbackRepository struct {
	db *gorm.DB
}

func NewCallbackRepository(db *gorm.DB) CallbackRepository {
	return &callbackRepository{db: db}
}

func (r *callbackRepository) WithTx(tx *gorm.DB) CallbackRepository {
	if tx == nil {
		return r
	}
	return &callbackRepository{db: tx}
}

func (r *callbackRepository) Record(ctx context.Context, row *models.GatewayCallback) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// List returns recorded callbacks newest first, one page at a time.
func (r *callbackRepository) List(ctx context.Context, filter CallbackFilter) (*CallbackPage, error) {
	limit := pagination.Clamp(filter.Limit, defaultCallbackPage, maxCallbackPage)
	query := r.db.WithContext(ctx).Model(&models.GatewayCallback{})
	if filter.FlaggedOnly {
		query = query.Where("flagged = ?", true)
	}
	if filter.OrderID != nil {
		query = query.Where("order_id = ?", *filter.OrderID)
	}
	if filter.After != nil {
		query = query.Where("received_at < ? OR (received_at = ? AND id < ?)", filter.After.At, filter.After.At, filter.After.ID)
	}
	var rows []models.GatewayCallback
	if err := query.Order("received_at DESC").Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, err
	}
	page := &CallbackPage{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		last := page.Items[limit-1]
		page.NextCursor = pagination.Cursor{At: last.ReceivedAt, ID: last.ID}.Encode()
	}
	return page, nil
}
