package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

const activeReservationIndex = "ux_payment_orders_active_reservation"

// Repository persists payment orders. Status writes are compare-and-set: they
// only apply while the row is in a state the trigger is legal from.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.PaymentOrder) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error)
	FindByExternalID(ctx context.Context, externalID string) (*models.PaymentOrder, error)
	FindActiveByReservation(ctx context.Context, reservationID uuid.UUID) (*models.PaymentOrder, error)
	CountByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error)
	Transition(ctx context.Context, id uuid.UUID, trigger Trigger, fields map[string]any) (bool, error)
	ListOverdueCreated(ctx context.Context, now time.Time, limit int) ([]models.PaymentOrder, error)
	ListOverduePending(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentOrder, error)
	ListPendingSince(ctx context.Context, before time.Time, limit int) ([]models.PaymentOrder, error)
	ListPaidByEvent(ctx context.Context, eventID uuid.UUID) ([]models.PaymentOrder, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payment order repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.PaymentOrder) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByExternalID(ctx context.Context, externalID string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FindActiveByReservation returns the created or pending order for a
// reservation, or nil when there is none.
func (r *repository) FindActiveByReservation(ctx context.Context, reservationID uuid.UUID) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	res := r.db.WithContext(ctx).
		Where("reservation_id = ? AND status IN ?", reservationID, enums.ActivePaymentOrderStatuses).
		Limit(1).Find(&order)
	if res.Error != nil || res.RowsAffected == 0 {
		return nil, res.Error
	}
	return &order, nil
}

func (r *repository) CountByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("reservation_id = ?", reservationID).
		Count(&count).Error
	return count, err
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, trigger Trigger, fields map[string]any) (bool, error) {
	sources := SourcesFor(trigger)
	if len(sources) == 0 {
		return false, nil
	}
	to, err := Next(sources[0], trigger)
	if err != nil {
		return false, err
	}
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("id = ? AND status IN ?", id, sources).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListOverdueCreated returns created orders whose payment window has closed.
func (r *repository) ListOverdueCreated(ctx context.Context, now time.Time, limit int) ([]models.PaymentOrder, error) {
	return r.list(ctx, limit, "expires_at ASC", "status = ? AND expires_at <= ?", enums.PaymentOrderCreated, now)
}

// ListOverduePending returns pending orders whose window closed before cutoff.
func (r *repository) ListOverduePending(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentOrder, error) {
	return r.list(ctx, limit, "expires_at ASC", "status = ? AND expires_at <= ?", enums.PaymentOrderPending, cutoff)
}

// ListPendingSince returns pending orders redirected before the given time.
func (r *repository) ListPendingSince(ctx context.Context, before time.Time, limit int) ([]models.PaymentOrder, error) {
	return r.list(ctx, limit, "redirect_issued_at ASC", "status = ? AND redirect_issued_at <= ?", enums.PaymentOrderPending, before)
}

func (r *repository) ListPaidByEvent(ctx context.Context, eventID uuid.UUID) ([]models.PaymentOrder, error) {
	var orders []models.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND status = ?", eventID, enums.PaymentOrderPaid).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) list(ctx context.Context, limit int, order string, query string, args ...any) ([]models.PaymentOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	var orders []models.PaymentOrder
	err := r.db.WithContext(ctx).
		Where(query, args...).
		Order(order).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
