package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

const heldPerRequesterIndex = "ux_capacity_reservations_held"

// noActiveOrder pre-filters sweep candidates; the release itself re-checks
// under the row lock.
const noActiveOrder = `NOT EXISTS (SELECT 1 FROM payment_orders po
  WHERE po.reservation_id = capacity_reservations.id AND po.status IN ?)`

// Repository persists reservations and the per-event seat ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, reservation *models.CapacityReservation) error
	FindByKey(ctx context.Context, key string) (*models.CapacityReservation, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.CapacityReservation, error)
	Touch(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus, fields map[string]any) (bool, error)
	TransitionIfNoActiveOrder(ctx context.Context, id uuid.UUID, to enums.ReservationStatus, fields map[string]any) (bool, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.CapacityReservation, error)

	EnsureInventory(ctx context.Context, eventID uuid.UUID, capacity int) error
	Inventory(ctx context.Context, eventID uuid.UUID) (*models.EventInventory, error)
	ClaimSeats(ctx context.Context, eventID uuid.UUID, seats int) (bool, error)
	ReturnHeldSeats(ctx context.Context, eventID uuid.UUID, seats int) error
	ConvertHeldSeats(ctx context.Context, eventID uuid.UUID, seats int) error
	ReturnSoldSeats(ctx context.Context, eventID uuid.UUID, seats int) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds reservation storage to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, reservation *models.CapacityReservation) error {
	if reservation.ID == uuid.Nil {
		reservation.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) FindByKey(ctx context.Context, key string) (*models.CapacityReservation, error) {
	var reservation models.CapacityReservation
	if err := r.db.WithContext(ctx).Where("reservation_key = ?", key).Take(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CapacityReservation, error) {
	var reservation models.CapacityReservation
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

// Touch bumps a live hold inside the caller's transaction so concurrent
// release attempts serialize behind it on the row lock.
func (r *repository) Touch(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CapacityReservation{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, enums.ReservationHeld, now).
		Update("updated_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus, fields map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CapacityReservation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(withStatus(fields, to))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// TransitionIfNoActiveOrder moves a held reservation only while no created or
// pending payment order references it. The row is locked first so an order
// insert holding the lock (via Touch) commits before the order check runs;
// the check is its own statement and so reads a fresh snapshot.
func (r *repository) TransitionIfNoActiveOrder(ctx context.Context, id uuid.UUID, to enums.ReservationStatus, fields map[string]any) (bool, error) {
	db := r.db.WithContext(ctx)
	var locked []models.CapacityReservation
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND status = ?", id, enums.ReservationHeld).
		Limit(1).
		Find(&locked).Error
	if err != nil || len(locked) == 0 {
		return false, err
	}

	var active int64
	err = db.Model(&models.PaymentOrder{}).
		Where("reservation_id = ? AND status IN ?", id, enums.ActivePaymentOrderStatuses).
		Count(&active).Error
	if err != nil || active > 0 {
		return false, err
	}

	res := db.Model(&models.CapacityReservation{}).
		Where("id = ? AND status = ?", id, enums.ReservationHeld).
		Updates(withStatus(fields, to))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListExpiredHolds returns holds past their timer with no order in flight.
func (r *repository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.CapacityReservation, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.CapacityReservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", enums.ReservationHeld, now).
		Where(noActiveOrder, enums.ActivePaymentOrderStatuses).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// EnsureInventory lazily creates the ledger row for an event.
func (r *repository) EnsureInventory(ctx context.Context, eventID uuid.UUID, capacity int) error {
	row := models.EventInventory{EventID: eventID, Capacity: capacity, UpdatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (r *repository) Inventory(ctx context.Context, eventID uuid.UUID) (*models.EventInventory, error) {
	var row models.EventInventory
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ClaimSeats adds to held seats only while capacity allows.
func (r *repository) ClaimSeats(ctx context.Context, eventID uuid.UUID, seats int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EventInventory{}).
		Where("event_id = ? AND held_seats + sold_seats + ? <= capacity", eventID, seats).
		Updates(map[string]any{
			"held_seats": gorm.Expr("held_seats + ?", seats),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ReturnHeldSeats(ctx context.Context, eventID uuid.UUID, seats int) error {
	return r.adjust(ctx, eventID, "held_seats >= ?", seats, map[string]any{
		"held_seats": gorm.Expr("held_seats - ?", seats),
	})
}

func (r *repository) ConvertHeldSeats(ctx context.Context, eventID uuid.UUID, seats int) error {
	return r.adjust(ctx, eventID, "held_seats >= ?", seats, map[string]any{
		"held_seats": gorm.Expr("held_seats - ?", seats),
		"sold_seats": gorm.Expr("sold_seats + ?", seats),
	})
}

func (r *repository) ReturnSoldSeats(ctx context.Context, eventID uuid.UUID, seats int) error {
	return r.adjust(ctx, eventID, "sold_seats >= ?", seats, map[string]any{
		"sold_seats": gorm.Expr("sold_seats - ?", seats),
	})
}

func (r *repository) adjust(ctx context.Context, eventID uuid.UUID, guard string, seats int, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.EventInventory{}).
		Where("event_id = ?", eventID).
		Where(guard, seats).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("seat ledger for event %s cannot move %d seats", eventID, seats)
	}
	return nil
}

func withStatus(fields map[string]any, to enums.ReservationStatus) map[string]any {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	return updates
}
