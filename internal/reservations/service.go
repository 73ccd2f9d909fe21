// Package reservations holds seats for approved requesters until they pay or
// the hold lapses.
package reservations

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/auth"
	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/payloads"
)

const keyBytes = 32

// Release reasons recorded on the reservation row.
const (
	ReasonPaymentFailed  = "payment_failed"
	ReasonOrderExpired   = "order_expired"
	ReasonHoldExpired    = "hold_expired"
	ReasonCanceled       = "canceled"
	ReasonPaymentSettled = "payment_settled"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type eventLoader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// Service manages capacity reservations.
type Service interface {
	Hold(ctx context.Context, input HoldInput) (*models.CapacityReservation, error)
	Get(ctx context.Context, key string, actor auth.Actor) (*models.CapacityReservation, error)
	Cancel(ctx context.Context, key string, actor auth.Actor) (*models.CapacityReservation, error)
	ValidateForOrder(ctx context.Context, tx *gorm.DB, key string, eventID, payerID uuid.UUID) (*models.CapacityReservation, error)
	Lookup(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.CapacityReservation, error)
	Consume(ctx context.Context, tx *gorm.DB, reservation *models.CapacityReservation) (bool, error)
	Release(ctx context.Context, tx *gorm.DB, reservation *models.CapacityReservation, status enums.ReservationStatus, reason string) (bool, error)
	ReturnConsumed(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) (bool, error)
	ExpireStaleHolds(ctx context.Context, now time.Time, limit int) (int, error)
}

// HoldInput is a host approving a requester's join request.
type HoldInput struct {
	EventID     uuid.UUID
	RequesterID uuid.UUID
	Seats       int
	Approver    auth.Actor
}

// ServiceParams wires the reservation service.
type ServiceParams struct {
	Repo     Repository
	Events   eventLoader
	Tx       txRunner
	Outbox   outboxPublisher
	Logger   *logger.Logger
	HoldTTL  time.Duration
	MaxSeats int
}

type service struct {
	repo     Repository
	events   eventLoader
	tx       txRunner
	outbox   outboxPublisher
	logg     *logger.Logger
	holdTTL  time.Duration
	maxSeats int
	now      func() time.Time
}

// NewService builds the reservation service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("reservation repository required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("event loader required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.HoldTTL <= 0 {
		return nil, fmt.Errorf("hold ttl must be positive")
	}
	return &service{
		repo:     params.Repo,
		events:   params.Events,
		tx:       params.Tx,
		outbox:   params.Outbox,
		logg:     params.Logger,
		holdTTL:  params.HoldTTL,
		maxSeats: params.MaxSeats,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Hold(ctx context.Context, input HoldInput) (*models.CapacityReservation, error) {
	if input.Approver.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.RequesterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "requester id required")
	}
	if input.Seats < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seats must be at least 1")
	}
	if s.maxSeats > 0 && input.Seats > s.maxSeats {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d seats per requester", s.maxSeats))
	}

	event, err := s.events.Get(ctx, input.EventID)
	if err != nil {
		return nil, err
	}
	if !input.Approver.CanAccess(event.HostID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the event host can approve join requests")
	}
	if !event.IsPaid {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event is free and needs no reservation")
	}
	if event.Status != enums.EventStatusPublished {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event is not open for bookings")
	}

	key, err := newReservationKey()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate reservation key")
	}

	now := s.now()
	reservation := &models.CapacityReservation{
		ID:             uuid.New(),
		ReservationKey: key,
		EventID:        event.ID,
		RequesterID:    input.RequesterID,
		ApprovedBy:     input.Approver.UserID,
		Seats:          input.Seats,
		Status:         enums.ReservationHeld,
		ExpiresAt:      now.Add(s.holdTTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.EnsureInventory(ctx, event.ID, event.Capacity); err != nil {
			return err
		}
		claimed, err := repo.ClaimSeats(ctx, event.ID, input.Seats)
		if err != nil {
			return err
		}
		if !claimed {
			details := map[string]any{"requested": input.Seats}
			if inv, invErr := repo.Inventory(ctx, event.ID); invErr == nil {
				details["available"] = inv.Available()
			}
			return pkgerrors.New(pkgerrors.CodeConflict, "not enough seats left").
				WithReason(pkgerrors.ReasonInsufficientCapacity).
				WithDetails(details)
		}
		if err := repo.Create(ctx, reservation); err != nil {
			if db.IsUniqueViolation(err, heldPerRequesterIndex) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "requester already holds seats for this event")
			}
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReservationHeld,
			AggregateType: enums.AggregateReservation,
			AggregateID:   reservation.ID,
			Actor:         &outbox.ActorRef{UserID: input.Approver.UserID, Staff: input.Approver.Staff},
			Data: payloads.ReservationHeldEvent{
				ReservationID: reservation.ID,
				EventID:       reservation.EventID,
				RequesterID:   reservation.RequesterID,
				Seats:         reservation.Seats,
				ExpiresAt:     reservation.ExpiresAt,
			},
		})
	})
	if err != nil {
		return nil, mapError(err, "hold seats")
	}

	if s.logg != nil {
		logCtx := s.logg.WithEventID(ctx, event.ID.String())
		logCtx = s.logg.WithReservationKey(logCtx, key)
		logCtx = s.logg.WithField(logCtx, "seats", input.Seats)
		s.logg.Info(logCtx, "seats held for requester")
	}
	return reservation, nil
}

func (s *service) Get(ctx context.Context, key string, actor auth.Actor) (*models.CapacityReservation, error) {
	reservation, err := s.findByKey(ctx, s.repo, key)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, reservation, actor); err != nil {
		return nil, err
	}
	return reservation, nil
}

// Cancel releases a hold on behalf of the requester, the host or staff. A hold
// with an order in flight cannot be canceled.
func (s *service) Cancel(ctx context.Context, key string, actor auth.Actor) (*models.CapacityReservation, error) {
	reservation, err := s.findByKey(ctx, s.repo, key)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, reservation, actor); err != nil {
		return nil, err
	}
	if reservation.Status != enums.ReservationHeld {
		return nil, noActiveReservation(reservation.Status)
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.release(ctx, tx, reservation, enums.ReservationReleased, ReasonCanceled, true)
		if err != nil {
			return err
		}
		if moved {
			return nil
		}
		current, err := s.repo.WithTx(tx).FindByID(ctx, reservation.ID)
		if err != nil {
			return err
		}
		if current.Status != enums.ReservationHeld {
			return noActiveReservation(current.Status)
		}
		return pkgerrors.New(pkgerrors.CodeConflict, "reservation has a payment in progress")
	})
	if err != nil {
		return nil, mapError(err, "cancel reservation")
	}
	return reservation, nil
}

// ValidateForOrder checks, inside the order-creation transaction, that the key
// names a live hold owned by the payer for this event.
func (s *service) ValidateForOrder(ctx context.Context, tx *gorm.DB, key string, eventID, payerID uuid.UUID) (*models.CapacityReservation, error) {
	repo := s.repo.WithTx(tx)
	reservation, err := s.findByKey(ctx, repo, key)
	if err != nil {
		return nil, err
	}
	if reservation.RequesterID != payerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "reservation belongs to another requester")
	}
	if reservation.EventID != eventID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation does not belong to this event")
	}
	now := s.now()
	if reservation.Status != enums.ReservationHeld || !now.Before(reservation.ExpiresAt) {
		return nil, noActiveReservation(reservation.Status)
	}
	touched, err := repo.Touch(ctx, reservation.ID, now)
	if err != nil {
		return nil, err
	}
	if !touched {
		return nil, noActiveReservation(reservation.Status)
	}
	return reservation, nil
}

// Lookup loads a reservation by id within tx.
func (s *service) Lookup(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.CapacityReservation, error) {
	reservation, err := s.repo.WithTx(tx).FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
		}
		return nil, err
	}
	return reservation, nil
}

// Consume turns held seats into sold seats once payment settles.
func (s *service) Consume(ctx context.Context, tx *gorm.DB, reservation *models.CapacityReservation) (bool, error) {
	repo := s.repo.WithTx(tx)
	now := s.now()
	moved, err := repo.Transition(ctx, reservation.ID, enums.ReservationHeld, enums.ReservationConsumed, map[string]any{
		"consumed_at": now,
	})
	if err != nil || !moved {
		return false, err
	}
	if err := repo.ConvertHeldSeats(ctx, reservation.EventID, reservation.Seats); err != nil {
		return false, err
	}
	reservation.Status = enums.ReservationConsumed
	reservation.ConsumedAt = &now
	return true, nil
}

// Release returns held seats to the pool. It reports false when the
// reservation had already left the held state.
func (s *service) Release(ctx context.Context, tx *gorm.DB, reservation *models.CapacityReservation, status enums.ReservationStatus, reason string) (bool, error) {
	return s.release(ctx, tx, reservation, status, reason, false)
}

// ReturnConsumed gives the sold seats of a consumed reservation back to the
// pool after a refund. Reservations that never reached consumed report false.
func (s *service) ReturnConsumed(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) (bool, error) {
	repo := s.repo.WithTx(tx)
	reservation, err := repo.FindByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if reservation.Status != enums.ReservationConsumed {
		return false, nil
	}
	if err := repo.ReturnSoldSeats(ctx, reservation.EventID, reservation.Seats); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireStaleHolds expires holds whose timer elapsed without an order in flight.
func (s *service) ExpireStaleHolds(ctx context.Context, now time.Time, limit int) (int, error) {
	candidates, err := s.repo.ListExpiredHolds(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	var (
		expired int
		errs    error
	)
	for i := range candidates {
		if ctx.Err() != nil {
			return expired, multierr.Append(errs, ctx.Err())
		}
		reservation := candidates[i]
		var moved bool
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			moved, err = s.release(ctx, tx, &reservation, enums.ReservationExpired, ReasonHoldExpired, true)
			return err
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire reservation %s: %w", reservation.ID, err))
			continue
		}
		if moved {
			expired++
		}
	}
	return expired, errs
}

func (s *service) release(ctx context.Context, tx *gorm.DB, reservation *models.CapacityReservation, status enums.ReservationStatus, reason string, requireNoOrder bool) (bool, error) {
	if status != enums.ReservationReleased && status != enums.ReservationExpired {
		return false, fmt.Errorf("cannot release reservation into %s", status)
	}
	repo := s.repo.WithTx(tx)
	now := s.now()
	fields := map[string]any{
		"released_at":    now,
		"release_reason": reason,
	}

	var (
		moved bool
		err   error
	)
	if requireNoOrder {
		moved, err = repo.TransitionIfNoActiveOrder(ctx, reservation.ID, status, fields)
	} else {
		moved, err = repo.Transition(ctx, reservation.ID, enums.ReservationHeld, status, fields)
	}
	if err != nil || !moved {
		return false, err
	}
	if err := repo.ReturnHeldSeats(ctx, reservation.EventID, reservation.Seats); err != nil {
		return false, err
	}

	reservation.Status = status
	reservation.ReleasedAt = &now
	reservation.ReleaseReason = &reason

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReservationReleased,
		AggregateType: enums.AggregateReservation,
		AggregateID:   reservation.ID,
		Data: payloads.ReservationReleasedEvent{
			ReservationID: reservation.ID,
			EventID:       reservation.EventID,
			RequesterID:   reservation.RequesterID,
			Seats:         reservation.Seats,
			Status:        status,
			Reason:        reason,
		},
	}); err != nil {
		return false, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithEventID(ctx, reservation.EventID.String())
		logCtx = s.logg.WithReservationKey(logCtx, reservation.ReservationKey)
		logCtx = s.logg.WithFields(logCtx, map[string]any{"status": status, "reason": reason})
		s.logg.Info(logCtx, "reservation released")
	}
	return true, nil
}

func (s *service) findByKey(ctx context.Context, repo Repository, key string) (*models.CapacityReservation, error) {
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation key required")
	}
	reservation, err := repo.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
		}
		return nil, err
	}
	return reservation, nil
}

func (s *service) authorize(ctx context.Context, reservation *models.CapacityReservation, actor auth.Actor) error {
	if actor.CanAccess(reservation.RequesterID) {
		return nil
	}
	event, err := s.events.Get(ctx, reservation.EventID)
	if err != nil {
		return err
	}
	if actor.CanAccess(event.HostID) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "reservation belongs to another requester")
}

func noActiveReservation(status enums.ReservationStatus) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "reservation is no longer active").
		WithReason(pkgerrors.ReasonNoActiveReservation).
		WithDetails(map[string]any{"status": status})
}

func mapError(err error, action string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if db.IsTimeout(err) {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, action+" timed out").WithReason(pkgerrors.ReasonTimeout)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, action)
}

// newReservationKey returns 32 random bytes hex encoded.
func newReservationKey() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
