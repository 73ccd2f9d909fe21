// Package payments owns payment orders: creation against a live reservation,
// the gateway hand-off and the order state machine.
package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/internal/fees"
	"github.com/angelmondragon/eventpass-backend/internal/gateway"
	"github.com/angelmondragon/eventpass-backend/pkg/auth"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/metrics"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
)

const externalIDHashChars = 16

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type eventLoader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

type reservationGate interface {
	ValidateForOrder(ctx context.Context, tx *gorm.DB, key string, eventID, payerID uuid.UUID) (*models.CapacityReservation, error)
	ReturnConsumed(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) (bool, error)
}

type feeSource interface {
	Current(ctx context.Context) fees.Config
}

type redirectBuilder interface {
	BuildRedirect(ctx context.Context, req gateway.RedirectRequest) (*gateway.Redirect, error)
}

// Service exposes payment order operations.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*CheckoutResult, error)
	ResumeOrder(ctx context.Context, orderID uuid.UUID, payer auth.Actor) (*CheckoutResult, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, requester auth.Actor) (*models.PaymentOrder, error)
	RefundOrder(ctx context.Context, orderID uuid.UUID, actor auth.Actor) (*models.PaymentOrder, error)
}

// CreateOrderInput is a payer starting checkout for a held reservation.
// ClaimedAmount is the total the client displayed and must match the server
// computed total exactly.
type CreateOrderInput struct {
	EventID        uuid.UUID
	Payer          auth.Actor
	ReservationKey string
	ClaimedAmount  decimal.Decimal
}

// ServiceParams wires the payment order service.
type ServiceParams struct {
	Repo         Repository
	Events       eventLoader
	Reservations reservationGate
	Fees         feeSource
	Gateway      redirectBuilder
	Tx           txRunner
	Outbox       outboxPublisher
	Config       config.PaymentsConfig
	Logger       *logger.Logger
	Metrics      *metrics.PaymentMetrics
}

type service struct {
	repo         Repository
	events       eventLoader
	reservations reservationGate
	fees         feeSource
	gateway      redirectBuilder
	tx           txRunner
	outbox       outboxPublisher
	cfg          config.PaymentsConfig
	currency     enums.Currency
	logg         *logger.Logger
	metrics      *metrics.PaymentMetrics
	now          func() time.Time
}

// NewService builds the payment order service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payment order repository required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("event loader required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation service required")
	}
	if params.Fees == nil {
		return nil, fmt.Errorf("fee provider required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway adapter required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Config.OrderWindow <= 0 {
		return nil, fmt.Errorf("order window must be positive")
	}
	currency, err := enums.ParseCurrency(params.Config.Currency)
	if err != nil {
		return nil, err
	}
	return &service{
		repo:         params.Repo,
		events:       params.Events,
		reservations: params.Reservations,
		fees:         params.Fees,
		gateway:      params.Gateway,
		tx:           params.Tx,
		outbox:       params.Outbox,
		cfg:          params.Config,
		currency:     currency,
		logg:         params.Logger,
		metrics:      params.Metrics,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*CheckoutResult, error) {
	if input.Payer.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.ReservationKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation key required")
	}
	if !input.ClaimedAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithEventID(ctx, input.EventID.String())
		logCtx = s.logg.WithReservationKey(logCtx, input.ReservationKey)
	}

	order, event, err := s.insertOrder(ctx, input)
	if err != nil {
		s.metrics.IncOrderCreate(createResult(err))
		return nil, err
	}
	s.metrics.IncOrderCreate("created")
	if s.logg != nil {
		logCtx = s.logg.WithOrderID(logCtx, order.ID.String())
		s.logg.Info(logCtx, "payment order created")
	}

	return s.issueRedirect(logCtx, order, event.Title, input.Payer)
}

func (s *service) insertOrder(ctx context.Context, input CreateOrderInput) (*models.PaymentOrder, *models.Event, error) {
	if s.cfg.CreateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CreateTimeout)
		defer cancel()
	}

	event, err := s.events.Get(ctx, input.EventID)
	if err != nil {
		return nil, nil, mapError(err, "load event")
	}
	if !event.IsPaid {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "event is free")
	}

	var order *models.PaymentOrder
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		reservation, err := s.reservations.ValidateForOrder(ctx, tx, input.ReservationKey, event.ID, input.Payer.UserID)
		if err != nil {
			return err
		}

		repo := s.repo.WithTx(tx)
		existing, err := repo.FindActiveByReservation(ctx, reservation.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return duplicateActiveOrder(existing)
		}

		breakdown, err := fees.Compute(event.BaseFare, reservation.Seats, s.fees.Current(ctx))
		if err != nil {
			return err
		}
		if !breakdown.TotalAmount.Equal(input.ClaimedAmount) {
			return pkgerrors.New(pkgerrors.CodeValidation, "amount does not match the current price").
				WithReason(pkgerrors.ReasonAmountMismatch).
				WithDetails(map[string]any{"expected": breakdown})
		}

		attempts, err := repo.CountByReservation(ctx, reservation.ID)
		if err != nil {
			return err
		}
		attempt := int(attempts) + 1
		reservationID := reservation.ID
		order = &models.PaymentOrder{
			ID:                uuid.New(),
			ExternalID:        s.externalID(input.ReservationKey, attempt),
			Attempt:           attempt,
			EventID:           event.ID,
			PayerID:           input.Payer.UserID,
			ReservationID:     &reservationID,
			Seats:             reservation.Seats,
			BaseFare:          breakdown.BaseFare,
			FeePercentage:     breakdown.FeePercentage,
			FeeConfigVersion:  breakdown.FeeConfigVersion,
			PlatformFee:       breakdown.PlatformFee,
			FinalPricePerSeat: breakdown.FinalPricePerSeat,
			Amount:            breakdown.TotalAmount,
			Currency:          s.currency,
			Status:            enums.PaymentOrderCreated,
			ExpiresAt:         s.now().Add(s.cfg.OrderWindow),
		}
		if err := repo.Create(ctx, order); err != nil {
			if db.IsUniqueViolation(err, activeReservationIndex) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "an order is already in progress for this reservation").
					WithReason(pkgerrors.ReasonDuplicateActiveOrder)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, mapError(err, "create payment order")
	}
	return order, event, nil
}

// ResumeOrder rebuilds the gateway redirect for an order still awaiting payment.
func (s *service) ResumeOrder(ctx context.Context, orderID uuid.UUID, payer auth.Actor) (*CheckoutResult, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payer.UserID == uuid.Nil || order.PayerID != payer.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another payer")
	}
	if !order.Status.IsActive() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer awaiting payment").
			WithReason(pkgerrors.ReasonIllegalTransition).
			WithDetails(map[string]any{"status": order.Status})
	}
	if !s.now().Before(order.ExpiresAt) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment window has elapsed").
			WithDetails(map[string]any{"status": order.Status, "expiresAt": order.ExpiresAt})
	}
	event, err := s.events.Get(ctx, order.EventID)
	if err != nil {
		return nil, mapError(err, "load event")
	}
	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithOrderID(ctx, order.ID.String())
	}
	return s.issueRedirect(logCtx, order, event.Title, payer)
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID, requester auth.Actor) (*models.PaymentOrder, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !requester.CanAccess(order.PayerID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another payer")
	}
	return order, nil
}

// RefundOrder marks a paid order refunded and gives its seats back. Moving the
// money is handled outside this service from the emitted event.
func (s *service) RefundOrder(ctx context.Context, orderID uuid.UUID, actor auth.Actor) (*models.PaymentOrder, error) {
	if !actor.Staff {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff only")
	}

	var order *models.PaymentOrder
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment order not found")
			}
			return err
		}
		now := s.now()
		moved, err := repo.Transition(ctx, current.ID, TriggerRefund, map[string]any{
			"refunded_at": now,
			"refunded_by": actor.UserID,
		})
		if err != nil {
			return err
		}
		if !moved {
			_, err := Next(current.Status, TriggerRefund)
			if err == nil {
				err = pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently").
					WithReason(pkgerrors.ReasonIllegalTransition)
			}
			return err
		}
		if current.ReservationID != nil {
			if _, err := s.reservations.ReturnConsumed(ctx, tx, *current.ReservationID); err != nil {
				return err
			}
		}

		from := current.Status
		current.Status = enums.PaymentOrderRefunded
		current.RefundedAt = &now
		refundedBy := actor.UserID
		current.RefundedBy = &refundedBy
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentOrderRefunded,
			AggregateType: enums.AggregatePaymentOrder,
			AggregateID:   current.ID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Staff: true},
			Data:          StatusEvent(current, now),
			OccurredAt:    now,
		}); err != nil {
			return err
		}
		s.metrics.IncTransition(from.String(), current.Status.String())
		order = current
		return nil
	})
	if err != nil {
		return nil, mapError(err, "refund payment order")
	}
	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		logCtx = s.logg.WithUserID(logCtx, actor.UserID.String())
		s.logg.Info(logCtx, "payment order refunded")
	}
	return order, nil
}

// issueRedirect asks the gateway for the checkout form and moves a created
// order to pending. A gateway failure leaves the order created so the payer can
// resume it.
func (s *service) issueRedirect(ctx context.Context, order *models.PaymentOrder, productInfo string, payer auth.Actor) (*CheckoutResult, error) {
	req := gateway.RedirectRequest{
		ExternalID:  order.ExternalID,
		Amount:      order.Amount,
		Currency:    order.Currency,
		ProductInfo: productInfo,
		Customer: gateway.Customer{
			Name:  payer.Name,
			Email: payer.Email,
			Phone: payer.Phone,
		},
		Reference: order.ID.String(),
	}

	var redirect *gateway.Redirect
	err := retry.Do(ctx, s.redirectBackoff(), func(ctx context.Context) error {
		built, err := s.gateway.BuildRedirect(ctx, req)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
				return err
			}
			return retry.RetryableError(err)
		}
		redirect = built
		return nil
	})
	if err != nil {
		s.metrics.IncRedirect("failed")
		if s.logg != nil {
			s.logg.Error(ctx, "build gateway redirect", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway unavailable, try again").
			WithDetails(map[string]any{"orderId": order.ID, "status": order.Status})
	}
	s.metrics.IncRedirect("ok")

	if order.Status == enums.PaymentOrderCreated {
		issuedAt := s.now()
		moved, err := s.repo.Transition(ctx, order.ID, TriggerRedirectIssued, map[string]any{
			"redirect_issued_at": issuedAt,
		})
		if err != nil {
			return nil, mapError(err, "mark redirect issued")
		}
		if moved {
			s.metrics.IncTransition(order.Status.String(), enums.PaymentOrderPending.String())
			order.Status = enums.PaymentOrderPending
			order.RedirectIssuedAt = &issuedAt
		} else if fresh, err := s.repo.FindByID(ctx, order.ID); err == nil {
			// a callback or the sweep got there first
			order = fresh
		}
	}

	return &CheckoutResult{Order: NewOrderView(order), GatewayRedirect: redirect}, nil
}

func (s *service) redirectBackoff() retry.Backoff {
	attempts := s.cfg.RedirectAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := s.cfg.RedirectBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))
}

func (s *service) findOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentOrder, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment order not found")
		}
		return nil, mapError(err, "load payment order")
	}
	return order, nil
}

// externalID is stable for a reservation and attempt, so a replayed create can
// never mint a second provider transaction for the same attempt.
func (s *service) externalID(reservationKey string, attempt int) string {
	sum := sha256.Sum256([]byte(reservationKey))
	prefix := s.cfg.ExternalIDPrefix
	if prefix == "" {
		prefix = "EP"
	}
	return fmt.Sprintf("%s-%s-%d", prefix, hex.EncodeToString(sum[:])[:externalIDHashChars], attempt)
}

func duplicateActiveOrder(existing *models.PaymentOrder) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "an order is already in progress for this reservation").
		WithReason(pkgerrors.ReasonDuplicateActiveOrder).
		WithDetails(map[string]any{"order": NewOrderView(existing)})
}

func createResult(err error) string {
	switch {
	case pkgerrors.HasReason(err, pkgerrors.ReasonDuplicateActiveOrder):
		return "duplicate"
	case pkgerrors.HasReason(err, pkgerrors.ReasonAmountMismatch):
		return "amount_mismatch"
	case pkgerrors.HasReason(err, pkgerrors.ReasonNoActiveReservation):
		return "no_reservation"
	case pkgerrors.IsCode(err, pkgerrors.CodeTimeout):
		return "timeout"
	default:
		return "error"
	}
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
