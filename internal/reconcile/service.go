// Package reconcile applies gateway outcomes and expiry sweeps to payment
// orders. Webhooks and status polling share the same entry point.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/internal/gateway"
	"github.com/angelmondragon/eventpass-backend/internal/payments"
	"github.com/angelmondragon/eventpass-backend/internal/reservations"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/metrics"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type reservationStore interface {
	Lookup(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.CapacityReservation, error)
	Consume(ctx context.Context, tx *gorm.DB, reservation *models.CapacityReservation) (bool, error)
	Release(ctx context.Context, tx *gorm.DB, reservation *models.CapacityReservation, status enums.ReservationStatus, reason string) (bool, error)
}

type statusFetcher interface {
	Name() string
	FetchStatus(ctx context.Context, externalID string) (*gateway.Callback, error)
}

// Service reconciles gateway outcomes with payment orders.
type Service interface {
	ApplyCallback(ctx context.Context, cb gateway.Callback, source enums.CallbackSource) (*Result, error)
	RecordRejected(ctx context.Context, provider string, source enums.CallbackSource, raw map[string]string, cause error) error
	ExpireOverdue(ctx context.Context, now time.Time) (ExpirySummary, error)
	PollPending(ctx context.Context, now time.Time) (int, error)
	ListCallbacks(ctx context.Context, filter CallbackFilter) (*CallbackPage, error)
}

// Result describes what reconciliation did with one outcome.
type Result struct {
	Result  enums.CallbackResult     `json:"result"`
	OrderID *uuid.UUID               `json:"orderId,omitempty"`
	Status  enums.PaymentOrderStatus `json:"status,omitempty"`
	Flagged bool                     `json:"flagged"`
}

// ExpirySummary counts orders moved by one sweep.
type ExpirySummary struct {
	Expired      int
	ForceExpired int
}

// ServiceParams wires the reconciler.
type ServiceParams struct {
	Orders        payments.Repository
	Callbacks     CallbackRepository
	Reservations  reservationStore
	Gateway       statusFetcher
	Tx            txRunner
	Outbox        outboxPublisher
	Logger        *logger.Logger
	Metrics       *metrics.PaymentMetrics
	PendingGrace  time.Duration
	StatusPollAge time.Duration
	BatchSize     int
}

type service struct {
	orders        payments.Repository
	callbacks     CallbackRepository
	reservations  reservationStore
	gateway       statusFetcher
	tx            txRunner
	outbox        outboxPublisher
	logg          *logger.Logger
	metrics       *metrics.PaymentMetrics
	pendingGrace  time.Duration
	statusPollAge time.Duration
	batchSize     int
	now           func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("payment order repository required")
	}
	if params.Callbacks == nil {
		return nil, fmt.Errorf("callback repository required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation service required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &service{
		orders:        params.Orders,
		callbacks:     params.Callbacks,
		reservations:  params.Reservations,
		gateway:       params.Gateway,
		tx:            params.Tx,
		outbox:        params.Outbox,
		logg:          params.Logger,
		metrics:       params.Metrics,
		pendingGrace:  params.PendingGrace,
		statusPollAge: params.StatusPollAge,
		batchSize:     batch,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// ApplyCallback moves the order named by cb to the outcome's terminal state
// at most once. Replays of an applied outcome report duplicate. A different
// outcome for an order that already settled is recorded, flagged for
// operators and returned as a terminal_conflict. When the transaction itself
// fails, a flagged error row is still written so the outcome stays auditable.
func (s *service) ApplyCallback(ctx context.Context, cb gateway.Callback, source enums.CallbackSource) (*Result, error) {
	if cb.ExternalOrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external order id required")
	}
	trigger, err := payments.TriggerForOutcome(cb.Outcome)
	if err != nil {
		return nil, err
	}
	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithFields(ctx, map[string]any{
			"external_order_id": cb.ExternalOrderID,
			"outcome":           cb.Outcome,
			"source":            source,
		})
	}

	var (
		result    *Result
		returnErr error
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orders := s.orders.WithTx(tx)
		order, err := orders.FindByExternalID(ctx, cb.ExternalOrderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result = &Result{Result: enums.CallbackResultNotFound, Flagged: true}
			returnErr = pkgerrors.New(pkgerrors.CodeNotFound, "payment order not found")
			return s.record(ctx, tx, cb, source, nil, result, "unknown external order id")
		}
		if err != nil {
			return err
		}
		orderID := order.ID

		if cb.Outcome == enums.CallbackOutcomeSuccess && !cb.Amount.Equal(order.Amount) {
			result = &Result{Result: enums.CallbackResultInvalid, OrderID: &orderID, Status: order.Status, Flagged: true}
			detail := fmt.Sprintf("callback amount %s does not match order amount %s", cb.Amount.StringFixed(2), order.Amount.StringFixed(2))
			returnErr = pkgerrors.New(pkgerrors.CodeValidation, detail).
				WithReason(pkgerrors.ReasonAmountMismatch).
				WithDetails(map[string]any{"expected": order.Amount, "received": cb.Amount})
			if err := s.record(ctx, tx, cb, source, order, result, detail); err != nil {
				return err
			}
			return s.flag(ctx, tx, cb, order, detail)
		}

		if handled, err := s.settled(ctx, tx, cb, source, order, &result, &returnErr); handled || err != nil {
			return err
		}

		now := s.now()
		moved, err := orders.Transition(ctx, order.ID, trigger, transitionFields(cb, now))
		if err != nil {
			return err
		}
		if !moved {
			// lost a race with another callback or the sweep
			fresh, err := orders.FindByID(ctx, order.ID)
			if err != nil {
				return err
			}
			handled, err := s.settled(ctx, tx, cb, source, fresh, &result, &returnErr)
			if err != nil {
				return err
			}
			if !handled {
				return fmt.Errorf("order %s did not move on %s", order.ID, trigger)
			}
			return nil
		}

		from := order.Status
		applyFields(order, cb, now)
		flagged, detail, err := s.settleReservation(ctx, tx, order)
		if err != nil {
			return err
		}
		if err := s.emitStatus(ctx, tx, order, now); err != nil {
			return err
		}
		result = &Result{Result: enums.CallbackResultApplied, OrderID: &orderID, Status: order.Status, Flagged: flagged}
		if err := s.record(ctx, tx, cb, source, order, result, detail); err != nil {
			return err
		}
		if flagged {
			if err := s.flag(ctx, tx, cb, order, detail); err != nil {
				return err
			}
		}
		s.metrics.IncTransition(from.String(), order.Status.String())
		return nil
	})
	if err != nil {
		s.metrics.IncCallback(string(source), string(enums.CallbackResultError))
		if s.logg != nil {
			s.logg.Error(logCtx, "apply gateway callback", err)
		}
		// the transaction rolled back its own audit row
		failed := &Result{Result: enums.CallbackResultError, Flagged: true}
		if recErr := s.record(context.WithoutCancel(ctx), nil, cb, source, nil, failed, err.Error()); recErr != nil && s.logg != nil {
			s.logg.Error(logCtx, "record failed gateway callback", recErr)
		}
		return nil, err
	}

	s.metrics.IncCallback(string(source), string(result.Result))
	if s.logg != nil {
		logCtx = s.logg.WithField(logCtx, "result", result.Result)
		switch {
		case result.Flagged:
			s.logg.Warn(logCtx, "gateway callback flagged for review")
		default:
			s.logg.Info(logCtx, "gateway callback reconciled")
		}
	}
	return result, returnErr
}

// settled handles an outcome for an order that is no longer awaiting one.
func (s *service) settled(ctx context.Context, tx *gorm.DB, cb gateway.Callback, source enums.CallbackSource, order *models.PaymentOrder, result **Result, returnErr *error) (bool, error) {
	if order.Status.IsActive() {
		return false, nil
	}
	orderID := order.ID
	benign := order.Status == enums.PaymentOrderExpired && cb.Outcome == enums.CallbackOutcomeFailure
	if order.Status == payments.StatusForOutcome(cb.Outcome) || benign {
		*result = &Result{Result: enums.CallbackResultDuplicate, OrderID: &orderID, Status: order.Status}
		return true, s.record(ctx, tx, cb, source, order, *result, "")
	}

	detail := fmt.Sprintf("%s outcome received for %s order", cb.Outcome, order.Status)
	*result = &Result{Result: enums.CallbackResultConflict, OrderID: &orderID, Status: order.Status, Flagged: true}
	*returnErr = pkgerrors.New(pkgerrors.CodeStateConflict, detail).
		WithReason(pkgerrors.ReasonTerminalConflict).
		WithDetails(map[string]any{"status": order.Status, "outcome": cb.Outcome})
	if err := s.record(ctx, tx, cb, source, order, *result, detail); err != nil {
		return true, err
	}
	return true, s.flag(ctx, tx, cb, order, detail)
}

// settleReservation consumes or releases the order's reservation. A success
// whose reservation already left the held state still stands but is flagged.
func (s *service) settleReservation(ctx context.Context, tx *gorm.DB, order *models.PaymentOrder) (bool, string, error) {
	if order.ReservationID == nil {
		return false, "", nil
	}
	reservation, err := s.reservations.Lookup(ctx, tx, *order.ReservationID)
	if err != nil {
		return false, "", err
	}
	if order.Status == enums.PaymentOrderPaid {
		consumed, err := s.reservations.Consume(ctx, tx, reservation)
		if err != nil {
			return false, "", err
		}
		if !consumed {
			return true, fmt.Sprintf("order paid but reservation was %s", reservation.Status), nil
		}
		return false, "", nil
	}
	_, err = s.reservations.Release(ctx, tx, reservation, enums.ReservationReleased, reservations.ReasonPaymentFailed)
	return false, "", err
}

// RecordRejected keeps an audit row for a callback that failed parsing or
// signature checks, so nothing the gateway sent is silently dropped.
func (s *service) RecordRejected(ctx context.Context, provider string, source enums.CallbackSource, raw map[string]string, cause error) error {
	detail := "rejected"
	if cause != nil {
		detail = cause.Error()
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	row := &models.GatewayCallback{
		Provider:        provider,
		Source:          source,
		ExternalOrderID: raw["txnid"],
		Outcome:         raw["status"],
		Result:          enums.CallbackResultInvalid,
		Flagged:         true,
		Detail:          &detail,
		Payload:         payload,
		ReceivedAt:      s.now(),
	}
	s.metrics.IncCallback(string(source), string(enums.CallbackResultInvalid))
	return s.callbacks.Record(ctx, row)
}

// ExpireOverdue expires created orders whose window closed and pending orders
// that stayed silent past the grace period, releasing their reservations.
// Orders that a callback settles first are skipped.
func (s *service) ExpireOverdue(ctx context.Context, now time.Time) (ExpirySummary, error) {
	var (
		summary ExpirySummary
		errs    error
	)

	created, err := s.orders.ListOverdueCreated(ctx, now, s.batchSize)
	if err != nil {
		return summary, err
	}
	for i := range created {
		if ctx.Err() != nil {
			return summary, multierr.Append(errs, ctx.Err())
		}
		moved, err := s.expire(ctx, &created[i], payments.TriggerWindowElapsed, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", created[i].ID, err))
			continue
		}
		if moved {
			summary.Expired++
		}
	}

	pending, err := s.orders.ListOverduePending(ctx, now.Add(-s.pendingGrace), s.batchSize)
	if err != nil {
		return summary, multierr.Append(errs, err)
	}
	for i := range pending {
		if ctx.Err() != nil {
			return summary, multierr.Append(errs, ctx.Err())
		}
		moved, err := s.expire(ctx, &pending[i], payments.TriggerForceExpire, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("force expire order %s: %w", pending[i].ID, err))
			continue
		}
		if moved {
			summary.ForceExpired++
		}
	}
	return summary, errs
}

func (s *service) expire(ctx context.Context, order *models.PaymentOrder, trigger payments.Trigger, now time.Time) (bool, error) {
	var moved bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		moved, err = s.orders.WithTx(tx).Transition(ctx, order.ID, trigger, map[string]any{"expired_at": now})
		if err != nil || !moved {
			return err
		}
		from := order.Status
		order.Status = enums.PaymentOrderExpired
		order.ExpiredAt = &now
		if order.ReservationID != nil {
			reservation, err := s.reservations.Lookup(ctx, tx, *order.ReservationID)
			if err != nil {
				return err
			}
			if _, err := s.reservations.Release(ctx, tx, reservation, enums.ReservationReleased, reservations.ReasonOrderExpired); err != nil {
				return err
			}
		}
		if err := s.emitStatus(ctx, tx, order, now); err != nil {
			return err
		}
		s.metrics.IncTransition(from.String(), order.Status.String())
		return nil
	})
	if err == nil && moved && s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		s.logg.Info(s.logg.WithField(logCtx, "trigger", trigger), "payment order expired")
	}
	return moved, err
}

// PollPending asks the gateway about pending orders that have been silent
// for longer than the poll age and applies any terminal outcome.
func (s *service) PollPending(ctx context.Context, now time.Time) (int, error) {
	if s.gateway == nil {
		return 0, fmt.Errorf("gateway adapter required for polling")
	}
	pending, err := s.orders.ListPendingSince(ctx, now.Add(-s.statusPollAge), s.batchSize)
	if err != nil {
		return 0, err
	}

	var (
		applied int
		errs    error
	)
	for _, order := range pending {
		if ctx.Err() != nil {
			return applied, multierr.Append(errs, ctx.Err())
		}
		cb, err := s.gateway.FetchStatus(ctx, order.ExternalID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("fetch status %s: %w", order.ExternalID, err))
			continue
		}
		if cb == nil {
			continue
		}
		result, err := s.ApplyCallback(ctx, *cb, enums.CallbackSourcePoll)
		if err != nil {
			// conflicts are already recorded and flagged
			if pkgerrors.HasReason(err, pkgerrors.ReasonTerminalConflict) || pkgerrors.HasReason(err, pkgerrors.ReasonAmountMismatch) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("apply status %s: %w", order.ExternalID, err))
			continue
		}
		if result.Result == enums.CallbackResultApplied {
			applied++
		}
	}
	return applied, errs
}

func (s *service) ListCallbacks(ctx context.Context, filter CallbackFilter) (*CallbackPage, error) {
	page, err := s.callbacks.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list gateway callbacks")
	}
	return page, nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, cb gateway.Callback, source enums.CallbackSource, order *models.PaymentOrder, result *Result, detail string) error {
	row := &models.GatewayCallback{
		Provider:        cb.Provider,
		Source:          source,
		ExternalOrderID: cb.ExternalOrderID,
		Outcome:         string(cb.Outcome),
		Result:          result.Result,
		Flagged:         result.Flagged,
		ReceivedAt:      s.now(),
	}
	if row.Provider == "" && s.gateway != nil {
		row.Provider = s.gateway.Name()
	}
	if order != nil {
		id := order.ID
		row.OrderID = &id
	}
	if detail != "" {
		row.Detail = &detail
	}
	if cb.ProviderPaymentID != "" {
		paymentID := cb.ProviderPaymentID
		row.ProviderPaymentID = &paymentID
	}
	if len(cb.Raw) > 0 {
		payload, err := json.Marshal(cb.Raw)
		if err != nil {
			return err
		}
		row.Payload = payload
	}
	return s.callbacks.WithTx(tx).Record(ctx, row)
}

func (s *service) flag(ctx context.Context, tx *gorm.DB, cb gateway.Callback, order *models.PaymentOrder, detail string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentCallbackFlagged,
		AggregateType: enums.AggregatePaymentOrder,
		AggregateID:   order.ID,
		Data: payloads.PaymentCallbackFlaggedEvent{
			OrderID:         order.ID,
			ExternalOrderID: cb.ExternalOrderID,
			Outcome:         cb.Outcome,
			OrderStatus:     order.Status,
			Detail:          detail,
		},
	})
}

func (s *service) emitStatus(ctx context.Context, tx *gorm.DB, order *models.PaymentOrder, at time.Time) error {
	eventType, ok := payments.StatusEventType(order.Status)
	if !ok {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePaymentOrder,
		AggregateID:   order.ID,
		Data:          payments.StatusEvent(order, at),
		OccurredAt:    at,
	})
}

func transitionFields(cb gateway.Callback, now time.Time) map[string]any {
	fields := map[string]any{}
	if cb.ProviderPaymentID != "" {
		fields["provider_payment_id"] = cb.ProviderPaymentID
	}
	if cb.ProviderTxnID != "" {
		fields["provider_txn_id"] = cb.ProviderTxnID
	}
	if cb.Outcome == enums.CallbackOutcomeSuccess {
		fields["paid_at"] = now
		return fields
	}
	fields["failed_at"] = now
	if cb.FailureReason != "" {
		fields["failure_reason"] = cb.FailureReason
	}
	return fields
}

func applyFields(order *models.PaymentOrder, cb gateway.Callback, now time.Time) {
	order.Status = payments.StatusForOutcome(cb.Outcome)
	if cb.ProviderPaymentID != "" {
		paymentID := cb.ProviderPaymentID
		order.ProviderPaymentID = &paymentID
	}
	if cb.ProviderTxnID != "" {
		txnID := cb.ProviderTxnID
		order.ProviderTxnID = &txnID
	}
	if order.Status == enums.PaymentOrderPaid {
		order.PaidAt = &now
		return
	}
	order.FailedAt = &now
	if cb.FailureReason != "" {
		reason := cb.FailureReason
		order.FailureReason = &reason
	}
}
