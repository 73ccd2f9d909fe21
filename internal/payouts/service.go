// Package payouts freezes per-event payout figures once an event completes.
package payouts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/internal/fees"
	"github.com/angelmondragon/eventpass-backend/internal/payments"
	"github.com/angelmondragon/eventpass-backend/pkg/auth"
	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/payloads"
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

type feeSource interface {
	Current(ctx context.Context) fees.Config
}

// Service builds and serves payout snapshots.
type Service interface {
	BuildSnapshot(ctx context.Context, eventID uuid.UUID) (*models.PayoutSnapshot, error)
	RebuildSnapshot(ctx context.Context, eventID uuid.UUID, actor auth.Actor) (*models.PayoutSnapshot, error)
	LiveSummary(ctx context.Context, eventID uuid.UUID, requester auth.Actor) (*Summary, error)
	RequestPayout(ctx context.Context, eventID uuid.UUID, host auth.Actor) (*models.PayoutRequest, error)
}

// Summary is what hosts and staff see for an event's earnings.
type Summary struct {
	EventID    uuid.UUID                   `json:"eventId"`
	Captured   bool                        `json:"captured"`
	Source     *enums.PayoutSnapshotSource `json:"source,omitempty"`
	CapturedAt *time.Time                  `json:"capturedAt,omitempty"`
	Figures
}

// ServiceParams wires the payout service.
type ServiceParams struct {
	Repo   Repository
	Orders payments.Repository
	Events eventLoader
	Fees   feeSource
	Tx     txRunner
	Outbox outboxPublisher
	Logger *logger.Logger
}

type service struct {
	repo   Repository
	orders payments.Repository
	events eventLoader
	fees   feeSource
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("payment order repository required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("event loader required")
	}
	if params.Fees == nil {
		return nil, fmt.Errorf("fee provider required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:   params.Repo,
		orders: params.Orders,
		events: params.Events,
		fees:   params.Fees,
		tx:     params.Tx,
		outbox: params.Outbox,
		logg:   params.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// BuildSnapshot captures the payout figures of a completed event. An existing
// snapshot is returned untouched.
func (s *service) BuildSnapshot(ctx context.Context, eventID uuid.UUID) (*models.PayoutSnapshot, error) {
	event, err := s.completedEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	current := s.fees.Current(ctx)

	var snapshot *models.PayoutSnapshot
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindSnapshot(ctx, eventID)
		if err != nil {
			return err
		}
		if existing != nil {
			snapshot = existing
			return nil
		}
		figures, source, err := s.figures(ctx, tx, event, current)
		if err != nil {
			return err
		}
		snapshot = &models.PayoutSnapshot{
			ID:         uuid.New(),
			EventID:    eventID,
			CapturedAt: s.now(),
		}
		applyFigures(snapshot, figures, source)
		if err := repo.CreateSnapshot(ctx, snapshot); err != nil {
			return err
		}
		return s.emitCaptured(ctx, tx, snapshot, nil)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			// a concurrent build won
			existing, findErr := s.repo.FindSnapshot(ctx, eventID)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, mapError(err, "build payout snapshot")
	}
	if s.logg != nil {
		logCtx := s.logg.WithEventID(ctx, eventID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{"source": snapshot.Source, "tickets_sold": snapshot.TicketsSold})
		s.logg.Info(logCtx, "payout snapshot ready")
	}
	return snapshot, nil
}

// RebuildSnapshot recomputes a snapshot on explicit staff request.
func (s *service) RebuildSnapshot(ctx context.Context, eventID uuid.UUID, actor auth.Actor) (*models.PayoutSnapshot, error) {
	if !actor.Staff {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff only")
	}
	event, err := s.completedEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	current := s.fees.Current(ctx)

	var snapshot *models.PayoutSnapshot
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindSnapshot(ctx, eventID)
		if err != nil {
			return err
		}
		figures, source, err := s.figures(ctx, tx, event, current)
		if err != nil {
			return err
		}
		now := s.now()
		if existing == nil {
			snapshot = &models.PayoutSnapshot{ID: uuid.New(), EventID: eventID, CapturedAt: now}
			applyFigures(snapshot, figures, source)
			if err := repo.CreateSnapshot(ctx, snapshot); err != nil {
				return err
			}
		} else {
			snapshot = existing
			applyFigures(snapshot, figures, source)
			rebuiltBy := actor.UserID
			snapshot.RebuiltAt = &now
			snapshot.RebuiltBy = &rebuiltBy
			snapshot.RebuildCount++
			if err := repo.SaveSnapshot(ctx, snapshot); err != nil {
				return err
			}
		}
		return s.emitCaptured(ctx, tx, snapshot, &outbox.ActorRef{UserID: actor.UserID, Staff: true})
	})
	if err != nil {
		return nil, mapError(err, "rebuild payout snapshot")
	}
	if s.logg != nil {
		logCtx := s.logg.WithEventID(ctx, eventID.String())
		logCtx = s.logg.WithUserID(logCtx, actor.UserID.String())
		s.logg.Info(s.logg.WithField(logCtx, "rebuild_count", snapshot.RebuildCount), "payout snapshot rebuilt")
	}
	return snapshot, nil
}

// LiveSummary returns the captured snapshot, or figures computed from paid
// orders with the same aggregation when none exists yet.
func (s *service) LiveSummary(ctx context.Context, eventID uuid.UUID, requester auth.Actor) (*Summary, error) {
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !requester.CanAccess(event.HostID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the event host can view payouts")
	}

	snapshot, err := s.repo.FindSnapshot(ctx, eventID)
	if err != nil {
		return nil, mapError(err, "load payout snapshot")
	}
	if snapshot != nil {
		source := snapshot.Source
		capturedAt := snapshot.CapturedAt
		return &Summary{
			EventID:    eventID,
			Captured:   true,
			Source:     &source,
			CapturedAt: &capturedAt,
			Figures:    snapshotFigures(snapshot),
		}, nil
	}

	paid, err := s.orders.ListPaidByEvent(ctx, eventID)
	if err != nil {
		return nil, mapError(err, "load paid orders")
	}
	figures, err := Aggregate(event, paid, s.fees.Current(ctx))
	if err != nil {
		return nil, err
	}
	return &Summary{EventID: eventID, Figures: figures}, nil
}

// RequestPayout stores the host's payout figures once per event. Sales must
// be closed, so only completed events qualify. Figures come from the snapshot
// when one was captured, else from the live aggregation.
func (s *service) RequestPayout(ctx context.Context, eventID uuid.UUID, host auth.Actor) (*models.PayoutRequest, error) {
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if host.UserID == uuid.Nil || host.UserID != event.HostID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the event host can request a payout")
	}
	if event.Status != enums.EventStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot request a payout for a %s event", event.Status))
	}
	current := s.fees.Current(ctx)

	var request *models.PayoutRequest
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindRequest(ctx, eventID)
		if err != nil {
			return err
		}
		if existing != nil {
			return payoutAlreadyRequested()
		}

		var figures Figures
		snapshot, err := repo.FindSnapshot(ctx, eventID)
		if err != nil {
			return err
		}
		if snapshot != nil {
			figures = snapshotFigures(snapshot)
		} else {
			paid, err := s.orders.WithTx(tx).ListPaidByEvent(ctx, eventID)
			if err != nil {
				return err
			}
			if figures, err = Aggregate(event, paid, current); err != nil {
				return err
			}
		}

		request = &models.PayoutRequest{
			ID:          uuid.New(),
			EventID:     eventID,
			HostID:      event.HostID,
			BaseFare:    figures.BaseFare,
			FinalFare:   figures.FinalFare,
			TicketsSold: figures.TicketsSold,
			PlatformFee: figures.PlatformFee,
			HostEarning: figures.HostEarning,
		}
		if err := repo.CreateRequest(ctx, request); err != nil {
			if db.IsUniqueViolation(err, "") {
				return payoutAlreadyRequested()
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err, "request payout")
	}
	if s.logg != nil {
		logCtx := s.logg.WithEventID(ctx, eventID.String())
		s.logg.Info(s.logg.WithUserID(logCtx, host.UserID.String()), "payout requested")
	}
	return request, nil
}

// figures prefers a stored payout request over recomputing from orders.
func (s *service) figures(ctx context.Context, tx *gorm.DB, event *models.Event, current fees.Config) (Figures, enums.PayoutSnapshotSource, error) {
	request, err := s.repo.WithTx(tx).FindRequest(ctx, event.ID)
	if err != nil {
		return Figures{}, "", err
	}
	if request != nil {
		return Figures{
			BaseFare:    request.BaseFare,
			FinalFare:   request.FinalFare,
			TicketsSold: request.TicketsSold,
			PlatformFee: request.PlatformFee,
			HostEarning: request.HostEarning,
		}, enums.PayoutSourcePayoutRequest, nil
	}
	paid, err := s.orders.WithTx(tx).ListPaidByEvent(ctx, event.ID)
	if err != nil {
		return Figures{}, "", err
	}
	figures, err := Aggregate(event, paid, current)
	if err != nil {
		return Figures{}, "", err
	}
	return figures, enums.PayoutSourceLiveAggregation, nil
}

func (s *service) completedEvent(ctx context.Context, eventID uuid.UUID) (*models.Event, error) {
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != enums.EventStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "event has not completed").
			WithDetails(map[string]any{"status": event.Status})
	}
	return event, nil
}

func (s *service) emitCaptured(ctx context.Context, tx *gorm.DB, snapshot *models.PayoutSnapshot, actor *outbox.ActorRef) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPayoutSnapshotCaptured,
		AggregateType: enums.AggregatePayoutSnapshot,
		AggregateID:   snapshot.ID,
		Actor:         actor,
		Data: payloads.PayoutSnapshotCapturedEvent{
			SnapshotID:       snapshot.ID,
			EventID:          snapshot.EventID,
			Source:           snapshot.Source,
			BaseFare:         snapshot.BaseFare,
			FinalFare:        snapshot.FinalFare,
			TicketsSold:      snapshot.TicketsSold,
			PlatformFee:      snapshot.PlatformFee,
			HostEarning:      snapshot.HostEarning,
			FeeConfigVersion: snapshot.FeeConfigVersion,
			CapturedAt:       snapshot.CapturedAt,
			RebuildCount:     snapshot.RebuildCount,
		},
	})
}

func applyFigures(snapshot *models.PayoutSnapshot, figures Figures, source enums.PayoutSnapshotSource) {
	snapshot.Source = source
	snapshot.BaseFare = figures.BaseFare
	snapshot.FinalFare = figures.FinalFare
	snapshot.TicketsSold = figures.TicketsSold
	snapshot.PlatformFee = figures.PlatformFee
	snapshot.HostEarning = figures.HostEarning
	snapshot.FeeConfigVersion = figures.FeeConfigVersion
}

func snapshotFigures(snapshot *models.PayoutSnapshot) Figures {
	return Figures{
		BaseFare:         snapshot.BaseFare,
		FinalFare:        snapshot.FinalFare,
		TicketsSold:      snapshot.TicketsSold,
		PlatformFee:      snapshot.PlatformFee,
		HostEarning:      snapshot.HostEarning,
		FeeConfigVersion: snapshot.FeeConfigVersion,
	}
}

func payoutAlreadyRequested() error {
	return pkgerrors.New(pkgerrors.CodeConflict, "a payout was already requested for this event")
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
