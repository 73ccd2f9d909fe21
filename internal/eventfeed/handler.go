// Package eventfeed applies event lifecycle messages from the event service.
package eventfeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/internal/consumer"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/registry"
)

// ConsumerName scopes the idempotency keys of this handler.
const ConsumerName = "event-completed"

type eventStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Event, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) (bool, error)
}

type snapshotBuilder interface {
	BuildSnapshot(ctx context.Context, eventID uuid.UUID) (*models.PayoutSnapshot, error)
}

// Handler marks events completed and captures their payout snapshot.
type Handler struct {
	events   eventStore
	payouts  snapshotBuilder
	decoders *registry.Decoders
	logg     *logger.Logger
}

func NewHandler(events eventStore, payouts snapshotBuilder, logg *logger.Logger) (*Handler, error) {
	if events == nil {
		return nil, errors.New("events repository is required")
	}
	if payouts == nil {
		return nil, errors.New("payouts service is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	decoders := registry.NewDecoders()
	if err := registry.RegisterJSON[payloads.EventCompletedEvent](decoders, enums.EventCompleted, 1); err != nil {
		return nil, err
	}
	return &Handler{events: events, payouts: payouts, decoders: decoders, logg: logg}, nil
}

// Handle implements consumer.Handler.
func (h *Handler) Handle(ctx context.Context, envelope consumer.Envelope) error {
	if envelope.EventType != enums.EventCompleted {
		return consumer.Permanent(fmt.Errorf("unexpected event type %s", envelope.EventType))
	}
	completed, err := registry.Decode[payloads.EventCompletedEvent](h.decoders, envelope.EventType, envelope.Version, envelope.Payload)
	if err != nil {
		return consumer.Permanent(fmt.Errorf("decode event_completed: %w", err))
	}
	if completed.EventID == uuid.Nil {
		return consumer.Permanent(errors.New("event_completed without event_id"))
	}
	completedAt := completed.CompletedAt
	if completedAt.IsZero() {
		completedAt = envelope.OccurredAt
	}

	logCtx := h.logg.WithEventID(ctx, completed.EventID.String())
	event, err := h.events.Get(ctx, completed.EventID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return consumer.Permanent(err)
		}
		return fmt.Errorf("load event: %w", err)
	}

	changed, err := h.events.MarkCompleted(ctx, event.ID, completedAt)
	if err != nil {
		return fmt.Errorf("mark event completed: %w", err)
	}
	if changed {
		h.logg.Info(logCtx, "event marked completed")
	}

	if !event.IsPaid {
		return nil
	}
	if _, err := h.payouts.BuildSnapshot(ctx, event.ID); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) || pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			return consumer.Permanent(err)
		}
		return fmt.Errorf("build payout snapshot: %w", err)
	}
	return nil
}
