package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// DeadLetters lets staff inspect parked outbox rows and push them back to
// the relay once the cause is fixed.
type DeadLetters struct {
	tx     txRunner
	events *Repository
	dlq    *DLQRepository
	logg   *logger.Logger
}

func NewDeadLetters(tx txRunner, events *Repository, dlq *DLQRepository, logg *logger.Logger) (*DeadLetters, error) {
	if tx == nil || events == nil || dlq == nil {
		return nil, errors.New("tx runner, outbox repository and dlq repository are required")
	}
	return &DeadLetters{tx: tx, events: events, dlq: dlq, logg: logg}, nil
}

func (d *DeadLetters) List(ctx context.Context, filter DeadLetterFilter) (*DeadLetterPage, error) {
	page, err := d.dlq.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters")
	}
	return page, nil
}

// Replay requeues the outbox row behind a DLQ entry and drops the entry.
// The event keeps its id, so consumers that already saw it stay idempotent.
func (d *DeadLetters) Replay(ctx context.Context, id uuid.UUID) (*models.OutboxDLQ, error) {
	var replayed *models.OutboxDLQ
	err := d.tx.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := d.dlq.LockTx(tx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found")
		}
		if err != nil {
			return err
		}
		ok, err := d.events.RequeueTx(tx, entry.EventID)
		if err != nil {
			return fmt.Errorf("requeue %s: %w", entry.EventID, err)
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "outbox event already published or purged").
				WithDetails(map[string]any{"eventId": entry.EventID})
		}
		if err := d.dlq.DeleteTx(tx, entry.ID); err != nil {
			return err
		}
		replayed = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	if d.logg != nil {
		d.logg.Info(d.logg.WithFields(ctx, map[string]any{
			"event_id":     replayed.EventID.String(),
			"event_type":   replayed.EventType,
			"error_reason": replayed.ErrorReason,
		}), "dead letter requeued")
	}
	return replayed, nil
}
