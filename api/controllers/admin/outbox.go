package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/api/responses"
	"github.com/angelmondragon/eventpass-backend/api/validators"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
	"github.com/angelmondragon/eventpass-backend/pkg/pagination"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 200
)

// DeadLetterStore is implemented by outbox.DeadLetters.
type DeadLetterStore interface {
	List(ctx context.Context, filter outbox.DeadLetterFilter) (*outbox.DeadLetterPage, error)
	Replay(ctx context.Context, id uuid.UUID) (*models.OutboxDLQ, error)
}

type deadLetterView struct {
	ID            uuid.UUID                  `json:"id"`
	EventID       uuid.UUID                  `json:"eventId"`
	EventType     enums.OutboxEventType      `json:"eventType"`
	AggregateType enums.OutboxAggregateType  `json:"aggregateType"`
	AggregateID   uuid.UUID                  `json:"aggregateId"`
	ErrorReason   enums.OutboxDLQErrorReason `json:"errorReason"`
	ErrorMessage  *string                    `json:"errorMessage,omitempty"`
	AttemptCount  int                        `json:"attemptCount"`
	Payload       json.RawMessage            `json:"payload,omitempty"`
	FailedAt      time.Time                  `json:"failedAt"`
}

func toDeadLetterView(row models.OutboxDLQ) deadLetterView {
	return deadLetterView{
		ID:            row.ID,
		EventID:       row.EventID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		ErrorReason:   row.ErrorReason,
		ErrorMessage:  row.ErrorMessage,
		AttemptCount:  row.AttemptCount,
		Payload:       row.Payload,
		FailedAt:      row.FailedAt,
	}
}

// DeadLetters lists outbox rows the relay parked, newest first.
func DeadLetters(store DeadLetterStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if store == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter store unavailable"))
			return
		}
		limit, err := validators.ParseLimit(r, defaultDeadLetterLimit, maxDeadLetterLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		after, err := pagination.Decode(r.URL.Query().Get("cursor"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor").WithDetails(map[string]any{"field": "cursor"}))
			return
		}
		filter := outbox.DeadLetterFilter{After: after, Limit: limit}
		if raw := strings.TrimSpace(r.URL.Query().Get("eventType")); raw != "" {
			eventType, err := enums.ParseOutboxEventType(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid eventType").WithDetails(map[string]any{"field": "eventType"}))
				return
			}
			filter.EventType = eventType
		}

		page, err := store.List(ctx, filter)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		items := make([]deadLetterView, 0, len(page.Items))
		for _, row := range page.Items {
			items = append(items, toDeadLetterView(row))
		}
		responses.WriteSuccess(w, struct {
			Items      []deadLetterView `json:"items"`
			NextCursor string           `json:"nextCursor,omitempty"`
		}{items, page.NextCursor})
	}
}

// ReplayDeadLetter hands a parked event back to the relay.
func ReplayDeadLetter(store DeadLetterStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if store == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter store unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "deadLetterId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		row, err := store.Replay(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, toDeadLetterView(*row))
	}
}
