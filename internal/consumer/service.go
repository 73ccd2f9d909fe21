// Package consumer runs a Pub/Sub subscription through a handler with Redis
// backed at-most-once processing per event id.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
)

// Envelope is a decoded message ready for a handler.
type Envelope struct {
	EventID     uuid.UUID
	EventType   enums.OutboxEventType
	AggregateID string
	Version     int
	OccurredAt  time.Time
	Payload     json.RawMessage
}

// Handler processes one envelope. Returning an error nacks the message.
type Handler interface {
	Handle(ctx context.Context, envelope Envelope) error
}

// HandlerFunc adapts functions to the Handler interface.
type HandlerFunc func(ctx context.Context, envelope Envelope) error

// Handle calls the underlying function.
func (fn HandlerFunc) Handle(ctx context.Context, envelope Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

// PermanentError marks a message that will never succeed; it is acked and logged.
type PermanentError struct {
	Err error
}

func (e PermanentError) Error() string {
	if e.Err == nil {
		return "permanent consumer error"
	}
	return e.Err.Error()
}

func (e PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the consumer acks instead of redelivering.
func Permanent(err error) error {
	return PermanentError{Err: err}
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type claimLedger interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Service consumes one subscription.
type Service struct {
	name         string
	subscription receiver
	handler      Handler
	ledger       claimLedger
	logg         *logger.Logger
}

// NewService wires a named consumer. The name scopes its idempotency keys.
func NewService(name string, subscription receiver, handler Handler, ledger claimLedger, logg *logger.Logger) (*Service, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("consumer name is required")
	}
	if subscription == nil {
		return nil, errors.New("subscription is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if ledger == nil {
		return nil, errors.New("idempotency ledger is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		name:         strings.TrimSpace(name),
		subscription: subscription,
		handler:      handler,
		ledger:       ledger,
		logg:         logg,
	}, nil
}

// Name identifies the consumer in logs and idempotency keys.
func (s *Service) Name() string { return s.name }

// Run receives until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if s.process(innerCtx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process reports whether the message should be acked.
func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) bool {
	fields := map[string]any{
		"consumer":   s.name,
		"message_id": msg.ID,
	}
	logCtx := s.logg.WithFields(ctx, fields)

	envelope, err := decodeEnvelope(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "invalid message envelope dropped")
		return true
	}
	fields["event_id"] = envelope.EventID.String()
	fields["event_type"] = envelope.EventType
	fields["aggregate_id"] = envelope.AggregateID
	logCtx = s.logg.WithFields(ctx, fields)

	claimed, err := s.ledger.Claim(logCtx, s.name, envelope.EventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	if !claimed {
		s.logg.Info(logCtx, "event already processed")
		return true
	}

	if err := s.handler.Handle(logCtx, *envelope); err != nil {
		var permanent PermanentError
		if errors.As(err, &permanent) {
			s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "event dropped")
			return true
		}
		s.logg.Error(logCtx, "handler error", err)
		if delErr := s.ledger.Release(logCtx, s.name, envelope.EventID); delErr != nil {
			s.logg.Error(logCtx, "release idempotency mark", delErr)
		}
		return false
	}

	s.logg.Info(logCtx, "event handled")
	return true
}

func decodeEnvelope(msg *gcppubsub.Message) (*Envelope, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &stored); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}

	eventType, err := enums.ParseConsumedEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}

	rawID := strings.TrimSpace(stored.EventID)
	if rawID == "" {
		rawID = strings.TrimSpace(msg.Attributes["event_id"])
	}
	if rawID == "" {
		return nil, errors.New("event_id missing")
	}
	eventID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("event_id: %w", err)
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if created := strings.TrimSpace(msg.Attributes["created_at"]); created != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, created); err == nil {
				occurredAt = parsed
			}
		}
	}

	version := stored.Version
	if version <= 0 {
		version = 1
	}

	return &Envelope{
		EventID:     eventID,
		EventType:   eventType,
		AggregateID: strings.TrimSpace(msg.Attributes["aggregate_id"]),
		Version:     version,
		OccurredAt:  occurredAt.UTC(),
		Payload:     stored.Data,
	}, nil
}
