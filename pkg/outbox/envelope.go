package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who caused the event. Nil for system actions
// (sweeps, gateway callbacks).
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Staff  bool      `json:"staff,omitempty"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope wraps every outbox payload. EventID equals the outbox row
// id so consumers can dedupe on it across redeliveries and replays.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

var errEmptyData = errors.New("envelope has no data")

// ParseEnvelope decodes a stored payload and rejects envelopes without data.
func ParseEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, errEmptyData
	}
	if env.Version <= 0 {
		env.Version = 1
	}
	return env, nil
}

func newEnvelope(id uuid.UUID, event DomainEvent) ([]byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", event.EventType, err)
	}
	return json.Marshal(PayloadEnvelope{
		Version:    event.Version,
		EventID:    id.String(),
		OccurredAt: event.OccurredAt,
		Actor:      event.Actor,
		Data:       data,
	})
}
