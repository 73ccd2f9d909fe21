package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/payloads"
)

// ErrUnpublishable marks an outbox row that no retry can fix. The relay
// dead-letters it instead of backing off.
var ErrUnpublishable = errors.New("unpublishable outbox event")

// Unpublishable wraps err with ErrUnpublishable.
func Unpublishable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnpublishable, err)
}

// Route says where an event type is published and which aggregate owns it.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is an outbox row checked against its route with the
// payload decoded.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
}

// EventRegistry holds the outbound routes and the payload schemas used to
// vet rows before they leave the database.
type EventRegistry struct {
	routes   map[enums.OutboxEventType]Route
	decoders *Decoders
}

type routeBuilder struct {
	reg *EventRegistry
	err error
}

func route[T any](b *routeBuilder, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) {
	if b.err != nil {
		return
	}
	if err := RegisterJSON[T](b.reg.decoders, eventType, 1); err != nil {
		b.err = err
		return
	}
	b.reg.routes[eventType] = Route{EventType: eventType, AggregateType: aggregate, Topic: topic}
}

// NewEventRegistry routes notification-worthy events, payment order
// transitions and reporting events to their configured topics.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	for name, topic := range map[string]string{
		"notification": cfg.NotificationTopic,
		"payments":     cfg.PaymentsTopic,
		"reporting":    cfg.ReportingTopic,
	} {
		if topic == "" {
			return nil, fmt.Errorf("%s topic is required", name)
		}
	}

	b := &routeBuilder{reg: &EventRegistry{
		routes:   make(map[enums.OutboxEventType]Route),
		decoders: NewDecoders(),
	}}
	route[payloads.ReservationHeldEvent](b, enums.EventReservationHeld, enums.AggregateReservation, cfg.NotificationTopic)
	route[payloads.ReservationReleasedEvent](b, enums.EventReservationReleased, enums.AggregateReservation, cfg.NotificationTopic)
	route[payloads.PaymentCallbackFlaggedEvent](b, enums.EventPaymentCallbackFlagged, enums.AggregatePaymentOrder, cfg.NotificationTopic)

	route[payloads.PaymentOrderStatusEvent](b, enums.EventPaymentOrderPaid, enums.AggregatePaymentOrder, cfg.PaymentsTopic)
	route[payloads.PaymentOrderStatusEvent](b, enums.EventPaymentOrderFailed, enums.AggregatePaymentOrder, cfg.PaymentsTopic)
	route[payloads.PaymentOrderStatusEvent](b, enums.EventPaymentOrderExpired, enums.AggregatePaymentOrder, cfg.PaymentsTopic)
	route[payloads.PaymentOrderStatusEvent](b, enums.EventPaymentOrderRefunded, enums.AggregatePaymentOrder, cfg.PaymentsTopic)

	route[payloads.PayoutSnapshotCapturedEvent](b, enums.EventPayoutSnapshotCaptured, enums.AggregatePayoutSnapshot, cfg.ReportingTopic)
	route[payloads.FeeConfigUpdatedEvent](b, enums.EventFeeConfigUpdated, enums.AggregateFeeConfig, cfg.ReportingTopic)
	if b.err != nil {
		return nil, b.err
	}
	return b.reg, nil
}

// Topics lists the distinct topics the registry publishes to.
func (r *EventRegistry) Topics() []string {
	seen := map[string]bool{}
	var out []string
	for _, rt := range r.routes {
		if !seen[rt.Topic] {
			seen[rt.Topic] = true
			out = append(out, rt.Topic)
		}
	}
	return out
}

// Resolve checks the row against its route and decodes the payload at the
// envelope's schema version. Every failure wraps ErrUnpublishable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	rt, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, Unpublishable(fmt.Errorf("no route for event type %s", event.EventType))
	case rt.AggregateType != event.AggregateType:
		return nil, Unpublishable(fmt.Errorf("%s belongs to %s, row says %s", event.EventType, rt.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, Unpublishable(fmt.Errorf("%s row has no aggregate id", event.EventType))
	}

	envelope, err := outbox.ParseEnvelope(event.Payload)
	if err != nil {
		return nil, Unpublishable(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload, err := r.decoders.DecodeAny(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, Unpublishable(err)
	}
	return &ResolvedEvent{Route: rt, Envelope: envelope, Payload: payload}, nil
}
