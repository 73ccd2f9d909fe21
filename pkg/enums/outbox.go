package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregatePaymentOrder   OutboxAggregateType = "payment_order"
	AggregateReservation    OutboxAggregateType = "capacity_reservation"
	AggregatePayoutSnapshot OutboxAggregateType = "payout_snapshot"
	AggregateFeeConfig      OutboxAggregateType = "platform_fee_config"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePaymentOrder,
	AggregateReservation,
	AggregatePayoutSnapshot,
	AggregateFeeConfig,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventReservationHeld        OutboxEventType = "reservation_held"
	EventReservationReleased    OutboxEventType = "reservation_released"
	EventPaymentOrderPaid       OutboxEventType = "payment_order_paid"
	EventPaymentOrderFailed     OutboxEventType = "payment_order_failed"
	EventPaymentOrderExpired    OutboxEventType = "payment_order_expired"
	EventPaymentOrderRefunded   OutboxEventType = "payment_order_refunded"
	EventPaymentCallbackFlagged OutboxEventType = "payment_callback_flagged"
	EventPayoutSnapshotCaptured OutboxEventType = "payout_snapshot_captured"
	EventFeeConfigUpdated       OutboxEventType = "fee_config_updated"
)

var validOutboxEventTypes = []OutboxEventType{
	EventReservationHeld,
	EventReservationReleased,
	EventPaymentOrderPaid,
	EventPaymentOrderFailed,
	EventPaymentOrderExpired,
	EventPaymentOrderRefunded,
	EventPaymentCallbackFlagged,
	EventPayoutSnapshotCaptured,
	EventFeeConfigUpdated,
}

// EventCompleted is published by the event service, never written to the outbox.
const EventCompleted OutboxEventType = "event_completed"

// ParseConsumedEventType accepts the event types the workers subscribe to.
func ParseConsumedEventType(value string) (OutboxEventType, error) {
	switch OutboxEventType(value) {
	case EventCompleted, EventPayoutSnapshotCaptured:
		return OutboxEventType(value), nil
	}
	return "", fmt.Errorf("unsupported consumed event type %q", value)
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason maps to outbox_dlq_error_reason_enum.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable:
		return true
	}
	return false
}
