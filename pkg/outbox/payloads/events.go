package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// ReservationHeldEvent tells the requester seats were approved and held for them.
type ReservationHeldEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	EventID       uuid.UUID `json:"event_id"`
	RequesterID   uuid.UUID `json:"requester_id"`
	Seats         int       `json:"seats"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ReservationReleasedEvent is emitted when held seats return to the pool.
type ReservationReleasedEvent struct {
	ReservationID uuid.UUID               `json:"reservation_id"`
	EventID       uuid.UUID               `json:"event_id"`
	RequesterID   uuid.UUID               `json:"requester_id"`
	Seats         int                     `json:"seats"`
	Status        enums.ReservationStatus `json:"status"`
	Reason        string                  `json:"reason"`
}

// PaymentOrderStatusEvent covers terminal order transitions.
type PaymentOrderStatusEvent struct {
	OrderID           uuid.UUID                `json:"order_id"`
	ExternalID        string                   `json:"external_id"`
	EventID           uuid.UUID                `json:"event_id"`
	PayerID           uuid.UUID                `json:"payer_id"`
	Seats             int                      `json:"seats"`
	Amount            decimal.Decimal          `json:"amount"`
	Currency          enums.Currency           `json:"currency"`
	Status            enums.PaymentOrderStatus `json:"status"`
	ProviderPaymentID *string                  `json:"provider_payment_id,omitempty"`
	FailureReason     *string                  `json:"failure_reason,omitempty"`
	OccurredAt        time.Time                `json:"occurred_at"`
}

// PaymentCallbackFlaggedEvent asks operators to look at a callback that could not be applied.
type PaymentCallbackFlaggedEvent struct {
	CallbackID      uuid.UUID                `json:"callback_id"`
	OrderID         uuid.UUID                `json:"order_id"`
	ExternalOrderID string                   `json:"external_order_id"`
	Outcome         enums.CallbackOutcome    `json:"outcome"`
	OrderStatus     enums.PaymentOrderStatus `json:"order_status"`
	Detail          string                   `json:"detail"`
}

// PayoutSnapshotCapturedEvent carries the frozen payout figures to reporting.
type PayoutSnapshotCapturedEvent struct {
	SnapshotID       uuid.UUID                  `json:"snapshot_id"`
	EventID          uuid.UUID                  `json:"event_id"`
	Source           enums.PayoutSnapshotSource `json:"source"`
	BaseFare         decimal.Decimal            `json:"base_fare"`
	FinalFare        decimal.Decimal            `json:"final_fare"`
	TicketsSold      int                        `json:"tickets_sold"`
	PlatformFee      decimal.Decimal            `json:"platform_fee"`
	HostEarning      decimal.Decimal            `json:"host_earning"`
	FeeConfigVersion *int                       `json:"fee_config_version,omitempty"`
	CapturedAt       time.Time                  `json:"captured_at"`
	RebuildCount     int                        `json:"rebuild_count"`
}

// FeeConfigUpdatedEvent records a new platform fee version for downstream audit.
type FeeConfigUpdatedEvent struct {
	Version    int             `json:"version"`
	Percentage decimal.Decimal `json:"percentage"`
	UpdatedBy  *uuid.UUID      `json:"updated_by,omitempty"`
}

// EventCompletedEvent is consumed from the event service when an event ends.
type EventCompletedEvent struct {
	EventID     uuid.UUID `json:"event_id"`
	CompletedAt time.Time `json:"completed_at"`
}
