package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// PaymentOrder is a single checkout attempt against a capacity reservation.
// The fee breakdown is captured at creation and never recomputed.
type PaymentOrder struct {
	ID                uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	ExternalID        string                   `gorm:"column:external_id;not null;uniqueIndex"`
	Attempt           int                      `gorm:"column:attempt;not null"`
	EventID           uuid.UUID                `gorm:"column:event_id;type:uuid;not null"`
	PayerID           uuid.UUID                `gorm:"column:payer_id;type:uuid;not null"`
	ReservationID     *uuid.UUID               `gorm:"column:reservation_id;type:uuid"`
	Seats             int                      `gorm:"column:seats;not null"`
	BaseFare          decimal.Decimal          `gorm:"column:base_fare;type:numeric(12,2);not null"`
	FeePercentage     decimal.Decimal          `gorm:"column:fee_percentage;type:numeric(5,2);not null"`
	FeeConfigVersion  int                      `gorm:"column:fee_config_version;not null"`
	PlatformFee       decimal.Decimal          `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	FinalPricePerSeat decimal.Decimal          `gorm:"column:final_price_per_seat;type:numeric(12,2);not null"`
	Amount            decimal.Decimal          `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency          enums.Currency           `gorm:"column:currency;not null"`
	Status            enums.PaymentOrderStatus `gorm:"column:status;type:payment_order_status;not null;default:'created'"`
	ProviderPaymentID *string                  `gorm:"column:provider_payment_id"`
	ProviderTxnID     *string                  `gorm:"column:provider_txn_id"`
	FailureReason     *string                  `gorm:"column:failure_reason"`
	ExpiresAt         time.Time                `gorm:"column:expires_at;not null"`
	RedirectIssuedAt  *time.Time               `gorm:"column:redirect_issued_at"`
	PaidAt            *time.Time               `gorm:"column:paid_at"`
	FailedAt          *time.Time               `gorm:"column:failed_at"`
	ExpiredAt         *time.Time               `gorm:"column:expired_at"`
	RefundedAt        *time.Time               `gorm:"column:refunded_at"`
	RefundedBy        *uuid.UUID               `gorm:"column:refunded_by;type:uuid"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
