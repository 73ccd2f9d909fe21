package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/internal/gateway"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/payloads"
)

// OrderView is the client-facing representation of a payment order.
type OrderView struct {
	ID                uuid.UUID                `json:"id"`
	ExternalID        string                   `json:"externalId"`
	EventID           uuid.UUID                `json:"eventId"`
	PayerID           uuid.UUID                `json:"payerId"`
	Seats             int                      `json:"seats"`
	BaseFare          decimal.Decimal          `json:"baseFare"`
	FeePercentage     decimal.Decimal          `json:"feePercentage"`
	FeeConfigVersion  int                      `json:"feeConfigVersion"`
	PlatformFee       decimal.Decimal          `json:"platformFee"`
	FinalPricePerSeat decimal.Decimal          `json:"finalPricePerSeat"`
	Amount            decimal.Decimal          `json:"amount"`
	Currency          enums.Currency           `json:"currency"`
	Status            enums.PaymentOrderStatus `json:"status"`
	ProviderPaymentID *string                  `json:"providerPaymentId,omitempty"`
	FailureReason     *string                  `json:"failureReason,omitempty"`
	ExpiresAt         time.Time                `json:"expiresAt"`
	PaidAt            *time.Time               `json:"paidAt,omitempty"`
	CreatedAt         time.Time                `json:"createdAt"`
	UpdatedAt         time.Time                `json:"updatedAt"`
}

// CheckoutResult is returned when an order is created or resumed.
type CheckoutResult struct {
	Order           OrderView         `json:"order"`
	GatewayRedirect *gateway.Redirect `json:"gatewayRedirect"`
}

func NewOrderView(order *models.PaymentOrder) OrderView {
	return OrderView{
		ID:                order.ID,
		ExternalID:        order.ExternalID,
		EventID:           order.EventID,
		PayerID:           order.PayerID,
		Seats:             order.Seats,
		BaseFare:          order.BaseFare,
		FeePercentage:     order.FeePercentage,
		FeeConfigVersion:  order.FeeConfigVersion,
		PlatformFee:       order.PlatformFee,
		FinalPricePerSeat: order.FinalPricePerSeat,
		Amount:            order.Amount,
		Currency:          order.Currency,
		Status:            order.Status,
		ProviderPaymentID: order.ProviderPaymentID,
		FailureReason:     order.FailureReason,
		ExpiresAt:         order.ExpiresAt,
		PaidAt:            order.PaidAt,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

// StatusEventType maps a terminal order status to its notification event.
func StatusEventType(status enums.PaymentOrderStatus) (enums.OutboxEventType, bool) {
	switch status {
	case enums.PaymentOrderPaid:
		return enums.EventPaymentOrderPaid, true
	case enums.PaymentOrderFailed:
		return enums.EventPaymentOrderFailed, true
	case enums.PaymentOrderExpired:
		return enums.EventPaymentOrderExpired, true
	case enums.PaymentOrderRefunded:
		return enums.EventPaymentOrderRefunded, true
	default:
		return "", false
	}
}

// StatusEvent builds the notification payload for an order that just changed state.
func StatusEvent(order *models.PaymentOrder, at time.Time) payloads.PaymentOrderStatusEvent {
	return payloads.PaymentOrderStatusEvent{
		OrderID:           order.ID,
		ExternalID:        order.ExternalID,
		EventID:           order.EventID,
		PayerID:           order.PayerID,
		Seats:             order.Seats,
		Amount:            order.Amount,
		Currency:          order.Currency,
		Status:            order.Status,
		ProviderPaymentID: order.ProviderPaymentID,
		FailureReason:     order.FailureReason,
		OccurredAt:        at,
	}
}
