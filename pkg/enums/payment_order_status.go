package enums

import "fmt"

// PaymentOrderStatus tracks the lifecycle of a single checkout attempt.
type PaymentOrderStatus string

const (
	PaymentOrderCreated  PaymentOrderStatus = "created"
	PaymentOrderPending  PaymentOrderStatus = "pending"
	PaymentOrderPaid     PaymentOrderStatus = "paid"
	PaymentOrderFailed   PaymentOrderStatus = "failed"
	PaymentOrderExpired  PaymentOrderStatus = "expired"
	PaymentOrderRefunded PaymentOrderStatus = "refunded"
)

var validPaymentOrderStatuses = []PaymentOrderStatus{
	PaymentOrderCreated,
	PaymentOrderPending,
	PaymentOrderPaid,
	PaymentOrderFailed,
	PaymentOrderExpired,
	PaymentOrderRefunded,
}

// ActivePaymentOrderStatuses are the statuses covered by the one-active-order
// per reservation index.
var ActivePaymentOrderStatuses = []PaymentOrderStatus{
	PaymentOrderCreated,
	PaymentOrderPending,
}

// String implements fmt.Stringer.
func (s PaymentOrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PaymentOrderStatus.
func (s PaymentOrderStatus) IsValid() bool {
	for _, candidate := range validPaymentOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsActive reports whether the order still awaits a gateway outcome.
func (s PaymentOrderStatus) IsActive() bool {
	return s == PaymentOrderCreated || s == PaymentOrderPending
}

// IsTerminal reports whether no further gateway outcome may change the order.
func (s PaymentOrderStatus) IsTerminal() bool {
	return s.IsValid() && !s.IsActive()
}

// ParsePaymentOrderStatus converts raw input into a PaymentOrderStatus.
func ParsePaymentOrderStatus(value string) (PaymentOrderStatus, error) {
	for _, candidate := range validPaymentOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment order status %q", value)
}
