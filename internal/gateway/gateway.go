// Package gateway defines the seam between payment orders and an external
// payment provider.
package gateway

import (
	"context"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// Customer is the payer contact data forwarded to the provider's hosted page.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// RedirectRequest carries the order fields the provider needs to start checkout.
type RedirectRequest struct {
	ExternalID  string
	Amount      decimal.Decimal
	Currency    enums.Currency
	ProductInfo string
	Customer    Customer
	// Reference is echoed back by the provider in callbacks.
	Reference string
}

// Redirect is the form the client posts to the provider's checkout page.
type Redirect struct {
	GatewayURL string            `json:"gatewayUrl"`
	Method     string            `json:"method"`
	Payload    map[string]string `json:"payload"`
}

// Callback is a provider outcome normalized for reconciliation.
type Callback struct {
	Provider          string
	ExternalOrderID   string
	Outcome           enums.CallbackOutcome
	Amount            decimal.Decimal
	ProviderPaymentID string
	ProviderTxnID     string
	FailureReason     string
	// RawStatus is the provider's own status string.
	RawStatus string
	Raw       map[string]string
}

// Adapter is implemented by each payment provider.
type Adapter interface {
	Name() string
	BuildRedirect(ctx context.Context, req RedirectRequest) (*Redirect, error)
	ParseCallback(ctx context.Context, form url.Values) (*Callback, error)
	// FetchStatus asks the provider for the outcome of an order. A nil
	// callback means the provider has no terminal outcome yet.
	FetchStatus(ctx context.Context, externalID string) (*Callback, error)
}

// SignPurpose tells the signer which field layout and key placement to use.
type SignPurpose string

const (
	PurposePaymentRequest  SignPurpose = "payment_request"
	PurposePaymentResponse SignPurpose = "payment_response"
	PurposeAPICommand      SignPurpose = "api_command"
)

// Signer produces and checks provider integrity hashes. The signing key never
// leaves the signer.
type Signer interface {
	Sign(ctx context.Context, purpose SignPurpose, fields []string) (string, error)
	Verify(ctx context.Context, purpose SignPurpose, fields []string, signature string) (bool, error)
}
