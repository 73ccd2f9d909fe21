// Package payu implements the gateway adapter for PayU hosted checkout.
package payu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/internal/gateway"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

const (
	providerName        = "payu"
	verifyPaymentCmd    = "verify_payment"
	maxFirstNameLength  = 60
	maxProductInfoChars = 100
)

// udf2..udf5 are unused; the hash still carries their empty slots.
var emptyUDFs = []string{"", "", "", ""}

// Adapter builds PayU checkout forms and normalizes PayU outcomes.
type Adapter struct {
	cfg    config.PayUConfig
	signer gateway.Signer
	hc     *http.Client
}

// NewAdapter wires the PayU adapter to a signer.
func NewAdapter(cfg config.PayUConfig, signer gateway.Signer, hc *http.Client) (*Adapter, error) {
	if strings.TrimSpace(cfg.MerchantKey) == "" {
		return nil, fmt.Errorf("payu merchant key required")
	}
	if cfg.PaymentURL == "" || cfg.SuccessURL == "" || cfg.FailureURL == "" {
		return nil, fmt.Errorf("payu payment, success and failure urls required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer required")
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Adapter{cfg: cfg, signer: signer, hc: hc}, nil
}

func (a *Adapter) Name() string {
	return providerName
}

// BuildRedirect assembles the form posted to PayU. The amount is the order
// amount as stored, formatted to two decimals.
func (a *Adapter) BuildRedirect(ctx context.Context, req gateway.RedirectRequest) (*gateway.Redirect, error) {
	if req.ExternalID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external id required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	amount := req.Amount.StringFixed(2)
	productInfo := truncate(firstNonEmpty(req.ProductInfo, a.cfg.ProductLabel), maxProductInfoChars)
	firstName := truncate(firstName(req.Customer.Name), maxFirstNameLength)
	email := strings.TrimSpace(req.Customer.Email)

	fields := []string{a.cfg.MerchantKey, req.ExternalID, amount, productInfo, firstName, email, req.Reference}
	fields = append(fields, emptyUDFs...)
	fields = append(fields, "", "", "", "", "")

	hash, err := a.signer.Sign(ctx, gateway.PurposePaymentRequest, fields)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign payment request")
	}

	return &gateway.Redirect{
		GatewayURL: a.cfg.PaymentURL,
		Method:     http.MethodPost,
		Payload: map[string]string{
			"key":         a.cfg.MerchantKey,
			"txnid":       req.ExternalID,
			"amount":      amount,
			"productinfo": productInfo,
			"firstname":   firstName,
			"email":       email,
			"phone":       strings.TrimSpace(req.Customer.Phone),
			"surl":        a.cfg.SuccessURL,
			"furl":        a.cfg.FailureURL,
			"udf1":        req.Reference,
			"hash":        hash,
		},
	}, nil
}

// ParseCallback verifies and normalizes a PayU success/failure post. Anything
// that cannot be verified is rejected before it reaches the order store.
func (a *Adapter) ParseCallback(ctx context.Context, form url.Values) (*gateway.Callback, error) {
	raw := flatten(form)
	status := strings.ToLower(strings.TrimSpace(raw["status"]))
	txnID := strings.TrimSpace(raw["txnid"])
	hash := strings.TrimSpace(raw["hash"])
	if status == "" || txnID == "" || hash == "" || raw["amount"] == "" {
		return nil, invalidCallback("callback missing status, txnid, amount or hash")
	}
	if raw["key"] != a.cfg.MerchantKey {
		return nil, invalidCallback("callback merchant key mismatch")
	}
	if _, ok := raw["additionalCharges"]; ok {
		return nil, invalidCallback("callbacks with additional charges are not supported")
	}

	fields := []string{strings.TrimSpace(raw["status"]), "", "", "", "", "", raw["udf5"], raw["udf4"], raw["udf3"], raw["udf2"], raw["udf1"],
		raw["email"], raw["firstname"], raw["productinfo"], raw["amount"], txnID, raw["key"]}
	valid, err := a.signer.Verify(ctx, gateway.PurposePaymentResponse, fields, hash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify callback hash")
	}
	if !valid {
		return nil, invalidCallback("callback hash does not verify")
	}

	outcome, err := outcomeFor(status)
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(raw["amount"]))
	if err != nil {
		return nil, invalidCallback("callback amount is not a number")
	}

	return &gateway.Callback{
		Provider:          providerName,
		ExternalOrderID:   txnID,
		Outcome:           outcome,
		Amount:            amount,
		ProviderPaymentID: raw["mihpayid"],
		ProviderTxnID:     raw["bank_ref_num"],
		FailureReason:     firstNonEmpty(raw["error_Message"], raw["field9"]),
		RawStatus:         status,
		Raw:               raw,
	}, nil
}

type verifyPaymentResponse struct {
	Status             int                          `json:"status"`
	Msg                string                       `json:"msg"`
	TransactionDetails map[string]verifyTransaction `json:"transaction_details"`
}

type verifyTransaction struct {
	MihPayID     string `json:"mihpayid"`
	Status       string `json:"status"`
	Amount       string `json:"amt"`
	TxnID        string `json:"txnid"`
	BankRefNum   string `json:"bank_ref_num"`
	ErrorMessage string `json:"error_Message"`
	Field9       string `json:"field9"`
}

// FetchStatus queries PayU's verify_payment API. Non-terminal or unknown
// transactions yield a nil callback.
func (a *Adapter) FetchStatus(ctx context.Context, externalID string) (*gateway.Callback, error) {
	if a.cfg.VerifyURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payu verify url not configured")
	}
	hash, err := a.signer.Sign(ctx, gateway.PurposeAPICommand, []string{a.cfg.MerchantKey, verifyPaymentCmd, externalID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign verify_payment")
	}

	form := url.Values{}
	form.Set("key", a.cfg.MerchantKey)
	form.Set("command", verifyPaymentCmd)
	form.Set("var1", externalID)
	form.Set("hash", hash)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build verify_payment request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "call verify_payment")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read verify_payment response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("verify_payment returned %d", resp.StatusCode))
	}

	var decoded verifyPaymentResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode verify_payment response")
	}
	txn, ok := decoded.TransactionDetails[externalID]
	if !ok {
		return nil, nil
	}
	status := strings.ToLower(strings.TrimSpace(txn.Status))
	outcome, err := outcomeFor(status)
	if err != nil {
		return nil, nil
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(txn.Amount))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify_payment amount is not a number")
	}

	return &gateway.Callback{
		Provider:          providerName,
		ExternalOrderID:   externalID,
		Outcome:           outcome,
		Amount:            amount,
		ProviderPaymentID: txn.MihPayID,
		ProviderTxnID:     txn.BankRefNum,
		FailureReason:     firstNonEmpty(txn.ErrorMessage, txn.Field9),
		RawStatus:         status,
		Raw: map[string]string{
			"status":       status,
			"txnid":        externalID,
			"mihpayid":     txn.MihPayID,
			"amt":          txn.Amount,
			"bank_ref_num": txn.BankRefNum,
		},
	}, nil
}

func outcomeFor(status string) (enums.CallbackOutcome, error) {
	switch status {
	case "success", "captured":
		return enums.CallbackOutcomeSuccess, nil
	case "failure", "failed", "cancel", "cancelled", "usercancelled", "dropped", "bounced":
		return enums.CallbackOutcomeFailure, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("gateway status %q is not terminal", status))
	}
}

func invalidCallback(message string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, message).WithReason(pkgerrors.ReasonInvalidSignature)
}

func flatten(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for k := range form {
		out[k] = form.Get(k)
	}
	return out
}

func firstName(full string) string {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
