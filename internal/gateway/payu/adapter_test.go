package payu

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/eventpass-backend/internal/gateway"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

const testSalt = "s3cr3t"

// saltedSigner mimics the signing service: salt last for requests and API
// commands, salt first for responses.
type saltedSigner struct {
	err   error
	calls []gateway.SignPurpose
}

func (s *saltedSigner) hash(purpose gateway.SignPurpose, fields []string) string {
	parts := append([]string{}, fields...)
	if purpose == gateway.PurposePaymentResponse {
		parts = append([]string{testSalt}, parts...)
	} else {
		parts = append(parts, testSalt)
	}
	sum := sha512.Sum512([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func (s *saltedSigner) Sign(ctx context.Context, purpose gateway.SignPurpose, fields []string) (string, error) {
	s.calls = append(s.calls, purpose)
	if s.err != nil {
		return "", s.err
	}
	return s.hash(purpose, fields), nil
}

func (s *saltedSigner) Verify(ctx context.Context, purpose gateway.SignPurpose, fields []string, signature string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.hash(purpose, fields) == signature, nil
}

func testConfig() config.PayUConfig {
	return config.PayUConfig{
		MerchantKey:  "merchant",
		PaymentURL:   "https://test.payu.in/_payment",
		VerifyURL:    "https://test.payu.in/merchant/postservice?form=2",
		SuccessURL:   "https://api.example.com/api/v1/webhooks/payu/success",
		FailureURL:   "https://api.example.com/api/v1/webhooks/payu/failure",
		ProductLabel: "EventPass ticket",
	}
}

func newAdapter(t *testing.T, signer gateway.Signer, hc *http.Client) *Adapter {
	t.Helper()
	a, err := NewAdapter(testConfig(), signer, hc)
	require.NoError(t, err)
	return a
}

// signedCallback builds the form PayU would post back for a redirect.
func signedCallback(signer *saltedSigner, payload map[string]string, status string) url.Values {
	form := url.Values{}
	for k, v := range payload {
		form.Set(k, v)
	}
	form.Set("status", status)
	form.Set("mihpayid", "403993715531077182")
	form.Set("bank_ref_num", "87d3b2a1-5a60")
	fields := []string{status, "", "", "", "", "", "", "", "", "", payload["udf1"],
		payload["email"], payload["firstname"], payload["productinfo"], payload["amount"], payload["txnid"], payload["key"]}
	form.Set("hash", signer.hash(gateway.PurposePaymentResponse, fields))
	return form
}

func sampleRedirect(t *testing.T, a *Adapter) *gateway.Redirect {
	t.Helper()
	redirect, err := a.BuildRedirect(context.Background(), gateway.RedirectRequest{
		ExternalID:  "EP-0123456789abcdef-1",
		Amount:      decimal.RequireFromString("550"),
		Currency:    enums.CurrencyINR,
		ProductInfo: "Rooftop jazz x5",
		Customer:    gateway.Customer{Name: "Asha Rao", Email: "asha@example.com", Phone: "9999999999"},
		Reference:   "res-ref",
	})
	require.NoError(t, err)
	return redirect
}

func TestBuildRedirectPayload(t *testing.T) {
	signer := &saltedSigner{}
	redirect := sampleRedirect(t, newAdapter(t, signer, nil))

	assert.Equal(t, "https://test.payu.in/_payment", redirect.GatewayURL)
	assert.Equal(t, http.MethodPost, redirect.Method)
	p := redirect.Payload
	assert.Equal(t, "merchant", p["key"])
	assert.Equal(t, "EP-0123456789abcdef-1", p["txnid"])
	assert.Equal(t, "550.00", p["amount"])
	assert.Equal(t, "Asha", p["firstname"])
	assert.Equal(t, "res-ref", p["udf1"])
	assert.Equal(t, testConfig().SuccessURL, p["surl"])
	assert.Equal(t, testConfig().FailureURL, p["furl"])

	expected := signer.hash(gateway.PurposePaymentRequest, []string{
		"merchant", "EP-0123456789abcdef-1", "550.00", "Rooftop jazz x5", "Asha", "asha@example.com", "res-ref",
		"", "", "", "", "", "", "", "", "",
	})
	assert.Equal(t, expected, p["hash"])
}

func TestBuildRedirectSignerFailureIsDependencyError(t *testing.T) {
	a := newAdapter(t, &saltedSigner{err: errors.New("signer down")}, nil)
	_, err := a.BuildRedirect(context.Background(), gateway.RedirectRequest{
		ExternalID: "EP-1", Amount: decimal.NewFromInt(10),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestParseCallbackRoundTrip(t *testing.T) {
	signer := &saltedSigner{}
	a := newAdapter(t, signer, nil)
	redirect := sampleRedirect(t, a)

	cb, err := a.ParseCallback(context.Background(), signedCallback(signer, redirect.Payload, "success"))
	require.NoError(t, err)
	assert.Equal(t, "EP-0123456789abcdef-1", cb.ExternalOrderID)
	assert.Equal(t, enums.CallbackOutcomeSuccess, cb.Outcome)
	assert.True(t, cb.Amount.Equal(decimal.NewFromInt(550)))
	assert.Equal(t, "403993715531077182", cb.ProviderPaymentID)
	assert.Equal(t, "87d3b2a1-5a60", cb.ProviderTxnID)

	failForm := signedCallback(signer, redirect.Payload, "failure")
	failForm.Set("error_Message", "Bank declined")
	failed, err := a.ParseCallback(context.Background(), failForm)
	require.NoError(t, err)
	assert.Equal(t, enums.CallbackOutcomeFailure, failed.Outcome)
	assert.Equal(t, "Bank declined", failed.FailureReason)
}

func TestParseCallbackFailsClosed(t *testing.T) {
	signer := &saltedSigner{}
	a := newAdapter(t, signer, nil)
	redirect := sampleRedirect(t, a)

	tampered := signedCallback(signer, redirect.Payload, "success")
	tampered.Set("amount", "1.00")

	missingHash := signedCallback(signer, redirect.Payload, "success")
	missingHash.Del("hash")

	otherMerchant := signedCallback(signer, redirect.Payload, "success")
	otherMerchant.Set("key", "someone")

	for name, form := range map[string]url.Values{
		"tampered amount": tampered,
		"missing hash":    missingHash,
		"other merchant":  otherMerchant,
		"empty":           {},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.ParseCallback(context.Background(), form)
			require.Error(t, err)
			assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidSignature))
		})
	}
}

func TestParseCallbackRejectsNonTerminalStatus(t *testing.T) {
	signer := &saltedSigner{}
	a := newAdapter(t, signer, nil)
	redirect := sampleRedirect(t, a)

	_, err := a.ParseCallback(context.Background(), signedCallback(signer, redirect.Payload, "pending"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.False(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidSignature))
}

func TestFetchStatus(t *testing.T) {
	signer := &saltedSigner{}
	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		txn := r.PostForm.Get("var1")
		details := map[string]any{}
		switch txn {
		case "EP-paid-1":
			details[txn] = map[string]string{"mihpayid": "999", "status": "success", "amt": "550.00", "bank_ref_num": "ref"}
		case "EP-pending-1":
			details[txn] = map[string]string{"status": "pending", "amt": "550.00"}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 1, "transaction_details": details})
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.VerifyURL = server.URL
	a, err := NewAdapter(cfg, signer, server.Client())
	require.NoError(t, err)

	cb, err := a.FetchStatus(context.Background(), "EP-paid-1")
	require.NoError(t, err)
	require.NotNil(t, cb)
	assert.Equal(t, enums.CallbackOutcomeSuccess, cb.Outcome)
	assert.True(t, cb.Amount.Equal(decimal.NewFromInt(550)))
	assert.Equal(t, "verify_payment", gotForm.Get("command"))
	assert.Equal(t, signer.hash(gateway.PurposeAPICommand, []string{"merchant", "verify_payment", "EP-paid-1"}), gotForm.Get("hash"))

	pending, err := a.FetchStatus(context.Background(), "EP-pending-1")
	require.NoError(t, err)
	assert.Nil(t, pending)

	unknown, err := a.FetchStatus(context.Background(), "EP-unknown-1")
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestFetchStatusUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.VerifyURL = server.URL
	a, err := NewAdapter(cfg, &saltedSigner{}, server.Client())
	require.NoError(t, err)

	_, err = a.FetchStatus(context.Background(), "EP-1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}
