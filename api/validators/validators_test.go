package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

type orderBody struct {
	EventID string           `json:"eventId" validate:"required,uuid"`
	Amount  *decimal.Decimal `json:"amount" validate:"required,money"`
}

func post(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSONBody(t *testing.T) {
	var dest orderBody
	err := DecodeJSONBody(post(`{"eventId":"7c9e6679-7425-40de-944b-e07fc1f90ae7","amount":"220.50"}`), &dest)
	require.NoError(t, err)
	assert.Equal(t, "220.5", dest.Amount.String())
}

func TestDecodeJSONBodyRejects(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"malformed":      `{"eventId":`,
		"unknown field":  `{"eventId":"7c9e6679-7425-40de-944b-e07fc1f90ae7","amount":"1","seats":2}`,
		"trailing value": `{"eventId":"7c9e6679-7425-40de-944b-e07fc1f90ae7","amount":"1"} {}`,
		"wrong type":     `{"eventId":7,"amount":"1"}`,
		"bad uuid":       `{"eventId":"nope","amount":"1"}`,
		"three decimals": `{"eventId":"7c9e6679-7425-40de-944b-e07fc1f90ae7","amount":"1.005"}`,
		"negative":       `{"eventId":"7c9e6679-7425-40de-944b-e07fc1f90ae7","amount":"-1"}`,
		"missing amount": `{"eventId":"7c9e6679-7425-40de-944b-e07fc1f90ae7"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var dest orderBody
			err := DecodeJSONBody(post(body), &dest)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
}

func TestDecodeJSONBodyNamesFailingFields(t *testing.T) {
	var dest orderBody
	err := DecodeJSONBody(post(`{"eventId":"nope","amount":"1.234"}`), &dest)
	var typed *pkgerrors.Error
	require.ErrorAs(t, err, &typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details, "eventId")
	assert.Contains(t, details, "amount")
}

func TestParseLimit(t *testing.T) {
	limit, err := ParseLimit(httptest.NewRequest(http.MethodGet, "/", nil), 50, 200)
	require.NoError(t, err)
	assert.Equal(t, 50, limit)

	limit, err = ParseLimit(httptest.NewRequest(http.MethodGet, "/?limit=900", nil), 50, 200)
	require.NoError(t, err)
	assert.Equal(t, 200, limit)

	_, err = ParseLimit(httptest.NewRequest(http.MethodGet, "/?limit=-1", nil), 50, 200)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseUUIDParam(t *testing.T) {
	withParam := func(value string) *http.Request {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("orderId", value)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}
	_, err := ParseUUIDParam(withParam("7c9e6679-7425-40de-944b-e07fc1f90ae7"), "orderId")
	assert.NoError(t, err)
	_, err = ParseUUIDParam(withParam("x"), "orderId")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = ParseUUIDParam(withParam(" "), "orderId")
	assert.Error(t, err)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", Clip("  abcdef ", 3))
	assert.Equal(t, "abcdef", Clip("abcdef", 0))
}
