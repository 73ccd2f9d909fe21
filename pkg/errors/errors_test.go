package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataFor(t *testing.T) {
	cases := []struct {
		code    Code
		status  int
		retry   bool
		details bool
	}{
		{CodeValidation, http.StatusBadRequest, false, true},
		{CodeUnauthorized, http.StatusUnauthorized, false, false},
		{CodeNotFound, http.StatusNotFound, false, false},
		{CodeConflict, http.StatusConflict, false, true},
		{CodeStateConflict, http.StatusUnprocessableEntity, false, true},
		{CodeIdempotency, http.StatusConflict, false, true},
		{CodeRateLimit, http.StatusTooManyRequests, false, false},
		{CodeInternal, http.StatusInternalServerError, true, false},
		{CodeDependency, http.StatusServiceUnavailable, true, true},
		{CodeTimeout, http.StatusGatewayTimeout, true, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			meta := MetadataFor(tc.code)
			assert.Equal(t, tc.status, meta.HTTPStatus)
			assert.Equal(t, tc.retry, meta.Retryable)
			assert.Equal(t, tc.details, meta.DetailsAllowed)
			assert.NotEmpty(t, meta.PublicMessage)
		})
	}
	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("NOT_A_CODE"))
}

func TestBuilders(t *testing.T) {
	err := New(CodeValidation, "amount required").
		WithReason(ReasonAmountMismatch).
		WithDetails(map[string]string{"field": "amount"})

	assert.Equal(t, CodeValidation, err.Code())
	assert.Equal(t, ReasonAmountMismatch, err.Reason())
	assert.Equal(t, "amount required", err.Message())
	assert.Equal(t, "VALIDATION_ERROR: amount required", err.Error())
	assert.NotNil(t, err.Details())
	assert.Nil(t, err.Unwrap())
}

func TestNilReceiver(t *testing.T) {
	var err *Error
	assert.Equal(t, CodeInternal, err.Code())
	assert.Empty(t, err.Message())
	assert.Empty(t, err.Error())
	assert.Nil(t, err.WithReason(ReasonTimeout))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := fmt.Errorf("load order: %w", Wrap(CodeDependency, cause, "database unavailable"))

	require.ErrorIs(t, err, cause)
	typed := As(err)
	require.NotNil(t, typed)
	assert.Equal(t, CodeDependency, typed.Code())
	assert.True(t, IsCode(err, CodeDependency))
	assert.Nil(t, As(cause))
	assert.Nil(t, As(nil))
}

func TestHasReasonWalksNestedTypedErrors(t *testing.T) {
	inner := New(CodeConflict, "order already active").WithReason(ReasonDuplicateActiveOrder)
	outer := Wrap(CodeInternal, fmt.Errorf("create order: %w", inner), "unexpected")

	assert.True(t, HasReason(outer, ReasonDuplicateActiveOrder))
	assert.False(t, HasReason(outer, ReasonAmountMismatch))
	assert.True(t, IsCode(outer, CodeInternal))
	assert.False(t, IsCode(outer, CodeConflict))
	assert.False(t, HasReason(stdErrors.New("plain"), ReasonTimeout))
}
