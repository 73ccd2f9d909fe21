package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func TestComputeCanonicalScenario(t *testing.T) {
	got, err := Compute(d("100"), 5, Config{Version: 3, Percentage: d("10")})
	require.NoError(t, err)

	assert.True(t, got.PlatformFee.Equal(d("50.00")), "platform fee %s", got.PlatformFee)
	assert.True(t, got.FinalPricePerSeat.Equal(d("110.00")), "final per seat %s", got.FinalPricePerSeat)
	assert.True(t, got.TotalAmount.Equal(d("550.00")), "total %s", got.TotalAmount)
	assert.True(t, got.HostEarning.Equal(d("500.00")), "host earning %s", got.HostEarning)
	assert.Equal(t, 3, got.FeeConfigVersion)
	assert.Equal(t, 5, got.Seats)
}

func TestComputeRoundsHalfUp(t *testing.T) {
	// 99.99 * 1.125 = 112.48875
	got, err := Compute(d("99.99"), 3, Config{Version: 1, Percentage: d("12.5")})
	require.NoError(t, err)

	assert.Equal(t, "112.49", got.FinalPricePerSeat.StringFixed(2))
	assert.Equal(t, "337.47", got.TotalAmount.StringFixed(2))
	// 99.99 * 0.125 * 3 = 37.49625
	assert.Equal(t, "37.50", got.PlatformFee.StringFixed(2))
	assert.Equal(t, "299.97", got.HostEarning.StringFixed(2))

	// exact half: 10.05 * 0.5 = 5.025 -> 5.03
	half, err := Compute(d("10.05"), 1, Config{Version: 1, Percentage: d("50")})
	require.NoError(t, err)
	assert.Equal(t, "5.03", half.PlatformFee.StringFixed(2))
}

func TestComputeTotalIsPerSeatTimesQuantity(t *testing.T) {
	for seats := 1; seats <= 20; seats++ {
		got, err := Compute(d("333.33"), seats, Config{Version: 1, Percentage: d("7.5")})
		require.NoError(t, err)
		expected := got.FinalPricePerSeat.Mul(decimal.NewFromInt(int64(seats)))
		assert.True(t, got.TotalAmount.Equal(expected), "seats=%d", seats)
		assert.True(t, got.HostEarning.Equal(d("333.33").Mul(decimal.NewFromInt(int64(seats)))))
	}
}

func TestComputeBoundaries(t *testing.T) {
	free, err := Compute(d("250"), 2, Config{Version: 1, Percentage: decimal.Zero})
	require.NoError(t, err)
	assert.True(t, free.PlatformFee.IsZero())
	assert.True(t, free.TotalAmount.Equal(d("500")))

	full, err := Compute(d("250"), 2, Config{Version: 1, Percentage: d("100")})
	require.NoError(t, err)
	assert.True(t, full.FinalPricePerSeat.Equal(d("500")))
}

func TestComputeRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		fare   decimal.Decimal
		seats  int
		cfg    Config
		reason pkgerrors.Reason
	}{
		{name: "negative percentage", fare: d("100"), seats: 1, cfg: Config{Version: 1, Percentage: d("-1")}, reason: pkgerrors.ReasonInvalidConfiguration},
		{name: "percentage above 100", fare: d("100"), seats: 1, cfg: Config{Version: 1, Percentage: d("100.01")}, reason: pkgerrors.ReasonInvalidConfiguration},
		{name: "zero seats", fare: d("100"), seats: 0, cfg: Config{Version: 1, Percentage: d("10")}},
		{name: "negative fare", fare: d("-5"), seats: 1, cfg: Config{Version: 1, Percentage: d("10")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.fare, tt.seats, tt.cfg)
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
			if tt.reason != "" {
				assert.Equal(t, tt.reason, typed.Reason())
			}
		})
	}
}
