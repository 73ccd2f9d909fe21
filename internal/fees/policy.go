// Package fees owns the platform fee formula and the versioned fee configuration.
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

const moneyPlaces = 2

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Config is one version of the platform fee. Version 0 is the built-in default
// used when no stored configuration could be loaded.
type Config struct {
	Version    int             `json:"version"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Validate rejects percentages outside [0, 100].
func (c Config) Validate() error {
	if c.Version < 0 {
		return invalidConfiguration(fmt.Sprintf("fee config version %d is invalid", c.Version))
	}
	if c.Percentage.IsNegative() || c.Percentage.GreaterThan(hundred) {
		return invalidConfiguration(fmt.Sprintf("fee percentage %s outside [0,100]", c.Percentage.String()))
	}
	return nil
}

// Breakdown is the fee split for one order.
type Breakdown struct {
	BaseFare          decimal.Decimal `json:"baseFare"`
	Seats             int             `json:"seats"`
	FeePercentage     decimal.Decimal `json:"feePercentage"`
	FeeConfigVersion  int             `json:"feeConfigVersion"`
	PlatformFee       decimal.Decimal `json:"platformFee"`
	FinalPricePerSeat decimal.Decimal `json:"finalPricePerSeat"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	HostEarning       decimal.Decimal `json:"hostEarning"`
}

// Compute applies the canonical fee formula. Amounts round half-up to two
// decimal places; the host earning is never reduced by the fee.
func Compute(baseFare decimal.Decimal, seats int, cfg Config) (Breakdown, error) {
	if err := cfg.Validate(); err != nil {
		return Breakdown{}, err
	}
	if baseFare.IsNegative() {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "base fare must not be negative")
	}
	if seats < 1 {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "seats must be at least 1")
	}

	feeDecimal := cfg.Percentage.Div(hundred)
	qty := decimal.NewFromInt(int64(seats))

	platformFee := roundMoney(baseFare.Mul(feeDecimal).Mul(qty))
	finalPerSeat := roundMoney(baseFare.Mul(one.Add(feeDecimal)))

	return Breakdown{
		BaseFare:          baseFare,
		Seats:             seats,
		FeePercentage:     cfg.Percentage,
		FeeConfigVersion:  cfg.Version,
		PlatformFee:       platformFee,
		FinalPricePerSeat: finalPerSeat,
		TotalAmount:       finalPerSeat.Mul(qty),
		HostEarning:       baseFare.Mul(qty),
	}, nil
}

// roundMoney rounds half away from zero, which is half-up for the
// non-negative amounts handled here.
func roundMoney(value decimal.Decimal) decimal.Decimal {
	return value.Round(moneyPlaces)
}

func invalidConfiguration(message string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, message).WithReason(pkgerrors.ReasonInvalidConfiguration)
}
