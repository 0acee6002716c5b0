// Package commission splits a gross payment into the platform commission and the provider payout.
//
// Amounts are shopspring decimals rounded to two places with decimal.Round, which rounds half away from
// zero. Gross amounts are never negative, so this is half-up.
package commission

import (
	"github.com/shopspring/decimal"

	"github.com/taskerhub/marketplace/internal/domain/errors"
)

// Places is the number of fractional digits money is rounded to.
const Places int32 = 2

// DefaultRate is the platform commission applied when none is configured (5%).
var DefaultRate = decimal.RequireFromString("0.05")

// Split is the result of applying a rate to a gross amount.
// Commission + ProviderAmount == Gross, always.
type Split struct {
	Gross          decimal.Decimal
	Commission     decimal.Decimal
	ProviderAmount decimal.Decimal
	Rate           decimal.Decimal
}

// Calculator applies a fixed commission rate.
type Calculator struct {
	rate decimal.Decimal
}

// NewCalculator returns a calculator for rate, which must lie in [0, 1].
func NewCalculator(rate decimal.Decimal) (*Calculator, error) {
	if err := ValidateRate(rate); err != nil {
		return nil, err
	}
	return &Calculator{rate: rate}, nil
}

// ParseRate parses a configured rate such as "0.05".
func ParseRate(s string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.NewValidationError("commission_rate", "must be a decimal number")
	}
	if err := ValidateRate(rate); err != nil {
		return decimal.Zero, err
	}
	return rate, nil
}

// ValidateRate rejects rates outside [0, 1].
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.NewValidationError("commission_rate", "must be between 0 and 1")
	}
	return nil
}

// Rate returns the configured rate.
func (c *Calculator) Rate() decimal.Decimal {
	return c.rate
}

// Split applies the calculator's rate to gross.
func (c *Calculator) Split(gross decimal.Decimal) (Split, error) {
	return SplitAmount(gross, c.rate)
}

// SplitAmount computes commission = round(gross*rate, 2) and providerAmount = gross - commission.
// Gross is rounded to cents first so the two parts always add back to the recorded amount.
func SplitAmount(gross, rate decimal.Decimal) (Split, error) {
	if gross.IsNegative() {
		return Split{}, errors.ErrInvalidAmount
	}
	if err := ValidateRate(rate); err != nil {
		return Split{}, err
	}

	gross = gross.Round(Places)
	commission := gross.Mul(rate).Round(Places)

	return Split{
		Gross:          gross,
		Commission:     commission,
		ProviderAmount: gross.Sub(commission),
		Rate:           rate,
	}, nil
}
