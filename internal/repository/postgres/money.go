package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money columns are NUMERIC(12,2). They travel as text so no float ever touches an amount.

func numericToDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty numeric string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

func nullableNumericToDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := numericToDecimal(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func decimalToNumeric(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func nullDecimalToNumeric(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := decimalToNumeric(d.Decimal)
	return &s
}
