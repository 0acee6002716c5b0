package postgres

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericToDecimal_Success(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"whole amount", "100", "100"},
		{"with cents", "100.50", "100.5"},
		{"cents only", "0.99", "0.99"},
		{"zero", "0.00", "0"},
		{"large amount", "9999999999.99", "9999999999.99"},
		{"with whitespace", "  50.25  ", "50.25"},
		{"negative refund", "-10.50", "-10.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := numericToDecimal(tt.input)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.expected).Equal(result), "got %s", result)
		})
	}
}

func TestNumericToDecimal_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty string", ""},
		{"invalid format", "abc"},
		{"currency symbol", "$100.00"},
		{"multiple decimals", "10.5.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := numericToDecimal(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestDecimalToNumeric(t *testing.T) {
	assert.Equal(t, "10.00", decimalToNumeric(decimal.NewFromInt(10)))
	assert.Equal(t, "-0.50", decimalToNumeric(decimal.RequireFromString("-0.5")))
	assert.Equal(t, "1234.57", decimalToNumeric(decimal.RequireFromString("1234.567")))
}

func TestNullableNumeric_RoundTrip(t *testing.T) {
	got, err := nullableNumericToDecimal(nil)
	require.NoError(t, err)
	assert.False(t, got.Valid)
	assert.Nil(t, nullDecimalToNumeric(got))

	s := "47.50"
	got, err = nullableNumericToDecimal(&s)
	require.NoError(t, err)
	require.True(t, got.Valid)
	assert.Equal(t, "47.50", *nullDecimalToNumeric(got))

	bad := "x"
	_, err = nullableNumericToDecimal(&bad)
	assert.Error(t, err)
}

// Precision must survive where a float conversion would not.
func TestNumericToDecimal_NoFloatDrift(t *testing.T) {
	d, err := numericToDecimal("0.10")
	require.NoError(t, err)
	sum := d.Add(decimal.RequireFromString("0.20"))
	assert.Equal(t, "0.30", decimalToNumeric(sum))
}
