package commission

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSplitAmount_KnownValues(t *testing.T) {
	tests := []struct {
		name       string
		gross      string
		rate       string
		commission string
		provider   string
	}{
		{"budget 1000 at 5%", "1000", "0.05", "50.00", "950.00"},
		{"zero gross", "0", "0.05", "0", "0"},
		{"zero rate", "123.45", "0", "0", "123.45"},
		{"full rate", "123.45", "1", "123.45", "0"},
		{"half cent rounds up", "0.10", "0.05", "0.01", "0.09"},
		{"below half cent rounds down", "0.09", "0.05", "0", "0.09"},
		{"odd rate", "999.99", "0.075", "75.00", "924.99"},
		{"sub-cent gross is rounded first", "10.005", "0.05", "0.50", "9.51"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split, err := SplitAmount(d(tt.gross), d(tt.rate))
			require.NoError(t, err)

			assert.True(t, d(tt.commission).Equal(split.Commission), "commission: got %s", split.Commission)
			assert.True(t, d(tt.provider).Equal(split.ProviderAmount), "provider: got %s", split.ProviderAmount)
			assert.True(t, split.Gross.Equal(split.Commission.Add(split.ProviderAmount)))
		})
	}
}

func TestSplitAmount_ExactForRandomAmounts(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 5000; i++ {
		gross := decimal.New(rng.Int63n(100_000_000), -2)
		rate := decimal.New(rng.Int63n(10_001), -4)

		split, err := SplitAmount(gross, rate)
		require.NoError(t, err)

		require.True(t, gross.Equal(split.Commission.Add(split.ProviderAmount)),
			"gross=%s rate=%s commission=%s provider=%s", gross, rate, split.Commission, split.ProviderAmount)
		require.True(t, gross.Mul(rate).Round(2).Equal(split.Commission))
		require.False(t, split.ProviderAmount.IsNegative())
	}
}

func TestSplitAmount_Deterministic(t *testing.T) {
	a, err := SplitAmount(d("733.37"), DefaultRate)
	require.NoError(t, err)
	b, err := SplitAmount(d("733.37"), DefaultRate)
	require.NoError(t, err)

	assert.Equal(t, a.Commission.String(), b.Commission.String())
	assert.Equal(t, a.ProviderAmount.String(), b.ProviderAmount.String())
}

func TestSplitAmount_RejectsBadInput(t *testing.T) {
	_, err := SplitAmount(d("-1"), DefaultRate)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidAmount)

	_, err = SplitAmount(d("10"), d("1.01"))
	var ve *domainErrors.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = SplitAmount(d("10"), d("-0.01"))
	assert.ErrorAs(t, err, &ve)
}

func TestCalculator(t *testing.T) {
	calc, err := NewCalculator(DefaultRate)
	require.NoError(t, err)
	assert.True(t, calc.Rate().Equal(d("0.05")))

	split, err := calc.Split(d("1000"))
	require.NoError(t, err)
	assert.Equal(t, "50", split.Commission.String())
	assert.Equal(t, "950", split.ProviderAmount.String())

	_, err = NewCalculator(d("2"))
	assert.Error(t, err)
}

func TestParseRate(t *testing.T) {
	rate, err := ParseRate("0.1")
	require.NoError(t, err)
	assert.True(t, rate.Equal(d("0.1")))

	_, err = ParseRate("ten percent")
	assert.Error(t, err)

	_, err = ParseRate("1.5")
	assert.Error(t, err)
}
