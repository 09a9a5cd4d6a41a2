package usecases

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "metamarket.backend/internal/domain/errors"
)

func TestParseAmount_DisplayPrice(t *testing.T) {
	units, err := ParseAmount("25.00", SettlementDecimals)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(25000000), units)

	units, err = ParseAmount(" 0.000001 ", SettlementDecimals)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), units)
}

func TestParseAmount_RoundTrip(t *testing.T) {
	for _, price := range []string{"0.01", "1", "45", "999999.99"} {
		units, err := ParseAmount(price, SettlementDecimals)
		require.NoError(t, err, price)
		assert.Equal(t, price, FormatAmount(units, SettlementDecimals))
	}
}

func TestParseAmount_Rejects(t *testing.T) {
	cases := []string{"", "abc", "-1", "1.0000001"}
	for _, price := range cases {
		_, err := ParseAmount(price, SettlementDecimals)
		require.Error(t, err, price)
		assert.True(t, errors.Is(err, domainerrors.ErrValidation), price)
	}
}

func TestParseAmount_TrailingZerosBeyondPrecision(t *testing.T) {
	units, err := ParseAmount("1.50000000", SettlementDecimals)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1500000), units)
}

func TestFormatAmount_Nil(t *testing.T) {
	assert.Equal(t, "0", FormatAmount(nil, SettlementDecimals))
	assert.Equal(t, "0.5", FormatAmount(big.NewInt(500000), SettlementDecimals))
}
