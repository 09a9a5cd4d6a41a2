package usecases

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	domainerrors "metamarket.backend/internal/domain/errors"
)

// SettlementDecimals is the precision of the settlement asset on every supported chain
const SettlementDecimals int32 = 6

// ParseAmount converts a display price into base units of an asset with the given
// precision. Prices carrying more fractional digits than the asset supports are
// rejected instead of being rounded.
func ParseAmount(price string, decimals int32) (*big.Int, error) {
	value := strings.TrimSpace(price)
	if value == "" {
		return nil, domainerrors.Validation("price is required")
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, domainerrors.Validation("invalid price: " + value)
	}
	if d.IsNegative() {
		return nil, domainerrors.Validation("price must not be negative")
	}
	if !d.Equal(d.Truncate(decimals)) {
		return nil, domainerrors.Validation("price has more fractional digits than the settlement asset supports")
	}
	return d.Shift(decimals).BigInt(), nil
}

// FormatAmount renders base units as a display price
func FormatAmount(units *big.Int, decimals int32) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -decimals).String()
}
