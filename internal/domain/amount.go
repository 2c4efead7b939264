package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Raw on-chain quantities are integers; all derived balances are exact
// decimals. Conversion is a pure rescale, so no precision is lost.

// TokenAmount converts a raw integer amount into a decimal using the payment
// token's declared decimals.
func TokenAmount(raw *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// FromE18 converts a fixed-point 1e18-scaled integer (beta, fee rates) into a
// decimal.
func FromE18(raw *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -18)
}
