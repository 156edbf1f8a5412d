package token

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Units converts a human readable amount such as "0.9" into base units of
// a token with the given decimals. Fractions finer than one base unit are
// rejected.
func Units(amount string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", amount, decimals)
	}
	return shifted.BigInt(), nil
}

// MustUnits is Units for constants known to be valid.
func MustUnits(amount string, decimals uint8) *big.Int {
	v, err := Units(amount, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// Ether converts whole-token amounts of an 18 decimal token.
func Ether(amount string) *big.Int {
	return MustUnits(amount, DefaultDecimals)
}

// Format renders base units as a decimal string, e.g. 9e17 -> "0.9".
func Format(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
