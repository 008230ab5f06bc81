package auction

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// weiDecimals is the number of decimals of the native currency unit.
const weiDecimals = 18

// FormatEther renders an amount in the smallest currency unit as a decimal ether string.
// It is meant for logs and human output only; amounts are never parsed back from it.
func FormatEther(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -weiDecimals).String()
}
