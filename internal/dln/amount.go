package dln

import (
	"math/big"
	"strings"
)

var ten = big.NewInt(10)

// FormatAmount renders a raw integer token amount as a decimal string.
// Trailing fractional zeros are dropped and the fraction is omitted when zero.
func FormatAmount(raw *big.Int, decimals uint8) string {
	if raw == nil {
		return "0"
	}
	if decimals == 0 {
		return raw.String()
	}

	abs := new(big.Int).Abs(raw)
	divisor := new(big.Int).Exp(ten, big.NewInt(int64(decimals)), nil)
	integer, fraction := new(big.Int).QuoRem(abs, divisor, new(big.Int))

	sign := ""
	if raw.Sign() < 0 {
		sign = "-"
	}
	if fraction.Sign() == 0 {
		return sign + integer.String()
	}

	digits := fraction.String()
	if pad := int(decimals) - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	digits = strings.TrimRight(digits, "0")
	return sign + integer.String() + "." + digits
}
