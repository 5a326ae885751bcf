package web3

import (
	"fmt"
	"math/big"
	"strings"
)

// TokenDecimals is the number of decimals used by the payment token.
const TokenDecimals = 18

// ParseUnits converts a decimal token amount such as "10" or "0.5" into
// integer minor units.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("金额不能为空")
	}
	value, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("无法解析金额 %q", amount)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("金额不能为负数: %s", amount)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value.Mul(value, new(big.Rat).SetInt(scale))
	if !value.IsInt() {
		return nil, fmt.Errorf("金额 %s 超出 %d 位小数精度", amount, decimals)
	}
	return new(big.Int).Set(value.Num()), nil
}

// FormatUnits renders minor units as a decimal token amount without trailing
// zeros.
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	quo, rem := new(big.Int).QuoRem(value, scale, new(big.Int))
	if rem.Sign() == 0 {
		return quo.String()
	}
	digits := new(big.Int).Abs(rem).String()
	frac := strings.Repeat("0", decimals-len(digits)) + digits
	frac = strings.TrimRight(frac, "0")
	sign := ""
	if value.Sign() < 0 && quo.Sign() == 0 {
		sign = "-"
	}
	return sign + quo.String() + "." + frac
}
