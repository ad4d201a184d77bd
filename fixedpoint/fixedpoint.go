// Package fixedpoint implements exact integer conversion between
// differently-scaled fixed-point quantities. Oracle prices are quoted at the
// base-currency scale while token amounts carry token-specific scales; every
// cross-asset computation in the module reduces to the multiply-then-divide
// pattern implemented here.
package fixedpoint

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// BaseCurrencyDecimals is the scale used for all base-currency (USD)
// denominated values: collateral totals, debt totals and oracle prices.
const BaseCurrencyDecimals uint8 = 8

var (
	// ErrOverflow indicates a result or operand outside the 256-bit word
	// range the modelled protocol operates in.
	ErrOverflow = errors.New("fixedpoint: value exceeds 256-bit range")
	// ErrDivisionByZero indicates a zero price was supplied to a conversion.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	// ErrNegativeAmount indicates a negative magnitude where only unsigned
	// quantities are representable.
	ErrNegativeAmount = errors.New("fixedpoint: amount must not be negative")
)

var ten = big.NewInt(10)

// Pow10 returns 10^decimals as a big integer.
func Pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(decimals)), nil)
}

// fitsWord reports whether v lies within [0, 2^256).
func fitsWord(v *big.Int) bool {
	if v == nil || v.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(v)
	return !overflow
}

// ToBaseUnits converts a human-readable decimal amount into integer base
// units at the given scale, truncating any fractional remainder toward zero.
func ToBaseUnits(human decimal.Decimal, decimals uint8) (*big.Int, error) {
	if human.IsNegative() {
		return nil, ErrNegativeAmount
	}
	shifted := human.Shift(int32(decimals)).Truncate(0)
	units := shifted.BigInt()
	if !fitsWord(units) {
		return nil, ErrOverflow
	}
	return units, nil
}

// Convert turns an amount into a quantity at the target scale by dividing out
// a price quoted at the same scale as the amount:
//
//	result = amount * 10^toDecimals / price
//
// The multiplication is performed before the division on an arbitrary-width
// intermediate so no precision is lost, and the quotient truncates toward
// zero. Callers deriving borrow limits must therefore treat the result as a
// lower bound. Operands and the result must each fit a 256-bit word.
func Convert(amount, price *big.Int, toDecimals uint8) (*big.Int, error) {
	if amount == nil || price == nil {
		return nil, ErrOverflow
	}
	if amount.Sign() < 0 || price.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if price.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	if !fitsWord(amount) || !fitsWord(price) {
		return nil, ErrOverflow
	}
	result := new(big.Int).Mul(amount, Pow10(toDecimals))
	result.Quo(result, price)
	if !fitsWord(result) {
		return nil, ErrOverflow
	}
	return result, nil
}

// MulDiv computes a*b/denominator with the same wide-intermediate and
// truncation semantics as Convert. It backs the bonus and fee computations in
// the risk layer.
func MulDiv(a, b, denominator *big.Int) (*big.Int, error) {
	if a == nil || b == nil || denominator == nil {
		return nil, ErrOverflow
	}
	if a.Sign() < 0 || b.Sign() < 0 || denominator.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if denominator.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	if !fitsWord(a) || !fitsWord(b) || !fitsWord(denominator) {
		return nil, ErrOverflow
	}
	result := new(big.Int).Mul(a, b)
	result.Quo(result, denominator)
	if !fitsWord(result) {
		return nil, ErrOverflow
	}
	return result, nil
}

// FormatUnits renders integer base units as a human-readable decimal string
// at the given scale. Intended for logs and demo output only.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
