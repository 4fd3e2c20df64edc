package math

import (
	"errors"
	"math"
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	QuoteConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}   // 0.000001 collateral unit (USDC)
	BaseConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}   // 0.000001 synthetic unit
	PriceConfig = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000} // 0.00000001 base/quote rate
)

// Basis is the denominator for all ratio-valued quantities
// (fees, margin ratios, shift values, tolerances).
const Basis int64 = 10_000

var (
	ErrDivisionByZero = errors.New("math: division by zero")
	ErrOverflow       = errors.New("math: result exceeds int64 range")
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundDown     RoundingMode = iota // Truncate toward zero (default)
	RoundHalfEven                     // Banker's rounding
)

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding.
// Truncation is toward zero so negative P&L quantities divide the
// same way positive ones do. The quotient must fit in int64; callers
// that cannot guarantee that use MulDiv.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.QuoRem(numerator, denom, remainder)

	result := quotient.Int64()

	if roundingMode == RoundHalfEven {
		// Compare |remainder|*2 against |denominator|
		absRem := remainder.Abs(remainder)
		absRem.Lsh(absRem, 1)
		absDenom := denom.Abs(denom)

		cmp := absRem.Cmp(absDenom)
		if cmp > 0 {
			result += sign(numerator.Sign(), denominator)
		} else if cmp == 0 && result%2 != 0 {
			// Exactly half and odd quotient: round to even
			result += sign(numerator.Sign(), denominator)
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

func sign(numSign int, denominator int64) int64 {
	s := int64(1)
	if numSign < 0 {
		s = -s
	}
	if denominator < 0 {
		s = -s
	}
	return s
}

// MulDiv computes a * b / denominator through a 128-bit intermediate.
// Errors on a zero denominator or an int64-overflowing result;
// it never wraps or clamps silently.
func MulDiv(a, b, denominator int64, roundingMode RoundingMode) (int64, error) {
	if denominator == 0 {
		return 0, ErrDivisionByZero
	}

	product := MultiplyInt128(a, b)
	defer putInt128(product)

	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	quotient.QuoRem(product, big.NewInt(denominator), remainder)

	if !quotient.IsInt64() {
		return 0, ErrOverflow
	}

	result := quotient.Int64()

	if roundingMode == RoundHalfEven {
		absRem := remainder.Abs(remainder)
		absRem.Lsh(absRem, 1)
		absDenom := new(big.Int).Abs(big.NewInt(denominator))

		cmp := absRem.Cmp(absDenom)
		if cmp > 0 || (cmp == 0 && result%2 != 0) {
			adj := sign(product.Sign(), denominator)
			if result == math.MaxInt64 && adj > 0 {
				return 0, ErrOverflow
			}
			result += adj
		}
	}

	return result, nil
}

// PercentageOf computes amount * bps / Basis, truncating toward zero.
// bps is caller-validated (parameter validation keeps fees and ratios
// within a small multiple of Basis), so the result cannot overflow.
func PercentageOf(amount, bps int64) int64 {
	product := MultiplyInt128(amount, bps)
	result := DivideInt128(product, Basis, RoundDown)
	putInt128(product)
	return result
}

// Rescale converts a value between decimal precisions.
func Rescale(value int64, from, to DecimalConfig) (int64, error) {
	if from.Scale == to.Scale {
		return value, nil
	}
	if from.Scale < to.Scale {
		return MulDiv(value, to.Scale/from.Scale, 1, RoundDown)
	}
	return MulDiv(value, 1, from.Scale/to.Scale, RoundDown)
}

func MinInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func MaxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// ClampInt64 bounds v to [lo, hi].
func ClampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
