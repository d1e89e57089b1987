// Package riskmath holds the numeric primitives shared by sizing, stress and
// the guards. Money and unit quantities are decimal; scores stay float64.
package riskmath

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"riskguard/internal/pkg/symbol"
)

// MaxLeverage is the absolute ceiling applied after every multiplier.
const MaxLeverage = 50

var (
	ErrNonFinite   = errors.New("non-finite numeric input")
	ErrNonPositive = errors.New("value must be positive")
	decZero        = decimal.Zero
	decOne         = decimal.NewFromInt(1)
	pipStandard    = decimal.New(1, -4)
	pipJPY         = decimal.New(1, -2)
	decMaxLeverage = decimal.NewFromInt(MaxLeverage)
)

// Dec converts a float into a decimal. NaN and Inf become zero; callers that
// care validate with Finite first.
func Dec(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decZero
	}
	return decimal.NewFromFloat(v)
}

func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Finite returns ErrNonFinite naming the first NaN or Inf field.
func Finite(fields map[string]float64) error {
	for name, v := range fields {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%v", ErrNonFinite, name, v)
		}
	}
	return nil
}

func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func ClampDec(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// PipSize is 0.01 for yen-quoted pairs and 0.0001 otherwise.
func PipSize(instrument string) decimal.Decimal {
	if symbol.Parse(instrument).IsJPYQuoted() {
		return pipJPY
	}
	return pipStandard
}

// PipValue is the quote-currency value of one pip on units at price.
func PipValue(instrument string, units, price decimal.Decimal) decimal.Decimal {
	return units.Mul(PipSize(instrument)).Mul(price)
}

// PipValuePerUnit is the account-currency value of a one pip move on a single
// unit. When the account currency is the quote it is the pip size itself;
// when it is the base the pip is converted at price. Crosses fall back to the
// pip size.
func PipValuePerUnit(instrument string, price decimal.Decimal, accountCurrency string) (decimal.Decimal, error) {
	pip := PipSize(instrument)
	sym := symbol.Parse(instrument)
	if sym.Base == accountCurrency && sym.Quote != accountCurrency {
		if !price.IsPositive() {
			return decZero, fmt.Errorf("pip value for %s: price %w", instrument, ErrNonPositive)
		}
		return pip.DivRound(price, 12), nil
	}
	return pip, nil
}

// PipsBetween is the absolute distance between two prices in pips.
func PipsBetween(instrument string, a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b).Abs().DivRound(PipSize(instrument), 8)
}

// Leverage is notional (units × price) over balance.
func Leverage(units, price, balance decimal.Decimal) (decimal.Decimal, error) {
	if !balance.IsPositive() {
		return decZero, fmt.Errorf("leverage: balance %w", ErrNonPositive)
	}
	return units.Abs().Mul(price).DivRound(balance, 8), nil
}

// CapLeverage bounds a leverage figure to [0, MaxLeverage].
func CapLeverage(l decimal.Decimal) decimal.Decimal {
	return ClampDec(l, decZero, decMaxLeverage)
}

// FloorUnits rounds toward zero and never returns a negative count.
func FloorUnits(units decimal.Decimal) decimal.Decimal {
	if !units.IsPositive() {
		return decZero
	}
	return units.Truncate(0)
}

// One is exported for multiplier defaults.
func One() decimal.Decimal { return decOne }
