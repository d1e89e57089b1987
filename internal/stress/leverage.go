package stress

import (
	"github.com/shopspring/decimal"

	"riskguard/internal/market"
	"riskguard/internal/riskmath"
)

var (
	dec04  = decimal.RequireFromString("0.4")
	dec05  = decimal.RequireFromString("0.5")
	dec06  = decimal.RequireFromString("0.6")
	dec075 = decimal.RequireFromString("0.75")
	dec08  = decimal.RequireFromString("0.8")
)

// GSSIMultiplier is the leverage tier for systemic stress.
func GSSIMultiplier(gssi float64) decimal.Decimal {
	switch {
	case gssi >= 0.8:
		return dec04
	case gssi >= 0.6:
		return dec06
	case gssi >= 0.4:
		return dec08
	default:
		return riskmath.One()
	}
}

// CARMultiplier is the leverage tier for concentration risk.
func CARMultiplier(car float64) decimal.Decimal {
	switch {
	case car >= 0.7:
		return dec05
	case car >= 0.5:
		return dec075
	default:
		return riskmath.One()
	}
}

// SizingMultiplier scales position size under stress.
func SizingMultiplier(gssi float64) decimal.Decimal {
	switch {
	case gssi >= 0.8:
		return dec05
	case gssi >= 0.6:
		return dec075
	default:
		return riskmath.One()
	}
}

// ScoreAdjustment dampens the weighted decision score as stress rises.
func ScoreAdjustment(gssi, car float64) float64 {
	switch {
	case gssi >= 0.8 || car >= 0.7:
		return 0.3
	case gssi >= 0.6 || car >= 0.5:
		return 0.6
	case gssi >= 0.4 || car >= 0.3:
		return 0.8
	default:
		return 1.0
	}
}

type LeverageAdjustment struct {
	Base           decimal.Decimal `json:"base_leverage"`
	GSSIMultiplier decimal.Decimal `json:"gssi_multiplier"`
	CARMultiplier  decimal.Decimal `json:"car_multiplier"`
	Combined       decimal.Decimal `json:"combined_multiplier"`
	Adjusted       decimal.Decimal `json:"adjusted_leverage"`
	Final          decimal.Decimal `json:"final_leverage"`
}

// DynamicLeverage applies both tiers multiplicatively and caps the result
// at riskmath.MaxLeverage.
func DynamicLeverage(base decimal.Decimal, gssi, car float64) LeverageAdjustment {
	g := GSSIMultiplier(gssi)
	c := CARMultiplier(car)
	combined := g.Mul(c)
	adjusted := base.Mul(combined)
	return LeverageAdjustment{
		Base:           base,
		GSSIMultiplier: g,
		CARMultiplier:  c,
		Combined:       combined,
		Adjusted:       adjusted,
		Final:          riskmath.CapLeverage(adjusted),
	}
}

// Assessment is the per-cycle stress picture.
type Assessment struct {
	GSSI            GSSIResult         `json:"gssi"`
	CAR             CARResult          `json:"car"`
	Leverage        LeverageAdjustment `json:"leverage"`
	ScoreMultiplier float64            `json:"score_multiplier"`
}

// Engine evaluates stress with a configured base leverage.
type Engine struct {
	baseLeverage decimal.Decimal
}

func NewEngine(baseLeverage decimal.Decimal) *Engine {
	if !baseLeverage.IsPositive() {
		baseLeverage = decimal.NewFromInt(riskmath.MaxLeverage)
	}
	return &Engine{baseLeverage: baseLeverage}
}

func (e *Engine) Assess(snap market.Snapshot) Assessment {
	g := GSSI(snap.Market)
	positions := snap.Account.Positions
	if len(positions) == 0 {
		positions = snap.Positions
	}
	c := CAR(positions, snap.Account.StrategyExposure, g.Score)
	return Assessment{
		GSSI:            g,
		CAR:             c,
		Leverage:        DynamicLeverage(e.baseLeverage, g.Score, c.Score),
		ScoreMultiplier: ScoreAdjustment(g.Score, c.Score),
	}
}
