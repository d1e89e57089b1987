// Package stress computes the Global Systemic Stress Indicator (GSSI), the
// Concentrated Alpha Risk score (CAR) and the leverage cascade derived from
// them.
package stress

import (
	"github.com/shopspring/decimal"

	"riskguard/internal/market"
	"riskguard/internal/riskmath"
)

// Neutral inputs used when a market aggregate is unavailable.
const (
	DefaultVIX               = 20.0
	DefaultCorrelation       = 0.6
	DefaultSpreadPips        = 1.5
	DefaultMomentumBreakdown = 0.3

	alphaConcentrationLimit = 0.15
)

type Components struct {
	VIXStress         float64 `json:"vix_stress"`
	CorrelationStress float64 `json:"correlation_stress"`
	LiquidityStress   float64 `json:"liquidity_stress"`
	MomentumBreakdown float64 `json:"momentum_breakdown"`
}

type GSSIResult struct {
	Score          float64    `json:"gssi_score"`
	Components     Components `json:"components"`
	VIX            float64    `json:"vix_level"`
	AvgCorrelation float64    `json:"avg_correlation"`
	AvgSpread      float64    `json:"avg_spread"`
}

// GSSI weighs four clamped components: VIX 0.3, correlation 0.25,
// liquidity 0.25, momentum breakdown 0.2.
func GSSI(agg market.Aggregates) GSSIResult {
	vix := DefaultVIX
	if agg.VIX != nil {
		vix = *agg.VIX
	}
	corr := DefaultCorrelation
	if len(agg.Correlations) > 0 {
		corr = mean(agg.Correlations)
	}
	spread := DefaultSpreadPips
	if len(agg.SpreadsPips) > 0 {
		spread = mean(agg.SpreadsPips)
	}
	momentum := DefaultMomentumBreakdown
	if agg.MomentumBreakdown != nil {
		momentum = *agg.MomentumBreakdown
	}
	c := Components{
		VIXStress:         riskmath.Clamp01((vix - 12) / 50),
		CorrelationStress: riskmath.Clamp01((corr - 0.3) / 0.6),
		LiquidityStress:   riskmath.Clamp01((spread - 1) / 4),
		MomentumBreakdown: riskmath.Clamp01(momentum),
	}
	score := 0.3*c.VIXStress + 0.25*c.CorrelationStress + 0.25*c.LiquidityStress + 0.2*c.MomentumBreakdown
	return GSSIResult{
		Score:          riskmath.Clamp01(score),
		Components:     c,
		VIX:            vix,
		AvgCorrelation: corr,
		AvgSpread:      spread,
	}
}

type CARResult struct {
	Score              float64         `json:"car_score"`
	Concentration      float64         `json:"concentration_risk"`
	AlphaConcentration float64         `json:"alpha_concentration"`
	GSSIInfluence      float64         `json:"gssi_influence"`
	PositionCount      int             `json:"position_count"`
	TotalExposure      decimal.Decimal `json:"total_exposure"`
	MaxStrategyPct     float64         `json:"max_strategy_pct"`
}

// CAR = 0.4×concentration + 0.3×alpha concentration + 0.3×gssi.
//
// GSSI feeds CAR here and the leverage cascade again through its own tier,
// so systemic stress is counted twice. That is the current product rule.
func CAR(positions []market.Position, strategyExposure map[string]float64, gssi float64) CARResult {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Notional())
	}
	concentration := 0.0
	if total.IsPositive() {
		hhi := decimal.Zero
		for _, p := range positions {
			share := p.Notional().DivRound(total, 12)
			hhi = hhi.Add(share.Mul(share))
		}
		concentration = riskmath.Clamp01(riskmath.Float(hhi) * 2)
	}
	maxPct := 0.0
	for _, pct := range strategyExposure {
		if pct > maxPct {
			maxPct = pct
		}
	}
	alpha := riskmath.Clamp01(maxPct / alphaConcentrationLimit)
	g := riskmath.Clamp01(gssi)
	return CARResult{
		Score:              riskmath.Clamp01(concentration*0.4 + alpha*0.3 + g*0.3),
		Concentration:      concentration,
		AlphaConcentration: alpha,
		GSSIInfluence:      g * 0.3,
		PositionCount:      len(positions),
		TotalExposure:      total,
		MaxStrategyPct:     maxPct,
	}
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
