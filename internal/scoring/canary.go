package scoring

import (
	"context"
	"math"

	"riskguard/internal/market"
	"riskguard/internal/riskmath"
)

// Scenario perturbs a copy of a snapshot for a heartbeat check. The zero
// value leaves the snapshot unchanged.
type Scenario struct {
	Name        string
	Description string
	Perturb     func(*market.Snapshot)
}

func (s Scenario) apply(snap market.Snapshot) market.Snapshot {
	cp := snap.Clone()
	if s.Perturb != nil {
		s.Perturb(&cp)
	}
	return cp
}

func bump(p *float64, def, delta float64) *float64 {
	v := def
	if p != nil {
		v = *p
	}
	v += delta
	return &v
}

// Canaries are the standing self-test scenarios.
var Canaries = []Scenario{
	{
		Name:        "rate_hike_shock",
		Description: "Simulate sudden rate hike",
		Perturb: func(s *market.Snapshot) {
			s.Market.VIX = bump(s.Market.VIX, 20, 15)
			s.Features.Volatility = riskmath.Clamp01(s.Features.Volatility + 0.3)
			s.Features.TrendStrength = math.Max(-1, s.Features.TrendStrength-0.4)
		},
	},
	{
		Name:        "oil_spike",
		Description: "Simulate oil price spike",
		Perturb: func(s *market.Snapshot) {
			if s.Fields == nil {
				s.Fields = map[string]float64{}
			}
			s.Fields["news_sentiment"] = riskmath.Clamp01(s.NumOr("news_sentiment", 0.5) - 0.3)
			s.Market.MomentumBreakdown = bump(s.Market.MomentumBreakdown, 0.3, 0.3)
			s.Features.Volatility = riskmath.Clamp01(s.Features.Volatility + 0.2)
		},
	},
	{
		Name:        "risk_off",
		Description: "Simulate risk-off scenario",
		Perturb: func(s *market.Snapshot) {
			for i := range s.Market.Correlations {
				s.Market.Correlations[i] = 0.9
			}
			if len(s.Market.Correlations) == 0 {
				s.Market.Correlations = []float64{0.9}
			}
			for i := range s.Market.SpreadsPips {
				s.Market.SpreadsPips[i] *= 2
			}
			s.SpreadPips *= 2
			s.Features.CrisisIndicator = riskmath.Clamp01(s.Features.CrisisIndicator + 0.5)
		},
	},
}

// RunCanaries heartbeats every engine under every canary scenario. The
// snapshot passed in is never modified.
func RunCanaries(ctx context.Context, engines []Engine, snap market.Snapshot) []HeartbeatStats {
	out := make([]HeartbeatStats, 0, len(engines)*len(Canaries))
	for _, sc := range Canaries {
		for _, e := range engines {
			if ctx.Err() != nil {
				return out
			}
			out = append(out, e.Heartbeat(ctx, sc, snap))
		}
	}
	return out
}
