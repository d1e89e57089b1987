package regime

import (
	"math"
	"sort"

	"riskguard/internal/riskmath"
)

// WeightProfile maps engine name to a non-negative weight. Weights need not
// sum to 1 until Normalize is applied.
type WeightProfile map[string]float64

func (p WeightProfile) Clone() WeightProfile {
	out := make(WeightProfile, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns the engine names in sorted order.
func (p WeightProfile) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p WeightProfile) Sum() float64 {
	sum := 0.0
	for _, v := range p {
		sum += v
	}
	return sum
}

// Normalize returns a copy whose weights sum to 1. Negative and non-finite
// weights count as zero; an all-zero profile becomes uniform.
func (p WeightProfile) Normalize() WeightProfile {
	out := make(WeightProfile, len(p))
	sum := 0.0
	for k, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			v = 0
		}
		out[k] = v
		sum += v
	}
	if len(out) == 0 {
		return out
	}
	if sum == 0 {
		even := 1 / float64(len(out))
		for k := range out {
			out[k] = even
		}
		return out
	}
	for k, v := range out {
		out[k] = v / sum
	}
	return out
}

// Merge overrides base weights with the regime profile for engines the base
// already knows, then renormalizes. Engines only present in override are
// ignored.
func Merge(base, override WeightProfile) WeightProfile {
	out := base.Clone()
	for k, v := range override {
		if _, ok := out[k]; ok {
			out[k] = v
		}
	}
	return out.Normalize()
}

// SmoothTransition interpolates per-engine weights from old to new as t goes
// from 0 to 1. Missing engines count as zero weight; the result is never
// negative.
func SmoothTransition(old, next WeightProfile, t float64) WeightProfile {
	t = riskmath.Clamp01(t)
	out := make(WeightProfile, len(old)+len(next))
	for k, v := range old {
		out[k] = (1 - t) * math.Max(0, v)
	}
	for k, v := range next {
		out[k] += t * math.Max(0, v)
	}
	for k, v := range out {
		if v < 0 {
			out[k] = 0
		}
	}
	return out
}

// DefaultProfiles is the built-in regime table used when no profile store is
// configured or the store is unreadable.
func DefaultProfiles() map[Regime]WeightProfile {
	return map[Regime]WeightProfile{
		TrendingBull: {
			"technical": 0.35, "fundamental": 0.25, "sentiment": 0.20,
			"correlation": 0.10, "volatility": 0.05, "news": 0.05,
		},
		TrendingBear: {
			"technical": 0.30, "fundamental": 0.20, "sentiment": 0.15,
			"correlation": 0.15, "volatility": 0.15, "news": 0.05,
		},
		RangingHighVol: {
			"technical": 0.25, "fundamental": 0.05, "sentiment": 0.15,
			"correlation": 0.20, "volatility": 0.30, "news": 0.05,
		},
		RangingLowVol: {
			"technical": 0.40, "fundamental": 0.10, "sentiment": 0.15,
			"correlation": 0.25, "volatility": 0.10, "news": 0.00,
		},
		CrisisMode: {
			"technical": 0.05, "fundamental": 0.00, "sentiment": 0.35,
			"correlation": 0.15, "volatility": 0.20, "news": 0.25,
		},
		Recovery: {
			"technical": 0.25, "fundamental": 0.35, "sentiment": 0.20,
			"correlation": 0.10, "volatility": 0.10, "news": 0.00,
		},
	}
}

// FallbackProfile applies when a regime has no entry at all.
func FallbackProfile() WeightProfile {
	return WeightProfile{
		"technical": 0.25, "fundamental": 0.20, "sentiment": 0.20,
		"correlation": 0.15, "volatility": 0.15, "news": 0.05,
	}
}

// ProfileSource resolves the weight profile of a regime.
type ProfileSource interface {
	Profile(r Regime) WeightProfile
}

// StaticProfiles serves a fixed table.
type StaticProfiles map[Regime]WeightProfile

func (s StaticProfiles) Profile(r Regime) WeightProfile {
	if p, ok := s[r]; ok && len(p) > 0 {
		return p.Clone()
	}
	return FallbackProfile()
}
