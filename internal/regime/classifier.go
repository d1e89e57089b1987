// Package regime classifies market context into one of six regimes and
// serves the engine weight profile of the active regime.
package regime

import (
	"fmt"
	"math"
	"sync"
	"time"

	"riskguard/internal/market"
	"riskguard/internal/riskmath"
)

type Regime string

const (
	TrendingBull   Regime = "trending_bull"
	TrendingBear   Regime = "trending_bear"
	RangingHighVol Regime = "ranging_high_vol"
	RangingLowVol  Regime = "ranging_low_vol"
	CrisisMode     Regime = "crisis_mode"
	Recovery       Regime = "recovery_mode"
)

// All lists regimes in tie-break order.
var All = []Regime{TrendingBull, TrendingBear, RangingHighVol, RangingLowVol, CrisisMode, Recovery}

func Parse(s string) (Regime, error) {
	for _, r := range All {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown regime %q", s)
}

const DefaultConfidenceThreshold = 0.8

type State struct {
	Regime         Regime             `json:"regime"`
	Confidence     float64            `json:"confidence"`
	LastTransition time.Time          `json:"last_transition"`
	Previous       Regime             `json:"previous,omitempty"`
	Scores         map[Regime]float64 `json:"scores,omitempty"`
}

type Classification struct {
	Regime     Regime             `json:"regime"`
	Candidate  Regime             `json:"candidate"`
	Confidence float64            `json:"confidence"`
	Scores     map[Regime]float64 `json:"scores"`
	Changed    bool               `json:"changed"`
	From       Regime             `json:"from,omitempty"`
}

type Options struct {
	Threshold float64
	// Transition is how long weights take to hand over after a change.
	Transition time.Duration
	Now        func() time.Time
}

// Classifier owns the regime state; Classify is its only mutator.
type Classifier struct {
	mu         sync.RWMutex
	state      State
	threshold  float64
	transition time.Duration
	profiles   ProfileSource
	now        func() time.Time
}

func NewClassifier(profiles ProfileSource, opts Options) *Classifier {
	if profiles == nil {
		profiles = StaticProfiles(DefaultProfiles())
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultConfidenceThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Classifier{
		state:      State{Regime: RangingLowVol, LastTransition: opts.Now()},
		threshold:  opts.Threshold,
		transition: opts.Transition,
		profiles:   profiles,
		now:        opts.Now,
	}
}

// Score computes each regime's raw score from the four features. Only the
// inputs are clamped; recovery can exceed 1 and that margin feeds Rank.
func Score(f market.Features) map[Regime]float64 {
	v := riskmath.Clamp01(f.Volatility)
	t := clampSigned(f.TrendStrength)
	vt := clampSigned(f.VolumeTrend)
	c := riskmath.Clamp01(f.CrisisIndicator)
	return map[Regime]float64{
		TrendingBull:   math.Max(0, t)*0.4 + (1-v)*0.3 + math.Max(0, vt)*0.3,
		TrendingBear:   math.Max(0, -t)*0.4 + v*0.3 + math.Max(0, -vt)*0.3,
		RangingHighVol: (1-math.Abs(t))*0.5 + v*0.5,
		RangingLowVol:  (1-math.Abs(t))*0.6 + (1-v)*0.4,
		CrisisMode:     c,
		Recovery:       math.Max(0, 1-c) * math.Max(0, t+vt),
	}
}

// Rank returns the best and runner-up regimes and the resulting confidence.
func Rank(scores map[Regime]float64) (best Regime, confidence float64) {
	best = All[0]
	bestScore, second := math.Inf(-1), math.Inf(-1)
	for _, r := range All {
		s := scores[r]
		if s > bestScore {
			second = bestScore
			best, bestScore = r, s
		} else if s > second {
			second = s
		}
	}
	return best, math.Min(1, 2*(bestScore-second))
}

// Classify scores the features and moves to the winning regime only when
// the confidence clears the threshold.
func (c *Classifier) Classify(f market.Features) Classification {
	scores := Score(f)
	best, conf := Rank(scores)

	c.mu.Lock()
	defer c.mu.Unlock()
	out := Classification{Candidate: best, Confidence: conf, Scores: scores}
	if conf >= c.threshold && best != c.state.Regime {
		out.Changed = true
		out.From = c.state.Regime
		c.state.Previous = c.state.Regime
		c.state.Regime = best
		c.state.LastTransition = c.now()
	}
	c.state.Confidence = conf
	c.state.Scores = scores
	out.Regime = c.state.Regime
	return out
}

func (c *Classifier) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.state
	if c.state.Scores != nil {
		st.Scores = make(map[Regime]float64, len(c.state.Scores))
		for k, v := range c.state.Scores {
			st.Scores[k] = v
		}
	}
	return st
}

// WeightProfile returns the fixed profile of r.
func (c *Classifier) WeightProfile(r Regime) WeightProfile {
	return c.profiles.Profile(r)
}

// ActiveProfile is the current regime's profile, blended from the previous
// regime while a transition window is in progress.
func (c *Classifier) ActiveProfile() WeightProfile {
	c.mu.RLock()
	st := c.state
	c.mu.RUnlock()
	next := c.profiles.Profile(st.Regime)
	if c.transition <= 0 || st.Previous == "" {
		return next
	}
	elapsed := c.now().Sub(st.LastTransition)
	if elapsed >= c.transition {
		return next
	}
	return SmoothTransition(c.profiles.Profile(st.Previous), next, float64(elapsed)/float64(c.transition))
}

// Reset returns to the initial regime.
func (c *Classifier) Reset() {
	c.mu.Lock()
	c.state = State{Regime: RangingLowVol, LastTransition: c.now()}
	c.mu.Unlock()
}

func clampSigned(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
