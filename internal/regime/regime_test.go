package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskguard/internal/market"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func TestScoreFormulas(t *testing.T) {
	s := Score(market.Features{Volatility: 0.9, TrendStrength: -0.2, VolumeTrend: -0.1, CrisisIndicator: 1})
	assert.InDelta(t, 0.03, s[TrendingBull], 1e-9)
	assert.InDelta(t, 0.38, s[TrendingBear], 1e-9)
	assert.InDelta(t, 0.85, s[RangingHighVol], 1e-9)
	assert.InDelta(t, 0.52, s[RangingLowVol], 1e-9)
	assert.InDelta(t, 1.0, s[CrisisMode], 1e-9)
	assert.InDelta(t, 0.0, s[Recovery], 1e-9)
}

func TestRecoveryScoreIsNotClamped(t *testing.T) {
	f := market.Features{Volatility: 0.2, TrendStrength: 0.8, VolumeTrend: 0.8}
	s := Score(f)
	assert.InDelta(t, 1.6, s[Recovery], 1e-9)
	assert.InDelta(t, 0.8, s[TrendingBull], 1e-9)

	best, conf := Rank(s)
	assert.Equal(t, Recovery, best)
	assert.Equal(t, 1.0, conf)

	c := NewClassifier(nil, Options{})
	out := c.Classify(f)
	assert.True(t, out.Changed)
	assert.Equal(t, Recovery, out.Regime)
}

func TestHysteresisKeepsRegimeOnLowConfidence(t *testing.T) {
	c := NewClassifier(nil, Options{})
	out := c.Classify(market.Features{Volatility: 0.9, TrendStrength: -0.2, VolumeTrend: -0.1, CrisisIndicator: 1})

	assert.Equal(t, CrisisMode, out.Candidate)
	assert.InDelta(t, 0.3, out.Confidence, 1e-9)
	assert.False(t, out.Changed)
	assert.Equal(t, RangingLowVol, out.Regime)
	assert.Equal(t, RangingLowVol, c.State().Regime)
}

func TestConfidentClassificationChangesRegime(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}
	c := NewClassifier(nil, Options{Now: clock.Now})
	clock.t = clock.t.Add(time.Hour)

	out := c.Classify(market.Features{Volatility: 1, TrendStrength: -1, VolumeTrend: -1})
	assert.True(t, out.Changed)
	assert.Equal(t, TrendingBear, out.Regime)
	assert.Equal(t, RangingLowVol, out.From)
	assert.Equal(t, 1.0, out.Confidence)

	st := c.State()
	assert.Equal(t, TrendingBear, st.Regime)
	assert.Equal(t, clock.t, st.LastTransition)
}

func TestHysteresisNeverFlipsBelowThreshold(t *testing.T) {
	c := NewClassifier(nil, Options{})
	inputs := []market.Features{
		{Volatility: 0.5, TrendStrength: 0.3, VolumeTrend: 0.1},
		{Volatility: 0.6, TrendStrength: -0.3, VolumeTrend: -0.2, CrisisIndicator: 0.4},
		{Volatility: 0.2},
		{Volatility: 0.7, CrisisIndicator: 0.7},
	}
	for _, f := range inputs {
		out := c.Classify(f)
		if out.Confidence < DefaultConfidenceThreshold {
			assert.Equal(t, RangingLowVol, out.Regime)
		}
	}
}

func TestRankTieHasZeroConfidence(t *testing.T) {
	best, conf := Rank(map[Regime]float64{TrendingBull: 0.5, TrendingBear: 0.5})
	assert.Equal(t, TrendingBull, best)
	assert.Equal(t, 0.0, conf)
}

func TestDefaultProfilesSumToOne(t *testing.T) {
	for r, p := range DefaultProfiles() {
		assert.InDelta(t, 1.0, p.Sum(), 1e-9, string(r))
	}
	assert.InDelta(t, 1.0, FallbackProfile().Sum(), 1e-9)
}

func TestNormalize(t *testing.T) {
	p := WeightProfile{"a": 2, "b": 6, "c": -1}.Normalize()
	assert.InDelta(t, 0.25, p["a"], 1e-12)
	assert.InDelta(t, 0.75, p["b"], 1e-12)
	assert.Equal(t, 0.0, p["c"])

	even := WeightProfile{"a": 0, "b": 0}.Normalize()
	assert.Equal(t, 0.5, even["a"])
}

func TestMergeOnlyReplacesKnownEngines(t *testing.T) {
	base := WeightProfile{"technical": 1, "news": 1}
	merged := Merge(base, WeightProfile{"technical": 3, "astrology": 10})
	require.Len(t, merged, 2)
	assert.InDelta(t, 0.75, merged["technical"], 1e-12)
	assert.InDelta(t, 0.25, merged["news"], 1e-12)
}

func TestSmoothTransitionNeverNegative(t *testing.T) {
	old := WeightProfile{"technical": 0.6, "news": 0.4}
	next := WeightProfile{"technical": 0.2, "volatility": 0.8}
	for _, step := range []float64{-0.5, 0, 0.25, 0.5, 1, 1.5} {
		w := SmoothTransition(old, next, step)
		for k, v := range w {
			assert.GreaterOrEqual(t, v, 0.0, k)
		}
		assert.InDelta(t, 1.0, w.Sum(), 1e-9)
	}
	mid := SmoothTransition(old, next, 0.5)
	assert.InDelta(t, 0.4, mid["technical"], 1e-12)
	assert.InDelta(t, 0.2, mid["news"], 1e-12)
	assert.InDelta(t, 0.4, mid["volatility"], 1e-12)
}

func TestActiveProfileBlendsDuringTransition(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}
	c := NewClassifier(nil, Options{Now: clock.Now, Transition: 10 * time.Minute})
	assert.Equal(t, DefaultProfiles()[RangingLowVol], c.ActiveProfile())

	c.Classify(market.Features{Volatility: 1, TrendStrength: -1, VolumeTrend: -1})
	clock.t = clock.t.Add(5 * time.Minute)
	blended := c.ActiveProfile()
	want := SmoothTransition(DefaultProfiles()[RangingLowVol], DefaultProfiles()[TrendingBear], 0.5)
	for k, v := range want {
		assert.InDelta(t, v, blended[k], 1e-12, k)
	}

	clock.t = clock.t.Add(10 * time.Minute)
	assert.Equal(t, DefaultProfiles()[TrendingBear], c.ActiveProfile())
}

func TestParse(t *testing.T) {
	r, err := Parse("crisis_mode")
	require.NoError(t, err)
	assert.Equal(t, CrisisMode, r)
	_, err = Parse("moon")
	assert.Error(t, err)
}
