package decision

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"riskguard/internal/guard"
	"riskguard/internal/market"
)

func sampleRecord() Record {
	return Record{
		TraceID:    "t-1",
		Instrument: "EUR_USD",
		At:         time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Action:     ActionBlock,
		Reasons:    []Reason{{Code: ReasonGate, Detail: "spread"}},
		FinalScore: 0.42,
		Engines: []EngineEntry{
			{Name: "technical", Score: 0.5, Weight: 0.6, Reason: "rsi neutral"},
			{Name: "news", Score: 0, Weight: 0.4, Reason: "error: timeout", Degraded: true},
		},
		Weights:  map[string]float64{"technical": 0.6, "news": 0.4},
		Gates:    map[string]bool{"spread": false, "leverage": true, "anti_hedging": false},
		Regime:   RegimeInfo{Regime: "ranging_low_vol"},
		Sentinel: SentinelInfo{Mode: "stand_down"},
		Order: &guard.Order{Instrument: "EUR_USD", Side: market.SideLong, Units: decimal.NewFromInt(1000),
			Price: decimal.RequireFromString("1.1")},
	}
}

func TestRecordHelpers(t *testing.T) {
	r := sampleRecord()
	assert.True(t, r.Terminal())
	assert.Equal(t, ReasonGate, r.PrimaryReason())
	assert.Equal(t, []string{"anti_hedging", "spread"}, r.FailedGates())
	assert.Equal(t, map[string]float64{"technical": 0.5, "news": 0}, r.EngineScores())
}

func TestCloneIsDeep(t *testing.T) {
	r := sampleRecord()
	c := r.Clone()
	c.Gates["spread"] = true
	c.Engines[0].Score = 1
	c.Order.Units = decimal.Zero
	assert.False(t, r.Gates["spread"])
	assert.Equal(t, 0.5, r.Engines[0].Score)
	assert.Equal(t, "1000", r.Order.Units.String())
}

func TestRender(t *testing.T) {
	out := Render(sampleRecord())
	assert.Contains(t, out, "EUR_USD BLOCK score=0.4200")
	assert.Contains(t, out, "news: 0.000 w=0.400 (error: timeout)")
	assert.Contains(t, out, "order long 1000 @ 1.1")
	assert.Contains(t, out, "reason gate_blocked: spread")
}
