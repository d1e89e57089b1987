package supervisor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskguard/internal/calibration"
	"riskguard/internal/decision"
	"riskguard/internal/guard"
	"riskguard/internal/market"
	"riskguard/internal/metrics"
	"riskguard/internal/regime"
	"riskguard/internal/scoring"
	"riskguard/internal/sentinel"
	"riskguard/internal/sizing"
	"riskguard/internal/stress"
	"riskguard/internal/trace"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	sup      *Supervisor
	clock    *clock
	events   *trace.Recorder
	sentinel *sentinel.Engine
	auditor  *calibration.Auditor
	exec     *calibration.ExecutionMonitor
	guard    *guard.Evaluator
}

func constant(name string, v float64) scoring.Engine {
	return scoring.NewFunc(name, func(context.Context, market.Snapshot) (float64, string, error) {
		return v, "fixed", nil
	})
}

func newHarness(t *testing.T, engines ...scoring.Engine) *harness {
	t.Helper()
	if len(engines) == 0 {
		engines = []scoring.Engine{constant("technical", 0.9), constant("sentiment", 0.8)}
	}
	clk := &clock{t: time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)}
	rec := trace.NewRecorder(256)
	h := &harness{
		clock:    clk,
		events:   rec,
		sentinel: sentinel.NewEngine(sentinel.Config{}, clk.now),
		auditor:  calibration.NewAuditor(calibration.DefaultConfig(), clk.now),
		exec:     calibration.NewExecutionMonitor(calibration.DefaultExecutionConfig(), clk.now),
		guard:    guard.NewEvaluator(guard.DefaultConfig(), clk.now),
	}
	sup, err := New(Config{}, Deps{
		Runner:      scoring.NewRunner(time.Second, engines...),
		Classifier:  regime.NewClassifier(nil, regime.Options{Now: clk.now}),
		Stress:      stress.NewEngine(decimal.NewFromInt(50)),
		Sentinel:    h.sentinel,
		Calibration: h.auditor,
		Execution:   h.exec,
		Guard:       h.guard,
		Sizer:       sizing.NewSizer(sizing.Config{}),
		Emitter:     &trace.Emitter{Sink: rec, Now: clk.now},
		Metrics:     metrics.New(),
		Now:         clk.now,
	})
	require.NoError(t, err)
	h.sup = sup
	return h
}

func calmSnapshot() market.Snapshot {
	return market.Snapshot{
		Instrument: "EUR_USD",
		Price:      decimal.RequireFromString("1.1000"),
		SpreadPips: 0.8,
		SpreadP50:  0.8,
		SpreadP99:  1.2,
		Market: market.Aggregates{
			VIX:               market.Float(14),
			Correlations:      []float64{0.3},
			SpreadsPips:       []float64{1.0},
			MomentumBreakdown: market.Float(0),
		},
		Account: market.Account{
			Currency: "USD",
			Balance:  decimal.NewFromInt(10000),
			NAV:      decimal.NewFromInt(10000),
		},
		Features: market.Features{Volatility: 0.1},
		DataAge:  10 * time.Second,
	}
}

func terminalEvents(events []trace.Event) []trace.Event {
	var out []trace.Event
	for _, ev := range events {
		if ev.Terminal {
			out = append(out, ev)
		}
	}
	return out
}

func TestEvaluateActsWhenEveryGatePasses(t *testing.T) {
	h := newHarness(t)
	rec, err := h.sup.Evaluate(context.Background(), calmSnapshot())
	require.NoError(t, err)

	assert.Equal(t, decision.ActionAct, rec.Action, rec.Reasons)
	assert.Equal(t, decision.ReasonApproved, rec.PrimaryReason())
	assert.InDelta(t, 0.9*0.4/0.55+0.8*0.15/0.55, rec.RawScore, 1e-9)
	assert.InDelta(t, rec.RawScore, rec.FinalScore, 1e-9)
	assert.Equal(t, string(regime.RangingLowVol), rec.Regime.Regime)
	require.NotNil(t, rec.Order)
	assert.Equal(t, market.SideLong, rec.Order.Side)
	assert.True(t, rec.Order.Units.Equal(decimal.NewFromInt(100000)), rec.Order.Units.String())
	assert.True(t, rec.Order.StopLoss.Equal(decimal.RequireFromString("1.098")))
	assert.Len(t, rec.Gates, 13)
	assert.Empty(t, rec.FailedGates())

	events := h.events.ByTrace(rec.TraceID)
	term := terminalEvents(events)
	require.Len(t, term, 1)
	assert.Equal(t, trace.EventDecision, term[0].Name)
	payload, ok := term[0].Fields[trace.FieldPayload].(decision.Record)
	require.True(t, ok)
	assert.Equal(t, rec.TraceID, payload.TraceID)
}

func TestEvaluateBlocksDuplicateOrder(t *testing.T) {
	h := newHarness(t)
	first, err := h.sup.Evaluate(context.Background(), calmSnapshot())
	require.NoError(t, err)
	require.Equal(t, decision.ActionAct, first.Action)

	h.clock.advance(time.Minute)
	second, err := h.sup.Evaluate(context.Background(), calmSnapshot())
	require.NoError(t, err)
	assert.Equal(t, decision.ActionBlock, second.Action)
	assert.Contains(t, second.FailedGates(), guard.GateDuplicate)
}

func TestEvaluateBlocksDuplicateAfterResize(t *testing.T) {
	h := newHarness(t)
	first, err := h.sup.Evaluate(context.Background(), calmSnapshot())
	require.NoError(t, err)
	require.Equal(t, decision.ActionAct, first.Action)

	h.clock.advance(time.Minute)
	moved := calmSnapshot()
	moved.Price = decimal.RequireFromString("1.1001")
	moved.Account.Balance = decimal.NewFromInt(10001)
	moved.Account.NAV = decimal.NewFromInt(10001)
	second, err := h.sup.Evaluate(context.Background(), moved)
	require.NoError(t, err)
	assert.Equal(t, decision.ActionBlock, second.Action)
	assert.Contains(t, second.FailedGates(), guard.GateDuplicate)
}

func TestZeroKellyFractionIsIgnored(t *testing.T) {
	plain, err := newHarness(t).sup.Evaluate(context.Background(), calmSnapshot())
	require.NoError(t, err)
	require.Equal(t, decision.ActionAct, plain.Action)

	snap := calmSnapshot()
	snap.Fields = map[string]float64{"kelly_fraction": 0}
	rec, err := newHarness(t).sup.Evaluate(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, decision.ActionAct, rec.Action)
	require.NotNil(t, rec.Sizing)
	assert.True(t, plain.Sizing.Units.Equal(rec.Sizing.Units))
}

func TestEvaluateRejectsNonFiniteSnapshot(t *testing.T) {
	h := newHarness(t)
	snap := calmSnapshot()
	snap.ATR = math.NaN()
	_, err := h.sup.Evaluate(context.Background(), snap)
	require.Error(t, err)
	assert.Empty(t, h.events.Recent(10))
}

func TestSentinelOverrideShortCircuitsScoring(t *testing.T) {
	called := false
	eng := scoring.NewFunc("technical", func(context.Context, market.Snapshot) (float64, string, error) {
		called = true
		return 1, "", nil
	})
	h := newHarness(t, eng)
	require.NotNil(t, h.sentinel.Apply(sentinel.Assessment{SwanScore: 0.9, RecommendedMode: "protect"}))

	rec, err := h.sup.Evaluate(context.Background(), calmSnapshot())
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, decision.ActionOverride, rec.Action)
	assert.Equal(t, decision.ReasonSentinelOverride, rec.PrimaryReason())
	assert.True(t, rec.Sentinel.Override)
	assert.Nil(t, rec.Order)

	term := terminalEvents(h.events.ByTrace(rec.TraceID))
	require.Len(t, term, 1)
	assert.Equal(t, trace.EventOverride, term[0].Name)
	assert.Equal(t, trace.SeverityCritical, term[0].Severity)
}

func TestCalibrationLockBlocksEntries(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 20; i++ {
		require.NoError(t, h.sup.RecordOutcome(0.9, false, nil))
	}
	h.sup.Tick(context.Background())
	require.Equal(t, calibration.StateWeightLock, h.auditor.Status().State)

	rec, err := h.sup.Evaluate(context.Background(), calmSnapshot())
	require.NoError(t, err)
	assert.Equal(t, decision.ActionBlock, rec.Action)
	assert.Equal(t, decision.ReasonCalibrationLock, rec.PrimaryReason())
	assert.True(t, rec.Calibration.Blocking)
	assert.NotEmpty(t, rec.Engines)

	var transitions int
	for _, ev := range h.events.Recent(100) {
		if ev.Name == trace.EventCalibration {
			transitions++
			assert.Equal(t, trace.SeverityCritical, ev.Severity)
		}
	}
	assert.Equal(t, 1, transitions)
}

func TestDrawdownHaltFlattensAndOverridesEverything(t *testing.T) {
	h := newHarness(t)
	snap := calmSnapshot()
	_, err := h.sup.Evaluate(context.Background(), snap)
	require.NoError(t, err)

	h.clock.advance(time.Hour)
	snap.Account.NAV = decimal.NewFromInt(9000)
	snap.Positions = []market.Position{{
		ID: "p1", Instrument: "EUR_USD", Side: market.SideLong, Units: decimal.NewFromInt(1000),
		EntryPrice: decimal.RequireFromString("1.1050"), StopLoss: decimal.RequireFromString("1.1000"),
		CurrentPrice: decimal.RequireFromString("1.1000"),
	}}
	rec, err := h.sup.Evaluate(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, decision.ActionHalt, rec.Action)
	require.Len(t, rec.Emergency, 1)
	assert.Equal(t, guard.ActionMarketExit, rec.Emergency[0].Kind)
	assert.Equal(t, "p1", rec.Emergency[0].PositionID)

	// stays halted even when nav recovers
	h.clock.advance(time.Hour)
	snap.Account.NAV = decimal.NewFromInt(10000)
	rec, err = h.sup.Evaluate(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, decision.ActionHalt, rec.Action)

	res := h.sup.ResetDaily(context.Background(), decimal.NewFromInt(10000))
	assert.True(t, res.Changed)
	assert.False(t, h.guard.Drawdown.Halted())
}

func TestLowScoreBlocksOnProbabilityGate(t *testing.T) {
	h := newHarness(t, constant("technical", 0.2))
	rec, err := h.sup.Evaluate(context.Background(), calmSnapshot())
	require.NoError(t, err)
	assert.Equal(t, decision.ActionBlock, rec.Action)
	assert.Contains(t, rec.FailedGates(), guard.GateProbability)
}

func TestDegradedEngineScoresZeroAndWarns(t *testing.T) {
	broken := scoring.NewFunc("sentiment", func(context.Context, market.Snapshot) (float64, string, error) {
		return 0, "", errors.New("feed down")
	})
	h := newHarness(t, constant("technical", 0.9), broken)
	rec, err := h.sup.Evaluate(context.Background(), calmSnapshot())
	require.NoError(t, err)

	var degraded bool
	for _, e := range rec.Engines {
		if e.Name == "sentiment" {
			degraded = e.Degraded
			assert.Zero(t, e.Score)
		}
	}
	assert.True(t, degraded)
	var warned bool
	for _, ev := range h.events.ByTrace(rec.TraceID) {
		if ev.Name == trace.EventEngineDegraded {
			warned = true
		}
	}
	assert.True(t, warned)
	assert.Len(t, terminalEvents(h.events.ByTrace(rec.TraceID)), 1)
}

func TestSentinelDecayOnTick(t *testing.T) {
	h := newHarness(t)
	require.NotNil(t, h.sentinel.Apply(sentinel.Assessment{SwanScore: 0.8, RecommendedMode: "pounce"}))
	h.clock.advance(7 * time.Hour)
	h.sup.Tick(context.Background())
	assert.Equal(t, sentinel.StandDown, h.sentinel.Mode())
}

func TestAssessSentinelUsesStressInputs(t *testing.T) {
	h := newHarness(t)
	var got sentinel.Input
	a := sentinel.AssessorFunc(func(_ context.Context, in sentinel.Input) sentinel.Assessment {
		got = in
		return sentinel.Assessment{SwanScore: 0.95, RecommendedMode: "protect", Confidence: 0.8}
	})
	res := h.sup.AssessSentinel(context.Background(), a, calmSnapshot())
	assert.Equal(t, "protect", res.RecommendedMode)
	assert.Equal(t, "EUR_USD", got.Instrument)
	assert.InDelta(t, 14, got.VIX, 1e-9)
	assert.Equal(t, sentinel.Protect, h.sentinel.Mode())

	var modeEvents int
	for _, ev := range h.events.Recent(50) {
		if ev.Name == trace.EventSentinelMode {
			modeEvents++
		}
	}
	assert.Equal(t, 1, modeEvents)

	res2 := h.sup.ResetSentinel(context.Background())
	assert.True(t, res2.Changed)
	assert.Equal(t, sentinel.StandDown, h.sentinel.Mode())
}

func TestStatusAndReadiness(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 1.0, h.sup.Readiness())

	snap := calmSnapshot()
	snap.DataAge = 30 * time.Second
	_, err := h.sup.Evaluate(context.Background(), snap)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, h.sup.Readiness(), 1e-9)

	st := h.sup.Status()
	assert.Equal(t, regime.RangingLowVol, st.Regime.Regime)
	assert.ElementsMatch(t, []string{"technical", "sentiment"}, st.Engines)
	assert.Equal(t, int64(30000), st.DataAge["EUR_USD"])
	assert.Equal(t, calibration.StateNormal, st.Calibration.State)
	assert.InDelta(t, 1.0, regime.WeightProfile(st.Weights).Sum(), 1e-9)
}

func TestCanariesEmitHeartbeats(t *testing.T) {
	h := newHarness(t)
	stats := h.sup.Canaries(context.Background(), calmSnapshot())
	require.NotEmpty(t, stats)
	var canaries int
	for _, ev := range h.events.Recent(100) {
		if ev.Name == trace.EventCanary {
			canaries++
		}
	}
	assert.Equal(t, len(stats), canaries)
}
