// Package supervisor runs one evaluation cycle per snapshot and turns the
// scorers, state machines and gates into a single decision record.
package supervisor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"riskguard/internal/calibration"
	"riskguard/internal/decision"
	"riskguard/internal/guard"
	"riskguard/internal/logger"
	"riskguard/internal/market"
	"riskguard/internal/metrics"
	"riskguard/internal/regime"
	"riskguard/internal/riskmath"
	"riskguard/internal/scoring"
	"riskguard/internal/sentinel"
	"riskguard/internal/sizing"
	"riskguard/internal/stress"
	"riskguard/internal/trace"
)

type Config struct {
	// BaseWeights are the engine weights before the regime overlay. Empty
	// means uniform over the registered engines.
	BaseWeights     map[string]float64
	AccountCurrency string
	DefaultStrategy string
	// fallback stop distance when no ATR is available
	DefaultStopPips float64
	// absolute velocity (in ATRs) that enables the Pounce take-profit boost
	VelocityBypass float64
	MaxDataAge     time.Duration
}

func (c Config) withDefaults() Config {
	if c.AccountCurrency == "" {
		c.AccountCurrency = "USD"
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = "core"
	}
	if c.DefaultStopPips <= 0 {
		c.DefaultStopPips = 20
	}
	if c.VelocityBypass <= 0 {
		c.VelocityBypass = 2.0
	}
	if c.MaxDataAge <= 0 {
		c.MaxDataAge = time.Minute
	}
	return c
}

// Deps are the components a supervisor orchestrates. Runner, Classifier,
// Stress, Sentinel, Calibration, Guard and Sizer are required.
type Deps struct {
	Runner      *scoring.Runner
	Classifier  *regime.Classifier
	Stress      *stress.Engine
	Sentinel    *sentinel.Engine
	Calibration *calibration.Auditor
	Execution   *calibration.ExecutionMonitor
	Guard       *guard.Evaluator
	Sizer       *sizing.Sizer
	StopWidth   *sizing.QuantileATR
	Winners     *sizing.AddToWinners
	Emitter     *trace.Emitter
	Metrics     *metrics.Recorder
	Now         func() time.Time
}

type Supervisor struct {
	cfg  Config
	deps Deps
	base regime.WeightProfile
	now  func() time.Time

	mu      sync.Mutex
	dataAge map[string]time.Duration
}

func New(cfg Config, deps Deps) (*Supervisor, error) {
	switch {
	case deps.Runner == nil:
		return nil, fmt.Errorf("supervisor: scoring runner is required")
	case deps.Classifier == nil, deps.Stress == nil, deps.Sentinel == nil:
		return nil, fmt.Errorf("supervisor: regime, stress and sentinel components are required")
	case deps.Calibration == nil, deps.Guard == nil, deps.Sizer == nil:
		return nil, fmt.Errorf("supervisor: calibration, guard and sizer are required")
	}
	if deps.StopWidth == nil {
		deps.StopWidth = sizing.NewQuantileATR(0)
	}
	if deps.Winners == nil {
		deps.Winners = sizing.NewAddToWinners()
	}
	if deps.Emitter == nil {
		deps.Emitter = trace.NewEmitter(trace.LogSink{})
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cfg = cfg.withDefaults()
	base := regime.WeightProfile(cfg.BaseWeights).Clone()
	if len(base) == 0 {
		base = regime.WeightProfile{}
		for _, e := range deps.Runner.Engines() {
			base[e.Name()] = 1
		}
	}
	return &Supervisor{
		cfg:     cfg,
		deps:    deps,
		base:    base.Normalize(),
		now:     now,
		dataAge: make(map[string]time.Duration),
	}, nil
}

// cycle carries one evaluation's working state.
type cycle struct {
	ctx    context.Context
	snap   market.Snapshot
	rec    decision.Record
	params sentinel.TradingParams
	start  time.Time
}

// Evaluate runs one cycle. It only fails for snapshots rejected at the
// boundary, in which case nothing is mutated and no event is emitted.
func (s *Supervisor) Evaluate(ctx context.Context, snap market.Snapshot) (decision.Record, error) {
	if err := snap.Validate(); err != nil {
		return decision.Record{}, err
	}
	ctx, traceID := trace.Begin(ctx)
	c := &cycle{ctx: ctx, snap: snap, start: s.now(), params: s.deps.Sentinel.Params()}
	c.rec = decision.Record{
		TraceID:    traceID,
		Instrument: snap.Instrument,
		At:         c.start.UTC(),
		DataAgeMS:  snap.DataAge.Milliseconds(),
	}
	s.trackAge(snap.Instrument, snap.DataAge)

	s.runMonitors(c)
	if s.deps.Guard.Drawdown.Halted() {
		s.halt(c)
		return s.finish(c), nil
	}
	c.rec.Sentinel = decision.SentinelInfo{Mode: string(c.params.Mode), Override: s.deps.Sentinel.ShouldOverrideRouter()}
	c.rec.Calibration = s.calibrationInfo()
	if c.rec.Sentinel.Override {
		c.rec.Action = decision.ActionOverride
		c.rec.Reasons = append(c.rec.Reasons, decision.Reason{
			Code:   decision.ReasonSentinelOverride,
			Detail: fmt.Sprintf("sentinel mode %s", c.params.Mode),
		})
		c.rec.Regime = s.regimeInfo(s.deps.Classifier.State().Regime, 0, false)
		return s.finish(c), nil
	}

	s.score(c)
	if c.rec.Calibration.Blocking {
		c.rec.Action = decision.ActionBlock
		c.rec.Reasons = append(c.rec.Reasons, decision.Reason{
			Code:   decision.ReasonCalibrationLock,
			Detail: fmt.Sprintf("calibration state %s", c.rec.Calibration.State),
		})
		return s.finish(c), nil
	}
	s.observeWinners(c)
	s.enter(c)
	return s.finish(c), nil
}

// runMonitors feeds the drawdown guard and the liquidity cliff before any
// scoring so their emergency actions are recorded whatever the outcome.
func (s *Supervisor) runMonitors(c *cycle) {
	g := s.deps.Guard
	if nav := navOf(c.snap); nav.IsPositive() {
		if ev := g.Drawdown.Update(nav); ev != nil {
			s.critical(c.ctx, c.snap.Instrument, trace.EventDrawdownHalt, map[string]any{
				"peak":     ev.Peak.StringFixed(2),
				"nav":      ev.NAV.StringFixed(2),
				"drawdown": ev.Drawdown.StringFixed(4),
			})
		}
	}
	ev := g.Cliff.Check(c.snap.Instrument, c.snap.SpreadP50, c.snap.SpreadP99, positionsOf(c.snap))
	if ev == nil {
		return
	}
	c.rec.Emergency = append(c.rec.Emergency, ev.Actions...)
	s.critical(c.ctx, c.snap.Instrument, trace.EventLiquidityCliff, map[string]any{
		"status":  ev.Status,
		"ratio":   ev.Ratio.StringFixed(2),
		"p50":     ev.P50,
		"p99":     ev.P99,
		"actions": len(ev.Actions),
	})
}

func (s *Supervisor) halt(c *cycle) {
	c.rec.Action = decision.ActionHalt
	c.rec.Reasons = append(c.rec.Reasons, decision.Reason{Code: decision.ReasonDrawdownHalt, Detail: "flatten all positions"})
	c.rec.Sentinel = decision.SentinelInfo{Mode: string(c.params.Mode), Override: c.params.Mode != sentinel.StandDown}
	c.rec.Calibration = s.calibrationInfo()
	c.rec.Regime = s.regimeInfo(s.deps.Classifier.State().Regime, 0, false)
	for _, p := range positionsOf(c.snap) {
		c.rec.Emergency = append(c.rec.Emergency, guard.Action{
			Kind:       guard.ActionMarketExit,
			Instrument: p.Instrument,
			PositionID: p.ID,
			RMultiple:  p.RMultiple(),
			Reason:     guard.ReasonDrawdownHalt,
		})
	}
}

// score runs the engines, applies the regime weights and the stress
// adjustment, and maps the result through the calibrator.
func (s *Supervisor) score(c *cycle) {
	results := s.deps.Runner.Run(c.ctx, c.snap)

	cls := s.deps.Classifier.Classify(c.snap.Features)
	if cls.Changed {
		s.critical(c.ctx, c.snap.Instrument, trace.EventRegimeChange, map[string]any{
			"from":       string(cls.From),
			"to":         string(cls.Regime),
			"confidence": cls.Confidence,
		})
	}
	c.rec.Regime = s.regimeInfo(cls.Regime, cls.Confidence, cls.Changed)
	c.rec.Regime.Candidate = string(cls.Candidate)
	s.deps.Metrics.SetRegime(string(cls.Regime), regimeNames())

	weights := regime.Merge(s.base, s.deps.Classifier.ActiveProfile())
	c.rec.Weights = weights.Clone()

	raw := 0.0
	for _, r := range results {
		w := weights[r.Engine]
		entry := decision.EngineEntry{
			Name:         r.Engine,
			Score:        r.Value,
			Weight:       w,
			Contribution: r.Value * w,
			Reason:       r.Reason,
			Degraded:     r.Degraded(),
			LatencyMS:    r.Latency.Milliseconds(),
		}
		if entry.Degraded {
			s.deps.Metrics.EngineError(r.Engine)
			_ = s.deps.Emitter.Emit(c.ctx, trace.Event{
				Instrument: c.snap.Instrument,
				Name:       trace.EventEngineDegraded,
				Severity:   trace.SeverityWarning,
				Fields:     map[string]any{"engine": r.Engine, "reason": r.Reason},
			})
		}
		raw += entry.Contribution
		c.rec.Engines = append(c.rec.Engines, entry)
	}

	st := s.deps.Stress.Assess(c.snap)
	s.deps.Metrics.ObserveStress(c.snap.Instrument, st.GSSI.Score, st.CAR.Score)
	c.rec.Stress = &decision.StressInfo{
		GSSI:            st.GSSI.Score,
		CAR:             st.CAR.Score,
		ScoreMultiplier: st.ScoreMultiplier,
		Leverage:        st.Leverage.Final.StringFixed(2),
	}
	c.rec.RawScore = riskmath.Clamp01(raw)
	c.rec.FinalScore = riskmath.Clamp01(raw * st.ScoreMultiplier)
	c.rec.Probability = riskmath.Clamp01(s.deps.Calibration.Calibrate(c.rec.FinalScore))
}

func (s *Supervisor) observeWinners(c *cycle) {
	positions := positionsOf(c.snap)
	s.deps.Winners.Prune(c.snap.Instrument, positions)
	for _, p := range positions {
		if p.Instrument != c.snap.Instrument || p.Conditional {
			continue
		}
		chk := s.deps.Winners.Observe(p, c.params.AddToWinners)
		if chk.Advanced() || chk.Reason != "" {
			c.rec.AddToWinners = append(c.rec.AddToWinners, chk)
		}
	}
}

// enter builds, sizes and gates the candidate entry.
func (s *Supervisor) enter(c *cycle) {
	snap := c.snap
	side := sideOf(snap)
	strategy := snap.Tag("strategy")
	if strategy == "" {
		strategy = s.cfg.DefaultStrategy
	}

	width := s.stopWidth(snap)
	dir := decimal.NewFromInt(side.Direction())
	tp := c.params.TakeProfit(snap.NumOr("tp_multiple", 0), math.Abs(snap.NumOr("velocity", 0)) >= s.cfg.VelocityBypass)
	order := guard.Order{
		Instrument: snap.Instrument,
		Side:       side,
		Strategy:   strategy,
		Price:      snap.Price,
		StopLoss:   snap.Price.Sub(width.Mul(dir)),
		TakeProfit: snap.Price.Add(width.Mul(riskmath.Dec(tp)).Mul(dir)),
		EntryType:  c.params.EntryType(strategy),
		At:         c.start.UTC(),
	}

	balance := snap.Account.Balance
	if !balance.IsPositive() {
		balance = snap.Account.NAV
	}
	gssi := 0.0
	if c.rec.Stress != nil {
		gssi = c.rec.Stress.GSSI
	}
	req := sizing.Request{
		Instrument:      snap.Instrument,
		AccountCurrency: s.accountCurrency(snap),
		Balance:         balance,
		Entry:           snap.Price,
		Stop:            order.StopLoss,
		GSSI:            &gssi,
		DayProfitPct:    riskmath.Dec(snap.NumOr("day_profit_pct", 0)),
	}
	// a zero fraction means the feed has no estimate
	if k, ok := snap.Num("kelly_fraction"); ok && k != 0 {
		kd := riskmath.Dec(k)
		req.Kelly = &kd
	}
	res, err := s.deps.Sizer.Size(req)
	if err != nil {
		c.rec.Action = decision.ActionBlock
		c.rec.Reasons = append(c.rec.Reasons, decision.Reason{Code: decision.ReasonSizing, Detail: err.Error()})
		return
	}
	order.Units = res.Units
	c.rec.Sizing = &res
	c.rec.Order = &order

	nav := navOf(snap)
	if !nav.IsPositive() {
		nav = balance
	}
	report := s.deps.Guard.Check(guard.Input{
		Order:       order,
		Probability: c.rec.Probability,
		SpreadPips:  snap.SpreadPips,
		NAV:         nav,
		Positions:   positionsOf(snap),
		Params:      c.params,
	})
	c.rec.Gates = report.Map()

	if res.Units.IsZero() {
		c.rec.Action = decision.ActionBlock
		c.rec.Reasons = append(c.rec.Reasons, decision.Reason{Code: decision.ReasonZeroUnits})
	}
	for _, f := range report.Failures() {
		c.rec.Action = decision.ActionBlock
		c.rec.Reasons = append(c.rec.Reasons, decision.Reason{Code: decision.ReasonGate, Detail: f.Name + ": " + f.Reason})
	}
	if c.rec.Action == decision.ActionBlock {
		return
	}
	c.rec.Action = decision.ActionAct
	c.rec.Reasons = append(c.rec.Reasons, decision.Reason{Code: decision.ReasonApproved})
	s.deps.Guard.Ledger.Record(order)
}

func (s *Supervisor) stopWidth(snap market.Snapshot) decimal.Decimal {
	if snap.ATR > 0 {
		return s.deps.StopWidth.Width(snap.Instrument, riskmath.Dec(snap.ATR))
	}
	return riskmath.PipSize(snap.Instrument).Mul(riskmath.Dec(s.cfg.DefaultStopPips))
}

func (s *Supervisor) accountCurrency(snap market.Snapshot) string {
	if snap.Account.Currency != "" {
		return snap.Account.Currency
	}
	return s.cfg.AccountCurrency
}

// finish stamps the duration, records metrics and emits the terminal event.
func (s *Supervisor) finish(c *cycle) decision.Record {
	rec := c.rec
	d := s.now().Sub(c.start)
	rec.DurationMS = d.Milliseconds()

	name, sev := trace.EventBlock, trace.SeverityWarning
	switch rec.Action {
	case decision.ActionAct:
		name, sev = trace.EventDecision, trace.SeverityInfo
	case decision.ActionOverride:
		name, sev = trace.EventOverride, trace.SeverityCritical
	case decision.ActionHalt:
		name, sev = trace.EventHalt, trace.SeverityCritical
	}
	fields := map[string]any{
		"action":           string(rec.Action),
		"reason":           rec.PrimaryReason(),
		"raw_score":        rec.RawScore,
		"final_score":      rec.FinalScore,
		"probability":      rec.Probability,
		"regime":           rec.Regime.Regime,
		"sentinel":         rec.Sentinel.Mode,
		"calibration":      rec.Calibration.State,
		"data_age_ms":      rec.DataAgeMS,
		trace.FieldPayload: rec,
	}
	if rec.Order != nil {
		fields["units"] = rec.Order.Units.String()
		fields["side"] = string(rec.Order.Side)
	}
	if err := s.deps.Emitter.Emit(c.ctx, trace.Event{
		Instrument: rec.Instrument,
		Name:       name,
		Severity:   sev,
		Terminal:   true,
		Fields:     fields,
	}); err != nil {
		logger.Warnf("[supervisor] %s audit emit failed: %v", rec.Instrument, err)
	}
	s.deps.Metrics.ObserveDecision(rec.Instrument, string(rec.Action), rec.FinalScore)
	s.deps.Metrics.ObserveCycle(rec.Instrument, d)
	return rec
}

func (s *Supervisor) critical(ctx context.Context, instrument, name string, fields map[string]any) {
	s.deps.Metrics.CriticalEvent(name)
	_ = s.deps.Emitter.Emit(ctx, trace.Event{
		Instrument: instrument,
		Name:       name,
		Severity:   trace.SeverityCritical,
		Fields:     fields,
	})
}

func (s *Supervisor) calibrationInfo() decision.CalibrationInfo {
	st := s.deps.Calibration.Status()
	info := decision.CalibrationInfo{
		State:    string(st.State),
		ECE:      st.ECE,
		Blocking: st.State == calibration.StateWeightLock || st.State == calibration.StateRecalibration,
	}
	if s.deps.Execution != nil {
		info.Route = s.deps.Execution.Route()
	}
	return info
}

func (s *Supervisor) regimeInfo(r regime.Regime, conf float64, changed bool) decision.RegimeInfo {
	return decision.RegimeInfo{Regime: string(r), Confidence: conf, Changed: changed}
}

func (s *Supervisor) trackAge(instrument string, age time.Duration) {
	s.mu.Lock()
	s.dataAge[instrument] = age
	s.mu.Unlock()
}

func navOf(snap market.Snapshot) decimal.Decimal {
	if snap.Account.NAV.IsPositive() {
		return snap.Account.NAV
	}
	return snap.Account.Balance
}

func positionsOf(snap market.Snapshot) []market.Position {
	if len(snap.Positions) > 0 {
		return snap.Positions
	}
	var out []market.Position
	for _, p := range snap.Account.Positions {
		if p.Instrument == snap.Instrument {
			out = append(out, p)
		}
	}
	return out
}

// sideOf takes an explicit side tag, else follows the trend sign.
func sideOf(snap market.Snapshot) market.Side {
	switch market.Side(snap.Tag("side")) {
	case market.SideLong:
		return market.SideLong
	case market.SideShort:
		return market.SideShort
	}
	if snap.Features.TrendStrength < 0 {
		return market.SideShort
	}
	return market.SideLong
}

func regimeNames() []string {
	out := make([]string, len(regime.All))
	for i, r := range regime.All {
		out[i] = string(r)
	}
	return out
}
