package supervisor

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"riskguard/internal/calibration"
	"riskguard/internal/guard"
	"riskguard/internal/market"
	"riskguard/internal/regime"
	"riskguard/internal/riskmath"
	"riskguard/internal/scoring"
	"riskguard/internal/sentinel"
	"riskguard/internal/trace"
)

var (
	sentinelModes     = []string{string(sentinel.StandDown), string(sentinel.Protect), string(sentinel.Pounce)}
	calibrationStates = []string{
		string(calibration.StateNormal), string(calibration.StateWeightLock),
		string(calibration.StateRecalibration), string(calibration.StateRouteDiversion),
	}
)

// AssessSentinel asks the assessor about snap and applies the result.
func (s *Supervisor) AssessSentinel(ctx context.Context, a sentinel.Assessor, snap market.Snapshot) sentinel.Assessment {
	st := s.deps.Stress.Assess(snap)
	in := sentinel.Input{
		Instrument:     snap.Instrument,
		Price:          riskmath.Float(snap.Price),
		SpreadPips:     snap.SpreadPips,
		ATR:            snap.ATR,
		Regime:         string(s.deps.Classifier.State().Regime),
		GSSI:           st.GSSI.Score,
		CAR:            st.CAR.Score,
		AvgCorrelation: st.GSSI.AvgCorrelation,
		Features: map[string]float64{
			"volatility":       snap.Features.Volatility,
			"trend_strength":   snap.Features.TrendStrength,
			"volume_trend":     snap.Features.VolumeTrend,
			"crisis_indicator": snap.Features.CrisisIndicator,
		},
	}
	if snap.Market.VIX != nil {
		in.VIX = *snap.Market.VIX
	}
	res, tr := s.deps.Sentinel.Assess(ctx, a, in)
	s.sentinelTransition(ctx, snap.Instrument, tr, res.RiskFactors)
	return res
}

func (s *Supervisor) sentinelTransition(ctx context.Context, instrument string, tr *sentinel.Transition, factors []string) {
	s.deps.Metrics.SetSentinelMode(string(s.deps.Sentinel.Mode()), sentinelModes)
	if tr == nil {
		return
	}
	s.critical(ctx, instrument, trace.EventSentinelMode, map[string]any{
		"from":         string(tr.From),
		"to":           string(tr.To),
		"swan_score":   tr.SwanScore,
		"reason":       tr.Reason,
		"risk_factors": factors,
	})
}

// Tick advances the timer driven state machines: sentinel decay, the
// calibration lock and execution-quality routing.
func (s *Supervisor) Tick(ctx context.Context) {
	s.sentinelTransition(ctx, "", s.deps.Sentinel.Tick(), nil)

	st, tr := s.deps.Calibration.Check()
	s.deps.Metrics.SetECE(st.ECE)
	if tr != nil {
		s.critical(ctx, "", trace.EventCalibration, map[string]any{
			"from":      string(tr.From),
			"to":        string(tr.To),
			"reason":    tr.Reason,
			"ece":       tr.ECE,
			"ece_after": tr.ECEAfter,
		})
	}
	state := string(st.State)
	if s.deps.Execution != nil {
		q := s.deps.Execution.Assess()
		if q.Triggered {
			s.critical(ctx, "", trace.EventRouteDiversion, map[string]any{
				"route":  q.Route,
				"issues": q.Issues,
			})
		}
		if q.Active && st.State == calibration.StateNormal {
			state = string(calibration.StateRouteDiversion)
		}
	}
	s.deps.Metrics.SetCalibrationState(state, calibrationStates)
}

// RecordOutcome feeds a resolved prediction to calibration and the loss
// streak gate.
func (s *Supervisor) RecordOutcome(predicted float64, won bool, meta map[string]string) error {
	if err := s.deps.Calibration.AddOutcome(predicted, won, meta); err != nil {
		return err
	}
	s.deps.Guard.Streak.Record(won)
	return nil
}

func (s *Supervisor) RecordExecution(e calibration.Execution) {
	if s.deps.Execution != nil {
		s.deps.Execution.Record(e)
	}
}

// Canaries runs every scenario against snap out of band.
func (s *Supervisor) Canaries(ctx context.Context, snap market.Snapshot) []scoring.HeartbeatStats {
	stats := scoring.RunCanaries(ctx, s.deps.Runner.Engines(), snap)
	for _, h := range stats {
		sev := trace.SeverityInfo
		if h.NonzeroRatio == 0 {
			sev = trace.SeverityWarning
		}
		_ = s.deps.Emitter.Emit(ctx, trace.Event{
			Instrument: snap.Instrument,
			Name:       trace.EventCanary,
			Severity:   sev,
			Fields: map[string]any{
				"engine":        h.Engine,
				"scenario":      h.Scenario,
				"calls":         h.Calls,
				"nonzero_ratio": h.NonzeroRatio,
				"latency_ms":    h.LatencyMS,
			},
		})
	}
	return stats
}

type ResetResult struct {
	Target  string `json:"target"`
	Changed bool   `json:"changed"`
}

func (s *Supervisor) resetEvent(ctx context.Context, target string, changed bool) ResetResult {
	_ = s.deps.Emitter.Emit(ctx, trace.Event{
		Name:     "manual_reset",
		Severity: trace.SeverityWarning,
		Fields:   map[string]any{"target": target, "changed": changed},
	})
	return ResetResult{Target: target, Changed: changed}
}

// ResetDaily starts a new trading day at nav.
func (s *Supervisor) ResetDaily(ctx context.Context, nav decimal.Decimal) ResetResult {
	return s.resetEvent(ctx, "daily", s.deps.Guard.ResetDay(nav))
}

func (s *Supervisor) ResetSentinel(ctx context.Context) ResetResult {
	tr := s.deps.Sentinel.Reset()
	s.sentinelTransition(ctx, "", tr, nil)
	return s.resetEvent(ctx, "sentinel", tr != nil)
}

func (s *Supervisor) ResetCalibration(ctx context.Context) ResetResult {
	tr := s.deps.Calibration.Reset()
	return s.resetEvent(ctx, "calibration", tr != nil)
}

func (s *Supervisor) ResetRoute(ctx context.Context) ResetResult {
	changed := false
	if s.deps.Execution != nil {
		changed = s.deps.Execution.Reset()
	}
	return s.resetEvent(ctx, "route", changed)
}

type Status struct {
	Regime      regime.State         `json:"regime"`
	Weights     map[string]float64   `json:"weights"`
	Sentinel    sentinel.Status      `json:"sentinel"`
	Calibration calibration.Status   `json:"calibration"`
	Route       string               `json:"route"`
	Diverted    bool                 `json:"route_diverted"`
	Drawdown    guard.DrawdownStatus `json:"drawdown"`
	Cliffs      map[string]string    `json:"liquidity_cliffs"`
	LossStreak  int                  `json:"loss_streak"`
	Engines     []string             `json:"engines"`
	Readiness   float64              `json:"readiness"`
	DataAge     map[string]int64     `json:"data_age_ms"`
	At          time.Time            `json:"at"`
}

func (s *Supervisor) Status() Status {
	st := Status{
		Regime:      s.deps.Classifier.State(),
		Weights:     regime.Merge(s.base, s.deps.Classifier.ActiveProfile()),
		Sentinel:    s.deps.Sentinel.Status(),
		Calibration: s.deps.Calibration.Status(),
		Drawdown:    s.deps.Guard.Drawdown.Status(),
		Cliffs:      s.deps.Guard.Cliff.ActiveInstruments(),
		LossStreak:  s.deps.Guard.Streak.Losses(),
		Readiness:   s.Readiness(),
		DataAge:     make(map[string]int64),
		At:          s.now().UTC(),
	}
	if s.deps.Execution != nil {
		st.Route = s.deps.Execution.Route()
		st.Diverted = s.deps.Execution.Diverted()
	}
	for _, e := range s.deps.Runner.Engines() {
		st.Engines = append(st.Engines, e.Name())
	}
	s.mu.Lock()
	for k, v := range s.dataAge {
		st.DataAge[k] = v.Milliseconds()
	}
	s.mu.Unlock()
	return st
}

// Readiness is the data freshness score of the stalest instrument, in [0,1].
// Before any cycle it is 1.
func (s *Supervisor) Readiness() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	score := 1.0
	for _, age := range s.dataAge {
		fresh := 1 - float64(age)/float64(s.cfg.MaxDataAge)
		score = math.Min(score, riskmath.Clamp01(fresh))
	}
	return score
}
