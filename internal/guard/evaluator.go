package guard

import (
	"time"

	"github.com/shopspring/decimal"

	"riskguard/internal/market"
	"riskguard/internal/riskmath"
	"riskguard/internal/sentinel"
)

type Config struct {
	MaxSpreadPips   float64
	AllowedSessions []string
	MinProbability  float64
	MaxDrawdown     float64
	ProfitGiveback  float64
	MaxLossStreak   int
	EquityFloor     float64
	MaxLeverage     float64
	DuplicateWindow time.Duration
	Cliff           CliffConfig
}

func DefaultConfig() Config {
	return Config{
		MaxSpreadPips:   2.0,
		MinProbability:  0.55,
		MaxDrawdown:     0.05,
		ProfitGiveback:  0.3,
		MaxLossStreak:   3,
		MaxLeverage:     riskmath.MaxLeverage,
		DuplicateWindow: 15 * time.Minute,
	}
}

// Input carries what the entry gates need for one candidate order.
type Input struct {
	Order       Order
	Probability float64
	SpreadPips  float64
	NAV         decimal.Decimal
	Positions   []market.Position
	Params      sentinel.TradingParams
}

// Evaluator runs the full entry gate set. Every gate is evaluated so the
// record shows the complete pass/fail map.
type Evaluator struct {
	cfg      Config
	Cliff    *LiquidityCliff
	Drawdown *DrawdownGuard
	Ledger   *OrderLedger
	Streak   *LossStreak
}

func NewEvaluator(cfg Config, now func() time.Time) *Evaluator {
	d := DefaultConfig()
	if cfg.MaxDrawdown <= 0 {
		cfg.MaxDrawdown = d.MaxDrawdown
	}
	if cfg.MaxLeverage <= 0 {
		cfg.MaxLeverage = d.MaxLeverage
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = d.DuplicateWindow
	}
	return &Evaluator{
		cfg:      cfg,
		Cliff:    NewLiquidityCliff(cfg.Cliff, now),
		Drawdown: NewDrawdownGuard(cfg.MaxDrawdown, now),
		Ledger:   NewOrderLedger(0, cfg.DuplicateWindow),
		Streak:   &LossStreak{},
	}
}

func (e *Evaluator) Config() Config { return e.cfg }

func (e *Evaluator) Check(in Input) Report {
	var r Report
	o := in.Order
	peak := e.Drawdown.Peak()
	if peak.IsZero() {
		peak = in.NAV
	}

	r.add(CheckSpread(in.SpreadPips, in.Params.SpreadLimit(e.cfg.MaxSpreadPips)))
	r.add(CheckSession(o.At, e.cfg.AllowedSessions))
	r.add(CheckProbability(in.Probability, e.cfg.MinProbability))
	if e.Drawdown.Halted() {
		r.add(fail(GateDrawdown, "%s", ReasonDrawdownHalt))
	} else {
		r.add(CheckDrawdown(in.NAV, peak, e.cfg.MaxDrawdown))
	}
	r.add(CheckProfitGiveback(in.NAV, peak, e.cfg.ProfitGiveback))
	r.add(CheckLossStreak(e.Streak.Losses(), e.cfg.MaxLossStreak))
	r.add(CheckEquityFloor(in.NAV, riskmath.Dec(e.cfg.EquityFloor)))
	if e.Ledger.Duplicate(o) {
		r.add(fail(GateDuplicate, "same order within %s", e.cfg.DuplicateWindow))
	} else {
		r.add(pass(GateDuplicate))
	}
	r.add(CheckHedge(o, in.Positions))
	r.add(CheckLeverage(o, in.NAV, e.cfg.MaxLeverage))
	r.add(CheckStops(o))
	r.add(CheckStrategy(in.Params, o.Strategy))
	if e.Cliff.Active(o.Instrument) {
		r.add(fail(GateLiquidityCliff, "%s", ReasonLiquidityCliff))
	} else {
		r.add(pass(GateLiquidityCliff))
	}
	return r
}

// ResetDay clears the intraday state: drawdown halt, loss streak and the
// duplicate ledger.
func (e *Evaluator) ResetDay(nav decimal.Decimal) bool {
	e.Streak.Reset()
	e.Ledger.Reset()
	return e.Drawdown.ResetDay(nav)
}
