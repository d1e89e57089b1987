package guard

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"riskguard/internal/market"
	"riskguard/internal/pkg/ringbuf"
	"riskguard/internal/riskmath"
	"riskguard/internal/sentinel"
)

// Gate names, also the keys of the decision record's gate map.
const (
	GateSpread         = "spread"
	GateSession        = "session"
	GateProbability    = "probability"
	GateDrawdown       = "drawdown"
	GateProfitGiveback = "profit_giveback"
	GateLossStreak     = "loss_streak"
	GateEquityFloor    = "equity_floor"
	GateDuplicate      = "duplicate_order"
	GateAntiHedge      = "anti_hedging"
	GateLeverage       = "leverage"
	GateStops          = "sl_tp"
	GateStrategy       = "strategy"
	GateLiquidityCliff = "liquidity_cliff"
)

type GateResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

func pass(name string) GateResult { return GateResult{Name: name, Passed: true} }

func fail(name, format string, args ...any) GateResult {
	return GateResult{Name: name, Reason: fmt.Sprintf(format, args...)}
}

type Report struct {
	Results []GateResult `json:"results"`
}

func (r *Report) add(g GateResult) { r.Results = append(r.Results, g) }

func (r Report) Passed() bool {
	for _, g := range r.Results {
		if !g.Passed {
			return false
		}
	}
	return true
}

// Failures returns the failed gates in evaluation order.
func (r Report) Failures() []GateResult {
	var out []GateResult
	for _, g := range r.Results {
		if !g.Passed {
			out = append(out, g)
		}
	}
	return out
}

func (r Report) Map() map[string]bool {
	out := make(map[string]bool, len(r.Results))
	for _, g := range r.Results {
		out[g.Name] = g.Passed
	}
	return out
}

func CheckSpread(spread, max float64) GateResult {
	if max > 0 && spread > max {
		return fail(GateSpread, "spread %.2f pips above %.2f", spread, max)
	}
	return pass(GateSpread)
}

// ActiveSessions lists the FX sessions open at t (UTC hours).
func ActiveSessions(t time.Time) []string {
	h := t.UTC().Hour()
	var out []string
	if h < 9 {
		out = append(out, "asia")
	}
	if h >= 7 && h < 16 {
		out = append(out, "london")
	}
	if h >= 12 && h < 21 {
		out = append(out, "new_york")
	}
	return out
}

func CheckSession(at time.Time, allowed []string) GateResult {
	if len(allowed) == 0 {
		return pass(GateSession)
	}
	open := ActiveSessions(at)
	for _, s := range open {
		if slices.Contains(allowed, s) {
			return pass(GateSession)
		}
	}
	return fail(GateSession, "sessions %v not in %v", open, allowed)
}

func CheckProbability(p, min float64) GateResult {
	if p < min {
		return fail(GateProbability, "probability %.3f below %.3f", p, min)
	}
	return pass(GateProbability)
}

func CheckDrawdown(nav, peak decimal.Decimal, maxDD float64) GateResult {
	dd := drawdown(peak, nav)
	if dd.GreaterThan(riskmath.Dec(maxDD)) {
		return fail(GateDrawdown, "drawdown %s above %.2f", dd.StringFixed(4), maxDD)
	}
	return pass(GateDrawdown)
}

// CheckProfitGiveback fails once NAV has fallen more than pct of peak.
func CheckProfitGiveback(nav, peak decimal.Decimal, pct float64) GateResult {
	given := peak.Sub(nav)
	if pct > 0 && given.GreaterThan(peak.Mul(riskmath.Dec(pct))) {
		return fail(GateProfitGiveback, "gave back %s of peak %s", given.StringFixed(2), peak.StringFixed(2))
	}
	return pass(GateProfitGiveback)
}

func CheckLossStreak(losses, max int) GateResult {
	if max > 0 && losses >= max {
		return fail(GateLossStreak, "%d consecutive losses, cooling off", losses)
	}
	return pass(GateLossStreak)
}

func CheckEquityFloor(nav, floor decimal.Decimal) GateResult {
	if floor.IsPositive() && nav.LessThan(floor) {
		return fail(GateEquityFloor, "nav %s below floor %s", nav.StringFixed(2), floor.StringFixed(2))
	}
	return pass(GateEquityFloor)
}

// Order is a candidate entry proposed by the supervisor.
type Order struct {
	Instrument string          `json:"instrument"`
	Side       market.Side     `json:"side"`
	Strategy   string          `json:"strategy,omitempty"`
	Units      decimal.Decimal `json:"units"`
	Price      decimal.Decimal `json:"price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	EntryType  string          `json:"entry_type,omitempty"`
	At         time.Time       `json:"at"`
}

func CheckHedge(o Order, positions []market.Position) GateResult {
	for _, p := range positions {
		if p.Instrument == o.Instrument && p.Side != o.Side && p.Units.Abs().IsPositive() {
			return fail(GateAntiHedge, "open %s position on %s", p.Side, p.Instrument)
		}
	}
	return pass(GateAntiHedge)
}

func CheckLeverage(o Order, nav decimal.Decimal, max float64) GateResult {
	if max <= 0 || max > riskmath.MaxLeverage {
		max = riskmath.MaxLeverage
	}
	lev, err := riskmath.Leverage(o.Units.Abs(), o.Price, nav)
	if err != nil {
		return fail(GateLeverage, "leverage: %v", err)
	}
	if lev.GreaterThan(riskmath.Dec(max)) {
		return fail(GateLeverage, "leverage %s above %.0f", lev.StringFixed(2), max)
	}
	return pass(GateLeverage)
}

func CheckStops(o Order) GateResult {
	if !o.StopLoss.IsPositive() || !o.TakeProfit.IsPositive() {
		return fail(GateStops, "missing stop loss or take profit")
	}
	return pass(GateStops)
}

func CheckStrategy(params sentinel.TradingParams, strategy string) GateResult {
	if reason := params.StrategyBlocked(strategy); reason != "" {
		return fail(GateStrategy, "%s", reason)
	}
	return pass(GateStrategy)
}

// OrderLedger remembers recently approved orders for duplicate detection.
type OrderLedger struct {
	mu     sync.Mutex
	window time.Duration
	orders *ringbuf.Ring[Order]
}

func NewOrderLedger(capacity int, window time.Duration) *OrderLedger {
	if capacity <= 0 {
		capacity = 256
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &OrderLedger{window: window, orders: ringbuf.New[Order](capacity)}
}

func (l *OrderLedger) Record(o Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders.Push(o)
}

// Duplicate reports whether an order with the same instrument, side and
// strategy was approved within the window ending at o.At. Units are ignored
// since they are re-sized from price and NAV every cycle.
func (l *OrderLedger) Duplicate(o Order) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, prev := range l.orders.Items() {
		if o.At.Sub(prev.At) > l.window {
			continue
		}
		if prev.Instrument == o.Instrument && prev.Side == o.Side && prev.Strategy == o.Strategy {
			return true
		}
	}
	return false
}

func (l *OrderLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders.Clear()
}

// LossStreak counts consecutive losing outcomes.
type LossStreak struct {
	mu     sync.Mutex
	losses int
}

func (s *LossStreak) Record(won bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if won {
		s.losses = 0
	} else {
		s.losses++
	}
	return s.losses
}

func (s *LossStreak) Losses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.losses
}

func (s *LossStreak) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.losses = 0
}
