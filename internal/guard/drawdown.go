package guard

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"riskguard/internal/riskmath"
)

const ReasonDrawdownHalt = "drawdown_kill_switch"

type HaltEvent struct {
	Peak     decimal.Decimal
	NAV      decimal.Decimal
	Drawdown decimal.Decimal
	At       time.Time
}

// DrawdownGuard tracks intraday peak NAV. Once halted it stays halted until
// ResetDay.
type DrawdownGuard struct {
	mu       sync.Mutex
	maxDD    decimal.Decimal
	peak     decimal.Decimal
	last     decimal.Decimal
	halted   bool
	haltedAt time.Time
	now      func() time.Time
}

func NewDrawdownGuard(maxDrawdown float64, now func() time.Time) *DrawdownGuard {
	if maxDrawdown <= 0 || maxDrawdown >= 1 {
		maxDrawdown = 0.05
	}
	if now == nil {
		now = time.Now
	}
	return &DrawdownGuard{maxDD: riskmath.Dec(maxDrawdown), now: now}
}

func drawdown(peak, nav decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() {
		return decimal.Zero
	}
	return peak.Sub(nav).Div(peak)
}

// Update feeds the latest NAV and returns a HaltEvent on the tripping update.
func (g *DrawdownGuard) Update(nav decimal.Decimal) *HaltEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = nav
	if nav.GreaterThan(g.peak) {
		g.peak = nav
	}
	if g.halted {
		return nil
	}
	dd := drawdown(g.peak, nav)
	if !dd.GreaterThan(g.maxDD) {
		return nil
	}
	g.halted = true
	g.haltedAt = g.now()
	return &HaltEvent{Peak: g.peak, NAV: nav, Drawdown: dd, At: g.haltedAt}
}

func (g *DrawdownGuard) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted
}

func (g *DrawdownGuard) Peak() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

type DrawdownStatus struct {
	Peak     string    `json:"peak"`
	NAV      string    `json:"nav"`
	Drawdown float64   `json:"drawdown"`
	Halted   bool      `json:"halted"`
	HaltedAt time.Time `json:"halted_at,omitempty"`
}

func (g *DrawdownGuard) Status() DrawdownStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return DrawdownStatus{
		Peak:     g.peak.StringFixed(2),
		NAV:      g.last.StringFixed(2),
		Drawdown: riskmath.Float(drawdown(g.peak, g.last)),
		Halted:   g.halted,
		HaltedAt: g.haltedAt,
	}
}

// ResetDay starts a new trading day at nav. It reports whether a halt was
// cleared.
func (g *DrawdownGuard) ResetDay(nav decimal.Decimal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	cleared := g.halted
	g.halted = false
	g.haltedAt = time.Time{}
	g.peak = nav
	g.last = nav
	return cleared
}
