package guard

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"riskguard/internal/market"
	"riskguard/internal/riskmath"
)

const (
	ActionCancelConditional = "cancel_conditional"
	ActionMarketExit        = "market_exit"

	CliffTriggered = "emergency_triggered"
	CliffCleared   = "emergency_cleared"

	ReasonLiquidityCliff = "liquidity_cliff_emergency"
)

var (
	defaultCliffRatio = decimal.NewFromInt(4)
	noLiquidityRatio  = decimal.NewFromInt(999)
)

type CliffConfig struct {
	// p99/p50 spread ratio that trips the cliff
	Threshold float64
	// positions whose R multiple is below this are exited
	ExitBelowR float64
}

func (c CliffConfig) withDefaults() CliffConfig {
	if c.Threshold <= 0 {
		c.Threshold = 4.0
	}
	if c.ExitBelowR == 0 {
		c.ExitBelowR = -0.2
	}
	return c
}

type Action struct {
	Kind       string  `json:"kind"`
	Instrument string  `json:"instrument"`
	PositionID string  `json:"position_id,omitempty"`
	RMultiple  float64 `json:"r_multiple,omitempty"`
	Reason     string  `json:"reason"`
}

type CliffEvent struct {
	Instrument string
	Status     string
	Ratio      decimal.Decimal
	P50        float64
	P99        float64
	Actions    []Action
	At         time.Time
}

// LiquidityCliff watches the spread tail per instrument. It fires once when the
// ratio crosses the threshold and once more when it falls back.
type LiquidityCliff struct {
	mu        sync.Mutex
	cfg       CliffConfig
	threshold decimal.Decimal
	active    map[string]decimal.Decimal
	now       func() time.Time
}

func NewLiquidityCliff(cfg CliffConfig, now func() time.Time) *LiquidityCliff {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	th := riskmath.Dec(cfg.Threshold)
	if !th.IsPositive() {
		th = defaultCliffRatio
	}
	return &LiquidityCliff{cfg: cfg, threshold: th, active: make(map[string]decimal.Decimal), now: now}
}

// SpreadRatio is p99/p50 in decimal. A non-positive median is treated as a
// vanished book.
func SpreadRatio(p50, p99 float64) decimal.Decimal {
	d50 := riskmath.Dec(p50)
	if !d50.IsPositive() {
		return noLiquidityRatio
	}
	return riskmath.Dec(p99).Div(d50)
}

// Check evaluates one instrument. It returns nil unless the cliff state flips.
func (c *LiquidityCliff) Check(instrument string, p50, p99 float64, positions []market.Position) *CliffEvent {
	ratio := SpreadRatio(p50, p99)
	detected := ratio.GreaterThan(c.threshold)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, active := c.active[instrument]
	switch {
	case detected && !active:
		c.active[instrument] = ratio
		return &CliffEvent{
			Instrument: instrument,
			Status:     CliffTriggered,
			Ratio:      ratio,
			P50:        p50,
			P99:        p99,
			Actions:    c.respond(instrument, positions),
			At:         c.now(),
		}
	case !detected && active:
		delete(c.active, instrument)
		return &CliffEvent{Instrument: instrument, Status: CliffCleared, Ratio: ratio, P50: p50, P99: p99, At: c.now()}
	}
	return nil
}

func (c *LiquidityCliff) respond(instrument string, positions []market.Position) []Action {
	actions := []Action{{Kind: ActionCancelConditional, Instrument: instrument, Reason: ReasonLiquidityCliff}}
	for _, p := range positions {
		if p.Conditional {
			continue
		}
		if r := p.RMultiple(); r < c.cfg.ExitBelowR {
			actions = append(actions, Action{
				Kind:       ActionMarketExit,
				Instrument: p.Instrument,
				PositionID: p.ID,
				RMultiple:  r,
				Reason:     ReasonLiquidityCliff,
			})
		}
	}
	return actions
}

func (c *LiquidityCliff) Active(instrument string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[instrument]
	return ok
}

// ActiveInstruments lists the instruments currently in emergency.
func (c *LiquidityCliff) ActiveInstruments() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.active))
	for k, v := range c.active {
		out[k] = v.StringFixed(2)
	}
	return out
}
