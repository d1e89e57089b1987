package sentinel

import "slices"

const (
	EntryMarket   = "market"
	EntryStopOnly = "stop_only"

	ReasonProtectMode = "sentinel_protect_mode"
)

// Constraints are the per-mode overrides applied to trading parameters.
type Constraints struct {
	ProtectMaxSpreadPips float64
	ProtectBlocked       []string
	PounceStopOnly       []string
	PounceTPBoost        float64
	PounceTPCeiling      float64
	DefaultTPMultiple    float64
}

func DefaultConstraints() Constraints {
	return Constraints{
		ProtectMaxSpreadPips: 1.0,
		ProtectBlocked:       []string{"range_fade", "main_smc_adds"},
		PounceStopOnly:       []string{"session_breakout", "sentiment_breakout"},
		PounceTPBoost:        1.5,
		PounceTPCeiling:      2.8,
		DefaultTPMultiple:    1.5,
	}
}

func (c Constraints) withDefaults() Constraints {
	d := DefaultConstraints()
	if c.ProtectMaxSpreadPips <= 0 {
		c.ProtectMaxSpreadPips = d.ProtectMaxSpreadPips
	}
	if c.ProtectBlocked == nil {
		c.ProtectBlocked = d.ProtectBlocked
	}
	if c.PounceStopOnly == nil {
		c.PounceStopOnly = d.PounceStopOnly
	}
	if c.PounceTPBoost <= 0 {
		c.PounceTPBoost = d.PounceTPBoost
	}
	if c.PounceTPCeiling <= 0 {
		c.PounceTPCeiling = d.PounceTPCeiling
	}
	if c.DefaultTPMultiple <= 0 {
		c.DefaultTPMultiple = d.DefaultTPMultiple
	}
	return c
}

// TradingParams is what the guard and sizing layers consult for the active
// mode. A zero MaxSpreadPips means no sentinel override of the spread gate.
type TradingParams struct {
	Mode              Mode     `json:"mode"`
	MaxSpreadPips     float64  `json:"max_spread_pips,omitempty"`
	BlockedStrategies []string `json:"blocked_strategies,omitempty"`
	StopOnly          []string `json:"stop_only,omitempty"`
	AddToWinners      bool     `json:"add_to_winners"`
	TPBoost           float64  `json:"tp_boost,omitempty"`
	TPCeiling         float64  `json:"tp_ceiling,omitempty"`
	DefaultTPMultiple float64  `json:"default_tp_multiple"`
}

func (c Constraints) For(m Mode) TradingParams {
	p := TradingParams{Mode: m, AddToWinners: true, DefaultTPMultiple: c.DefaultTPMultiple}
	switch m {
	case Protect:
		p.MaxSpreadPips = c.ProtectMaxSpreadPips
		p.BlockedStrategies = slices.Clone(c.ProtectBlocked)
		p.AddToWinners = false
	case Pounce:
		p.StopOnly = slices.Clone(c.PounceStopOnly)
		p.TPBoost = c.PounceTPBoost
		p.TPCeiling = c.PounceTPCeiling
	}
	return p
}

// StrategyBlocked returns the block reason for strategy, or "".
func (p TradingParams) StrategyBlocked(strategy string) string {
	if slices.Contains(p.BlockedStrategies, strategy) {
		return ReasonProtectMode
	}
	return ""
}

func (p TradingParams) EntryType(strategy string) string {
	if slices.Contains(p.StopOnly, strategy) {
		return EntryStopOnly
	}
	return EntryMarket
}

// TakeProfit returns the take-profit multiple for a trade. tp <= 0 means the
// default multiple. The Pounce boost only applies with the velocity bypass.
func (p TradingParams) TakeProfit(tp float64, velocityBypass bool) float64 {
	if tp <= 0 {
		tp = p.DefaultTPMultiple
	}
	if p.Mode != Pounce || !velocityBypass || p.TPBoost <= 0 {
		return tp
	}
	return min(p.TPCeiling, tp*p.TPBoost)
}

// SpreadLimit tightens base to the sentinel limit when one is active.
func (p TradingParams) SpreadLimit(base float64) float64 {
	if p.MaxSpreadPips > 0 && (base <= 0 || p.MaxSpreadPips < base) {
		return p.MaxSpreadPips
	}
	return base
}
