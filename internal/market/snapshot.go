package market

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"riskguard/internal/riskmath"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Direction is +1 for long and -1 for short.
func (s Side) Direction() int64 {
	if s == SideShort {
		return -1
	}
	return 1
}

type Position struct {
	ID           string          `json:"id"`
	Instrument   string          `json:"instrument"`
	Side         Side            `json:"side"`
	Strategy     string          `json:"strategy,omitempty"`
	Units        decimal.Decimal `json:"units"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"take_profit"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Conditional  bool            `json:"conditional,omitempty"`
	OpenedAt     time.Time       `json:"opened_at"`
}

func (p Position) Notional() decimal.Decimal {
	price := p.CurrentPrice
	if price.IsZero() {
		price = p.EntryPrice
	}
	return p.Units.Abs().Mul(price)
}

// RiskPerUnit is the distance from entry to the initial stop.
func (p Position) RiskPerUnit() decimal.Decimal {
	return p.EntryPrice.Sub(p.StopLoss).Abs()
}

// RMultiple is the open result expressed in units of initial risk. A position
// without a stop reports zero.
func (p Position) RMultiple() float64 {
	risk := p.RiskPerUnit()
	if risk.IsZero() || p.CurrentPrice.IsZero() {
		return 0
	}
	move := p.CurrentPrice.Sub(p.EntryPrice).Mul(decimal.NewFromInt(p.Side.Direction()))
	return riskmath.Float(move.DivRound(risk, 8))
}

// Aggregates are market-wide stress inputs. Nil or empty members fall back to
// neutral defaults in the stress engine.
type Aggregates struct {
	VIX               *float64  `json:"vix,omitempty"`
	Correlations      []float64 `json:"correlations,omitempty"`
	SpreadsPips       []float64 `json:"spreads_pips,omitempty"`
	MomentumBreakdown *float64  `json:"momentum_breakdown,omitempty"`
}

type Account struct {
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	NAV       decimal.Decimal `json:"nav"`
	Positions []Position      `json:"positions"`

	// StrategyExposure maps strategy name to its fraction of capital at risk.
	StrategyExposure map[string]float64 `json:"strategy_exposure,omitempty"`
}

// Features feed the regime classifier.
type Features struct {
	Volatility      float64 `json:"volatility"`
	TrendStrength   float64 `json:"trend_strength"`
	VolumeTrend     float64 `json:"volume_trend"`
	CrisisIndicator float64 `json:"crisis_indicator"`
}

func DefaultFeatures() Features {
	return Features{Volatility: 0.2}
}

type Quote struct {
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Time time.Time
}

func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// Snapshot is the per-cycle input shared read-only by every scorer. Build
// one with Builder or copy an existing one with Clone; never mutate a
// snapshot after it has been handed out.
type Snapshot struct {
	Instrument string          `json:"instrument"`
	Price      decimal.Decimal `json:"price"`
	SpreadPips float64         `json:"spread_pips"`
	SpreadP50  float64         `json:"spread_p50"`
	SpreadP99  float64         `json:"spread_p99"`
	ATR        float64         `json:"atr"`
	Volume     float64         `json:"volume"`
	Candles    []Candle        `json:"-"`

	Fields map[string]float64 `json:"fields,omitempty"`
	Tags   map[string]string  `json:"tags,omitempty"`

	Market    Aggregates `json:"market"`
	Account   Account    `json:"account"`
	Positions []Position `json:"positions"`
	Features  Features   `json:"features"`

	CapturedAt time.Time     `json:"captured_at"`
	DataAge    time.Duration `json:"data_age"`
}

func (s Snapshot) Num(key string) (float64, bool) {
	v, ok := s.Fields[key]
	return v, ok
}

func (s Snapshot) NumOr(key string, def float64) float64 {
	if v, ok := s.Fields[key]; ok {
		return v
	}
	return def
}

func (s Snapshot) Tag(key string) string {
	return s.Tags[key]
}

// Validate rejects NaN and Inf anywhere in the numeric surface.
func (s Snapshot) Validate() error {
	if s.Instrument == "" {
		return fmt.Errorf("snapshot: instrument is required")
	}
	fields := map[string]float64{
		"spread_pips":  s.SpreadPips,
		"spread_p50":   s.SpreadP50,
		"spread_p99":   s.SpreadP99,
		"atr":          s.ATR,
		"volume":       s.Volume,
		"volatility":   s.Features.Volatility,
		"trend":        s.Features.TrendStrength,
		"volume_trend": s.Features.VolumeTrend,
		"crisis":       s.Features.CrisisIndicator,
	}
	for k, v := range s.Fields {
		fields["field."+k] = v
	}
	if s.Market.VIX != nil {
		fields["vix"] = *s.Market.VIX
	}
	if s.Market.MomentumBreakdown != nil {
		fields["momentum_breakdown"] = *s.Market.MomentumBreakdown
	}
	for i, v := range s.Market.Correlations {
		fields[fmt.Sprintf("correlation[%d]", i)] = v
	}
	for i, v := range s.Market.SpreadsPips {
		fields[fmt.Sprintf("spreads[%d]", i)] = v
	}
	for k, v := range s.Account.StrategyExposure {
		fields["exposure."+k] = v
	}
	if err := riskmath.Finite(fields); err != nil {
		return fmt.Errorf("snapshot %s: %w", s.Instrument, err)
	}
	if !s.Price.IsPositive() {
		return fmt.Errorf("snapshot %s: price %w", s.Instrument, riskmath.ErrNonPositive)
	}
	for _, c := range s.Candles {
		if anyNonFinite(c.Open, c.High, c.Low, c.Close, c.Volume) {
			return fmt.Errorf("snapshot %s: candle %d: %w", s.Instrument, c.OpenTime, riskmath.ErrNonFinite)
		}
	}
	return nil
}

func anyNonFinite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so perturbations never reach the original.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Candles = append([]Candle(nil), s.Candles...)
	out.Positions = append([]Position(nil), s.Positions...)
	out.Account.Positions = append([]Position(nil), s.Account.Positions...)
	if s.Fields != nil {
		out.Fields = make(map[string]float64, len(s.Fields))
		for k, v := range s.Fields {
			out.Fields[k] = v
		}
	}
	if s.Tags != nil {
		out.Tags = make(map[string]string, len(s.Tags))
		for k, v := range s.Tags {
			out.Tags[k] = v
		}
	}
	if s.Account.StrategyExposure != nil {
		out.Account.StrategyExposure = make(map[string]float64, len(s.Account.StrategyExposure))
		for k, v := range s.Account.StrategyExposure {
			out.Account.StrategyExposure[k] = v
		}
	}
	out.Market.Correlations = append([]float64(nil), s.Market.Correlations...)
	out.Market.SpreadsPips = append([]float64(nil), s.Market.SpreadsPips...)
	if s.Market.VIX != nil {
		v := *s.Market.VIX
		out.Market.VIX = &v
	}
	if s.Market.MomentumBreakdown != nil {
		v := *s.Market.MomentumBreakdown
		out.Market.MomentumBreakdown = &v
	}
	return out
}

func Float(v float64) *float64 { return &v }
