package market

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"riskguard/internal/logger"
	"riskguard/internal/pkg/symbol"
	"riskguard/internal/riskmath"
)

type BuilderConfig struct {
	Granularity string
	CandleCount int
	ATRPeriod   int
	// VolatilityNorm is the ATR/price ratio treated as fully volatile.
	VolatilityNorm float64
	// FastEMA and SlowEMA drive the trend-strength feature.
	FastEMA int
	SlowEMA int
}

func (c BuilderConfig) withDefaults() BuilderConfig {
	if c.Granularity == "" {
		c.Granularity = "M15"
	}
	if c.CandleCount <= 0 {
		c.CandleCount = 120
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	if c.VolatilityNorm <= 0 {
		c.VolatilityNorm = 0.01
	}
	if c.FastEMA <= 0 {
		c.FastEMA = 12
	}
	if c.SlowEMA <= c.FastEMA {
		c.SlowEMA = c.FastEMA * 2
	}
	return c
}

// Builder assembles one immutable Snapshot per instrument per cycle.
type Builder struct {
	cfg        BuilderConfig
	src        Source
	account    AccountSource
	aggregates AggregateSource
	spreads    *SpreadTracker
	enrichers  []Enricher
	now        func() time.Time
}

type BuilderOption func(*Builder)

func WithAccountSource(a AccountSource) BuilderOption {
	return func(b *Builder) { b.account = a }
}

func WithAggregateSource(a AggregateSource) BuilderOption {
	return func(b *Builder) { b.aggregates = a }
}

// WithEnricher adds a post-build step. Enrichers run in order after the
// snapshot has been validated and the technical features computed.
func WithEnricher(e Enricher) BuilderOption {
	return func(b *Builder) { b.enrichers = append(b.enrichers, e) }
}

func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

func NewBuilder(src Source, spreads *SpreadTracker, cfg BuilderConfig, opts ...BuilderOption) *Builder {
	if spreads == nil {
		spreads = NewSpreadTracker(0)
	}
	b := &Builder{cfg: cfg.withDefaults(), src: src, spreads: spreads, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build fetches everything a cycle needs. Any fetch failure aborts the build
// and the caller skips the instrument; nothing is mutated except the spread
// window.
func (b *Builder) Build(ctx context.Context, instrument string) (Snapshot, error) {
	instrument = symbol.Normalize(instrument)
	if instrument == "" {
		return Snapshot{}, fmt.Errorf("build snapshot: invalid instrument")
	}
	quote, err := b.src.CurrentPrice(ctx, instrument)
	if err != nil {
		return Snapshot{}, fmt.Errorf("price: %w", err)
	}
	spread, err := b.src.Spread(ctx, instrument)
	if err != nil {
		return Snapshot{}, fmt.Errorf("spread: %w", err)
	}
	candles, err := b.src.Candles(ctx, instrument, b.cfg.Granularity, b.cfg.CandleCount)
	if err != nil {
		return Snapshot{}, fmt.Errorf("candles: %w", err)
	}
	positions, err := b.src.OpenPositions(ctx, instrument)
	if err != nil {
		return Snapshot{}, fmt.Errorf("positions: %w", err)
	}
	var account Account
	if b.account != nil {
		if account, err = b.account.Account(ctx); err != nil {
			return Snapshot{}, fmt.Errorf("account: %w", err)
		}
	}
	var agg Aggregates
	if b.aggregates != nil {
		if agg, err = b.aggregates.Aggregates(ctx); err != nil {
			logger.Warnf("[market] aggregates unavailable, using neutral stress inputs: %v", err)
			agg = Aggregates{}
		}
	}

	now := b.now()
	snap := Snapshot{
		Instrument: instrument,
		Price:      quote.Mid(),
		SpreadPips: spread,
		Candles:    candles,
		Fields:     map[string]float64{},
		Tags:       map[string]string{},
		Market:     agg,
		Account:    account,
		Positions:  positions,
		Features:   DefaultFeatures(),
		CapturedAt: now,
	}
	if !quote.Time.IsZero() {
		snap.DataAge = now.Sub(quote.Time)
		if snap.DataAge < 0 {
			snap.DataAge = 0
		}
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	snap.SpreadP50, snap.SpreadP99 = b.spreads.Observe(instrument, spread)
	b.enrich(&snap)
	for _, e := range b.enrichers {
		e.Enrich(ctx, &snap)
	}
	return snap, nil
}

func (b *Builder) enrich(snap *Snapshot) {
	if len(snap.Candles) == 0 {
		return
	}
	highs, lows, closes, volumes := Series(snap.Candles)
	last := len(closes) - 1
	snap.Volume = volumes[last]
	snap.Fields["volume"] = volumes[last]
	price := riskmath.Float(snap.Price)

	if len(closes) > b.cfg.ATRPeriod {
		atr := talib.Atr(highs, lows, closes, b.cfg.ATRPeriod)
		snap.ATR = finiteOr(atr[last], 0)
	}
	if snap.ATR > 0 && price > 0 {
		atrPct := snap.ATR / price
		snap.Fields["atr_pct"] = atrPct
		snap.Features.Volatility = riskmath.Clamp01(atrPct / b.cfg.VolatilityNorm)
		// velocity: last five-bar move measured in ATRs
		if last >= 5 {
			snap.Fields["velocity"] = math.Abs(closes[last]-closes[last-5]) / snap.ATR
		}
	}
	if len(closes) > b.cfg.SlowEMA && snap.ATR > 0 {
		fast := talib.Ema(closes, b.cfg.FastEMA)
		slow := talib.Ema(closes, b.cfg.SlowEMA)
		gap := (fast[last] - slow[last]) / snap.ATR
		snap.Features.TrendStrength = clampSigned(finiteOr(gap/3, 0))
	}
	if len(volumes) >= 20 {
		recent := mean(volumes[last-4:])
		base := mean(volumes[last-19:])
		if base > 0 {
			snap.Features.VolumeTrend = clampSigned(recent/base - 1)
		}
	}
	if of, ok := ComputeOrderFlow(snap.Candles); ok {
		snap.Fields["order_flow"] = of.Normalized
		snap.Tags["flow_divergence"] = of.Divergence
	}
	if snap.Market.VIX != nil {
		snap.Features.CrisisIndicator = riskmath.Clamp01((*snap.Market.VIX - 30) / 30)
	}
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func clampSigned(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func finiteOr(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}
