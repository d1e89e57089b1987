package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/markcheno/go-talib"

	"riskguard/internal/market"
)

// Engine names double as keys into regime weight profiles.
const (
	Technical      = "technical"
	Fundamental    = "fundamental"
	Sentiment      = "sentiment"
	Correlation    = "correlation"
	Volatility     = "volatility"
	News           = "news"
	VolumeVelocity = "volume_velocity"
	Execution      = "execution"
)

var factories = map[string]func(Options) Engine{
	Technical:      func(o Options) Engine { return NewTechnical(o.RSIPeriod) },
	Fundamental:    func(Options) Engine { return NewFundamental() },
	Sentiment:      func(Options) Engine { return NewSentiment() },
	Correlation:    func(Options) Engine { return NewCorrelation() },
	Volatility:     func(Options) Engine { return NewVolatility() },
	News:           func(Options) Engine { return NewNews() },
	VolumeVelocity: func(Options) Engine { return NewVolumeVelocity() },
	Execution:      func(Options) Engine { return NewExecution() },
}

type Options struct {
	RSIPeriod int
}

// Known lists the built-in engine names in sorted order.
func Known() []string {
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build instantiates the named engines, keeping the given order.
func Build(names []string, opts Options) ([]Engine, error) {
	out := make([]Engine, 0, len(names))
	seen := map[string]bool{}
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		f, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("unknown scoring engine %q", raw)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, f(opts))
	}
	return out, nil
}

// NewTechnical scores momentum from RSI: overbought 1.0, oversold 0.0,
// otherwise 0.5. RSI comes from candles when there are enough of them and
// from the "rsi" field otherwise.
func NewTechnical(period int) Engine {
	if period <= 0 {
		period = 14
	}
	return NewFunc(Technical, func(_ context.Context, snap market.Snapshot) (float64, string, error) {
		rsi := snap.NumOr("rsi", 50)
		if len(snap.Candles) > period {
			_, _, closes, _ := market.Series(snap.Candles)
			series := talib.Rsi(closes, period)
			last := series[len(series)-1]
			if math.IsNaN(last) {
				return 0, "", fmt.Errorf("rsi undefined")
			}
			rsi = last
		}
		switch {
		case rsi > 70:
			return 1, fmt.Sprintf("rsi=%.2f", rsi), nil
		case rsi < 30:
			return 0, fmt.Sprintf("rsi=%.2f", rsi), nil
		default:
			return 0.5, fmt.Sprintf("rsi=%.2f", rsi), nil
		}
	})
}

func NewFundamental() Engine {
	return NewFunc(Fundamental, func(_ context.Context, snap market.Snapshot) (float64, string, error) {
		v := snap.NumOr("fundamental_news_score", 0)
		return v, fmt.Sprintf("news_score=%.2f", v), nil
	})
}

func NewNews() Engine {
	return NewFunc(News, func(_ context.Context, snap market.Snapshot) (float64, string, error) {
		v := snap.NumOr("news_sentiment", 0)
		return v, fmt.Sprintf("sentiment=%.2f", v), nil
	})
}

// NewSentiment reads crowd sentiment from the "sentiment" field, falling back
// to the trader_mood tag.
func NewSentiment() Engine {
	return NewFunc(Sentiment, func(_ context.Context, snap market.Snapshot) (float64, string, error) {
		if v, ok := snap.Num("sentiment"); ok {
			return v, fmt.Sprintf("sentiment=%.2f", v), nil
		}
		mood := snap.Tag("trader_mood")
		if mood == "" {
			mood = "neutral"
		}
		if mood == "confident" {
			return 1, "mood=" + mood, nil
		}
		return 0.4, "mood=" + mood, nil
	})
}

// NewCorrelation uses the instrument's own correlation field when present,
// otherwise the mean absolute market correlation.
func NewCorrelation() Engine {
	return NewFunc(Correlation, func(_ context.Context, snap market.Snapshot) (float64, string, error) {
		if v, ok := snap.Num("correlation"); ok {
			return math.Abs(v), fmt.Sprintf("correlation=%.2f", v), nil
		}
		corrs := snap.Market.Correlations
		if len(corrs) == 0 {
			return 0, "correlation=n/a", nil
		}
		sum := 0.0
		for _, c := range corrs {
			sum += math.Abs(c)
		}
		avg := sum / float64(len(corrs))
		return avg, fmt.Sprintf("avg_correlation=%.2f", avg), nil
	})
}

// NewVolatility favours calm conditions: the score falls as the volatility
// feature rises.
func NewVolatility() Engine {
	return NewFunc(Volatility, func(_ context.Context, snap market.Snapshot) (float64, string, error) {
		v := snap.Features.Volatility
		return 1 - v, fmt.Sprintf("volatility=%.2f", v), nil
	})
}

func NewVolumeVelocity() Engine {
	return NewFunc(VolumeVelocity, func(_ context.Context, snap market.Snapshot) (float64, string, error) {
		volume := snap.NumOr("volume", 1000)
		velocity := snap.NumOr("velocity", 1)
		return math.Min(1, volume/10000*velocity), fmt.Sprintf("volume=%.0f,velocity=%.2f", volume, velocity), nil
	})
}

func NewExecution() Engine {
	return NewFunc(Execution, func(_ context.Context, snap market.Snapshot) (float64, string, error) {
		latency := snap.NumOr("execution_latency_ms", 100)
		return math.Max(0, 1-latency/1000), fmt.Sprintf("latency=%.0fms", latency), nil
	})
}
