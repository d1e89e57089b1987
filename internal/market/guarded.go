package market

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"riskguard/internal/logger"
)

type GuardConfig struct {
	Name string
	// Timeout bounds every individual call.
	Timeout time.Duration
	// TripAfter consecutive failures opens the breaker.
	TripAfter uint32
	// Cooldown is how long the breaker stays open before a trial call.
	Cooldown time.Duration
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.Name == "" {
		c.Name = "market"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.TripAfter == 0 {
		c.TripAfter = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// GuardedSource bounds each call of the wrapped Source with a timeout and
// fails fast through a circuit breaker once the upstream keeps failing.
type GuardedSource struct {
	inner Source
	cfg   GuardConfig
	cb    *gobreaker.CircuitBreaker
}

func NewGuardedSource(inner Source, cfg GuardConfig) *GuardedSource {
	cfg = cfg.withDefaults()
	st := gobreaker.Settings{Name: cfg.Name}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= cfg.TripAfter }
	st.Timeout = cfg.Cooldown
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warnf("[market] breaker %s %s -> %s", name, from, to)
	}
	return &GuardedSource{inner: inner, cfg: cfg, cb: gobreaker.NewCircuitBreaker(st)}
}

func (g *GuardedSource) State() string {
	return g.cb.State().String()
}

func (g *GuardedSource) call(ctx context.Context, op string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
		type result struct {
			v   interface{}
			err error
		}
		ch := make(chan result, 1)
		go func() {
			v, err := fn(callCtx)
			ch <- result{v, err}
		}()
		select {
		case r := <-ch:
			return r.v, r.err
		case <-callCtx.Done():
			return nil, callCtx.Err()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", g.cfg.Name, op, err)
	}
	return out, nil
}

func (g *GuardedSource) CurrentPrice(ctx context.Context, instrument string) (Quote, error) {
	v, err := g.call(ctx, "price", func(ctx context.Context) (interface{}, error) {
		return g.inner.CurrentPrice(ctx, instrument)
	})
	if err != nil {
		return Quote{}, err
	}
	return v.(Quote), nil
}

func (g *GuardedSource) Spread(ctx context.Context, instrument string) (float64, error) {
	v, err := g.call(ctx, "spread", func(ctx context.Context) (interface{}, error) {
		return g.inner.Spread(ctx, instrument)
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (g *GuardedSource) Candles(ctx context.Context, instrument, granularity string, count int) ([]Candle, error) {
	v, err := g.call(ctx, "candles", func(ctx context.Context) (interface{}, error) {
		return g.inner.Candles(ctx, instrument, granularity, count)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Candle), nil
}

func (g *GuardedSource) OpenPositions(ctx context.Context, instrument string) ([]Position, error) {
	v, err := g.call(ctx, "positions", func(ctx context.Context) (interface{}, error) {
		return g.inner.OpenPositions(ctx, instrument)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Position), nil
}

// Account forwards to the wrapped source when it can report the book.
func (g *GuardedSource) Account(ctx context.Context) (Account, error) {
	as, ok := g.inner.(AccountSource)
	if !ok {
		return Account{}, fmt.Errorf("%s: account not supported", g.cfg.Name)
	}
	v, err := g.call(ctx, "account", func(ctx context.Context) (interface{}, error) {
		return as.Account(ctx)
	})
	if err != nil {
		return Account{}, err
	}
	return v.(Account), nil
}

func (g *GuardedSource) Aggregates(ctx context.Context) (Aggregates, error) {
	as, ok := g.inner.(AggregateSource)
	if !ok {
		return Aggregates{}, fmt.Errorf("%s: aggregates not supported", g.cfg.Name)
	}
	v, err := g.call(ctx, "aggregates", func(ctx context.Context) (interface{}, error) {
		return as.Aggregates(ctx)
	})
	if err != nil {
		return Aggregates{}, err
	}
	return v.(Aggregates), nil
}
