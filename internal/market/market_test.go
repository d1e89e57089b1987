package market

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"riskguard/internal/riskmath"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) CurrentPrice(ctx context.Context, instrument string) (Quote, error) {
	args := m.Called(ctx, instrument)
	return args.Get(0).(Quote), args.Error(1)
}

func (m *mockSource) Spread(ctx context.Context, instrument string) (float64, error) {
	args := m.Called(ctx, instrument)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockSource) Candles(ctx context.Context, instrument, granularity string, count int) ([]Candle, error) {
	args := m.Called(ctx, instrument, granularity, count)
	return args.Get(0).([]Candle), args.Error(1)
}

func (m *mockSource) OpenPositions(ctx context.Context, instrument string) ([]Position, error) {
	args := m.Called(ctx, instrument)
	return args.Get(0).([]Position), args.Error(1)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trendingCandles(n int) []Candle {
	out := make([]Candle, n)
	price := 1.1000
	for i := range out {
		price += 0.0004
		out[i] = Candle{
			OpenTime: int64(i),
			Open:     price - 0.0002,
			High:     price + 0.0005,
			Low:      price - 0.0006,
			Close:    price,
			Volume:   1000 + float64(i)*10,
		}
	}
	return out
}

func TestBuilderBuildsSnapshot(t *testing.T) {
	src := new(mockSource)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src.On("CurrentPrice", mock.Anything, "EUR_USD").Return(Quote{Bid: dec("1.1399"), Ask: dec("1.1401"), Time: now.Add(-2 * time.Second)}, nil)
	src.On("Spread", mock.Anything, "EUR_USD").Return(1.2, nil)
	src.On("Candles", mock.Anything, "EUR_USD", "M15", 120).Return(trendingCandles(120), nil)
	src.On("OpenPositions", mock.Anything, "EUR_USD").Return([]Position{}, nil)

	b := NewBuilder(src, nil, BuilderConfig{}, WithClock(func() time.Time { return now }))
	snap, err := b.Build(context.Background(), "eur_usd")
	require.NoError(t, err)

	assert.Equal(t, "EUR_USD", snap.Instrument)
	assert.True(t, snap.Price.Equal(dec("1.14")))
	assert.Equal(t, 2*time.Second, snap.DataAge)
	assert.Greater(t, snap.ATR, 0.0)
	assert.Greater(t, snap.Features.TrendStrength, 0.0)
	assert.LessOrEqual(t, snap.Features.TrendStrength, 1.0)
	assert.Greater(t, snap.Features.VolumeTrend, 0.0)
	assert.Equal(t, 1.2, snap.SpreadP50)
	src.AssertExpectations(t)
}

func TestBuilderSkipsOnFetchFailure(t *testing.T) {
	src := new(mockSource)
	src.On("CurrentPrice", mock.Anything, "EUR_USD").Return(Quote{}, errors.New("upstream down"))

	b := NewBuilder(src, nil, BuilderConfig{})
	_, err := b.Build(context.Background(), "EUR_USD")
	assert.ErrorContains(t, err, "upstream down")
	src.AssertNotCalled(t, "Spread", mock.Anything, mock.Anything)
}

func TestBuilderRejectsNonFiniteSpread(t *testing.T) {
	src := new(mockSource)
	src.On("CurrentPrice", mock.Anything, "EUR_USD").Return(Quote{Bid: dec("1.1"), Ask: dec("1.1")}, nil)
	src.On("Spread", mock.Anything, "EUR_USD").Return(math.NaN(), nil)
	src.On("Candles", mock.Anything, "EUR_USD", "M15", 120).Return([]Candle{}, nil)
	src.On("OpenPositions", mock.Anything, "EUR_USD").Return([]Position{}, nil)

	_, err := NewBuilder(src, nil, BuilderConfig{}).Build(context.Background(), "EUR_USD")
	assert.ErrorIs(t, err, riskmath.ErrNonFinite)
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	orig := Snapshot{
		Instrument: "EUR_USD",
		Price:      dec("1.1"),
		Fields:     map[string]float64{"rsi": 55},
		Market:     Aggregates{VIX: Float(22), Correlations: []float64{0.4}},
	}
	cp := orig.Clone()
	cp.Fields["rsi"] = 90
	*cp.Market.VIX = 40
	cp.Market.Correlations[0] = 0.9

	assert.Equal(t, 55.0, orig.Fields["rsi"])
	assert.Equal(t, 22.0, *orig.Market.VIX)
	assert.Equal(t, 0.4, orig.Market.Correlations[0])
}

func TestPositionRMultiple(t *testing.T) {
	long := Position{Side: SideLong, EntryPrice: dec("1.1000"), StopLoss: dec("1.0950"), CurrentPrice: dec("1.0990")}
	assert.InDelta(t, -0.2, long.RMultiple(), 1e-9)

	short := Position{Side: SideShort, EntryPrice: dec("1.1000"), StopLoss: dec("1.1050"), CurrentPrice: dec("1.0900")}
	assert.InDelta(t, 2.0, short.RMultiple(), 1e-9)

	assert.Equal(t, 0.0, Position{EntryPrice: dec("1"), StopLoss: dec("1")}.RMultiple())
}

func TestPercentile(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 3.0, Percentile(vals, 50))
	assert.InDelta(t, 4.96, Percentile(vals, 99), 1e-9)
	assert.Equal(t, 0.0, Percentile(nil, 50))
}

func TestSpreadTrackerWindow(t *testing.T) {
	tr := NewSpreadTracker(3)
	tr.Observe("EUR_USD", 10)
	tr.Observe("EUR_USD", 1)
	tr.Observe("EUR_USD", 1)
	p50, _ := tr.Observe("EUR_USD", 1)
	assert.Equal(t, 1.0, p50)
	p50, _ = tr.Observe("USD_JPY", 2)
	assert.Equal(t, 2.0, p50)
}

type slowSource struct{ mockSource }

func (s *slowSource) CurrentPrice(ctx context.Context, _ string) (Quote, error) {
	<-ctx.Done()
	return Quote{}, ctx.Err()
}

func TestGuardedSourceTimesOutAndTrips(t *testing.T) {
	g := NewGuardedSource(&slowSource{}, GuardConfig{Name: "test", Timeout: 10 * time.Millisecond, TripAfter: 2, Cooldown: time.Minute})

	_, err := g.CurrentPrice(context.Background(), "EUR_USD")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, err = g.CurrentPrice(context.Background(), "EUR_USD")
	assert.Error(t, err)
	assert.Equal(t, "open", g.State())

	start := time.Now()
	_, err = g.CurrentPrice(context.Background(), "EUR_USD")
	assert.ErrorContains(t, err, "circuit breaker is open")
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestGuardedSourceAccountUnsupported(t *testing.T) {
	g := NewGuardedSource(new(mockSource), GuardConfig{})
	_, err := g.Account(context.Background())
	assert.ErrorContains(t, err, "not supported")
}

func TestComputeOrderFlow(t *testing.T) {
	_, ok := ComputeOrderFlow(trendingCandles(10))
	assert.False(t, ok, "no taker volume")

	candles := trendingCandles(10)
	for i := range candles {
		// sellers dominate while price rises
		candles[i].TakerBuy = candles[i].Volume * 0.3
	}
	of, ok := ComputeOrderFlow(candles)
	require.True(t, ok)
	assert.Less(t, of.Delta, 0.0)
	assert.Less(t, of.Momentum, 0.0)
	assert.Equal(t, 0.0, of.Normalized)
	assert.Equal(t, "bearish", of.Divergence)
}
