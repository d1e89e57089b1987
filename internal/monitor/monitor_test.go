package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskguard/internal/calibration"
	"riskguard/internal/decision"
	"riskguard/internal/guard"
	"riskguard/internal/market"
	"riskguard/internal/regime"
	"riskguard/internal/scoring"
	"riskguard/internal/sentinel"
	"riskguard/internal/sizing"
	"riskguard/internal/stress"
	"riskguard/internal/supervisor"
	"riskguard/internal/trace"
)

var fixed = time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)

func newSupervisor(t *testing.T) *supervisor.Supervisor {
	t.Helper()
	now := func() time.Time { return fixed }
	eng := scoring.NewFunc("technical", func(context.Context, market.Snapshot) (float64, string, error) {
		return 0.9, "", nil
	})
	sup, err := supervisor.New(supervisor.Config{}, supervisor.Deps{
		Runner:      scoring.NewRunner(time.Second, eng),
		Classifier:  regime.NewClassifier(nil, regime.Options{Now: now}),
		Stress:      stress.NewEngine(decimal.NewFromInt(50)),
		Sentinel:    sentinel.NewEngine(sentinel.Config{}, now),
		Calibration: calibration.NewAuditor(calibration.DefaultConfig(), now),
		Guard:       guard.NewEvaluator(guard.DefaultConfig(), now),
		Sizer:       sizing.NewSizer(sizing.Config{}),
		Emitter:     &trace.Emitter{Sink: trace.NewRecorder(64), Now: now},
		Now:         now,
	})
	require.NoError(t, err)
	return sup
}

func snapshot(instrument string) market.Snapshot {
	return market.Snapshot{
		Instrument: instrument,
		Price:      decimal.RequireFromString("1.1000"),
		SpreadPips: 0.8,
		SpreadP50:  0.8,
		SpreadP99:  1.0,
		Account: market.Account{
			Balance: decimal.NewFromInt(10000),
			NAV:     decimal.NewFromInt(10000),
		},
		Features: market.Features{Volatility: 0.1},
	}
}

type fetcherFunc func(ctx context.Context, instrument string) (market.Snapshot, error)

func (f fetcherFunc) Build(ctx context.Context, instrument string) (market.Snapshot, error) {
	return f(ctx, instrument)
}

type recordingNotifier struct {
	mu   sync.Mutex
	recs []decision.Record
	done chan struct{}
}

func (n *recordingNotifier) Notify(_ context.Context, rec decision.Record) map[string]error {
	n.mu.Lock()
	n.recs = append(n.recs, rec)
	n.mu.Unlock()
	n.done <- struct{}{}
	return map[string]error{"telegram": nil}
}

func TestCycleEvaluatesAndRecordsHistory(t *testing.T) {
	notifier := &recordingNotifier{done: make(chan struct{}, 1)}
	m, err := New(Params{
		Supervisor: newSupervisor(t),
		Fetcher: fetcherFunc(func(_ context.Context, inst string) (market.Snapshot, error) {
			return snapshot(inst), nil
		}),
		Notifier: notifier,
	})
	require.NoError(t, err)

	rec, err := m.Cycle(context.Background(), "EUR_USD")
	require.NoError(t, err)
	assert.Equal(t, decision.ActionAct, rec.Action)
	assert.Equal(t, 1, m.History().Len())

	found, ok := m.History().Find(rec.TraceID)
	require.True(t, ok)
	assert.Equal(t, rec.Action, found.Action)

	select {
	case <-notifier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestCycleSkipsOnFetchFailure(t *testing.T) {
	m, err := New(Params{
		Supervisor: newSupervisor(t),
		Fetcher: fetcherFunc(func(context.Context, string) (market.Snapshot, error) {
			return market.Snapshot{}, errors.New("upstream down")
		}),
	})
	require.NoError(t, err)
	_, err = m.Cycle(context.Background(), "EUR_USD")
	require.Error(t, err)
	assert.Zero(t, m.History().Len())
}

func TestCycleSkipsStaleSnapshot(t *testing.T) {
	m, err := New(Params{
		Config:     Config{MaxDataAge: time.Minute},
		Supervisor: newSupervisor(t),
		Fetcher: fetcherFunc(func(_ context.Context, inst string) (market.Snapshot, error) {
			snap := snapshot(inst)
			snap.DataAge = 2 * time.Minute
			return snap, nil
		}),
	})
	require.NoError(t, err)

	_, err = m.Cycle(context.Background(), "EUR_USD")
	require.ErrorIs(t, err, ErrStaleData)
	assert.Zero(t, m.History().Len())
	assert.Zero(t, m.RunCanaries(context.Background()))
}

func TestCycleIsolatesPanics(t *testing.T) {
	m, err := New(Params{
		Supervisor: newSupervisor(t),
		Fetcher: fetcherFunc(func(context.Context, string) (market.Snapshot, error) {
			panic("boom")
		}),
	})
	require.NoError(t, err)
	_, err = m.Cycle(context.Background(), "EUR_USD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	ctx, cancel := context.WithCancel(context.Background())
	m, err := New(Params{
		Config:     Config{Instruments: []string{"EUR_USD", "GBP_USD"}, Interval: time.Hour},
		Supervisor: newSupervisor(t),
		Fetcher: fetcherFunc(func(_ context.Context, inst string) (market.Snapshot, error) {
			mu.Lock()
			seen[inst]++
			if len(seen) == 2 {
				cancel()
			}
			mu.Unlock()
			return snapshot(inst), nil
		}),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen["EUR_USD"])
	assert.Equal(t, 1, seen["GBP_USD"])
}

func TestHistoryRecentFiltersNewestFirst(t *testing.T) {
	h := NewHistory(3)
	for i, inst := range []string{"EUR_USD", "GBP_USD", "EUR_USD", "USD_JPY"} {
		h.Append(decision.Record{TraceID: string(rune('a' + i)), Instrument: inst})
	}
	all := h.Recent(10, "")
	require.Len(t, all, 3)
	assert.Equal(t, "d", all[0].TraceID)

	eur := h.Recent(10, "EUR_USD")
	require.Len(t, eur, 1)
	assert.Equal(t, "c", eur[0].TraceID)
}
