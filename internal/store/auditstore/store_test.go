package auditstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskguard/internal/decision"
	"riskguard/internal/guard"
	"riskguard/internal/market"
	"riskguard/internal/store"
	"riskguard/internal/trace"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit", "riskguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEmitPersistsEventsAndDecision(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	rec := decision.Record{
		TraceID:    "t-1",
		Instrument: "EUR_USD",
		At:         at,
		Action:     decision.ActionAct,
		Reasons:    []decision.Reason{{Code: decision.ReasonApproved}},
		FinalScore: 0.8,
		Gates:      map[string]bool{guard.GateSpread: true},
		Order: &guard.Order{
			Instrument: "EUR_USD",
			Side:       market.SideLong,
			Units:      decimal.NewFromInt(1000),
			Price:      decimal.RequireFromString("1.1"),
		},
	}
	require.NoError(t, s.Emit(ctx, trace.Event{
		ID: "e-1", TraceID: "t-1", Instrument: "EUR_USD", Name: trace.EventRegimeChange,
		Severity: trace.SeverityCritical, At: at, Fields: map[string]any{"to": "crisis_mode"},
	}))
	require.NoError(t, s.Emit(ctx, trace.Event{
		ID: "e-2", TraceID: "t-1", Instrument: "EUR_USD", Name: trace.EventDecision,
		Terminal: true, At: at, Fields: map[string]any{"action": "act", trace.FieldPayload: rec},
	}))

	events, err := s.Events(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, trace.SeverityCritical, events[0].Severity)
	assert.Equal(t, "crisis_mode", events[0].Fields["to"])
	assert.True(t, events[1].Terminal)
	assert.NotContains(t, events[1].Fields, trace.FieldPayload)

	recs, err := s.RecentDecisions(ctx, "EUR_USD", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "t-1", recs[0].TraceID)
	assert.True(t, recs[0].Order.Units.Equal(decimal.NewFromInt(1000)))
	assert.True(t, recs[0].Gates[guard.GateSpread])

	none, err := s.RecentDecisions(ctx, "GBP_USD", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOutcomesRoundTripOldestFirst(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	for i, p := range []float64{0.6, 0.7, 0.8} {
		require.NoError(t, s.SaveOutcome(ctx, store.Outcome{
			Predicted: p,
			Won:       i%2 == 0,
			Meta:      map[string]string{"engine": "technical"},
		}))
	}
	out, err := s.Outcomes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 0.7, out[0].Predicted)
	assert.Equal(t, 0.8, out[1].Predicted)
	assert.True(t, out[1].Won)
	assert.Equal(t, "technical", out[0].Meta["engine"])
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)
}
