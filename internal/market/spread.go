package market

import (
	"sort"
	"sync"

	"riskguard/internal/pkg/ringbuf"
)

// SpreadTracker keeps a rolling window of observed spreads per instrument.
type SpreadTracker struct {
	mu      sync.Mutex
	window  int
	history map[string]*ringbuf.Ring[float64]
}

func NewSpreadTracker(window int) *SpreadTracker {
	if window <= 0 {
		window = 500
	}
	return &SpreadTracker{window: window, history: make(map[string]*ringbuf.Ring[float64])}
}

// Observe records a spread and returns the updated p50 and p99.
func (t *SpreadTracker) Observe(instrument string, spreadPips float64) (p50, p99 float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ring, ok := t.history[instrument]
	if !ok {
		ring = ringbuf.New[float64](t.window)
		t.history[instrument] = ring
	}
	ring.Push(spreadPips)
	vals := ring.Items()
	return Percentile(vals, 50), Percentile(vals, 99)
}

// Percentile uses linear interpolation between closest ranks.
func Percentile(vals []float64, p float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	frac := rank - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
