package sizing

import (
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"riskguard/internal/pkg/ringbuf"
)

var (
	atrFallbackMult = decimal.RequireFromString("1.5")
	atrBufferMult   = decimal.RequireFromString("1.2")
	atrQuantile     = decimal.RequireFromString("0.75")
)

const (
	defaultATRWindow = 100
	minATRSamples    = 10
)

// QuantileATR derives a stop width from the rolling ATR distribution of each
// instrument.
type QuantileATR struct {
	mu     sync.Mutex
	window int
	series map[string]*ringbuf.Ring[decimal.Decimal]
}

func NewQuantileATR(window int) *QuantileATR {
	if window <= 0 {
		window = defaultATRWindow
	}
	return &QuantileATR{window: window, series: make(map[string]*ringbuf.Ring[decimal.Decimal])}
}

// Width records atr and returns the stop width in price units.
func (q *QuantileATR) Width(instrument string, atr decimal.Decimal) decimal.Decimal {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.series[instrument]
	if !ok {
		r = ringbuf.New[decimal.Decimal](q.window)
		q.series[instrument] = r
	}
	r.Push(atr)
	if r.Len() < minATRSamples {
		return atr.Mul(atrFallbackMult)
	}
	sorted := r.Items()
	slices.SortFunc(sorted, func(a, b decimal.Decimal) int { return a.Cmp(b) })
	idx := int(decimal.NewFromInt(int64(len(sorted))).Mul(atrQuantile).IntPart())
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx].Mul(atrBufferMult)
}
