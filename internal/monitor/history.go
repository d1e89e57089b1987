package monitor

import (
	"sync"

	"riskguard/internal/decision"
	"riskguard/internal/pkg/ringbuf"
)

// History keeps the most recent decision records, newest last.
type History struct {
	mu   sync.RWMutex
	ring *ringbuf.Ring[decision.Record]
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 500
	}
	return &History{ring: ringbuf.New[decision.Record](capacity)}
}

func (h *History) Append(rec decision.Record) {
	h.mu.Lock()
	h.ring.Push(rec.Clone())
	h.mu.Unlock()
}

// Recent returns up to n records, newest first. An instrument filter of ""
// matches all.
func (h *History) Recent(n int, instrument string) []decision.Record {
	h.mu.RLock()
	items := h.ring.Items()
	h.mu.RUnlock()
	out := make([]decision.Record, 0, min(n, len(items)))
	for i := len(items) - 1; i >= 0 && len(out) < n; i-- {
		if instrument != "" && items[i].Instrument != instrument {
			continue
		}
		out = append(out, items[i])
	}
	return out
}

// Find returns the record with the given trace id.
func (h *History) Find(traceID string) (decision.Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, rec := range h.ring.Items() {
		if rec.TraceID == traceID {
			return rec, true
		}
	}
	return decision.Record{}, false
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ring.Len()
}
