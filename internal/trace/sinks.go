package trace

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"riskguard/internal/logger"
	"riskguard/internal/pkg/ringbuf"
)

// LogSink writes events through the process logger.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, ev Event) error {
	attrs := make([]slog.Attr, 0, len(ev.Fields)+2)
	if ev.Instrument != "" {
		attrs = append(attrs, slog.String("instrument", ev.Instrument))
	}
	if ev.Terminal {
		attrs = append(attrs, slog.Bool("terminal", true))
	}
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		if k == FieldPayload {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, ev.Fields[k]))
	}
	logger.Event(levelFor(ev.Severity), ev.TraceID, ev.Name, attrs...)
	return nil
}

func levelFor(s Severity) slog.Level {
	switch s {
	case SeverityCritical:
		return logger.LevelCritical
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Recorder keeps the most recent events in memory.
type Recorder struct {
	mu   sync.RWMutex
	ring *ringbuf.Ring[Event]
}

func NewRecorder(capacity int) *Recorder {
	return &Recorder{ring: ringbuf.New[Event](capacity)}
}

func (r *Recorder) Emit(_ context.Context, ev Event) error {
	if r == nil {
		return fmt.Errorf("recorder is nil")
	}
	r.mu.Lock()
	r.ring.Push(ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Recent(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ring.Last(n)
}

// ByTrace returns every retained event of one cycle, oldest first.
func (r *Recorder) ByTrace(traceID string) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, ev := range r.ring.Items() {
		if ev.TraceID == traceID {
			out = append(out, ev)
		}
	}
	return out
}
