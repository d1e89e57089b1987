// Package trace carries a per-cycle correlation id through context.Context
// and fans structured audit events out to sinks.
package trace

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type ctxKey struct{}

// Begin returns a context carrying a fresh correlation id, unless ctx
// already has one.
func Begin(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return context.WithValue(ctx, ctxKey{}, id), id
}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// ParseSeverity is the inverse of String; unknown names are info.
func ParseSeverity(s string) Severity {
	switch s {
	case "warning":
		return SeverityWarning
	case "critical":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Terminal event names. Exactly one of these closes every cycle.
const (
	EventDecision = "decision"
	EventBlock    = "block"
	EventOverride = "override"
	EventHalt     = "halt"
)

// Critical state transition events.
const (
	EventRegimeChange   = "regime_change"
	EventSentinelMode   = "sentinel_mode_change"
	EventCalibration    = "calibration_transition"
	EventRouteDiversion = "route_diversion"
	EventLiquidityCliff = "liquidity_cliff"
	EventDrawdownHalt   = "drawdown_halt"
	EventEngineDegraded = "engine_degraded"
	EventCanary         = "canary"
)

// FieldPayload holds the full structured record of a terminal event. Log
// sinks skip it; persistent sinks store it.
const FieldPayload = "payload"

type Event struct {
	ID         string
	TraceID    string
	Instrument string
	Name       string
	Severity   Severity
	Terminal   bool
	At         time.Time
	Fields     map[string]any
}

type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// Emitter stamps events with ids, the context's trace id and a timestamp
// before handing them to the sink.
type Emitter struct {
	Sink Sink
	Now  func() time.Time
}

func NewEmitter(sink Sink) *Emitter {
	return &Emitter{Sink: sink, Now: time.Now}
}

func (e *Emitter) Emit(ctx context.Context, ev Event) error {
	if e == nil || e.Sink == nil {
		return nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.TraceID == "" {
		ev.TraceID = FromContext(ctx)
	}
	if ev.At.IsZero() {
		now := time.Now
		if e.Now != nil {
			now = e.Now
		}
		ev.At = now().UTC()
	}
	return e.Sink.Emit(ctx, ev)
}

// MultiSink delivers to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
