// Package store defines the persistence boundary of the audit trail.
package store

import (
	"context"
	"time"

	"riskguard/internal/decision"
	"riskguard/internal/trace"
)

// Outcome is one resolved prediction fed back for calibration.
type Outcome struct {
	TraceID   string            `json:"trace_id,omitempty"`
	Predicted float64           `json:"predicted"`
	Won       bool              `json:"won"`
	Meta      map[string]string `json:"meta,omitempty"`
	At        time.Time         `json:"at"`
}

// AuditStore persists trace events, decision records and prediction
// outcomes. It is also a trace.Sink.
type AuditStore interface {
	trace.Sink
	Events(ctx context.Context, traceID string) ([]trace.Event, error)
	RecentDecisions(ctx context.Context, instrument string, limit int) ([]decision.Record, error)
	SaveOutcome(ctx context.Context, o Outcome) error
	// Outcomes returns the newest limit outcomes, oldest first.
	Outcomes(ctx context.Context, limit int) ([]Outcome, error)
	Close() error
}
