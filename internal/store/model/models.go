// Package model holds the gorm table mappings of the audit store.
package model

import "gorm.io/datatypes"

// AuditEventModel maps to 'audit_events': every emitted trace event.
type AuditEventModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	EventID       string         `gorm:"column:event_uuid;uniqueIndex"`
	TraceID       string         `gorm:"column:trace_id;index"`
	Instrument    string         `gorm:"column:instrument;index"`
	Name          string         `gorm:"column:name;index"`
	Severity      string         `gorm:"column:severity"`
	Terminal      bool           `gorm:"column:terminal"`
	Fields        datatypes.JSON `gorm:"column:fields"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
}

func (AuditEventModel) TableName() string { return "audit_events" }

// DecisionModel maps to 'decisions': one row per cycle holding the full
// decision record.
type DecisionModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	TraceID       string         `gorm:"column:trace_id;uniqueIndex"`
	Instrument    string         `gorm:"column:instrument;index"`
	Action        string         `gorm:"column:action;index"`
	Reason        string         `gorm:"column:reason"`
	FinalScore    float64        `gorm:"column:final_score"`
	Probability   float64        `gorm:"column:probability"`
	Record        datatypes.JSON `gorm:"column:record"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
}

func (DecisionModel) TableName() string { return "decisions" }

// OutcomeModel maps to 'prediction_outcomes', the calibration history.
type OutcomeModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	TraceID       string         `gorm:"column:trace_id;index"`
	Predicted     float64        `gorm:"column:predicted"`
	Won           bool           `gorm:"column:won"`
	Meta          datatypes.JSON `gorm:"column:meta"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
}

func (OutcomeModel) TableName() string { return "prediction_outcomes" }
