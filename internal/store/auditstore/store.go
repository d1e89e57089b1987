// Package auditstore is the gorm/SQLite implementation of store.AuditStore.
package auditstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"riskguard/internal/decision"
	"riskguard/internal/store"
	"riskguard/internal/store/model"
	"riskguard/internal/trace"
)

type Store struct {
	db *gorm.DB
}

var _ store.AuditStore = (*Store)(nil)

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit store: path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("audit store: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&model.AuditEventModel{}, &model.DecisionModel{}, &model.OutcomeModel{}); err != nil {
		return nil, fmt.Errorf("audit store: migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// WAL allows concurrent readers; keep writers few.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit stores ev. A terminal event carrying a decision payload also upserts
// the decisions table in the same transaction.
func (s *Store) Emit(ctx context.Context, ev trace.Event) error {
	fields := make(map[string]any, len(ev.Fields))
	var rec *decision.Record
	for k, v := range ev.Fields {
		if k == trace.FieldPayload {
			if r, ok := v.(decision.Record); ok {
				rec = &r
			}
			continue
		}
		fields[k] = v
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("audit store: encode fields: %w", err)
	}
	row := model.AuditEventModel{
		EventID:       ev.ID,
		TraceID:       ev.TraceID,
		Instrument:    ev.Instrument,
		Name:          ev.Name,
		Severity:      ev.Severity.String(),
		Terminal:      ev.Terminal,
		Fields:        datatypes.JSON(raw),
		CreatedAtUnix: ev.At.UnixMilli(),
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if !ev.Terminal || rec == nil {
			return nil
		}
		body, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("audit store: encode record: %w", err)
		}
		d := model.DecisionModel{
			TraceID:       rec.TraceID,
			Instrument:    rec.Instrument,
			Action:        string(rec.Action),
			Reason:        rec.PrimaryReason(),
			FinalScore:    rec.FinalScore,
			Probability:   rec.Probability,
			Record:        datatypes.JSON(body),
			CreatedAtUnix: rec.At.UnixMilli(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "trace_id"}},
			UpdateAll: true,
		}).Create(&d).Error
	})
}

func (s *Store) Events(ctx context.Context, traceID string) ([]trace.Event, error) {
	var rows []model.AuditEventModel
	if err := s.db.WithContext(ctx).Where("trace_id = ?", traceID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]trace.Event, 0, len(rows))
	for _, r := range rows {
		ev := trace.Event{
			ID:         r.EventID,
			TraceID:    r.TraceID,
			Instrument: r.Instrument,
			Name:       r.Name,
			Severity:   trace.ParseSeverity(r.Severity),
			Terminal:   r.Terminal,
			At:         time.UnixMilli(r.CreatedAtUnix).UTC(),
		}
		if len(r.Fields) > 0 {
			if err := json.Unmarshal(r.Fields, &ev.Fields); err != nil {
				return nil, fmt.Errorf("audit store: decode event %s: %w", r.EventID, err)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

// RecentDecisions returns up to limit records, newest first.
func (s *Store) RecentDecisions(ctx context.Context, instrument string, limit int) ([]decision.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if instrument != "" {
		q = q.Where("instrument = ?", instrument)
	}
	var rows []model.DecisionModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]decision.Record, 0, len(rows))
	for _, r := range rows {
		var rec decision.Record
		if err := json.Unmarshal(r.Record, &rec); err != nil {
			return nil, fmt.Errorf("audit store: decode decision %s: %w", r.TraceID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) SaveOutcome(ctx context.Context, o store.Outcome) error {
	meta, err := json.Marshal(o.Meta)
	if err != nil {
		return err
	}
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}
	return s.db.WithContext(ctx).Create(&model.OutcomeModel{
		TraceID:       o.TraceID,
		Predicted:     o.Predicted,
		Won:           o.Won,
		Meta:          datatypes.JSON(meta),
		CreatedAtUnix: at.UnixMilli(),
	}).Error
}

func (s *Store) Outcomes(ctx context.Context, limit int) ([]store.Outcome, error) {
	if limit <= 0 {
		limit = 1000
	}
	var rows []model.OutcomeModel
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.Outcome, len(rows))
	for i, r := range rows {
		o := store.Outcome{
			TraceID:   r.TraceID,
			Predicted: r.Predicted,
			Won:       r.Won,
			At:        time.UnixMilli(r.CreatedAtUnix).UTC(),
		}
		if len(r.Meta) > 0 {
			_ = json.Unmarshal(r.Meta, &o.Meta)
		}
		out[len(rows)-1-i] = o
	}
	return out, nil
}
