// Package scoring defines the signal scorers and runs them concurrently over
// one snapshot.
package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"riskguard/internal/market"
	"riskguard/internal/riskmath"
)

// Score is the uniform result of one engine: a value in [0,1] and why.
type Score struct {
	Engine string  `json:"engine"`
	Value  float64 `json:"score"`
	Reason string  `json:"reason"`
}

type HeartbeatStats struct {
	Engine       string  `json:"engine"`
	Scenario     string  `json:"scenario,omitempty"`
	Calls        int     `json:"calls"`
	NonzeroRatio float64 `json:"nonzero_ratio"`
	LatencyMS    float64 `json:"latency_ms"`
}

// Engine scores a snapshot. Implementations must not keep per-call state so
// that concurrent calls and canary heartbeats never interfere.
type Engine interface {
	Name() string
	Score(ctx context.Context, snap market.Snapshot) (Score, error)
	Heartbeat(ctx context.Context, scenario Scenario, snap market.Snapshot) HeartbeatStats
}

type ScoreFunc func(ctx context.Context, snap market.Snapshot) (value float64, reason string, err error)

// FuncEngine adapts a ScoreFunc into an Engine.
type FuncEngine struct {
	name string
	fn   ScoreFunc
}

func NewFunc(name string, fn ScoreFunc) *FuncEngine {
	return &FuncEngine{name: name, fn: fn}
}

func (e *FuncEngine) Name() string { return e.name }

func (e *FuncEngine) Score(ctx context.Context, snap market.Snapshot) (Score, error) {
	v, reason, err := e.fn(ctx, snap)
	if err != nil {
		return Score{Engine: e.name}, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Score{Engine: e.name}, fmt.Errorf("%s produced non-finite score", e.name)
	}
	return Score{Engine: e.name, Value: riskmath.Clamp01(v), Reason: reason}, nil
}

// Heartbeat scores a perturbed copy of snap once and reports call stats.
func (e *FuncEngine) Heartbeat(ctx context.Context, scenario Scenario, snap market.Snapshot) HeartbeatStats {
	perturbed := scenario.apply(snap)
	start := time.Now()
	s, err := e.Score(ctx, perturbed)
	stats := HeartbeatStats{
		Engine:    e.name,
		Scenario:  scenario.Name,
		Calls:     1,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err == nil && s.Value != 0 {
		stats.NonzeroRatio = 1
	}
	return stats
}
