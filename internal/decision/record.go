package decision

import (
	"maps"
	"slices"
	"time"

	"riskguard/internal/guard"
	"riskguard/internal/sizing"
)

type Action string

const (
	ActionAct      Action = "act"
	ActionBlock    Action = "block"
	ActionOverride Action = "override"
	ActionHalt     Action = "halt"
)

// Reason codes shared by the supervisor and its consumers.
const (
	ReasonSentinelOverride = "black_swan_protection"
	ReasonCalibrationLock  = "calibration_weight_lock"
	ReasonDrawdownHalt     = guard.ReasonDrawdownHalt
	ReasonSizing           = "sizing_failed"
	ReasonZeroUnits        = "zero_units"
	ReasonGate             = "gate_blocked"
	ReasonApproved         = "all_gates_passed"
)

type Reason struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

type EngineEntry struct {
	Name         string  `json:"name"`
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Reason       string  `json:"reason"`
	Degraded     bool    `json:"degraded,omitempty"`
	LatencyMS    int64   `json:"latency_ms"`
}

type RegimeInfo struct {
	Regime     string  `json:"regime"`
	Candidate  string  `json:"candidate"`
	Confidence float64 `json:"confidence"`
	Changed    bool    `json:"changed,omitempty"`
}

type StressInfo struct {
	GSSI            float64 `json:"gssi"`
	CAR             float64 `json:"car"`
	ScoreMultiplier float64 `json:"score_multiplier"`
	Leverage        string  `json:"leverage"`
}

type SentinelInfo struct {
	Mode     string `json:"mode"`
	Override bool   `json:"override"`
}

type CalibrationInfo struct {
	State    string  `json:"state"`
	ECE      float64 `json:"ece"`
	Route    string  `json:"route,omitempty"`
	Blocking bool    `json:"blocking,omitempty"`
}

// Record is the complete output of one evaluation cycle.
type Record struct {
	TraceID    string    `json:"trace_id"`
	Instrument string    `json:"instrument"`
	At         time.Time `json:"at"`
	Action     Action    `json:"action"`
	Reasons    []Reason  `json:"reasons"`

	RawScore    float64 `json:"raw_score"`
	FinalScore  float64 `json:"final_score"`
	Probability float64 `json:"probability"`

	Engines []EngineEntry      `json:"engines,omitempty"`
	Weights map[string]float64 `json:"weights,omitempty"`
	Gates   map[string]bool    `json:"gates,omitempty"`

	Regime      RegimeInfo      `json:"regime"`
	Stress      *StressInfo     `json:"stress,omitempty"`
	Sentinel    SentinelInfo    `json:"sentinel"`
	Calibration CalibrationInfo `json:"calibration"`

	Order        *guard.Order      `json:"order,omitempty"`
	Sizing       *sizing.Result    `json:"sizing,omitempty"`
	Emergency    []guard.Action    `json:"emergency,omitempty"`
	AddToWinners []sizing.AddCheck `json:"add_to_winners,omitempty"`

	DataAgeMS  int64 `json:"data_age_ms"`
	DurationMS int64 `json:"duration_ms"`
}

// Terminal reports whether the action ends the cycle without an entry.
func (r Record) Terminal() bool { return r.Action != ActionAct }

func (r Record) EngineScores() map[string]float64 {
	out := make(map[string]float64, len(r.Engines))
	for _, e := range r.Engines {
		out[e.Name] = e.Score
	}
	return out
}

// PrimaryReason is the first recorded reason code.
func (r Record) PrimaryReason() string {
	if len(r.Reasons) == 0 {
		return ""
	}
	return r.Reasons[0].Code
}

// Clone deep-copies the mutable members so a record can be shared.
func (r Record) Clone() Record {
	out := r
	out.Reasons = slices.Clone(r.Reasons)
	out.Engines = slices.Clone(r.Engines)
	out.Weights = maps.Clone(r.Weights)
	out.Gates = maps.Clone(r.Gates)
	out.Emergency = slices.Clone(r.Emergency)
	out.AddToWinners = slices.Clone(r.AddToWinners)
	if r.Stress != nil {
		s := *r.Stress
		out.Stress = &s
	}
	if r.Order != nil {
		o := *r.Order
		out.Order = &o
	}
	if r.Sizing != nil {
		s := *r.Sizing
		out.Sizing = &s
	}
	return out
}

// FailedGates lists the failed gate names in sorted order.
func (r Record) FailedGates() []string {
	var out []string
	for name, ok := range r.Gates {
		if !ok {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
