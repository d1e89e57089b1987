package sentinel

import (
	"context"
	"sync"
	"time"
)

type Mode string

const (
	StandDown Mode = "stand_down"
	Protect   Mode = "protect"
	Pounce    Mode = "pounce"
)

const (
	DefaultSwanThreshold = 0.70
	DefaultModeDuration  = 6 * time.Hour
)

// ParseMode maps an assessor recommendation onto an active mode. Only the
// exact string "pounce" selects Pounce; everything else becomes Protect.
func ParseMode(s string) Mode {
	if Mode(s) == Pounce {
		return Pounce
	}
	return Protect
}

// Assessment is the bounded result of an external black swan assessment.
type Assessment struct {
	SwanScore       float64  `json:"swan_score"`
	RecommendedMode string   `json:"recommended_mode"`
	RiskFactors     []string `json:"risk_factors"`
	Confidence      float64  `json:"confidence"`
	Fallback        bool     `json:"fallback,omitempty"`
}

type Transition struct {
	From      Mode
	To        Mode
	At        time.Time
	SwanScore float64
	Reason    string
}

type Status struct {
	Mode          Mode          `json:"mode"`
	Active        bool          `json:"active"`
	Since         time.Time     `json:"since,omitempty"`
	Remaining     time.Duration `json:"remaining"`
	LastSwanScore float64       `json:"last_swan_score"`
	RiskFactors   []string      `json:"risk_factors,omitempty"`
	Params        TradingParams `json:"params"`
}

type Config struct {
	SwanThreshold float64
	ModeDuration  time.Duration
	Constraints   Constraints
}

func (c Config) withDefaults() Config {
	if c.SwanThreshold <= 0 || c.SwanThreshold > 1 {
		c.SwanThreshold = DefaultSwanThreshold
	}
	if c.ModeDuration <= 0 {
		c.ModeDuration = DefaultModeDuration
	}
	c.Constraints = c.Constraints.withDefaults()
	return c
}

// Engine owns the sentinel mode. Callers drive it only through Apply, Assess,
// Tick and Reset.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	now       func() time.Time
	mode      Mode
	since     time.Time
	lastScore float64
	factors   []string
}

func NewEngine(cfg Config, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{cfg: cfg.withDefaults(), now: now, mode: StandDown}
}

// Assess asks the assessor for a fresh reading and applies it.
func (e *Engine) Assess(ctx context.Context, a Assessor, in Input) (Assessment, *Transition) {
	res := a.Assess(ctx, in)
	return res, e.Apply(res)
}

// Apply feeds one assessment into the state machine. A score at or above the
// threshold (re)starts the mode timer; otherwise an expired mode decays back to
// StandDown.
func (e *Engine) Apply(a Assessment) *Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	e.lastScore = a.SwanScore
	if a.SwanScore >= e.cfg.SwanThreshold {
		next := ParseMode(a.RecommendedMode)
		prev := e.mode
		e.mode = next
		e.since = now
		e.factors = append([]string(nil), a.RiskFactors...)
		if prev == next {
			return nil
		}
		return &Transition{From: prev, To: next, At: now, SwanScore: a.SwanScore, Reason: "swan_score_threshold"}
	}
	return e.decayLocked(now)
}

// Tick expires an active mode without a new assessment.
func (e *Engine) Tick() *Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decayLocked(e.now())
}

func (e *Engine) decayLocked(now time.Time) *Transition {
	if e.mode == StandDown || now.Sub(e.since) <= e.cfg.ModeDuration {
		return nil
	}
	prev := e.mode
	e.mode = StandDown
	e.since = now
	e.factors = nil
	return &Transition{From: prev, To: StandDown, At: now, SwanScore: e.lastScore, Reason: "mode_duration_elapsed"}
}

func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// ShouldOverrideRouter reports whether the normal decision path must be
// bypassed.
func (e *Engine) ShouldOverrideRouter() bool {
	return e.Mode() != StandDown
}

func (e *Engine) Params() TradingParams {
	return e.cfg.Constraints.For(e.Mode())
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Mode:          e.mode,
		Active:        e.mode != StandDown,
		LastSwanScore: e.lastScore,
		RiskFactors:   append([]string(nil), e.factors...),
		Params:        e.cfg.Constraints.For(e.mode),
	}
	if st.Active {
		st.Since = e.since
		if left := e.cfg.ModeDuration - e.now().Sub(e.since); left > 0 {
			st.Remaining = left
		}
	}
	return st
}

// Reset forces StandDown. It returns nil when already standing down.
func (e *Engine) Reset() *Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == StandDown {
		return nil
	}
	now := e.now()
	prev := e.mode
	e.mode = StandDown
	e.since = now
	e.factors = nil
	return &Transition{From: prev, To: StandDown, At: now, SwanScore: e.lastScore, Reason: "manual_reset"}
}
