package calibration

import (
	"fmt"
	"sync"
	"time"

	"riskguard/internal/pkg/ringbuf"
)

type ExecutionConfig struct {
	MaxSlippagePips float64
	MinFillRate     float64
	MaxDelay        time.Duration
	MinSuccessRate  float64
	Lookback        time.Duration
	MinSamples      int
	HistoryCap      int
	PrimaryRoute    string
	BackupRoutes    []string
}

func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		MaxSlippagePips: 2,
		MinFillRate:     0.95,
		MaxDelay:        5 * time.Second,
		MinSuccessRate:  0.9,
		Lookback:        30 * time.Minute,
		MinSamples:      5,
		HistoryCap:      500,
		PrimaryRoute:    "primary",
		BackupRoutes:    []string{"backup_broker", "internal_crossing"},
	}
}

type Execution struct {
	At           time.Time     `json:"at"`
	Route        string        `json:"route"`
	Instrument   string        `json:"instrument"`
	SlippagePips float64       `json:"slippage_pips"`
	FillRate     float64       `json:"fill_rate"`
	Delay        time.Duration `json:"delay"`
	Success      bool          `json:"success"`
}

type Quality struct {
	Samples         int      `json:"sample_count"`
	Insufficient    bool     `json:"insufficient_data"`
	AvgSlippagePips float64  `json:"avg_slippage_pips"`
	AvgFillRate     float64  `json:"avg_fill_rate"`
	AvgDelaySeconds float64  `json:"avg_delay_seconds"`
	SuccessRate     float64  `json:"success_rate"`
	Issues          []string `json:"quality_issues,omitempty"`
	DiversionNeeded bool     `json:"diversion_needed"`

	// Triggered is true only on the assessment that switched routes.
	Triggered bool   `json:"route_diversion_triggered"`
	Active    bool   `json:"route_diversion_active"`
	Route     string `json:"current_route"`
}

// ExecutionMonitor tracks fill quality and diverts to a backup route when
// two or more quality checks fail at once. Diversion latches until Reset.
type ExecutionMonitor struct {
	mu      sync.Mutex
	cfg     ExecutionConfig
	history *ringbuf.Ring[Execution]
	active  bool
	now     func() time.Time
}

func NewExecutionMonitor(cfg ExecutionConfig, now func() time.Time) *ExecutionMonitor {
	d := DefaultExecutionConfig()
	if cfg.MaxSlippagePips <= 0 {
		cfg.MaxSlippagePips = d.MaxSlippagePips
	}
	if cfg.MinFillRate <= 0 {
		cfg.MinFillRate = d.MinFillRate
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = d.MaxDelay
	}
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = d.MinSuccessRate
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = d.Lookback
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = d.MinSamples
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = d.HistoryCap
	}
	if cfg.PrimaryRoute == "" {
		cfg.PrimaryRoute = d.PrimaryRoute
	}
	if len(cfg.BackupRoutes) == 0 {
		cfg.BackupRoutes = d.BackupRoutes
	}
	if now == nil {
		now = time.Now
	}
	return &ExecutionMonitor{cfg: cfg, history: ringbuf.New[Execution](cfg.HistoryCap), now: now}
}

func (m *ExecutionMonitor) Record(e Execution) {
	if e.At.IsZero() {
		e.At = m.now()
	}
	if e.Route == "" {
		e.Route = m.cfg.PrimaryRoute
	}
	m.mu.Lock()
	m.history.Push(e)
	m.mu.Unlock()
}

// Assess evaluates the lookback window and latches diversion when needed.
func (m *ExecutionMonitor) Assess() Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.cfg.Lookback)
	var recent []Execution
	for _, e := range m.history.Items() {
		if !e.At.Before(cutoff) {
			recent = append(recent, e)
		}
	}
	q := Quality{Samples: len(recent), Active: m.active, Route: m.route()}
	if len(recent) < m.cfg.MinSamples {
		q.Insufficient = true
		return q
	}
	var slip, fill, delay, ok float64
	for _, e := range recent {
		slip += e.SlippagePips
		fill += e.FillRate
		delay += e.Delay.Seconds()
		if e.Success {
			ok++
		}
	}
	n := float64(len(recent))
	q.AvgSlippagePips = slip / n
	q.AvgFillRate = fill / n
	q.AvgDelaySeconds = delay / n
	q.SuccessRate = ok / n

	if q.AvgSlippagePips > m.cfg.MaxSlippagePips {
		q.Issues = append(q.Issues, fmt.Sprintf("high_slippage_%.2f_pips", q.AvgSlippagePips))
	}
	if q.AvgFillRate < m.cfg.MinFillRate {
		q.Issues = append(q.Issues, fmt.Sprintf("low_fill_rate_%.2f%%", q.AvgFillRate*100))
	}
	if q.AvgDelaySeconds > m.cfg.MaxDelay.Seconds() {
		q.Issues = append(q.Issues, fmt.Sprintf("high_delay_%.1fs", q.AvgDelaySeconds))
	}
	if q.SuccessRate < m.cfg.MinSuccessRate {
		q.Issues = append(q.Issues, fmt.Sprintf("low_success_rate_%.2f%%", q.SuccessRate*100))
	}
	q.DiversionNeeded = len(q.Issues) >= 2
	if q.DiversionNeeded && !m.active {
		m.active = true
		q.Triggered = true
	}
	q.Active = m.active
	q.Route = m.route()
	return q
}

func (m *ExecutionMonitor) route() string {
	if m.active {
		return m.cfg.BackupRoutes[0]
	}
	return m.cfg.PrimaryRoute
}

func (m *ExecutionMonitor) Route() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.route()
}

func (m *ExecutionMonitor) Diverted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// State reports RouteDiversion while diverted and Normal otherwise.
func (m *ExecutionMonitor) State() State {
	if m.Diverted() {
		return StateRouteDiversion
	}
	return StateNormal
}

func (m *ExecutionMonitor) Reset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.active
	m.active = false
	return was
}
