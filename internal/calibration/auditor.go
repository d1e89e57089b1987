package calibration

import (
	"fmt"
	"math"
	"sync"
	"time"

	"riskguard/internal/pkg/ringbuf"
)

type State string

const (
	StateNormal         State = "normal"
	StateWeightLock     State = "weight_lock"
	StateRecalibration  State = "recalibration"
	StateRouteDiversion State = "route_diversion"
)

type Config struct {
	Threshold         float64
	MinSamples        int
	HistoryCap        int
	LockDuration      time.Duration
	RecalibrateWindow int
	Bins              int
}

func DefaultConfig() Config {
	return Config{
		Threshold:         0.05,
		MinSamples:        20,
		HistoryCap:        1000,
		LockDuration:      48 * time.Hour,
		RecalibrateWindow: 100,
		Bins:              DefaultBins,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = d.HistoryCap
	}
	if c.LockDuration <= 0 {
		c.LockDuration = d.LockDuration
	}
	if c.RecalibrateWindow <= 0 {
		c.RecalibrateWindow = d.RecalibrateWindow
	}
	if c.Bins <= 0 {
		c.Bins = d.Bins
	}
	return c
}

type Sample struct {
	Predicted float64           `json:"predicted"`
	Outcome   float64           `json:"outcome"`
	At        time.Time         `json:"at"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Transition records one state change of the auditor.
type Transition struct {
	From     State     `json:"from"`
	To       State     `json:"to"`
	At       time.Time `json:"at"`
	Reason   string    `json:"reason"`
	ECE      float64   `json:"ece"`
	ECEAfter float64   `json:"ece_after,omitempty"`
}

type Status struct {
	State         State         `json:"state"`
	ECE           float64       `json:"ece"`
	Samples       int           `json:"samples"`
	Insufficient  bool          `json:"insufficient_data"`
	Bins          []Bin         `json:"bins,omitempty"`
	LockStart     time.Time     `json:"lock_start,omitempty"`
	LockRemaining time.Duration `json:"lock_remaining,omitempty"`
	Calibrated    bool          `json:"calibrated"`
}

// Auditor owns the Normal → WeightLock → Recalibration → Normal machine.
// AddOutcome feeds it, Check advances it, Reset is the only other way out.
type Auditor struct {
	mu         sync.Mutex
	cfg        Config
	state      State
	lockStart  time.Time
	history    *ringbuf.Ring[Sample]
	ece        float64
	bins       []Bin
	calibrator *Isotonic
	now        func() time.Time
}

func NewAuditor(cfg Config, now func() time.Time) *Auditor {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	return &Auditor{
		cfg:     cfg,
		state:   StateNormal,
		history: ringbuf.New[Sample](cfg.HistoryCap),
		now:     now,
	}
}

// AddOutcome records a resolved prediction. Probabilities outside [0,1] or
// non-finite are rejected.
func (a *Auditor) AddOutcome(predicted float64, won bool, meta map[string]string) error {
	if math.IsNaN(predicted) || math.IsInf(predicted, 0) || predicted < 0 || predicted > 1 {
		return fmt.Errorf("predicted probability %v outside [0,1]", predicted)
	}
	outcome := 0.0
	if won {
		outcome = 1
	}
	a.mu.Lock()
	a.history.Push(Sample{Predicted: predicted, Outcome: outcome, At: a.now(), Meta: meta})
	a.mu.Unlock()
	return nil
}

// Check advances the state machine by at most one step and returns the
// transition taken, if any.
func (a *Auditor) Check() (Status, *Transition) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var tr *Transition
	switch a.state {
	case StateNormal:
		tr = a.audit()
	case StateWeightLock:
		if a.now().Sub(a.lockStart) >= a.cfg.LockDuration {
			tr = a.move(StateRecalibration, "weight lock elapsed")
		}
	case StateRecalibration:
		tr = a.recalibrate()
	}
	return a.status(), tr
}

func (a *Auditor) audit() *Transition {
	samples := a.history.Items()
	if len(samples) < a.cfg.MinSamples {
		return nil
	}
	preds, outs := split(samples)
	a.ece, a.bins = ECE(preds, outs, a.cfg.Bins)
	if a.ece <= a.cfg.Threshold {
		return nil
	}
	a.lockStart = a.now()
	return a.move(StateWeightLock, fmt.Sprintf("ece %.4f exceeds %.4f", a.ece, a.cfg.Threshold))
}

func (a *Auditor) recalibrate() *Transition {
	window := a.history.Last(a.cfg.RecalibrateWindow)
	if len(window) < a.cfg.RecalibrateWindow {
		return nil
	}
	preds, outs := split(window)
	iso, err := FitIsotonic(preds, outs)
	if err != nil {
		return nil
	}
	before, _ := ECE(preds, outs, a.cfg.Bins)
	after, _ := ECE(iso.PredictAll(preds), outs, a.cfg.Bins)
	a.calibrator = iso
	a.ece = after
	a.bins = nil
	a.lockStart = time.Time{}
	// later samples are recorded against calibrated probabilities
	a.history.Clear()
	tr := a.move(StateNormal, fmt.Sprintf("isotonic recalibration over %d samples", len(window)))
	tr.ECE = before
	tr.ECEAfter = after
	return tr
}

func (a *Auditor) move(to State, reason string) *Transition {
	tr := &Transition{From: a.state, To: to, At: a.now(), Reason: reason, ECE: a.ece}
	a.state = to
	return tr
}

func (a *Auditor) status() Status {
	st := Status{
		State:      a.state,
		ECE:        a.ece,
		Samples:    a.history.Len(),
		Bins:       append([]Bin(nil), a.bins...),
		Calibrated: a.calibrator != nil,
	}
	st.Insufficient = st.Samples < a.cfg.MinSamples
	if a.state == StateWeightLock {
		st.LockStart = a.lockStart
		if rem := a.cfg.LockDuration - a.now().Sub(a.lockStart); rem > 0 {
			st.LockRemaining = rem
		}
	}
	return st
}

func (a *Auditor) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status()
}

// Blocking reports whether new entries are frozen.
func (a *Auditor) Blocking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == StateWeightLock || a.state == StateRecalibration
}

// Calibrate maps a raw probability through the fitted calibrator, or returns
// it unchanged before the first recalibration.
func (a *Auditor) Calibrate(p float64) float64 {
	a.mu.Lock()
	iso := a.calibrator
	a.mu.Unlock()
	if iso == nil {
		return p
	}
	return iso.Predict(p)
}

// Reset clears the lock and the sample history and returns to Normal. A
// fitted calibrator is kept.
func (a *Auditor) Reset() *Transition {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateNormal {
		return nil
	}
	a.lockStart = time.Time{}
	a.history.Clear()
	return a.move(StateNormal, "manual reset")
}

func split(samples []Sample) (preds, outs []float64) {
	preds = make([]float64, len(samples))
	outs = make([]float64, len(samples))
	for i, s := range samples {
		preds[i] = s.Predicted
		outs[i] = s.Outcome
	}
	return preds, outs
}
