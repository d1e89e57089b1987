package sizing

import (
	"sync"

	"github.com/shopspring/decimal"

	"riskguard/internal/market"
	"riskguard/internal/riskmath"
)

type AddState string

const (
	AddInitial AddState = "initial"
	Add1       AddState = "add_1"
	Add2       AddState = "add_2"
	AddMaxed   AddState = "maxed"
)

func (s AddState) next() AddState {
	switch s {
	case AddInitial:
		return Add1
	case Add1:
		return Add2
	default:
		return AddMaxed
	}
}

var (
	addProgressMin = decimal.RequireFromString("0.7")
	addDrawdownMax = decimal.RequireFromString("0.25")
	beShare        = decimal.RequireFromString("0.5")
)

const ReasonAddsDisabled = "add_to_winners_disabled"

type AddCheck struct {
	PositionID string           `json:"position_id"`
	Eligible   bool             `json:"eligible"`
	From       AddState         `json:"from"`
	State      AddState         `json:"state"`
	Progress   decimal.Decimal  `json:"progress"`
	Drawdown   decimal.Decimal  `json:"drawdown"`
	Breakeven  *decimal.Decimal `json:"breakeven_offset,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

func (c AddCheck) Advanced() bool { return c.State != c.From }

type addTrack struct {
	instrument   string
	state        AddState
	lastAdd      decimal.Decimal
	peakProgress decimal.Decimal
}

// AddToWinners tracks the pyramiding state of each open position. Each step
// needs a further 0.7R of progress since the last add and at most 0.25R given
// back from the peak.
type AddToWinners struct {
	mu     sync.Mutex
	tracks map[string]*addTrack
}

func NewAddToWinners() *AddToWinners {
	return &AddToWinners{tracks: make(map[string]*addTrack)}
}

// Check evaluates progress and drawdown, both in R, for one position.
// initialRisk is the stop distance used for the breakeven offset.
func (a *AddToWinners) Check(positionID string, progress, drawdown, initialRisk decimal.Decimal, enabled bool) AddCheck {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.track(positionID)
	out := AddCheck{PositionID: positionID, From: t.state, State: t.state, Progress: progress, Drawdown: drawdown}
	if !enabled {
		out.Reason = ReasonAddsDisabled
		return out
	}
	gained := progress.Sub(t.lastAdd)
	out.Eligible = gained.GreaterThanOrEqual(addProgressMin) && drawdown.LessThanOrEqual(addDrawdownMax)
	if !out.Eligible || t.state == AddMaxed {
		return out
	}
	t.state = t.state.next()
	t.lastAdd = progress
	be := initialRisk.Mul(progress).Mul(beShare)
	out.State = t.state
	out.Breakeven = &be
	return out
}

// Observe derives progress and drawdown from a live position. Drawdown is the
// distance from the best R seen so far.
func (a *AddToWinners) Observe(p market.Position, enabled bool) AddCheck {
	progress := riskmath.Dec(p.RMultiple())
	a.mu.Lock()
	t := a.track(p.ID)
	t.instrument = p.Instrument
	if progress.GreaterThan(t.peakProgress) {
		t.peakProgress = progress
	}
	dd := t.peakProgress.Sub(progress)
	a.mu.Unlock()
	return a.Check(p.ID, progress, dd, p.RiskPerUnit(), enabled)
}

func (a *AddToWinners) track(id string) *addTrack {
	t, ok := a.tracks[id]
	if !ok {
		t = &addTrack{state: AddInitial}
		a.tracks[id] = t
	}
	return t
}

func (a *AddToWinners) State(positionID string) AddState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.tracks[positionID]; ok {
		return t.state
	}
	return AddInitial
}

// Prune drops the tracks of instrument whose positions are no longer open,
// so a reused position id starts again from Initial.
func (a *AddToWinners) Prune(instrument string, open []market.Position) {
	keep := make(map[string]struct{}, len(open))
	for _, p := range open {
		keep[p.ID] = struct{}{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, t := range a.tracks {
		if t.instrument != instrument {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(a.tracks, id)
		}
	}
}
