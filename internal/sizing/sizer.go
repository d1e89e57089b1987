package sizing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"riskguard/internal/riskmath"
	"riskguard/internal/stress"
)

var (
	ErrInvalidBalance   = errors.New("balance must be positive")
	ErrInvalidPrice     = errors.New("entry price must be positive")
	ErrZeroStopDistance = errors.New("stop distance is zero")
)

var (
	KellyCap        = decimal.RequireFromString("0.25")
	defaultRiskFrac = decimal.RequireFromString("0.02")
)

type Config struct {
	// fraction of capital risked per trade
	MaxRiskFraction float64
	MaxLeverage     float64
	// size risk off the house-money trade bank instead of the full balance
	HouseMoney bool
}

// Request is one sizing question. Kelly and GSSI are optional.
type Request struct {
	Instrument      string
	AccountCurrency string
	Balance         decimal.Decimal
	Entry           decimal.Decimal
	Stop            decimal.Decimal
	Kelly           *decimal.Decimal
	GSSI            *float64
	DayProfitPct    decimal.Decimal
}

type Breakdown struct {
	StopPips        decimal.Decimal  `json:"stop_pips"`
	PipValuePerUnit decimal.Decimal  `json:"pip_value_per_unit"`
	RiskCapital     decimal.Decimal  `json:"risk_capital"`
	RiskAmount      decimal.Decimal  `json:"risk_amount"`
	RiskUnits       decimal.Decimal  `json:"risk_units"`
	NotionalUnits   decimal.Decimal  `json:"notional_units"`
	Kelly           *decimal.Decimal `json:"kelly,omitempty"`
	GSSIMultiplier  decimal.Decimal  `json:"gssi_multiplier"`
	LeverageCeiling decimal.Decimal  `json:"leverage_ceiling"`
	Binding         string           `json:"binding"`
}

type Result struct {
	Units     decimal.Decimal `json:"units"`
	Leverage  decimal.Decimal `json:"leverage"`
	Breakdown Breakdown       `json:"breakdown"`
}

// Sizer turns a stop distance and account state into a floored unit count.
type Sizer struct {
	riskFrac   decimal.Decimal
	maxLev     decimal.Decimal
	houseMoney bool
}

func NewSizer(cfg Config) *Sizer {
	s := &Sizer{riskFrac: defaultRiskFrac, maxLev: decimal.NewFromInt(riskmath.MaxLeverage), houseMoney: cfg.HouseMoney}
	if cfg.MaxRiskFraction > 0 && cfg.MaxRiskFraction < 1 {
		s.riskFrac = riskmath.Dec(cfg.MaxRiskFraction)
	}
	if cfg.MaxLeverage > 0 {
		s.maxLev = riskmath.CapLeverage(riskmath.Dec(cfg.MaxLeverage))
	}
	return s
}

func (s *Sizer) Size(req Request) (Result, error) {
	if !req.Balance.IsPositive() {
		return Result{}, ErrInvalidBalance
	}
	if !req.Entry.IsPositive() {
		return Result{}, ErrInvalidPrice
	}
	stopPips := riskmath.PipsBetween(req.Instrument, req.Entry, req.Stop)
	if stopPips.IsZero() {
		return Result{}, ErrZeroStopDistance
	}
	ccy := req.AccountCurrency
	if ccy == "" {
		ccy = "USD"
	}
	pipValue, err := riskmath.PipValuePerUnit(req.Instrument, req.Entry, ccy)
	if err != nil {
		return Result{}, fmt.Errorf("size %s: %w", req.Instrument, err)
	}

	capital := req.Balance
	if s.houseMoney {
		capital = TradeBank(req.Balance, req.DayProfitPct)
	}
	b := Breakdown{
		StopPips:        stopPips,
		PipValuePerUnit: pipValue,
		RiskCapital:     capital,
		RiskAmount:      capital.Mul(s.riskFrac),
		GSSIMultiplier:  riskmath.One(),
	}
	b.RiskUnits = b.RiskAmount.DivRound(stopPips.Mul(pipValue), 8)

	if req.Kelly != nil {
		k := riskmath.ClampDec(*req.Kelly, decimal.Zero, KellyCap)
		b.Kelly = &k
		b.RiskUnits = b.RiskUnits.Mul(k)
	}
	if req.GSSI != nil {
		b.GSSIMultiplier = stress.SizingMultiplier(riskmath.Clamp01(*req.GSSI))
		b.RiskUnits = b.RiskUnits.Mul(b.GSSIMultiplier)
	}

	// the stress multiplier also lowers the leverage ceiling
	b.LeverageCeiling = s.maxLev.Mul(b.GSSIMultiplier)
	b.NotionalUnits = req.Balance.Mul(b.LeverageCeiling).DivRound(req.Entry, 8)

	units := b.RiskUnits
	b.Binding = "risk"
	if b.NotionalUnits.LessThan(units) {
		units = b.NotionalUnits
		b.Binding = "notional"
	}
	units = riskmath.FloorUnits(units)
	lev, err := riskmath.Leverage(units, req.Entry, req.Balance)
	if err != nil {
		return Result{}, err
	}
	return Result{Units: units, Leverage: lev, Breakdown: b}, nil
}
