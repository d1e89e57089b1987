package sizing

import "github.com/shopspring/decimal"

var (
	hmBaseShare   = decimal.RequireFromString("0.7")
	hmProfitShare = decimal.RequireFromString("0.3")
	hmLowPct      = decimal.RequireFromString("0.02")
	hmHighPct     = decimal.RequireFromString("0.035")
	hmRampPct     = decimal.RequireFromString("0.015")
)

// TradeBank is the capital put at risk given today's profit. Below 2% only the
// base share is used, below 3.5% only the profit share, and past that the base
// is re-added linearly up to the full NAV.
func TradeBank(nav, dayProfitPct decimal.Decimal) decimal.Decimal {
	base := nav.Mul(hmBaseShare)
	profit := nav.Mul(hmProfitShare)
	switch {
	case dayProfitPct.LessThan(hmLowPct):
		return base
	case dayProfitPct.LessThan(hmHighPct):
		return profit
	}
	alloc := profit.Add(base.Mul(dayProfitPct.Sub(hmHighPct)).Div(hmRampPct))
	if alloc.GreaterThan(nav) {
		return nav
	}
	return alloc
}
