package market

// OrderFlow summarises cumulative volume delta (taker buys minus taker
// sells) over a candle window.
type OrderFlow struct {
	Delta float64
	// Momentum is the delta change over the last five bars.
	Momentum float64
	// Normalized places the latest cumulative delta within the window's
	// range, 0 at the low and 1 at the high.
	Normalized float64
	// Divergence is "bearish" when price rose while delta fell over the last
	// five bars, "bullish" for the reverse, else "neutral".
	Divergence string
}

// ComputeOrderFlow returns false when the candles carry no taker volume.
func ComputeOrderFlow(candles []Candle) (OrderFlow, bool) {
	if len(candles) == 0 {
		return OrderFlow{}, false
	}
	cum := make([]float64, len(candles))
	total, taker := 0.0, 0.0
	for i, c := range candles {
		buy := c.TakerBuy
		total += buy - (c.Volume - buy)
		taker += buy
		cum[i] = total
	}
	if taker == 0 {
		return OrderFlow{}, false
	}
	last := len(cum) - 1
	lo, hi := cum[0], cum[0]
	for _, v := range cum[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	of := OrderFlow{Delta: cum[last], Normalized: 0.5, Divergence: "neutral"}
	if hi > lo {
		of.Normalized = (cum[last] - lo) / (hi - lo)
	}
	if last >= 5 {
		prev := last - 5
		of.Momentum = cum[last] - cum[prev]
		priceUp := candles[last].Close > candles[prev].Close
		priceDown := candles[last].Close < candles[prev].Close
		switch {
		case priceUp && of.Momentum < 0:
			of.Divergence = "bearish"
		case priceDown && of.Momentum > 0:
			of.Divergence = "bullish"
		}
	}
	return of, true
}
