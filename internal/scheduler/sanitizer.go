package scheduler

import (
	"time"

	"riskguard/internal/market"
)

const DefaultKlineGrace = 10 * time.Second

// DropUnclosed removes the trailing candle while it is still forming.
// Candle open times are epoch milliseconds.
func DropUnclosed(klines []market.Candle, interval time.Duration, now time.Time) []market.Candle {
	if len(klines) == 0 || interval <= 0 {
		return klines
	}
	last := klines[len(klines)-1]
	if last.OpenTime <= 0 {
		return klines
	}
	cutoff := last.OpenTime + interval.Milliseconds() + DefaultKlineGrace.Milliseconds()
	if now.UnixMilli() < cutoff {
		return klines[:len(klines)-1]
	}
	return klines
}
