package scheduler

import (
	"strconv"
	"strings"
	"time"
)

// ParseIntervalDuration accepts exchange style ("15m", "1h", "1d", "1w") and
// granularity style ("M15", "H1", "D", "W") intervals. It returns false on
// anything else.
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.TrimSpace(interval)
	if interval == "" {
		return 0, false
	}
	switch strings.ToUpper(interval) {
	case "D":
		return 24 * time.Hour, true
	case "W":
		return 7 * 24 * time.Hour, true
	}
	if c := interval[0]; c == 'S' || c == 'M' || c == 'H' {
		n, err := strconv.Atoi(interval[1:])
		if err != nil || n <= 0 {
			return 0, false
		}
		switch c {
		case 'S':
			return time.Duration(n) * time.Second, true
		case 'M':
			return time.Duration(n) * time.Minute, true
		default:
			return time.Duration(n) * time.Hour, true
		}
	}
	lower := strings.ToLower(interval)
	unit := lower[len(lower)-1]
	n, err := strconv.Atoi(strings.TrimSpace(lower[:len(lower)-1]))
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// ExchangeInterval converts a granularity such as "M15" to the "15m" form
// kline endpoints expect. Unknown input is returned lower-cased.
func ExchangeInterval(granularity string) string {
	d, ok := ParseIntervalDuration(granularity)
	if !ok {
		return strings.ToLower(strings.TrimSpace(granularity))
	}
	switch {
	case d%(7*24*time.Hour) == 0:
		return strconv.Itoa(int(d/(7*24*time.Hour))) + "w"
	case d%(24*time.Hour) == 0:
		return strconv.Itoa(int(d/(24*time.Hour))) + "d"
	case d%time.Hour == 0:
		return strconv.Itoa(int(d/time.Hour)) + "h"
	case d%time.Minute == 0:
		return strconv.Itoa(int(d/time.Minute)) + "m"
	default:
		return strconv.Itoa(int(d/time.Second)) + "s"
	}
}
