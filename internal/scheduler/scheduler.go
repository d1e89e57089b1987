// Package scheduler paces the monitoring loops on candle boundaries.
package scheduler

import (
	"context"
	"time"

	"riskguard/internal/logger"
)

// Aligned runs a task at every Interval boundary plus Offset, so cycles
// line up with candle closes instead of drifting from process start.
type Aligned struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool
	Now            func() time.Time
}

func NewAligned(name string, interval, offset time.Duration) *Aligned {
	return &Aligned{Name: name, Interval: interval, Offset: offset, Now: time.Now}
}

// Run blocks until ctx is done. A task that overruns its slot delays the
// next run to the following boundary; runs never overlap.
func (s *Aligned) Run(ctx context.Context, task func(context.Context)) error {
	if task == nil {
		return nil
	}
	if s.Interval <= 0 {
		logger.Warnf("[scheduler] %s: invalid interval %s, not started", s.Name, s.Interval)
		return nil
	}
	if s.Offset < 0 || s.Offset >= s.Interval {
		s.Offset = 0
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	logger.Debugf("[scheduler] %s: interval=%s offset=%s immediate=%v", s.Name, s.Interval, s.Offset, s.RunImmediately)
	if s.RunImmediately {
		task(ctx)
	}
	for {
		wait := s.NextWait(s.Now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		task(ctx)
	}
}

// NextWait is the delay from now to the next boundary plus offset.
func (s *Aligned) NextWait(now time.Time) time.Duration {
	now = now.UTC()
	wakeAt := now.Truncate(s.Interval).Add(s.Offset)
	if !wakeAt.After(now) {
		wakeAt = wakeAt.Add(s.Interval)
	}
	return wakeAt.Sub(now)
}
