package scoring

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"riskguard/internal/logger"
	"riskguard/internal/market"
)

// Result pairs a score with the error that degraded it, if any.
type Result struct {
	Score
	Err     error         `json:"-"`
	Latency time.Duration `json:"latency"`
}

func (r Result) Degraded() bool { return r.Err != nil }

// Runner fans a snapshot out to every engine under one timeout policy.
// Failures never abort the fan-out: they come back as zero scores.
type Runner struct {
	engines []Engine
	timeout time.Duration
}

func NewRunner(timeout time.Duration, engines ...Engine) *Runner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	kept := make([]Engine, 0, len(engines))
	for _, e := range engines {
		if e != nil {
			kept = append(kept, e)
		}
	}
	return &Runner{engines: kept, timeout: timeout}
}

func (r *Runner) Engines() []Engine {
	return append([]Engine(nil), r.engines...)
}

// Run returns one Result per engine, in registration order.
func (r *Runner) Run(ctx context.Context, snap market.Snapshot) []Result {
	results := make([]Result, len(r.engines))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, eng := range r.engines {
		i, eng := i, eng
		group.Go(func() error {
			results[i] = r.runOne(groupCtx, eng, snap)
			return nil
		})
	}
	_ = group.Wait()
	for _, res := range results {
		if res.Err != nil {
			logger.Warnf("[scoring] %s %s degraded: %v", snap.Instrument, res.Engine, res.Err)
		}
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, eng Engine, snap market.Snapshot) Result {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()
	ch := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- Result{Score: Score{Engine: eng.Name()}, Err: fmt.Errorf("panic: %v", p)}
			}
		}()
		s, err := eng.Score(runCtx, snap)
		ch <- Result{Score: s, Err: err}
	}()
	var res Result
	select {
	case res = <-ch:
	case <-runCtx.Done():
		res = Result{Err: fmt.Errorf("timeout after %s: %w", r.timeout, runCtx.Err())}
	}
	res.Engine = eng.Name()
	res.Latency = time.Since(start)
	if res.Err != nil {
		res.Value = 0
		res.Reason = "error: " + res.Err.Error()
	}
	return res
}
