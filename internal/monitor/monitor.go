// Package monitor drives one evaluation loop per instrument.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"riskguard/internal/decision"
	"riskguard/internal/logger"
	"riskguard/internal/market"
	"riskguard/internal/metrics"
	"riskguard/internal/scheduler"
	"riskguard/internal/sentinel"
	"riskguard/internal/supervisor"
)

// Fetcher builds the per-cycle snapshot. market.Builder satisfies it.
type Fetcher interface {
	Build(ctx context.Context, instrument string) (market.Snapshot, error)
}

// Notifier delivers a decision to every recipient and reports per-recipient
// failures.
type Notifier interface {
	Notify(ctx context.Context, rec decision.Record) map[string]error
}

// ErrStaleData marks a cycle skipped because the snapshot is older than
// Config.MaxDataAge.
var ErrStaleData = errors.New("stale market data")

type Config struct {
	Instruments    []string
	Interval       time.Duration
	Offset         time.Duration
	CycleTimeout   time.Duration
	FetchTimeout   time.Duration
	AssessTimeout  time.Duration
	NotifyTimeout  time.Duration
	Backoff        time.Duration
	CanaryInterval time.Duration
	// MaxDataAge skips cycles whose snapshot is older; zero disables it.
	MaxDataAge time.Duration
	// NotifyBlocks also sends blocked entries; acts, overrides and halts are
	// always sent.
	NotifyBlocks bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 30 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.AssessTimeout <= 0 {
		c.AssessTimeout = 20 * time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 10 * time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = 5 * time.Second
	}
	return c
}

type Monitor struct {
	cfg      Config
	sup      *supervisor.Supervisor
	fetch    Fetcher
	assessor sentinel.Assessor
	notify   Notifier
	metrics  *metrics.Recorder
	history  *History

	mu       sync.Mutex
	lastSnap map[string]market.Snapshot
	notifyWG sync.WaitGroup
}

type Params struct {
	Config     Config
	Supervisor *supervisor.Supervisor
	Fetcher    Fetcher
	Assessor   sentinel.Assessor
	Notifier   Notifier
	Metrics    *metrics.Recorder
	History    *History
}

func New(p Params) (*Monitor, error) {
	if p.Supervisor == nil || p.Fetcher == nil {
		return nil, fmt.Errorf("monitor: supervisor and fetcher are required")
	}
	if p.Assessor == nil {
		p.Assessor = sentinel.HeuristicAssessor{}
	}
	if p.History == nil {
		p.History = NewHistory(0)
	}
	return &Monitor{
		cfg:      p.Config.withDefaults(),
		sup:      p.Supervisor,
		fetch:    p.Fetcher,
		assessor: p.Assessor,
		notify:   p.Notifier,
		metrics:  p.Metrics,
		history:  p.History,
		lastSnap: make(map[string]market.Snapshot),
	}, nil
}

func (m *Monitor) History() *History { return m.history }

// Run starts every instrument loop and the canary ticker and blocks until
// ctx is cancelled. Pending notifications are waited for before returning.
func (m *Monitor) Run(ctx context.Context) error {
	if len(m.cfg.Instruments) == 0 {
		return fmt.Errorf("monitor: no instruments configured")
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range m.cfg.Instruments {
		inst := inst
		g.Go(func() error {
			return m.loop(gctx, inst)
		})
	}
	if m.cfg.CanaryInterval > 0 {
		g.Go(func() error { return m.canaryLoop(gctx) })
	}
	err := g.Wait()
	m.notifyWG.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Monitor) loop(ctx context.Context, instrument string) error {
	sched := scheduler.NewAligned(instrument, m.cfg.Interval, m.cfg.Offset)
	sched.RunImmediately = true
	logger.Infof("[monitor] %s loop started, interval %s", instrument, m.cfg.Interval)
	err := sched.Run(ctx, func(ctx context.Context) {
		if _, err := m.Cycle(ctx, instrument); err != nil {
			logger.Warnf("[monitor] %s cycle skipped: %v", instrument, err)
			sleep(ctx, m.cfg.Backoff)
		}
	})
	logger.Infof("[monitor] %s loop stopped", instrument)
	return err
}

// Cycle runs one bounded evaluation for instrument. Faults, including
// panics, are returned as errors and never escape to other instruments.
func (m *Monitor) Cycle(ctx context.Context, instrument string) (rec decision.Record, err error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CycleTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			logger.Errorf("[monitor] %s panic: %v\n%s", instrument, p, debug.Stack())
			m.metrics.SkippedCycle(instrument, "panic")
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	fetchCtx, cancelFetch := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	snap, err := m.fetch.Build(fetchCtx, instrument)
	cancelFetch()
	if err != nil {
		m.metrics.SkippedCycle(instrument, "fetch")
		return decision.Record{}, fmt.Errorf("fetch %s: %w", instrument, err)
	}
	if m.cfg.MaxDataAge > 0 && snap.DataAge > m.cfg.MaxDataAge {
		m.metrics.SkippedCycle(instrument, "stale")
		return decision.Record{}, fmt.Errorf("%s data age %s exceeds %s: %w", instrument, snap.DataAge, m.cfg.MaxDataAge, ErrStaleData)
	}
	m.mu.Lock()
	m.lastSnap[instrument] = snap
	m.mu.Unlock()

	assessCtx, cancelAssess := context.WithTimeout(ctx, m.cfg.AssessTimeout)
	m.sup.AssessSentinel(assessCtx, m.assessor, snap)
	cancelAssess()
	m.sup.Tick(ctx)

	rec, err = m.sup.Evaluate(ctx, snap)
	if err != nil {
		m.metrics.SkippedCycle(instrument, "invalid")
		return decision.Record{}, err
	}
	m.history.Append(rec)
	m.dispatch(ctx, rec)
	return rec, nil
}

// dispatch notifies in the background; the cycle never waits for delivery.
func (m *Monitor) dispatch(ctx context.Context, rec decision.Record) {
	if m.notify == nil {
		return
	}
	if rec.Action == decision.ActionBlock && !m.cfg.NotifyBlocks {
		return
	}
	m.notifyWG.Add(1)
	go func() {
		defer m.notifyWG.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.NotifyTimeout)
		defer cancel()
		for recipient, err := range m.notify.Notify(nctx, rec) {
			m.metrics.Notification(recipient, err == nil)
			if err != nil {
				logger.Warnf("[monitor] notify %s for %s failed: %v", recipient, rec.TraceID, err)
			}
		}
	}()
}

func (m *Monitor) canaryLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CanaryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.RunCanaries(ctx)
		}
	}
}

// RunCanaries heartbeats the engines against the latest snapshot of each
// instrument seen so far.
func (m *Monitor) RunCanaries(ctx context.Context) int {
	m.mu.Lock()
	snaps := make([]market.Snapshot, 0, len(m.lastSnap))
	for _, s := range m.lastSnap {
		snaps = append(snaps, s)
	}
	m.mu.Unlock()
	n := 0
	for _, s := range snaps {
		n += len(m.sup.Canaries(ctx, s.Clone()))
	}
	return n
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
