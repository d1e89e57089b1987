package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"riskguard/internal/calibration"
	"riskguard/internal/config"
	cfgloader "riskguard/internal/config/loader"
	"riskguard/internal/gateway/binance"
	"riskguard/internal/gateway/notifier"
	"riskguard/internal/gateway/provider"
	"riskguard/internal/guard"
	"riskguard/internal/logger"
	"riskguard/internal/market"
	"riskguard/internal/metrics"
	"riskguard/internal/monitor"
	"riskguard/internal/regime"
	"riskguard/internal/scoring"
	"riskguard/internal/sentinel"
	"riskguard/internal/sizing"
	"riskguard/internal/store"
	"riskguard/internal/store/auditstore"
	"riskguard/internal/stress"
	"riskguard/internal/supervisor"
	"riskguard/internal/trace"
	adminhttp "riskguard/internal/transport/http/admin"
)

const eventBufferSize = 2000

// AppBuilder assembles the component graph from configuration. The
// function fields are seams for tests.
type AppBuilder struct {
	cfg *config.Config
	now func() time.Time

	sourceFn   func(config.MarketConfig) (market.Source, error)
	assessorFn func(config.LLMConfig) (sentinel.Assessor, error)
	notifierFn func(config.NotifyConfig) monitor.Notifier
	storeFn    func(config.StoreConfig) (store.AuditStore, error)
}

type AppBuilderOption func(*AppBuilder)

// WithMarketSource replaces the exchange-backed market source.
func WithMarketSource(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourceFn = func(config.MarketConfig) (market.Source, error) { return src, nil }
	}
}

func WithNotifier(n monitor.Notifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(config.NotifyConfig) monitor.Notifier { return n }
	}
}

func WithClock(now func() time.Time) AppBuilderOption {
	return func(b *AppBuilder) { b.now = now }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		now:        time.Now,
		sourceFn:   buildMarketSource,
		assessorFn: buildAssessor,
		notifierFn: buildNotifier,
		storeFn:    openAuditStore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	rec := metrics.New()

	audit, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	events := trace.NewRecorder(eventBufferSize)
	sinks := trace.MultiSink{trace.LogSink{}, events}
	if audit != nil {
		sinks = append(sinks, audit)
	}
	emitter := trace.NewEmitter(sinks)
	emitter.Now = b.now

	profiles := cfgloader.NewProfileStore(cfg.Regime.ProfilesPath, cfg.Regime.Watch)
	profiles.Subscribe(func(s cfgloader.ProfileSnapshot) {
		logger.Infof("[regime] profiles v%d loaded (%d regimes, fallback=%v)", s.Version, len(s.Profiles), s.Fallback)
	})

	engines, err := buildEngines(cfg.Engines)
	if err != nil {
		closeStore(audit)
		return nil, err
	}
	auditor := calibration.NewAuditor(calibrationConfig(cfg.Calibration), b.now)
	if err := replayOutcomes(ctx, audit, auditor, cfg.Calibration.ReplayOutcomes); err != nil {
		logger.Warnf("[app] outcome replay failed, starting with empty calibration history: %v", err)
	}
	var execution *calibration.ExecutionMonitor
	if cfg.Calibration.Execution.Enabled {
		execution = calibration.NewExecutionMonitor(executionConfig(cfg.Calibration.Execution), b.now)
	}

	sup, err := supervisor.New(supervisorConfig(cfg), supervisor.Deps{
		Runner: scoring.NewRunner(cfg.Engines.Timeout(), engines...),
		Classifier: regime.NewClassifier(profiles, regime.Options{
			Threshold:  cfg.Regime.ConfidenceThreshold,
			Transition: time.Duration(cfg.Regime.TransitionSeconds) * time.Second,
			Now:        b.now,
		}),
		Stress:      stress.NewEngine(decimal.NewFromFloat(cfg.Stress.BaseLeverage)),
		Sentinel:    sentinel.NewEngine(sentinelConfig(cfg.Sentinel), b.now),
		Calibration: auditor,
		Execution:   execution,
		Guard:       guard.NewEvaluator(guardConfig(cfg.Guard), b.now),
		Sizer: sizing.NewSizer(sizing.Config{
			MaxRiskFraction: cfg.Risk.MaxRiskFraction,
			MaxLeverage:     cfg.Risk.MaxLeverage,
			HouseMoney:      cfg.Risk.HouseMoney,
		}),
		Emitter: emitter,
		Metrics: rec,
		Now:     b.now,
	})
	if err != nil {
		closeStore(audit)
		return nil, err
	}

	src, err := b.sourceFn(cfg.Market)
	if err != nil {
		closeStore(audit)
		return nil, fmt.Errorf("market source: %w", err)
	}
	fetcher := buildSnapshotBuilder(cfg.Market, src, b.now)

	assessor, err := b.assessorFn(cfg.LLM)
	if err != nil {
		closeStore(audit)
		return nil, fmt.Errorf("sentinel assessor: %w", err)
	}

	history := monitor.NewHistory(cfg.Monitor.HistorySize)
	mon, err := monitor.New(monitor.Params{
		Config:     monitorConfig(cfg.Monitor),
		Supervisor: sup,
		Fetcher:    fetcher,
		Assessor:   assessor,
		Notifier:   b.notifierFn(cfg.Notify),
		Metrics:    rec,
		History:    history,
	})
	if err != nil {
		closeStore(audit)
		return nil, err
	}

	admin, err := adminhttp.NewServer(adminhttp.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Router:  adminhttp.NewRouter(sup, history, events, audit).WithProfiles(profiles),
		Metrics: rec.Handler(),
	})
	if err != nil {
		closeStore(audit)
		return nil, err
	}

	return &App{
		cfg:        cfg,
		monitor:    mon,
		supervisor: sup,
		admin:      admin,
		audit:      audit,
		Summary:    newStartupSummary(cfg, engines, profiles.Snapshot(), assessor),
	}, nil
}

func buildEngines(cfg config.EnginesConfig) ([]scoring.Engine, error) {
	names := cfg.Enabled
	if len(names) == 0 {
		names = scoring.Known()
	}
	return scoring.Build(names, scoring.Options{RSIPeriod: cfg.RSIPeriod})
}

func buildMarketSource(cfg config.MarketConfig) (market.Source, error) {
	src, err := binance.New(binance.Config{
		RESTBaseURL:  cfg.RESTBaseURL,
		HTTPTimeout:  time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		APIKey:       cfg.APIKey,
		SecretKey:    cfg.SecretKey,
		QuoteAsset:   cfg.QuoteAsset,
		ProxyEnabled: cfg.Proxy.Enabled,
		RESTProxyURL: cfg.Proxy.RESTURL,
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

func buildSnapshotBuilder(cfg config.MarketConfig, src market.Source, now func() time.Time) *market.Builder {
	guarded := market.NewGuardedSource(src, market.GuardConfig{
		Name:      cfg.Name,
		Timeout:   time.Duration(cfg.Breaker.CallTimeoutSeconds) * time.Second,
		TripAfter: cfg.Breaker.TripAfter,
		Cooldown:  time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
	})
	opts := []market.BuilderOption{market.WithClock(now)}
	if _, ok := src.(market.AccountSource); ok {
		opts = append(opts, market.WithAccountSource(guarded))
	}
	if _, ok := src.(market.AggregateSource); ok {
		opts = append(opts, market.WithAggregateSource(guarded))
	}
	if cfg.FearGreed.Enabled {
		opts = append(opts, market.WithEnricher(
			market.NewFearGreedEnricher(cfg.FearGreed.URL, time.Duration(cfg.FearGreed.RefreshMinutes)*time.Minute)))
	}
	return market.NewBuilder(guarded, market.NewSpreadTracker(cfg.SpreadWindow), market.BuilderConfig{
		Granularity: cfg.Granularity,
		CandleCount: cfg.CandleCount,
		ATRPeriod:   cfg.ATRPeriod,
	}, opts...)
}

func buildAssessor(cfg config.LLMConfig) (sentinel.Assessor, error) {
	if !cfg.Enabled {
		return sentinel.HeuristicAssessor{}, nil
	}
	providers := provider.BuildProvidersFromConfig([]provider.ModelCfg{{
		ID:       cfg.Provider + ":" + cfg.Model,
		Provider: cfg.Provider,
		APIURL:   cfg.APIURL,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Enabled:  true,
		Headers:  cfg.Headers,
	}}, time.Duration(cfg.TimeoutSeconds)*time.Second)
	if len(providers) == 0 {
		return nil, fmt.Errorf("no llm provider could be built")
	}
	return sentinel.NewLLMAssessor(providers[0], sentinel.LLMConfig{
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		MinInterval: time.Duration(cfg.MinIntervalSeconds) * time.Second,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
}

func buildNotifier(cfg config.NotifyConfig) monitor.Notifier {
	d := notifier.NewDispatcher()
	if cfg.Telegram.Enabled {
		d.Add("telegram", notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	if len(d.Recipients()) == 0 {
		return nil
	}
	return d
}

func openAuditStore(cfg config.StoreConfig) (store.AuditStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	s, err := auditstore.Open(cfg.Path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func closeStore(s store.AuditStore) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		logger.Warnf("[app] close audit store: %v", err)
	}
}

// replayOutcomes seeds the calibration history from persisted outcomes so a
// restart does not reset the reliability estimate.
func replayOutcomes(ctx context.Context, audit store.AuditStore, auditor *calibration.Auditor, limit int) error {
	if audit == nil || limit <= 0 {
		return nil
	}
	outcomes, err := audit.Outcomes(ctx, limit)
	if err != nil {
		return err
	}
	for _, o := range outcomes {
		if err := auditor.AddOutcome(o.Predicted, o.Won, o.Meta); err != nil {
			logger.Warnf("[app] skip stored outcome %s: %v", o.TraceID, err)
		}
	}
	if len(outcomes) > 0 {
		logger.Infof("[app] replayed %d prediction outcomes into calibration", len(outcomes))
	}
	return nil
}

func supervisorConfig(cfg *config.Config) supervisor.Config {
	return supervisor.Config{
		BaseWeights:     cfg.Engines.Weights,
		AccountCurrency: cfg.Risk.AccountCurrency,
		DefaultStrategy: cfg.Risk.DefaultStrategy,
		DefaultStopPips: cfg.Risk.DefaultStopPips,
		VelocityBypass:  cfg.Risk.VelocityBypass,
		MaxDataAge:      cfg.Monitor.MaxDataAge(),
	}
}

func calibrationConfig(c config.CalibrationConfig) calibration.Config {
	return calibration.Config{
		Threshold:         c.Threshold,
		MinSamples:        c.MinSamples,
		HistoryCap:        c.HistoryCap,
		LockDuration:      time.Duration(c.LockHours) * time.Hour,
		RecalibrateWindow: c.RecalibrateWindow,
		Bins:              c.Bins,
	}
}

func executionConfig(c config.ExecutionConfig) calibration.ExecutionConfig {
	d := calibration.DefaultExecutionConfig()
	if c.MaxSlippagePips > 0 {
		d.MaxSlippagePips = c.MaxSlippagePips
	}
	if c.MinFillRate > 0 {
		d.MinFillRate = c.MinFillRate
	}
	if c.MaxDelaySeconds > 0 {
		d.MaxDelay = time.Duration(c.MaxDelaySeconds * float64(time.Second))
	}
	if c.MinSuccessRate > 0 {
		d.MinSuccessRate = c.MinSuccessRate
	}
	if c.LookbackMinutes > 0 {
		d.Lookback = time.Duration(c.LookbackMinutes) * time.Minute
	}
	if c.MinSamples > 0 {
		d.MinSamples = c.MinSamples
	}
	if c.PrimaryRoute != "" {
		d.PrimaryRoute = c.PrimaryRoute
	}
	if len(c.BackupRoutes) > 0 {
		d.BackupRoutes = c.BackupRoutes
	}
	return d
}

func sentinelConfig(c config.SentinelConfig) sentinel.Config {
	return sentinel.Config{
		SwanThreshold: c.SwanThreshold,
		ModeDuration:  time.Duration(c.ModeMinutes) * time.Minute,
		Constraints: sentinel.Constraints{
			ProtectMaxSpreadPips: c.ProtectMaxSpreadPips,
			ProtectBlocked:       c.ProtectBlocked,
			PounceStopOnly:       c.PounceStopOnly,
			PounceTPBoost:        c.PounceTPBoost,
			PounceTPCeiling:      c.PounceTPCeiling,
			DefaultTPMultiple:    c.DefaultTPMultiple,
		},
	}
}

func guardConfig(c config.GuardConfig) guard.Config {
	return guard.Config{
		MaxSpreadPips:   c.MaxSpreadPips,
		AllowedSessions: c.AllowedSessions,
		MinProbability:  c.MinProbability,
		MaxDrawdown:     c.MaxDrawdown,
		ProfitGiveback:  c.ProfitGiveback,
		MaxLossStreak:   c.MaxLossStreak,
		EquityFloor:     c.EquityFloor,
		MaxLeverage:     c.MaxLeverage,
		DuplicateWindow: time.Duration(c.DuplicateWindowMinutes) * time.Minute,
		Cliff: guard.CliffConfig{
			Threshold:  c.CliffThreshold,
			ExitBelowR: c.CliffExitBelowR,
		},
	}
}

func monitorConfig(c config.MonitorConfig) monitor.Config {
	return monitor.Config{
		Instruments:    c.Instruments,
		Interval:       c.Interval(),
		Offset:         c.Offset(),
		CycleTimeout:   c.CycleTimeout(),
		FetchTimeout:   c.FetchTimeout(),
		AssessTimeout:  c.AssessTimeout(),
		NotifyTimeout:  c.NotifyTimeout(),
		Backoff:        c.Backoff(),
		CanaryInterval: c.CanaryInterval(),
		MaxDataAge:     c.MaxDataAge(),
		NotifyBlocks:   c.NotifyBlocks,
	}
}
