package config

import (
	"strings"

	"riskguard/internal/pkg/symbol"
)

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppLogFormat     = "text"
	defaultAppHTTPAddr      = ":9991"
	defaultInterval         = 60
	defaultCycleTimeout     = 30
	defaultFetchTimeout     = 10
	defaultAssessTimeout    = 20
	defaultNotifyTimeout    = 10
	defaultBackoff          = 5
	defaultMaxDataAge       = 60
	defaultHistorySize      = 500
	defaultEngineTimeoutMS  = 2000
	defaultRSIPeriod        = 14
	defaultAccountCurrency  = "USD"
	defaultStrategy         = "core"
	defaultMaxRiskFraction  = 0.01
	defaultMaxLeverage      = 30
	defaultStopPips         = 20
	defaultVelocityBypass   = 2.0
	defaultProfilesPath     = "configs/regime_profiles.yaml"
	defaultConfidence       = 0.8
	defaultTransition       = 300
	defaultECEThreshold     = 0.05
	defaultMinSamples       = 20
	defaultOutcomeCap       = 1000
	defaultLockHours        = 48
	defaultRecalWindow      = 100
	defaultBins             = 10
	defaultReplayOutcomes   = 500
	defaultSwanThreshold    = 0.7
	defaultModeMinutes      = 360
	defaultMaxSpreadPips    = 2.0
	defaultMinProbability   = 0.55
	defaultMaxDrawdown      = 0.05
	defaultProfitGiveback   = 0.3
	defaultMaxLossStreak    = 3
	defaultDuplicateWindow  = 15
	defaultCliffThreshold   = 4.0
	defaultCliffExitBelowR  = -0.2
	defaultLLMTimeout       = 15
	defaultLLMMinInterval   = 60
	defaultLLMMaxTokens     = 400
	defaultMarketName       = "binance"
	defaultMarketREST       = "https://fapi.binance.com"
	defaultQuoteAsset       = "USDT"
	defaultMarketTimeout    = 10
	defaultGranularity      = "M15"
	defaultCandleCount      = 120
	defaultATRPeriod        = 14
	defaultSpreadWindow     = 200
	defaultBreakerTimeout   = 5
	defaultBreakerTrip      = 5
	defaultBreakerCooldown  = 30
	defaultFearGreedURL     = "https://api.alternative.me/fng/?limit=1"
	defaultFearGreedRefresh = 60
	defaultStorePath        = "data/riskguard.db"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Monitor.applyDefaults(keys)
	c.Engines.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Regime.applyDefaults(keys)
	c.Calibration.applyDefaults(keys)
	c.Sentinel.applyDefaults(keys)
	c.Guard.applyDefaults(keys)
	c.LLM.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	if c.Stress.BaseLeverage <= 0 {
		c.Stress.BaseLeverage = c.Risk.MaxLeverage
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (m *MonitorConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("monitor.interval_seconds", &m.IntervalSeconds, defaultInterval),
		intFieldDefault("monitor.cycle_timeout_seconds", &m.CycleTimeoutSeconds, defaultCycleTimeout),
		intFieldDefault("monitor.fetch_timeout_seconds", &m.FetchTimeoutSeconds, defaultFetchTimeout),
		intFieldDefault("monitor.assess_timeout_seconds", &m.AssessTimeoutSeconds, defaultAssessTimeout),
		intFieldDefault("monitor.notify_timeout_seconds", &m.NotifyTimeoutSeconds, defaultNotifyTimeout),
		intFieldDefault("monitor.backoff_seconds", &m.BackoffSeconds, defaultBackoff),
		intFieldDefault("monitor.max_data_age_seconds", &m.MaxDataAgeSeconds, defaultMaxDataAge),
		intFieldDefault("monitor.history_size", &m.HistorySize, defaultHistorySize),
	)
	m.Instruments = normalizeList(m.Instruments, normalizeInstrument)
}

func (e *EnginesConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("engines.timeout_ms", &e.TimeoutMS, defaultEngineTimeoutMS),
		intFieldDefault("engines.rsi_period", &e.RSIPeriod, defaultRSIPeriod),
	)
	e.Enabled = normalizeList(e.Enabled, strings.ToLower)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("risk.account_currency", &r.AccountCurrency, defaultAccountCurrency),
		stringFieldDefault("risk.default_strategy", &r.DefaultStrategy, defaultStrategy),
		floatFieldDefault("risk.max_risk_fraction", &r.MaxRiskFraction, defaultMaxRiskFraction),
		floatFieldDefault("risk.max_leverage", &r.MaxLeverage, defaultMaxLeverage),
		floatFieldDefault("risk.default_stop_pips", &r.DefaultStopPips, defaultStopPips),
		floatFieldDefault("risk.velocity_bypass", &r.VelocityBypass, defaultVelocityBypass),
	)
	r.AccountCurrency = strings.ToUpper(strings.TrimSpace(r.AccountCurrency))
}

func (r *RegimeConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("regime.profiles_path", &r.ProfilesPath, defaultProfilesPath),
		floatFieldDefault("regime.confidence_threshold", &r.ConfidenceThreshold, defaultConfidence),
		intFieldDefault("regime.transition_seconds", &r.TransitionSeconds, defaultTransition),
	)
}

func (c *CalibrationConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("calibration.threshold", &c.Threshold, defaultECEThreshold),
		intFieldDefault("calibration.min_samples", &c.MinSamples, defaultMinSamples),
		intFieldDefault("calibration.history_cap", &c.HistoryCap, defaultOutcomeCap),
		intFieldDefault("calibration.lock_hours", &c.LockHours, defaultLockHours),
		intFieldDefault("calibration.recalibrate_window", &c.RecalibrateWindow, defaultRecalWindow),
		intFieldDefault("calibration.bins", &c.Bins, defaultBins),
		intFieldDefault("calibration.replay_outcomes", &c.ReplayOutcomes, defaultReplayOutcomes),
		boolFieldDefault("calibration.execution.enabled", &c.Execution.Enabled, true),
	)
}

func (s *SentinelConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("sentinel.swan_threshold", &s.SwanThreshold, defaultSwanThreshold),
		intFieldDefault("sentinel.mode_minutes", &s.ModeMinutes, defaultModeMinutes),
	)
}

func (g *GuardConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("guard.max_spread_pips", &g.MaxSpreadPips, defaultMaxSpreadPips),
		floatFieldDefault("guard.min_probability", &g.MinProbability, defaultMinProbability),
		floatFieldDefault("guard.max_drawdown", &g.MaxDrawdown, defaultMaxDrawdown),
		floatFieldDefault("guard.profit_giveback", &g.ProfitGiveback, defaultProfitGiveback),
		intFieldDefault("guard.max_loss_streak", &g.MaxLossStreak, defaultMaxLossStreak),
		floatFieldDefault("guard.max_leverage", &g.MaxLeverage, defaultMaxLeverage),
		intFieldDefault("guard.duplicate_window_minutes", &g.DuplicateWindowMinutes, defaultDuplicateWindow),
		floatFieldDefault("guard.cliff_threshold", &g.CliffThreshold, defaultCliffThreshold),
		fieldDefault{
			key:   "guard.cliff_exit_below_r",
			need:  func() bool { return g.CliffExitBelowR == 0 },
			apply: func() { g.CliffExitBelowR = defaultCliffExitBelowR },
		},
	)
}

func (l *LLMConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("llm.provider", &l.Provider, "openai"),
		intFieldDefault("llm.timeout_seconds", &l.TimeoutSeconds, defaultLLMTimeout),
		intFieldDefault("llm.min_interval_seconds", &l.MinIntervalSeconds, defaultLLMMinInterval),
		intFieldDefault("llm.max_tokens", &l.MaxTokens, defaultLLMMaxTokens),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	m.Proxy.normalize()
	applyFieldDefaults(keys,
		stringFieldDefault("market.name", &m.Name, defaultMarketName),
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		stringFieldDefault("market.quote_asset", &m.QuoteAsset, defaultQuoteAsset),
		intFieldDefault("market.http_timeout_seconds", &m.HTTPTimeoutSeconds, defaultMarketTimeout),
		stringFieldDefault("market.granularity", &m.Granularity, defaultGranularity),
		intFieldDefault("market.candle_count", &m.CandleCount, defaultCandleCount),
		intFieldDefault("market.atr_period", &m.ATRPeriod, defaultATRPeriod),
		intFieldDefault("market.spread_window", &m.SpreadWindow, defaultSpreadWindow),
		intFieldDefault("market.breaker.call_timeout_seconds", &m.Breaker.CallTimeoutSeconds, defaultBreakerTimeout),
		intFieldDefault("market.breaker.cooldown_seconds", &m.Breaker.CooldownSeconds, defaultBreakerCooldown),
		stringFieldDefault("market.fear_greed.url", &m.FearGreed.URL, defaultFearGreedURL),
		intFieldDefault("market.fear_greed.refresh_minutes", &m.FearGreed.RefreshMinutes, defaultFearGreedRefresh),
		fieldDefault{
			key:   "market.breaker.trip_after",
			need:  func() bool { return m.Breaker.TripAfter == 0 },
			apply: func() { m.Breaker.TripAfter = defaultBreakerTrip },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys, stringFieldDefault("store.path", &s.Path, defaultStorePath))
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

// boolFieldDefault only applies when the key is absent from the file.
func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}

func normalizeList(items []string, norm func(string) string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		it = norm(strings.TrimSpace(it))
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

// normalizeInstrument keeps unparseable names as typed so validation can
// report them.
func normalizeInstrument(s string) string {
	if norm := symbol.Normalize(s); norm != "" {
		return norm
	}
	return strings.ToUpper(s)
}
