package config

import (
	"fmt"
	"strings"

	"riskguard/internal/pkg/symbol"
	"riskguard/internal/scheduler"
	"riskguard/internal/scoring"
)

func validate(c *Config) error {
	checks := []func() error{
		c.Monitor.validate,
		c.Engines.validate,
		c.Risk.validate,
		c.Regime.validate,
		c.Calibration.validate,
		c.Sentinel.validate,
		c.Guard.validate,
		c.LLM.validate,
		c.Market.validate,
		c.Notify.validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (m MonitorConfig) validate() error {
	if len(m.Instruments) == 0 {
		return fmt.Errorf("monitor.instruments requires at least one instrument")
	}
	for _, inst := range m.Instruments {
		if !symbol.IsValid(inst) {
			return fmt.Errorf("monitor.instruments: %q is not a currency pair", inst)
		}
	}
	if m.OffsetSeconds < 0 || m.OffsetSeconds >= m.IntervalSeconds {
		return fmt.Errorf("monitor.offset_seconds must be in [0, interval_seconds)")
	}
	if m.CanaryIntervalSeconds < 0 {
		return fmt.Errorf("monitor.canary_interval_seconds must be >= 0")
	}
	return nil
}

func (e EnginesConfig) validate() error {
	known := make(map[string]bool)
	for _, name := range scoring.Known() {
		known[name] = true
	}
	for _, name := range e.Enabled {
		if !known[name] {
			return fmt.Errorf("engines.enabled: unknown engine %q (known: %s)", name, strings.Join(scoring.Known(), ", "))
		}
	}
	for name, w := range e.Weights {
		if w < 0 {
			return fmt.Errorf("engines.weights.%s must be >= 0", name)
		}
	}
	return nil
}

func (r RiskConfig) validate() error {
	if r.MaxRiskFraction <= 0 || r.MaxRiskFraction >= 1 {
		return fmt.Errorf("risk.max_risk_fraction must be in (0,1)")
	}
	if len(r.AccountCurrency) != 3 {
		return fmt.Errorf("risk.account_currency must be a 3-letter code")
	}
	return nil
}

func (r RegimeConfig) validate() error {
	if r.ConfidenceThreshold <= 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("regime.confidence_threshold must be in (0,1]")
	}
	return nil
}

func (c CalibrationConfig) validate() error {
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("calibration.threshold must be in (0,1)")
	}
	if c.MinSamples > c.HistoryCap {
		return fmt.Errorf("calibration.min_samples must not exceed history_cap")
	}
	ex := c.Execution
	if ex.MinFillRate < 0 || ex.MinFillRate > 1 || ex.MinSuccessRate < 0 || ex.MinSuccessRate > 1 {
		return fmt.Errorf("calibration.execution rates must be in [0,1]")
	}
	return nil
}

func (s SentinelConfig) validate() error {
	if s.SwanThreshold <= 0 || s.SwanThreshold > 1 {
		return fmt.Errorf("sentinel.swan_threshold must be in (0,1]")
	}
	if s.PounceTPCeiling > 0 && s.DefaultTPMultiple > s.PounceTPCeiling {
		return fmt.Errorf("sentinel.default_tp_multiple exceeds pounce_tp_ceiling")
	}
	return nil
}

func (g GuardConfig) validate() error {
	if g.MinProbability < 0 || g.MinProbability > 1 {
		return fmt.Errorf("guard.min_probability must be in [0,1]")
	}
	if g.MaxDrawdown <= 0 || g.MaxDrawdown >= 1 {
		return fmt.Errorf("guard.max_drawdown must be in (0,1)")
	}
	if g.ProfitGiveback < 0 || g.ProfitGiveback > 1 {
		return fmt.Errorf("guard.profit_giveback must be in [0,1]")
	}
	for _, sess := range g.AllowedSessions {
		switch strings.ToLower(sess) {
		case "asia", "london", "new_york":
		default:
			return fmt.Errorf("guard.allowed_sessions: unknown session %q", sess)
		}
	}
	if g.CliffThreshold <= 1 {
		return fmt.Errorf("guard.cliff_threshold must be > 1")
	}
	return nil
}

func (l LLMConfig) validate() error {
	if !l.Enabled {
		return nil
	}
	if strings.TrimSpace(l.APIURL) == "" || strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.api_url and llm.model are required when llm.enabled")
	}
	return nil
}

func (m MarketConfig) validate() error {
	if !strings.EqualFold(m.Name, defaultMarketName) {
		return fmt.Errorf("market.name %q is not supported (only %s)", m.Name, defaultMarketName)
	}
	if _, ok := scheduler.ParseIntervalDuration(m.Granularity); !ok {
		return fmt.Errorf("market.granularity %q is not a known interval", m.Granularity)
	}
	if m.CandleCount <= m.ATRPeriod {
		return fmt.Errorf("market.candle_count must exceed atr_period")
	}
	return nil
}

func (n NotifyConfig) validate() error {
	t := n.Telegram
	if t.Enabled && (strings.TrimSpace(t.BotToken) == "" || strings.TrimSpace(t.ChatID) == "") {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
