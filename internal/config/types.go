package config

import (
	"strings"
	"time"
)

// Config is the root of the riskguard configuration file.
type Config struct {
	App         AppConfig         `toml:"app"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Engines     EnginesConfig     `toml:"engines"`
	Risk        RiskConfig        `toml:"risk"`
	Regime      RegimeConfig      `toml:"regime"`
	Stress      StressConfig      `toml:"stress"`
	Calibration CalibrationConfig `toml:"calibration"`
	Sentinel    SentinelConfig    `toml:"sentinel"`
	Guard       GuardConfig       `toml:"guard"`
	LLM         LLMConfig         `toml:"llm"`
	Market      MarketConfig      `toml:"market"`
	Notify      NotifyConfig      `toml:"notify"`
	Store       StoreConfig       `toml:"store"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	LLMLog    string `toml:"llm_log_path"`
	HTTPAddr  string `toml:"http_addr"`
}

type MonitorConfig struct {
	Instruments           []string `toml:"instruments"`
	IntervalSeconds       int      `toml:"interval_seconds"`
	OffsetSeconds         int      `toml:"offset_seconds"`
	CycleTimeoutSeconds   int      `toml:"cycle_timeout_seconds"`
	FetchTimeoutSeconds   int      `toml:"fetch_timeout_seconds"`
	AssessTimeoutSeconds  int      `toml:"assess_timeout_seconds"`
	NotifyTimeoutSeconds  int      `toml:"notify_timeout_seconds"`
	BackoffSeconds        int      `toml:"backoff_seconds"`
	CanaryIntervalSeconds int      `toml:"canary_interval_seconds"`
	MaxDataAgeSeconds     int      `toml:"max_data_age_seconds"`
	NotifyBlocks          bool     `toml:"notify_blocks"`
	HistorySize           int      `toml:"history_size"`
}

type EnginesConfig struct {
	Enabled   []string           `toml:"enabled"`
	Weights   map[string]float64 `toml:"weights"`
	TimeoutMS int                `toml:"timeout_ms"`
	RSIPeriod int                `toml:"rsi_period"`
}

type RiskConfig struct {
	AccountCurrency string  `toml:"account_currency"`
	DefaultStrategy string  `toml:"default_strategy"`
	MaxRiskFraction float64 `toml:"max_risk_fraction"`
	MaxLeverage     float64 `toml:"max_leverage"`
	HouseMoney      bool    `toml:"house_money"`
	DefaultStopPips float64 `toml:"default_stop_pips"`
	VelocityBypass  float64 `toml:"velocity_bypass"`
}

type RegimeConfig struct {
	ProfilesPath        string  `toml:"profiles_path"`
	Watch               bool    `toml:"watch"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	TransitionSeconds   int     `toml:"transition_seconds"`
}

type StressConfig struct {
	BaseLeverage float64 `toml:"base_leverage"`
}

type CalibrationConfig struct {
	Threshold         float64         `toml:"threshold"`
	MinSamples        int             `toml:"min_samples"`
	HistoryCap        int             `toml:"history_cap"`
	LockHours         int             `toml:"lock_hours"`
	RecalibrateWindow int             `toml:"recalibrate_window"`
	Bins              int             `toml:"bins"`
	ReplayOutcomes    int             `toml:"replay_outcomes"`
	Execution         ExecutionConfig `toml:"execution"`
}

type ExecutionConfig struct {
	Enabled         bool     `toml:"enabled"`
	MaxSlippagePips float64  `toml:"max_slippage_pips"`
	MinFillRate     float64  `toml:"min_fill_rate"`
	MaxDelaySeconds float64  `toml:"max_delay_seconds"`
	MinSuccessRate  float64  `toml:"min_success_rate"`
	LookbackMinutes int      `toml:"lookback_minutes"`
	MinSamples      int      `toml:"min_samples"`
	PrimaryRoute    string   `toml:"primary_route"`
	BackupRoutes    []string `toml:"backup_routes"`
}

type SentinelConfig struct {
	SwanThreshold        float64  `toml:"swan_threshold"`
	ModeMinutes          int      `toml:"mode_minutes"`
	ProtectMaxSpreadPips float64  `toml:"protect_max_spread_pips"`
	ProtectBlocked       []string `toml:"protect_blocked"`
	PounceStopOnly       []string `toml:"pounce_stop_only"`
	PounceTPBoost        float64  `toml:"pounce_tp_boost"`
	PounceTPCeiling      float64  `toml:"pounce_tp_ceiling"`
	DefaultTPMultiple    float64  `toml:"default_tp_multiple"`
}

type GuardConfig struct {
	MaxSpreadPips          float64  `toml:"max_spread_pips"`
	AllowedSessions        []string `toml:"allowed_sessions"`
	MinProbability         float64  `toml:"min_probability"`
	MaxDrawdown            float64  `toml:"max_drawdown"`
	ProfitGiveback         float64  `toml:"profit_giveback"`
	MaxLossStreak          int      `toml:"max_loss_streak"`
	EquityFloor            float64  `toml:"equity_floor"`
	MaxLeverage            float64  `toml:"max_leverage"`
	DuplicateWindowMinutes int      `toml:"duplicate_window_minutes"`
	CliffThreshold         float64  `toml:"cliff_threshold"`
	CliffExitBelowR        float64  `toml:"cliff_exit_below_r"`
}

// LLMConfig configures the optional black-swan assessor. When disabled the
// heuristic assessor is used.
type LLMConfig struct {
	Enabled            bool              `toml:"enabled"`
	Provider           string            `toml:"provider"`
	APIURL             string            `toml:"api_url"`
	APIKey             string            `toml:"api_key"`
	Model              string            `toml:"model"`
	Headers            map[string]string `toml:"headers"`
	TimeoutSeconds     int               `toml:"timeout_seconds"`
	MinIntervalSeconds int               `toml:"min_interval_seconds"`
	Temperature        float64           `toml:"temperature"`
	MaxTokens          int               `toml:"max_tokens"`
	DumpPayload        bool              `toml:"dump_payload"`
}

type MarketConfig struct {
	Name               string          `toml:"name"`
	RESTBaseURL        string          `toml:"rest_base_url"`
	APIKey             string          `toml:"api_key"`
	SecretKey          string          `toml:"secret_key"`
	QuoteAsset         string          `toml:"quote_asset"`
	HTTPTimeoutSeconds int             `toml:"http_timeout_seconds"`
	Proxy              ProxyConfig     `toml:"proxy"`
	Granularity        string          `toml:"granularity"`
	CandleCount        int             `toml:"candle_count"`
	ATRPeriod          int             `toml:"atr_period"`
	SpreadWindow       int             `toml:"spread_window"`
	Breaker            BreakerConfig   `toml:"breaker"`
	FearGreed          FearGreedConfig `toml:"fear_greed"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	p.RESTURL = strings.TrimSpace(p.RESTURL)
	if p.RESTURL == "" {
		p.Enabled = false
	}
}

type BreakerConfig struct {
	CallTimeoutSeconds int    `toml:"call_timeout_seconds"`
	TripAfter          uint32 `toml:"trip_after"`
	CooldownSeconds    int    `toml:"cooldown_seconds"`
}

type FearGreedConfig struct {
	Enabled        bool   `toml:"enabled"`
	URL            string `toml:"url"`
	RefreshMinutes int    `toml:"refresh_minutes"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type StoreConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (m MonitorConfig) Interval() time.Duration      { return seconds(m.IntervalSeconds) }
func (m MonitorConfig) Offset() time.Duration        { return seconds(m.OffsetSeconds) }
func (m MonitorConfig) CycleTimeout() time.Duration  { return seconds(m.CycleTimeoutSeconds) }
func (m MonitorConfig) FetchTimeout() time.Duration  { return seconds(m.FetchTimeoutSeconds) }
func (m MonitorConfig) AssessTimeout() time.Duration { return seconds(m.AssessTimeoutSeconds) }
func (m MonitorConfig) NotifyTimeout() time.Duration { return seconds(m.NotifyTimeoutSeconds) }
func (m MonitorConfig) Backoff() time.Duration       { return seconds(m.BackoffSeconds) }
func (m MonitorConfig) MaxDataAge() time.Duration    { return seconds(m.MaxDataAgeSeconds) }

// CanaryInterval is zero when canaries are disabled.
func (m MonitorConfig) CanaryInterval() time.Duration { return seconds(m.CanaryIntervalSeconds) }

func (e EnginesConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMS) * time.Millisecond
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
