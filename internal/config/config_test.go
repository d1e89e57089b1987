package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
monitor:
  instruments: [eurusd, "GBP/USD", EUR_USD]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"EUR_USD", "GBP_USD"}, cfg.Monitor.Instruments)
	assert.Equal(t, time.Minute, cfg.Monitor.Interval())
	assert.Equal(t, 30*time.Second, cfg.Monitor.CycleTimeout())
	assert.Zero(t, cfg.Monitor.CanaryInterval())
	assert.Equal(t, 0.05, cfg.Calibration.Threshold)
	assert.Equal(t, 48, cfg.Calibration.LockHours)
	assert.True(t, cfg.Calibration.Execution.Enabled)
	assert.Equal(t, 0.7, cfg.Sentinel.SwanThreshold)
	assert.Equal(t, -0.2, cfg.Guard.CliffExitBelowR)
	assert.Equal(t, 30.0, cfg.Stress.BaseLeverage)
	assert.Equal(t, "USD", cfg.Risk.AccountCurrency)
	assert.Equal(t, "binance", cfg.Market.Name)
	assert.Equal(t, uint32(5), cfg.Market.Breaker.TripAfter)
	assert.False(t, cfg.LLM.Enabled)
}

func TestLoadKeepsExplicitZeroes(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
monitor:
  instruments: [EUR_USD]
guard:
  max_loss_streak: 0
calibration:
  execution:
    enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Guard.MaxLossStreak)
	assert.False(t, cfg.Calibration.Execution.Enabled)
}

func TestLoadIncludesMergeInOrder(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
monitor:
  instruments: [USD_JPY]
  interval_seconds: 300
engines:
  enabled: [technical, sentiment]
  weights:
    technical: 0.6
    sentiment: 0.4
`)
	path := writeConfig(t, dir, "config.yaml", `
include: [base.yaml]
monitor:
  interval_seconds: 120
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"USD_JPY"}, cfg.Monitor.Instruments)
	assert.Equal(t, 2*time.Minute, cfg.Monitor.Interval())
	assert.Equal(t, []string{"technical", "sentiment"}, cfg.Engines.Enabled)
	assert.InDelta(t, 0.6, cfg.Engines.Weights["technical"], 1e-9)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeConfig(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"no instruments": `monitor: {interval_seconds: 60}`,
		"bad instrument": `monitor: {instruments: [NOPE]}`,
		"unknown engine": "monitor: {instruments: [EUR_USD]}\nengines: {enabled: [astrology]}",
		"bad drawdown":   "monitor: {instruments: [EUR_USD]}\nguard: {max_drawdown: 1.5}",
		"llm no model":   "monitor: {instruments: [EUR_USD]}\nllm: {enabled: true, api_url: http://x}",
		"telegram":       "monitor: {instruments: [EUR_USD]}\nnotify: {telegram: {enabled: true}}",
		"granularity":    "monitor: {instruments: [EUR_USD]}\nmarket: {granularity: fortnight}",
		"offset":         "monitor: {instruments: [EUR_USD], interval_seconds: 60, offset_seconds: 60}",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvPath, "")
	assert.Equal(t, DefaultPath, PathFromEnv())
	t.Setenv(EnvPath, "/etc/riskguard.yaml")
	assert.Equal(t, "/etc/riskguard.yaml", PathFromEnv())
}

func TestShippedConfigIsValid(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Monitor.Instruments, 3)
	assert.Len(t, cfg.Engines.Enabled, 8)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Offset())
}
