package app

import (
	"fmt"
	"sort"
	"strings"

	"riskguard/internal/config"
	cfgloader "riskguard/internal/config/loader"
	"riskguard/internal/logger"
	"riskguard/internal/scoring"
	"riskguard/internal/sentinel"
)

type StartupSummary struct {
	Instruments []string
	Interval    string
	Engines     []string
	Weights     map[string]float64
	Profiles    int
	Fallback    bool
	Assessor    string
	Notify      []string
	Store       string
	HTTPAddr    string
}

func newStartupSummary(cfg *config.Config, engines []scoring.Engine, profiles cfgloader.ProfileSnapshot, assessor sentinel.Assessor) *StartupSummary {
	s := &StartupSummary{
		Instruments: cfg.Monitor.Instruments,
		Interval:    cfg.Monitor.Interval().String(),
		Weights:     cfg.Engines.Weights,
		Profiles:    len(profiles.Profiles),
		Fallback:    profiles.Fallback,
		Assessor:    fmt.Sprintf("%T", assessor),
		HTTPAddr:    cfg.App.HTTPAddr,
		Store:       "-",
	}
	for _, e := range engines {
		s.Engines = append(s.Engines, e.Name())
	}
	if cfg.Notify.Telegram.Enabled {
		s.Notify = append(s.Notify, "telegram")
	}
	if cfg.Store.Enabled {
		s.Store = cfg.Store.Path
	}
	return s
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 60) + "\n")
	b.WriteString("riskguard startup\n")
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "instruments : %s (every %s)\n", formatList(s.Instruments), s.Interval)
	fmt.Fprintf(&b, "engines     : %s\n", formatList(s.Engines))
	fmt.Fprintf(&b, "weights     : %s\n", formatWeights(s.Weights))
	profiles := fmt.Sprintf("%d regimes", s.Profiles)
	if s.Fallback {
		profiles += " (built-in defaults)"
	}
	fmt.Fprintf(&b, "profiles    : %s\n", profiles)
	fmt.Fprintf(&b, "assessor    : %s\n", s.Assessor)
	fmt.Fprintf(&b, "notify      : %s\n", formatList(s.Notify))
	fmt.Fprintf(&b, "audit store : %s\n", s.Store)
	fmt.Fprintf(&b, "admin api   : %s\n", s.HTTPAddr)
	return b.String()
}

func (s *StartupSummary) Print() {
	logger.InfoBlock(s.String())
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func formatWeights(w map[string]float64) string {
	if len(w) == 0 {
		return "uniform"
	}
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.2f", k, w[k]))
	}
	return strings.Join(parts, " ")
}
