// Package app wires configuration into the running guardrail service:
// monitoring loop, admin API and audit persistence.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"riskguard/internal/config"
	"riskguard/internal/logger"
	"riskguard/internal/monitor"
	"riskguard/internal/store"
	"riskguard/internal/supervisor"
	adminhttp "riskguard/internal/transport/http/admin"
)

type App struct {
	cfg        *config.Config
	monitor    *monitor.Monitor
	supervisor *supervisor.Supervisor
	admin      *adminhttp.Server
	audit      store.AuditStore
	Summary    *StartupSummary
}

// NewApp builds the application without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts the monitor and the admin server and blocks until ctx is
// cancelled or either of them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.monitor == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.admin != nil {
		group.Go(func() error {
			if err := a.admin.Start(ctx); err != nil {
				return fmt.Errorf("admin http server: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.monitor.Run(ctx)
	})
	return group.Wait()
}

// Supervisor exposes the decision core for harnesses.
func (a *App) Supervisor() *supervisor.Supervisor {
	if a == nil {
		return nil
	}
	return a.supervisor
}

func (a *App) Close() {
	if a == nil || a.audit == nil {
		return
	}
	closeStore(a.audit)
	a.audit = nil
}
