package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Opportunity cache hygiene. Entries older than the horizon are evicted so
// the API and the gating logic never see quotes from a dead book.
const (
	cachePurgeInterval      = time.Second
	staleOpportunityHorizon = 10 * time.Second
)

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("mode", a.cfg.ExecutionMode),
		zap.Strings("platforms", a.cfg.EnabledPlatforms),
		zap.String("log-level", a.cfg.LogLevel))

	err := a.startComponents()
	if err != nil {
		return err
	}

	// Mark as ready
	a.healthChecker.SetReady(true)

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort),
		zap.Duration("detection-interval", a.cfg.DetectionInterval),
		zap.Duration("market-refresh-interval", a.cfg.MarketRefreshInterval))

	return a.waitForShutdown()
}

func (a *App) startComponents() error {
	a.wg.Add(1)
	go a.runHTTPServer()

	// Give HTTP server a moment to start
	time.Sleep(100 * time.Millisecond)

	err := a.clients.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start venue clients: %w", err)
	}
	for _, venue := range a.clients.Venues() {
		a.healthChecker.SetComponent(string(venue)+"-feed", true)
	}

	err = a.riskManager.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start risk manager: %w", err)
	}
	a.healthChecker.SetComponent("risk-manager", true)

	err = a.monitor.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start position monitor: %w", err)
	}
	a.healthChecker.SetComponent("position-monitor", true)

	err = a.engine.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start arbitrage engine: %w", err)
	}
	a.healthChecker.SetComponent("arbitrage-engine", true)

	// Prime the universe so the first sweeps have something to evaluate.
	// A failed initial listing is not fatal; the refresh loop retries.
	err = a.refreshMarkets(a.ctx)
	if err != nil {
		a.logger.Warn("initial-market-refresh-failed", zap.Error(err))
	}

	a.wg.Add(1)
	go a.runMarketRefresh()

	a.wg.Add(1)
	go a.runCachePurge()

	return nil
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) runMarketRefresh() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.MarketRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			err := a.refreshMarkets(a.ctx)
			if err != nil {
				a.logger.Error("market-refresh-failed", zap.Error(err))
			}
		}
	}
}

func (a *App) runCachePurge() {
	defer a.wg.Done()

	ticker := time.NewTicker(cachePurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.engine.PurgeStale(staleOpportunityHorizon)
		}
	}
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
