package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Shutdown gracefully shuts down the application. Components close in
// reverse dependency order: stop trading first, then the market-data
// plumbing underneath it, then the sinks everything reports into.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Cancel context to signal all components
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	err = a.engine.Close()
	if err != nil {
		a.logger.Error("engine-close-error", zap.Error(err))
	}

	err = a.monitor.Close()
	if err != nil {
		a.logger.Error("position-monitor-close-error", zap.Error(err))
	}

	err = a.riskManager.Close()
	if err != nil {
		a.logger.Error("risk-manager-close-error", zap.Error(err))
	}

	// Venue clients close their update channels; the book manager's
	// ingestion goroutines drain and exit on channel close.
	err = a.clients.Close()
	if err != nil {
		a.logger.Error("venue-clients-close-error", zap.Error(err))
	}

	err = a.books.Close()
	if err != nil {
		a.logger.Error("book-manager-close-error", zap.Error(err))
	}

	// All publishers are stopped; subscribers see their channels close.
	a.hub.Close()

	err = a.sink.Close()
	if err != nil {
		a.logger.Error("storage-close-error", zap.Error(err))
	}

	a.marketCache.Close()

	// Wait for all goroutines
	a.wg.Wait()

	a.logger.Info("application-shutdown-complete")

	return nil
}
