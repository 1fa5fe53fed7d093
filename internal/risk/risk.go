// Package risk gates trading. The manager owns the day's realized P&L and
// the halt flag, and decides per-position exits from mark-to-market ticks.
// All state transitions flow through a single writer goroutine so a halt
// observed by the engine is always consistent with the trade sequence that
// produced it; readers get a lock-protected snapshot.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/mselser95/prediction-arb/internal/events"
	"github.com/mselser95/prediction-arb/pkg/types"
	"go.uber.org/zap"
)

// rolloverCheckInterval bounds how long a halt can outlive midnight when
// no trades or ticks arrive to trigger the lazy check.
const rolloverCheckInterval = time.Minute

// PnLTick is one position's mark-to-market observation from the monitor.
type PnLTick struct {
	PositionID string
	MarketKey  string
	// Ratio is unrealized P&L over cost basis.
	Ratio float64
	// Unrealized is the USD P&L at current best bids.
	Unrealized float64
	At         time.Time
}

type realizedDelta struct {
	marketKey string
	amount    float64
}

// Config holds risk manager configuration.
type Config struct {
	// StopLoss exits a position when its loss ratio reaches this threshold.
	StopLoss float64
	// TakeProfit exits a position when its gain ratio reaches this threshold.
	TakeProfit float64
	// MaxDailyLoss halts new entries for the rest of the day once the
	// day's realized P&L falls to its negative.
	MaxDailyLoss float64
	Hub          *events.Hub
	Logger       *zap.Logger
}

// Manager is the risk authority. Construct with New, then Start.
type Manager struct {
	stopLoss     float64
	takeProfit   float64
	maxDailyLoss float64
	hub          *events.Hub
	logger       *zap.Logger

	tradeCh  chan realizedDelta
	tickCh   chan PnLTick
	manualCh chan types.ExitSignal
	forgetCh chan string
	exits    chan types.ExitSignal

	// signaled tracks positions already told to exit; writer-owned.
	signaled map[string]bool

	mu       sync.RWMutex
	halted   bool
	dailyPnL float64
	day      time.Time

	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a new risk manager.
func New(cfg *Config) *Manager {
	now := time.Now()
	return &Manager{
		stopLoss:     cfg.StopLoss,
		takeProfit:   cfg.TakeProfit,
		maxDailyLoss: cfg.MaxDailyLoss,
		hub:          cfg.Hub,
		logger:       cfg.Logger,
		tradeCh:      make(chan realizedDelta, 128),
		tickCh:       make(chan PnLTick, 256),
		manualCh:     make(chan types.ExitSignal, 16),
		forgetCh:     make(chan string, 64),
		exits:        make(chan types.ExitSignal, 32),
		signaled:     make(map[string]bool),
		day:          truncateToDay(now),
		quit:         make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (m *Manager) Start(ctx context.Context) error {
	m.wg.Add(1)
	go m.run(ctx)
	return nil
}

// Close stops the writer goroutine and waits for it.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.quit) })
	m.wg.Wait()
	return nil
}

// RecordRealized adds a realized P&L delta (entry edge, exit proceeds,
// unwind losses) to the day total. Blocks only if the writer queue is full.
func (m *Manager) RecordRealized(marketKey string, amount float64) {
	select {
	case m.tradeCh <- realizedDelta{marketKey: marketKey, amount: amount}:
	case <-m.quit:
	}
}

// Tick submits a mark-to-market observation. Drops when the writer is
// behind: the next poll is a second away.
func (m *Manager) Tick(tick PnLTick) {
	select {
	case m.tickCh <- tick:
	default:
		TicksDroppedTotal.Inc()
	}
}

// RequestExit asks for a user-driven close of one position.
func (m *Manager) RequestExit(positionID, marketKey string) {
	sig := types.ExitSignal{
		PositionID: positionID,
		MarketKey:  marketKey,
		Reason:     types.ExitManual,
		At:         time.Now(),
	}
	select {
	case m.manualCh <- sig:
	case <-m.quit:
	}
}

// Forget clears the exit-signaled mark for a position after it closes, so
// a reopened market can signal again.
func (m *Manager) Forget(positionID string) {
	select {
	case m.forgetCh <- positionID:
	case <-m.quit:
	}
}

// Halted reports whether new entries are blocked by the daily loss limit.
func (m *Manager) Halted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted
}

// DailyPnL returns the day's realized P&L in USD.
func (m *Manager) DailyPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyPnL
}

// ExitSignals returns the channel the position monitor consumes. Signals
// carry reasons stop_loss, take_profit, or manual.
func (m *Manager) ExitSignals() <-chan types.ExitSignal {
	return m.exits
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(rolloverCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.quit:
			return
		case delta := <-m.tradeCh:
			m.applyRealized(delta, time.Now())
		case tick := <-m.tickCh:
			m.applyTick(tick)
		case sig := <-m.manualCh:
			m.emitExit(sig)
		case positionID := <-m.forgetCh:
			delete(m.signaled, positionID)
		case <-ticker.C:
			m.rollover(time.Now())
		}
	}
}

func (m *Manager) applyRealized(delta realizedDelta, now time.Time) {
	m.rollover(now)

	m.mu.Lock()
	m.dailyPnL += delta.amount
	DailyPnL.Set(m.dailyPnL)

	crossed := !m.halted && m.maxDailyLoss > 0 && m.dailyPnL <= -m.maxDailyLoss
	if crossed {
		m.halted = true
	}
	dailyPnL := m.dailyPnL
	m.mu.Unlock()

	m.logger.Debug("realized-pnl-recorded",
		zap.String("market-key", delta.marketKey),
		zap.Float64("amount", delta.amount),
		zap.Float64("daily-pnl", dailyPnL))

	if crossed {
		HaltsTotal.Inc()
		m.logger.Error("daily-loss-limit-reached",
			zap.Float64("daily-pnl", dailyPnL),
			zap.Float64("max-daily-loss", m.maxDailyLoss))
		m.hub.Publish(events.Event{
			Type:      events.TypeRiskHalted,
			MarketKey: delta.marketKey,
			Payload:   dailyPnL,
		})
	}
}

func (m *Manager) applyTick(tick PnLTick) {
	if m.signaled[tick.PositionID] {
		return
	}

	var reason types.ExitReason
	switch {
	case m.stopLoss > 0 && tick.Ratio <= -m.stopLoss:
		reason = types.ExitStopLoss
	case m.takeProfit > 0 && tick.Ratio >= m.takeProfit:
		reason = types.ExitTakeProfit
	default:
		return
	}

	m.signaled[tick.PositionID] = true
	m.emitExit(types.ExitSignal{
		PositionID: tick.PositionID,
		MarketKey:  tick.MarketKey,
		Reason:     reason,
		At:         tick.At,
	})
}

func (m *Manager) emitExit(sig types.ExitSignal) {
	ExitSignalsTotal.WithLabelValues(string(sig.Reason)).Inc()

	m.logger.Info("exit-signal",
		zap.String("position-id", sig.PositionID),
		zap.String("market-key", sig.MarketKey),
		zap.String("reason", string(sig.Reason)))

	select {
	case m.exits <- sig:
	default:
		m.logger.Warn("exit-signal-dropped-queue-full",
			zap.String("position-id", sig.PositionID))
	}
}

// rollover resets the day total and clears the halt at local midnight.
func (m *Manager) rollover(now time.Time) {
	today := truncateToDay(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	if today.Equal(m.day) {
		return
	}

	m.logger.Info("daily-rollover",
		zap.Float64("closing-daily-pnl", m.dailyPnL),
		zap.Bool("was-halted", m.halted))

	m.day = today
	m.dailyPnL = 0
	m.halted = false
	DailyPnL.Set(0)
}

func truncateToDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
