package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Codec builds the venue-specific subscription payloads written to the wire.
// Payloads are JSON-encoded by the manager.
type Codec interface {
	// SubscribeMessage returns the payload subscribing to the given token IDs.
	// initial is true on the first subscription of a connection (and after
	// a reconnect), where some venues require a different message shape.
	SubscribeMessage(tokenIDs []string, initial bool) (interface{}, error)

	// UnsubscribeMessage returns the payload unsubscribing the given token IDs.
	UnsubscribeMessage(tokenIDs []string) (interface{}, error)
}

// HeaderProvider builds the HTTP headers sent with the upgrade request.
// Called on every dial, including reconnects, so signed headers stay fresh.
type HeaderProvider func() (http.Header, error)

// Frame is a single raw message read from the wire. Parsing is the
// venue adapter's job; the manager only moves bytes.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
}

// Manager manages a single WebSocket connection to a venue feed.
type Manager struct {
	name            string
	url             string
	conn            *websocket.Conn
	codec           Codec
	logger          *zap.Logger
	reconnectMgr    *ReconnectManager
	config          Config
	frameChan       chan Frame
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	mu              sync.RWMutex
	subscribed      map[string]bool // tracks subscribed token IDs
	connected       atomic.Bool
	lastPongTime    atomic.Int64
	connectionStart atomic.Int64 // Unix timestamp of connection start
}

// Config holds WebSocket manager configuration.
type Config struct {
	Name                  string // venue name, used in logs and metric labels
	URL                   string
	Codec                 Codec
	DialHeader            HeaderProvider // optional, for venues requiring signed upgrades
	DialTimeout           time.Duration
	PongTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	MessageBufferSize     int
	Logger                *zap.Logger
}

// New creates a new WebSocket manager.
func New(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	reconnectCfg := ReconnectConfig{
		InitialDelay:      cfg.ReconnectInitialDelay,
		MaxDelay:          cfg.ReconnectMaxDelay,
		BackoffMultiplier: cfg.ReconnectBackoffMult,
	}

	logger := cfg.Logger.With(zap.String("feed", cfg.Name))

	return &Manager{
		name:         cfg.Name,
		url:          cfg.URL,
		codec:        cfg.Codec,
		logger:       logger,
		reconnectMgr: NewReconnectManager(reconnectCfg, logger),
		config:       cfg,
		frameChan:    make(chan Frame, cfg.MessageBufferSize),
		ctx:          ctx,
		cancel:       cancel,
		subscribed:   make(map[string]bool),
	}
}

// Start starts the WebSocket manager.
func (m *Manager) Start() error {
	m.logger.Info("websocket-manager-starting", zap.String("url", m.url))

	// Initial connection
	err := m.connect(m.ctx)
	if err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	// Start goroutines
	m.wg.Add(3)
	go m.readLoop()
	go m.pingLoop()
	go m.reconnectLoop()

	return nil
}

// connect establishes a WebSocket connection.
func (m *Manager) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.DialTimeout,
	}

	var header http.Header
	if m.config.DialHeader != nil {
		var err error
		header, err = m.config.DialHeader()
		if err != nil {
			return fmt.Errorf("build dial header: %w", err)
		}
	}

	m.logger.Info("connecting-to-websocket", zap.String("url", m.url))

	conn, _, err := dialer.DialContext(ctx, m.url, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	// Set up pong handler
	conn.SetPongHandler(func(string) error {
		m.lastPongTime.Store(time.Now().Unix())
		return nil
	})

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	now := time.Now()
	m.connected.Store(true)
	m.lastPongTime.Store(now.Unix())
	m.connectionStart.Store(now.Unix())
	ActiveConnections.WithLabelValues(m.name).Set(1)

	m.logger.Info("websocket-connected")

	return nil
}

// Subscribe subscribes to a list of token IDs.
func (m *Manager) Subscribe(ctx context.Context, tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	// Update subscription state under lock
	m.mu.Lock()

	// Filter out already subscribed tokens
	newTokens := make([]string, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		if !m.subscribed[tokenID] {
			newTokens = append(newTokens, tokenID)
			m.subscribed[tokenID] = true
		}
	}

	if len(newTokens) == 0 {
		m.mu.Unlock()
		m.logger.Debug("all-tokens-already-subscribed")
		return nil
	}

	initial := len(m.subscribed) == len(newTokens)
	totalSubscribed := len(m.subscribed)
	m.mu.Unlock()

	subscribeMsg, err := m.codec.SubscribeMessage(newTokens, initial)
	if err != nil {
		m.rollbackSubscribe(newTokens)
		return fmt.Errorf("build subscribe message: %w", err)
	}

	// Network I/O WITHOUT holding the lock
	err = m.conn.WriteJSON(subscribeMsg)
	if err != nil {
		totalSubscribed = m.rollbackSubscribe(newTokens)
		SubscriptionCount.WithLabelValues(m.name).Set(float64(totalSubscribed))
		return fmt.Errorf("write subscribe message: %w", err)
	}

	SubscriptionCount.WithLabelValues(m.name).Set(float64(totalSubscribed))

	m.logger.Info("subscribed-to-tokens",
		zap.Int("new-count", len(newTokens)),
		zap.Int("total-count", totalSubscribed))

	return nil
}

func (m *Manager) rollbackSubscribe(tokenIDs []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tokenID := range tokenIDs {
		delete(m.subscribed, tokenID)
	}
	return len(m.subscribed)
}

// Unsubscribe unsubscribes from a list of token IDs.
func (m *Manager) Unsubscribe(ctx context.Context, tokenIDs []string) (err error) {
	if len(tokenIDs) == 0 {
		return nil
	}

	m.mu.Lock()

	// Filter to only tokens that are currently subscribed
	tokensToUnsubscribe := make([]string, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		if m.subscribed[tokenID] {
			tokensToUnsubscribe = append(tokensToUnsubscribe, tokenID)
			delete(m.subscribed, tokenID)
		}
	}

	if len(tokensToUnsubscribe) == 0 {
		m.mu.Unlock()
		m.logger.Debug("no-tokens-to-unsubscribe")
		return nil
	}

	totalSubscribed := len(m.subscribed)
	m.mu.Unlock()

	unsubscribeMsg, err := m.codec.UnsubscribeMessage(tokensToUnsubscribe)
	if err != nil {
		m.rollbackUnsubscribe(tokensToUnsubscribe)
		return fmt.Errorf("build unsubscribe message: %w", err)
	}

	// Send unsubscribe message (without holding lock)
	err = m.conn.WriteJSON(unsubscribeMsg)
	if err != nil {
		totalSubscribed = m.rollbackUnsubscribe(tokensToUnsubscribe)
		SubscriptionCount.WithLabelValues(m.name).Set(float64(totalSubscribed))
		return fmt.Errorf("write unsubscribe message: %w", err)
	}

	SubscriptionCount.WithLabelValues(m.name).Set(float64(totalSubscribed))
	UnsubscriptionsTotal.WithLabelValues(m.name).Inc()

	m.logger.Info("unsubscribed-from-tokens",
		zap.Int("count", len(tokensToUnsubscribe)),
		zap.Int("remaining-count", totalSubscribed))

	return nil
}

func (m *Manager) rollbackUnsubscribe(tokenIDs []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tokenID := range tokenIDs {
		m.subscribed[tokenID] = true
	}
	return len(m.subscribed)
}

// readLoop reads raw frames from the WebSocket and hands them to the consumer.
func (m *Manager) readLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			m.logger.Warn("read-error", zap.Error(err))

			// Observe connection duration before marking as disconnected
			startTime := m.connectionStart.Load()
			if startTime > 0 {
				duration := time.Since(time.Unix(startTime, 0)).Seconds()
				ConnectionDuration.WithLabelValues(m.name).Observe(duration)
			}

			m.connected.Store(false)
			ActiveConnections.WithLabelValues(m.name).Set(0)
			return
		}

		if len(message) == 0 {
			continue
		}

		FramesReceivedTotal.WithLabelValues(m.name).Inc()

		// Hand off to the adapter (non-blocking)
		select {
		case m.frameChan <- Frame{Data: message, ReceivedAt: time.Now()}:
		default:
			m.logger.Warn("frame-channel-full", zap.Int("bytes", len(message)))
			FramesDroppedTotal.WithLabelValues(m.name, "channel_full").Inc()
		}
	}
}

// pingLoop sends periodic PING messages.
func (m *Manager) pingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.connected.Load() {
				continue
			}

			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()

			if conn == nil {
				continue
			}

			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			if err != nil {
				m.logger.Warn("ping-error", zap.Error(err))
			}
		}
	}
}

// reconnectLoop handles reconnection when connection drops.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		// Wait for disconnection
		if m.connected.Load() {
			time.Sleep(time.Second)
			continue
		}

		m.logger.Warn("connection-lost-initiating-reconnect")

		// Attempt reconnection
		err := m.reconnectMgr.Reconnect(m.ctx, m.connect)
		if err != nil {
			if err == context.Canceled {
				return
			}
			m.logger.Error("reconnection-failed", zap.Error(err))
			continue
		}

		// Resubscribe to all markets
		err = m.resubscribeAll(m.ctx)
		if err != nil {
			m.logger.Error("resubscribe-failed", zap.Error(err))
			m.connected.Store(false)
			continue
		}

		m.logger.Info("reconnection-complete-restarting-read-loop")

		// Restart read loop
		m.wg.Add(1)
		go m.readLoop()
	}
}

// resubscribeAll resubscribes to all previously subscribed tokens.
func (m *Manager) resubscribeAll(ctx context.Context) error {
	m.mu.RLock()
	tokenIDs := make([]string, 0, len(m.subscribed))
	for tokenID := range m.subscribed {
		tokenIDs = append(tokenIDs, tokenID)
	}
	m.mu.RUnlock()

	if len(tokenIDs) == 0 {
		return nil
	}

	// Fresh connection, so this is an initial subscribe again
	subscribeMsg, err := m.codec.SubscribeMessage(tokenIDs, true)
	if err != nil {
		return fmt.Errorf("build resubscribe message: %w", err)
	}

	m.mu.RLock()
	err = m.conn.WriteJSON(subscribeMsg)
	m.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("write resubscribe message: %w", err)
	}

	m.logger.Info("resubscribed-to-all-markets", zap.Int("count", len(tokenIDs)))

	return nil
}

// Frames returns the channel delivering raw frames from the wire.
func (m *Manager) Frames() <-chan Frame {
	return m.frameChan
}

// Subscribed reports whether the given token ID is currently subscribed.
func (m *Manager) Subscribed(tokenID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subscribed[tokenID]
}

// Connected reports whether the underlying connection is up.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// Close gracefully closes the WebSocket manager.
func (m *Manager) Close() error {
	m.logger.Info("closing-websocket-manager")

	m.cancel()

	m.mu.RLock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.mu.RUnlock()

	m.wg.Wait()

	close(m.frameChan)

	ActiveConnections.WithLabelValues(m.name).Set(0)

	m.logger.Info("websocket-manager-closed")

	return nil
}
