// Package events provides the in-process event hub. Components publish
// lifecycle events (detections, executions, risk halts, book resets) and
// consumers subscribe without importing the publishing package, which keeps
// detection, execution, and risk free of circular dependencies.
package events

import (
	"sync"
	"time"

	"github.com/mselser95/prediction-arb/pkg/types"
	"go.uber.org/zap"
)

// Type identifies an event kind.
type Type string

const (
	TypeOpportunityDetected Type = "opportunity_detected"
	TypeBelowMinProfit      Type = "below_min_profit"
	TypeTradeExecuted       Type = "trade_executed"
	TypePartialFillUnwound  Type = "partial_fill_unwound"
	TypeSlippageExceeded    Type = "slippage_exceeded"
	TypeFillRejected        Type = "fill_rejected"
	TypeRiskHalted          Type = "risk_halted"
	TypePositionOpened      Type = "position_opened"
	TypePositionClosed      Type = "position_closed"
	TypeExitIncomplete      Type = "exit_incomplete"
	TypeBookReset           Type = "book_reset"
)

// Event is a single published occurrence. Payload carries the
// publisher-specific detail and is documented per Type at the publish site.
type Event struct {
	Type      Type
	Venue     types.Venue
	MarketKey string
	Payload   interface{}
	At        time.Time
}

type subscriber struct {
	ch    chan Event
	kinds map[Type]bool // nil means all types
}

// Hub fans events out to subscribers. Publishing never blocks: slow
// subscribers lose events, counted per type.
type Hub struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
	logger *zap.Logger
}

// NewHub creates a new event hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{logger: logger}
}

// Subscribe registers a subscriber for the given event types. With no types
// the subscriber receives every event. The returned channel is closed by
// Close; buffer sizes the channel.
func (h *Hub) Subscribe(buffer int, kinds ...Type) <-chan Event {
	sub := &subscriber{
		ch: make(chan Event, buffer),
	}

	if len(kinds) > 0 {
		sub.kinds = make(map[Type]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.ch)
		return sub.ch
	}

	h.subs = append(h.subs, sub)
	return sub.ch
}

// Publish delivers the event to all matching subscribers without blocking.
func (h *Hub) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	EventsPublishedTotal.WithLabelValues(string(evt.Type)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for _, sub := range h.subs {
		if sub.kinds != nil && !sub.kinds[evt.Type] {
			continue
		}

		select {
		case sub.ch <- evt:
		default:
			EventsDroppedTotal.WithLabelValues(string(evt.Type)).Inc()
			h.logger.Warn("event-subscriber-full",
				zap.String("type", string(evt.Type)),
				zap.String("market-key", evt.MarketKey))
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for _, sub := range h.subs {
		close(sub.ch)
	}
	h.subs = nil
}
