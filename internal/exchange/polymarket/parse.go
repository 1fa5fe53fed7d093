package polymarket

import (
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/shopspring/decimal"
)

// wireLevel is one (price, size) entry as the CLOB feed encodes it.
type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wireChange is one entry of a price_change batch. Side is "BUY" or "SELL".
type wireChange struct {
	Price string `json:"price"`
	Side  string `json:"side"`
	Size  string `json:"size"`
}

// wireMessage is one entry of the market-channel array payload. The feed
// sends "book" snapshots and "price_change" deltas; older deployments put
// changed levels in bids/asks, newer ones in changes.
type wireMessage struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Timestamp string       `json:"timestamp"` // unix milliseconds, as string
	Hash      string       `json:"hash,omitempty"`
	Bids      []wireLevel  `json:"bids,omitempty"`
	Asks      []wireLevel  `json:"asks,omitempty"`
	Changes   []wireChange `json:"changes,omitempty"`
}

// parseFrame converts one raw frame into book updates. The feed wraps
// events in an array; heartbeats ("[]") and control objects yield nothing.
func parseFrame(data []byte, receivedAt time.Time) ([]types.BookUpdate, error) {
	var msgs []wireMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		// Control messages and subscription confirmations arrive as plain
		// objects. They carry no book data, so they are skipped, not failed.
		var control map[string]interface{}
		if json.Unmarshal(data, &control) == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}

	updates := make([]types.BookUpdate, 0, len(msgs))
	for i := range msgs {
		update, ok, err := convertMessage(&msgs[i], receivedAt)
		if err != nil {
			return nil, err
		}
		if ok {
			updates = append(updates, update)
		}
	}
	return updates, nil
}

func convertMessage(msg *wireMessage, receivedAt time.Time) (types.BookUpdate, bool, error) {
	switch msg.EventType {
	case "book", "price_change":
	default:
		// last_trade_price, tick_size_change and friends carry nothing
		// the book needs.
		return types.BookUpdate{}, false, nil
	}

	seq, err := parseSeq(msg.Timestamp)
	if err != nil {
		return types.BookUpdate{}, false, fmt.Errorf("parse timestamp %q: %w", msg.Timestamp, err)
	}

	update := types.BookUpdate{
		Venue:      types.VenuePolymarket,
		TokenID:    msg.AssetID,
		Seq:        seq,
		IsSnapshot: msg.EventType == "book",
		ReceivedAt: receivedAt,
	}

	update.Bids, err = parseLevels(msg.Bids)
	if err != nil {
		return types.BookUpdate{}, false, fmt.Errorf("parse bids: %w", err)
	}
	update.Asks, err = parseLevels(msg.Asks)
	if err != nil {
		return types.BookUpdate{}, false, fmt.Errorf("parse asks: %w", err)
	}

	for _, change := range msg.Changes {
		level, err := parseLevel(change.Price, change.Size)
		if err != nil {
			return types.BookUpdate{}, false, fmt.Errorf("parse change: %w", err)
		}
		if change.Side == "BUY" {
			update.Bids = append(update.Bids, level)
		} else {
			update.Asks = append(update.Asks, level)
		}
	}

	return update, true, nil
}

func parseSeq(timestamp string) (uint64, error) {
	if timestamp == "" {
		return 0, nil
	}
	return strconv.ParseUint(timestamp, 10, 64)
}

func parseLevels(levels []wireLevel) ([]types.PriceLevel, error) {
	if len(levels) == 0 {
		return nil, nil
	}
	out := make([]types.PriceLevel, 0, len(levels))
	for _, l := range levels {
		level, err := parseLevel(l.Price, l.Size)
		if err != nil {
			return nil, err
		}
		out = append(out, level)
	}
	return out, nil
}

func parseLevel(price, size string) (types.PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return types.PriceLevel{}, fmt.Errorf("price %q: %w", price, err)
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return types.PriceLevel{}, fmt.Errorf("size %q: %w", size, err)
	}
	return types.PriceLevel{
		Price: p.Round(types.PricePrecision),
		Size:  s.Round(types.SizePrecision),
	}, nil
}
