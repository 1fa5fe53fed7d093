package kalshi

import "sync/atomic"

// wsCodec builds orderbook_delta channel commands. Every command carries a
// client-chosen id; the feed echoes it in acks.
type wsCodec struct {
	nextID atomic.Int64
}

type wsCommand struct {
	ID     int64           `json:"id"`
	Cmd    string          `json:"cmd"`
	Params wsCommandParams `json:"params"`
}

type wsCommandParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers"`
}

// SubscribeMessage returns the orderbook subscription command. The feed
// uses one shape for initial and incremental subscriptions.
func (c *wsCodec) SubscribeMessage(tickers []string, _ bool) (interface{}, error) {
	return wsCommand{
		ID:  c.nextID.Add(1),
		Cmd: "subscribe",
		Params: wsCommandParams{
			Channels:      []string{"orderbook_delta"},
			MarketTickers: tickers,
		},
	}, nil
}

// UnsubscribeMessage returns the orderbook unsubscription command.
func (c *wsCodec) UnsubscribeMessage(tickers []string) (interface{}, error) {
	return wsCommand{
		ID:  c.nextID.Add(1),
		Cmd: "unsubscribe",
		Params: wsCommandParams{
			Channels:      []string{"orderbook_delta"},
			MarketTickers: tickers,
		},
	}, nil
}
