package kalshi

import (
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/mselser95/prediction-arb/pkg/types"
)

// Kalshi keeps one book per market ticker with two sides of resting BUY
// interest, priced in cents: "yes" holds bids for YES contracts, "no" holds
// bids for NO contracts. The core wants one two-sided book per outcome
// token, so each market projects onto two synthetic tokens:
//
//	<ticker>:yes  bids = yes side, asks = no side inverted to (100-p)/100
//	<ticker>:no   bids = no side,  asks = yes side inverted
//
// A bid for NO at p cents is exactly an offer of YES at 100-p.
const (
	yesSuffix = ":yes"
	noSuffix  = ":no"
)

func yesToken(ticker string) string { return ticker + yesSuffix }
func noToken(ticker string) string  { return ticker + noSuffix }

// splitToken recovers the market ticker and outcome from a synthetic token.
func splitToken(tokenID string) (ticker string, yes bool, err error) {
	switch {
	case strings.HasSuffix(tokenID, yesSuffix):
		return strings.TrimSuffix(tokenID, yesSuffix), true, nil
	case strings.HasSuffix(tokenID, noSuffix):
		return strings.TrimSuffix(tokenID, noSuffix), false, nil
	default:
		return "", false, fmt.Errorf("malformed kalshi token id %q", tokenID)
	}
}

// tickersFrom maps token IDs to their unique market tickers, keeping first
// appearance order. Both tokens of a market share one feed subscription.
func tickersFrom(tokenIDs []string) []string {
	seen := make(map[string]bool, len(tokenIDs))
	out := make([]string, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		ticker, _, err := splitToken(tokenID)
		if err != nil || seen[ticker] {
			continue
		}
		seen[ticker] = true
		out = append(out, ticker)
	}
	return out
}

func centsToPrice(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// wsEnvelope is the outer shape of every feed message.
type wsEnvelope struct {
	Type string          `json:"type"`
	SID  int64           `json:"sid"`
	Seq  uint64          `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

type wsSnapshot struct {
	MarketTicker string     `json:"market_ticker"`
	Yes          [][2]int64 `json:"yes"`
	No           [][2]int64 `json:"no"`
}

// wsDelta is one signed quantity change at a price on one side.
type wsDelta struct {
	MarketTicker string `json:"market_ticker"`
	Price        int64  `json:"price"`
	Delta        int64  `json:"delta"`
	Side         string `json:"side"`
}

// tickerMirror is the absolute-quantity state of one market, rebuilt from
// the feed's relative deltas. emitSeq numbers the updates handed to the
// book manager, monotonic per ticker across both tokens.
type tickerMirror struct {
	sid     int64
	emitSeq uint64
	yes     map[int64]int64 // price cents -> contracts
	no      map[int64]int64
}

// parser converts feed frames into book updates. Feed sequence numbers run
// per subscription, shared across every ticker it carries, so the parser
// tracks them per sid: a gap means a dropped frame poisoned the mirror of
// every ticker on that subscription. Not safe for concurrent use; the
// client serializes access.
type parser struct {
	tickers map[string]*tickerMirror
	sids    map[int64]uint64
}

func newParser() *parser {
	return &parser{
		tickers: make(map[string]*tickerMirror),
		sids:    make(map[int64]uint64),
	}
}

// parseFrame converts one raw frame. resnapshot lists tickers whose mirrors
// were dropped after a sequence gap and need a REST re-seed.
func (p *parser) parseFrame(data []byte, receivedAt time.Time) (updates []types.BookUpdate, resnapshot []string, err error) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("unmarshal frame: %w", err)
	}

	switch env.Type {
	case "orderbook_snapshot":
		return p.applySnapshot(&env, receivedAt)
	case "orderbook_delta":
		return p.applyDelta(&env, receivedAt)
	default:
		// Command acks, subscription confirmations and errors carry no
		// book data.
		return nil, nil, nil
	}
}

func (p *parser) applySnapshot(env *wsEnvelope, receivedAt time.Time) ([]types.BookUpdate, []string, error) {
	var snap wsSnapshot
	if err := json.Unmarshal(env.Msg, &snap); err != nil {
		return nil, nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.MarketTicker == "" {
		return nil, nil, fmt.Errorf("snapshot without market ticker")
	}

	p.sids[env.SID] = env.Seq

	emitSeq := uint64(1)
	if prev, ok := p.tickers[snap.MarketTicker]; ok {
		emitSeq = prev.emitSeq + 1
	}

	mirror := &tickerMirror{
		sid:     env.SID,
		emitSeq: emitSeq,
		yes:     quantities(snap.Yes),
		no:      quantities(snap.No),
	}
	p.tickers[snap.MarketTicker] = mirror

	return mirror.snapshotUpdates(snap.MarketTicker, receivedAt), nil, nil
}

func (p *parser) applyDelta(env *wsEnvelope, receivedAt time.Time) ([]types.BookUpdate, []string, error) {
	var delta wsDelta
	if err := json.Unmarshal(env.Msg, &delta); err != nil {
		return nil, nil, fmt.Errorf("unmarshal delta: %w", err)
	}

	last, seen := p.sids[env.SID]
	p.sids[env.SID] = env.Seq
	if seen && env.Seq != last+1 {
		return nil, p.dropSID(env.SID), nil
	}

	mirror, ok := p.tickers[delta.MarketTicker]
	if !ok {
		// Awaiting a snapshot; relative changes have no baseline.
		return nil, nil, nil
	}
	mirror.sid = env.SID

	if delta.Price <= 0 || delta.Price >= 100 {
		return nil, nil, fmt.Errorf("delta price %d outside cent range", delta.Price)
	}

	var side map[int64]int64
	switch delta.Side {
	case "yes":
		side = mirror.yes
	case "no":
		side = mirror.no
	default:
		return nil, nil, fmt.Errorf("unknown delta side %q", delta.Side)
	}

	qty := side[delta.Price] + delta.Delta
	if qty <= 0 {
		qty = 0
		delete(side, delta.Price)
	} else {
		side[delta.Price] = qty
	}

	mirror.emitSeq++
	return mirror.deltaUpdates(delta.MarketTicker, delta.Side, delta.Price, qty, receivedAt), nil, nil
}

// seed replaces a ticker's mirror with REST orderbook state, emitting fresh
// snapshots for both tokens. Recovery path after a sequence gap.
func (p *parser) seed(ticker string, yes, no [][2]int64, receivedAt time.Time) []types.BookUpdate {
	emitSeq := uint64(1)
	sid := int64(0)
	if prev, ok := p.tickers[ticker]; ok {
		emitSeq = prev.emitSeq + 1
		sid = prev.sid
	}

	mirror := &tickerMirror{
		sid:     sid,
		emitSeq: emitSeq,
		yes:     quantities(yes),
		no:      quantities(no),
	}
	p.tickers[ticker] = mirror

	return mirror.snapshotUpdates(ticker, receivedAt)
}

// forget drops mirrors for tickers no longer monitored.
func (p *parser) forget(tickers ...string) {
	for _, ticker := range tickers {
		delete(p.tickers, ticker)
	}
}

// dropSID discards every mirror fed by one subscription and returns the
// affected tickers.
func (p *parser) dropSID(sid int64) []string {
	var stale []string
	for ticker, mirror := range p.tickers {
		if mirror.sid == sid {
			stale = append(stale, ticker)
			delete(p.tickers, ticker)
		}
	}
	sort.Strings(stale)
	return stale
}

func quantities(levels [][2]int64) map[int64]int64 {
	out := make(map[int64]int64, len(levels))
	for _, level := range levels {
		price, qty := level[0], level[1]
		if price <= 0 || price >= 100 || qty <= 0 {
			continue
		}
		out[price] += qty
	}
	return out
}

func (tm *tickerMirror) snapshotUpdates(ticker string, receivedAt time.Time) []types.BookUpdate {
	yesBids, noAsks := projectSide(tm.yes)
	noBids, yesAsks := projectSide(tm.no)

	return []types.BookUpdate{
		{
			Venue:      types.VenueKalshi,
			TokenID:    yesToken(ticker),
			Seq:        tm.emitSeq,
			IsSnapshot: true,
			Bids:       yesBids,
			Asks:       yesAsks,
			ReceivedAt: receivedAt,
		},
		{
			Venue:      types.VenueKalshi,
			TokenID:    noToken(ticker),
			Seq:        tm.emitSeq,
			IsSnapshot: true,
			Bids:       noBids,
			Asks:       noAsks,
			ReceivedAt: receivedAt,
		},
	}
}

// deltaUpdates mirrors one side change onto both token books: the side's
// own bid level plus the inverted ask on the opposite token.
func (tm *tickerMirror) deltaUpdates(ticker, side string, price, qty int64, receivedAt time.Time) []types.BookUpdate {
	size := decimal.NewFromInt(qty)
	level := []types.PriceLevel{{Price: centsToPrice(price), Size: size}}
	inverse := []types.PriceLevel{{Price: centsToPrice(100 - price), Size: size}}

	bidToken, askToken := yesToken(ticker), noToken(ticker)
	if side == "no" {
		bidToken, askToken = noToken(ticker), yesToken(ticker)
	}

	return []types.BookUpdate{
		{
			Venue:      types.VenueKalshi,
			TokenID:    bidToken,
			Seq:        tm.emitSeq,
			Bids:       level,
			ReceivedAt: receivedAt,
		},
		{
			Venue:      types.VenueKalshi,
			TokenID:    askToken,
			Seq:        tm.emitSeq,
			Asks:       inverse,
			ReceivedAt: receivedAt,
		},
	}
}

// projectSide renders one cent-priced side as its own bid levels plus the
// opposite token's ask levels. Bids come out descending; since the ask
// price is 100-p, the same order yields ascending asks.
func projectSide(quantities map[int64]int64) (bids, asks []types.PriceLevel) {
	prices := make([]int64, 0, len(quantities))
	for price := range quantities {
		prices = append(prices, price)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })

	bids = make([]types.PriceLevel, 0, len(prices))
	asks = make([]types.PriceLevel, 0, len(prices))
	for _, price := range prices {
		size := decimal.NewFromInt(quantities[price])
		bids = append(bids, types.PriceLevel{Price: centsToPrice(price), Size: size})
		asks = append(asks, types.PriceLevel{Price: centsToPrice(100 - price), Size: size})
	}
	return bids, asks
}
