package kalshi

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mselser95/prediction-arb/pkg/types"
)

func snapshotFrame(sid int64, seq uint64, ticker string, yes, no string) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"orderbook_snapshot","sid":%d,"seq":%d,"msg":{"market_ticker":%q,"yes":%s,"no":%s}}`,
		sid, seq, ticker, yes, no))
}

func deltaFrame(sid int64, seq uint64, ticker, side string, price, delta int64) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"orderbook_delta","sid":%d,"seq":%d,"msg":{"market_ticker":%q,"price":%d,"delta":%d,"side":%q}}`,
		sid, seq, ticker, price, delta, side))
}

func levels(t *testing.T, pairs ...[2]string) []types.PriceLevel {
	t.Helper()
	out := make([]types.PriceLevel, 0, len(pairs))
	for _, pair := range pairs {
		out = append(out, types.PriceLevel{
			Price: decimal.RequireFromString(pair[0]),
			Size:  decimal.RequireFromString(pair[1]),
		})
	}
	return out
}

func byToken(t *testing.T, updates []types.BookUpdate) map[string]types.BookUpdate {
	t.Helper()
	out := make(map[string]types.BookUpdate, len(updates))
	for _, u := range updates {
		out[u.TokenID] = u
	}
	return out
}

func assertLevels(t *testing.T, want, got []types.PriceLevel, label string) {
	t.Helper()
	require.Len(t, got, len(want), label)
	for i := range want {
		assert.True(t, want[i].Price.Equal(got[i].Price),
			"%s[%d] price = %s, want %s", label, i, got[i].Price, want[i].Price)
		assert.True(t, want[i].Size.Equal(got[i].Size),
			"%s[%d] size = %s, want %s", label, i, got[i].Size, want[i].Size)
	}
}

func TestParseSnapshotBuildsBothTokens(t *testing.T) {
	t.Parallel()

	p := newParser()
	now := time.Now()

	updates, stale, err := p.parseFrame(
		snapshotFrame(1, 5, "FED-25DEC", "[[45,100],[44,50]]", "[[52,80]]"), now)
	require.NoError(t, err)
	require.Empty(t, stale)
	require.Len(t, updates, 2)

	books := byToken(t, updates)

	yes, ok := books["FED-25DEC:yes"]
	require.True(t, ok, "missing yes token update")
	assert.Equal(t, types.VenueKalshi, yes.Venue)
	assert.True(t, yes.IsSnapshot)
	assert.Equal(t, uint64(1), yes.Seq)
	assertLevels(t, levels(t, [2]string{"0.45", "100"}, [2]string{"0.44", "50"}), yes.Bids, "yes bids")
	assertLevels(t, levels(t, [2]string{"0.48", "80"}), yes.Asks, "yes asks")

	no, ok := books["FED-25DEC:no"]
	require.True(t, ok, "missing no token update")
	assert.True(t, no.IsSnapshot)
	assert.Equal(t, uint64(1), no.Seq)
	assertLevels(t, levels(t, [2]string{"0.52", "80"}), no.Bids, "no bids")
	assertLevels(t, levels(t, [2]string{"0.55", "100"}, [2]string{"0.56", "50"}), no.Asks, "no asks")
}

func TestParseDeltaMirrorsBothBooks(t *testing.T) {
	t.Parallel()

	p := newParser()
	now := time.Now()

	_, _, err := p.parseFrame(
		snapshotFrame(1, 5, "FED-25DEC", "[[45,100]]", "[]"), now)
	require.NoError(t, err)

	updates, stale, err := p.parseFrame(
		deltaFrame(1, 6, "FED-25DEC", "yes", 45, -30), now)
	require.NoError(t, err)
	require.Empty(t, stale)
	require.Len(t, updates, 2)

	books := byToken(t, updates)

	yes := books["FED-25DEC:yes"]
	assert.False(t, yes.IsSnapshot)
	assert.Equal(t, uint64(2), yes.Seq)
	assertLevels(t, levels(t, [2]string{"0.45", "70"}), yes.Bids, "yes bids")
	assert.Empty(t, yes.Asks)

	no := books["FED-25DEC:no"]
	assert.Equal(t, uint64(2), no.Seq)
	assert.Empty(t, no.Bids)
	assertLevels(t, levels(t, [2]string{"0.55", "70"}), no.Asks, "no asks")

	// Draining the level reports size zero so the book drops it.
	updates, _, err = p.parseFrame(
		deltaFrame(1, 7, "FED-25DEC", "yes", 45, -70), now)
	require.NoError(t, err)
	books = byToken(t, updates)
	assertLevels(t, levels(t, [2]string{"0.45", "0"}), books["FED-25DEC:yes"].Bids, "drained bids")
	assertLevels(t, levels(t, [2]string{"0.55", "0"}), books["FED-25DEC:no"].Asks, "drained asks")
}

func TestParseDeltaWithoutSnapshotSkipped(t *testing.T) {
	t.Parallel()

	p := newParser()

	updates, stale, err := p.parseFrame(
		deltaFrame(1, 1, "FED-25DEC", "yes", 45, 10), time.Now())
	require.NoError(t, err)
	assert.Empty(t, updates)
	assert.Empty(t, stale)
}

func TestParseSeqGapDropsMirror(t *testing.T) {
	t.Parallel()

	p := newParser()
	now := time.Now()

	_, _, err := p.parseFrame(
		snapshotFrame(1, 5, "FED-25DEC", "[[45,100]]", "[[52,80]]"), now)
	require.NoError(t, err)

	updates, stale, err := p.parseFrame(
		deltaFrame(1, 6, "FED-25DEC", "yes", 45, -10), now)
	require.NoError(t, err)
	require.Empty(t, stale)
	require.Len(t, updates, 2)

	// Seq jumps from 6 to 8; the subscription lost a frame.
	updates, stale, err = p.parseFrame(
		deltaFrame(1, 8, "FED-25DEC", "yes", 45, -10), now)
	require.NoError(t, err)
	assert.Empty(t, updates)
	assert.Equal(t, []string{"FED-25DEC"}, stale)

	// The mirror is gone, so later deltas wait for a snapshot.
	updates, stale, err = p.parseFrame(
		deltaFrame(1, 9, "FED-25DEC", "yes", 45, -10), now)
	require.NoError(t, err)
	assert.Empty(t, updates)
	assert.Empty(t, stale)
}

func TestSeqGapDropsEveryTickerOnSubscription(t *testing.T) {
	t.Parallel()

	p := newParser()
	now := time.Now()

	_, _, err := p.parseFrame(snapshotFrame(1, 1, "MKT-B", "[[40,10]]", "[]"), now)
	require.NoError(t, err)
	_, _, err = p.parseFrame(snapshotFrame(1, 2, "MKT-A", "[[30,10]]", "[]"), now)
	require.NoError(t, err)

	_, stale, err := p.parseFrame(deltaFrame(1, 9, "MKT-A", "yes", 30, 5), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"MKT-A", "MKT-B"}, stale)
}

func TestSeedRestoresAfterGap(t *testing.T) {
	t.Parallel()

	p := newParser()
	now := time.Now()

	_, _, err := p.parseFrame(snapshotFrame(1, 5, "FED-25DEC", "[[45,100]]", "[]"), now)
	require.NoError(t, err)
	_, stale, err := p.parseFrame(deltaFrame(1, 7, "FED-25DEC", "yes", 45, -10), now)
	require.NoError(t, err)
	require.Equal(t, []string{"FED-25DEC"}, stale)

	updates := p.seed("FED-25DEC", [][2]int64{{46, 20}}, [][2]int64{{53, 30}}, now)
	require.Len(t, updates, 2)
	books := byToken(t, updates)
	assert.True(t, books["FED-25DEC:yes"].IsSnapshot)
	assertLevels(t, levels(t, [2]string{"0.46", "20"}), books["FED-25DEC:yes"].Bids, "reseeded bids")

	// The next in-order delta applies to the reseeded mirror and the emit
	// sequence keeps climbing.
	updates, stale, err = p.parseFrame(deltaFrame(1, 8, "FED-25DEC", "yes", 46, 5), now)
	require.NoError(t, err)
	require.Empty(t, stale)
	require.Len(t, updates, 2)
	books = byToken(t, updates)
	assert.Greater(t, books["FED-25DEC:yes"].Seq, uint64(1))
	assertLevels(t, levels(t, [2]string{"0.46", "25"}), books["FED-25DEC:yes"].Bids, "post-seed bids")
}

func TestParseControlFramesIgnored(t *testing.T) {
	t.Parallel()

	p := newParser()

	for _, raw := range []string{
		`{"type":"subscribed","id":1,"msg":{"channel":"orderbook_delta","sid":1}}`,
		`{"type":"error","id":2,"msg":{"code":6,"msg":"Already subscribed"}}`,
	} {
		updates, stale, err := p.parseFrame([]byte(raw), time.Now())
		require.NoError(t, err)
		assert.Empty(t, updates)
		assert.Empty(t, stale)
	}
}

func TestParseRejectsMalformedDeltas(t *testing.T) {
	t.Parallel()

	p := newParser()
	now := time.Now()

	_, _, err := p.parseFrame(snapshotFrame(1, 1, "FED-25DEC", "[[45,100]]", "[]"), now)
	require.NoError(t, err)

	_, _, err = p.parseFrame(deltaFrame(1, 2, "FED-25DEC", "maybe", 45, 1), now)
	require.Error(t, err)

	_, _, err = p.parseFrame(deltaFrame(1, 3, "FED-25DEC", "yes", 105, 1), now)
	require.Error(t, err)
}

func TestSplitToken(t *testing.T) {
	t.Parallel()

	ticker, yes, err := splitToken("FED-25DEC:yes")
	require.NoError(t, err)
	assert.Equal(t, "FED-25DEC", ticker)
	assert.True(t, yes)

	ticker, yes, err = splitToken("FED-25DEC:no")
	require.NoError(t, err)
	assert.Equal(t, "FED-25DEC", ticker)
	assert.False(t, yes)

	_, _, err = splitToken("FED-25DEC")
	require.Error(t, err)
}

func TestTickersFromDeduplicates(t *testing.T) {
	t.Parallel()

	got := tickersFrom([]string{
		"FED-25DEC:yes", "FED-25DEC:no", "CPI-26JAN:yes", "bogus",
	})
	assert.Equal(t, []string{"FED-25DEC", "CPI-26JAN"}, got)
}
