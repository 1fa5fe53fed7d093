package polymarket

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mselser95/prediction-arb/pkg/types"
)

func TestParseBookSnapshot(t *testing.T) {
	t.Parallel()

	raw := []byte(`[{
		"event_type":"book",
		"asset_id":"7145",
		"market":"0xcond",
		"timestamp":"1700000001000",
		"hash":"abc",
		"bids":[{"price":"0.48","size":"120"},{"price":"0.47","size":"60"}],
		"asks":[{"price":"0.52","size":"80"}]
	}]`)

	now := time.Now()
	updates, err := parseFrame(raw, now)
	require.NoError(t, err)
	require.Len(t, updates, 1)

	update := updates[0]
	assert.Equal(t, types.VenuePolymarket, update.Venue)
	assert.Equal(t, "7145", update.TokenID)
	assert.Equal(t, uint64(1700000001000), update.Seq)
	assert.True(t, update.IsSnapshot)
	assert.Equal(t, now, update.ReceivedAt)

	require.Len(t, update.Bids, 2)
	assert.True(t, update.Bids[0].Price.Equal(decimal.RequireFromString("0.48")))
	assert.True(t, update.Bids[0].Size.Equal(decimal.RequireFromString("120")))
	require.Len(t, update.Asks, 1)
	assert.True(t, update.Asks[0].Price.Equal(decimal.RequireFromString("0.52")))
}

func TestParsePriceChangeWithChangesArray(t *testing.T) {
	t.Parallel()

	raw := []byte(`[{
		"event_type":"price_change",
		"asset_id":"7145",
		"market":"0xcond",
		"timestamp":"1700000002000",
		"changes":[
			{"price":"0.48","side":"BUY","size":"0"},
			{"price":"0.53","side":"SELL","size":"40"}
		]
	}]`)

	updates, err := parseFrame(raw, time.Now())
	require.NoError(t, err)
	require.Len(t, updates, 1)

	update := updates[0]
	assert.False(t, update.IsSnapshot)
	require.Len(t, update.Bids, 1)
	assert.True(t, update.Bids[0].Size.IsZero(), "BUY change lands on bids")
	require.Len(t, update.Asks, 1)
	assert.True(t, update.Asks[0].Price.Equal(decimal.RequireFromString("0.53")))
}

func TestParsePriceChangeLegacyShape(t *testing.T) {
	t.Parallel()

	raw := []byte(`[{
		"event_type":"price_change",
		"asset_id":"7145",
		"timestamp":"1700000003000",
		"bids":[{"price":"0.49","size":"25"}]
	}]`)

	updates, err := parseFrame(raw, time.Now())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Len(t, updates[0].Bids, 1)
	assert.True(t, updates[0].Bids[0].Price.Equal(decimal.RequireFromString("0.49")))
	assert.Empty(t, updates[0].Asks)
}

func TestParseBatchKeepsOrder(t *testing.T) {
	t.Parallel()

	raw := []byte(`[
		{"event_type":"book","asset_id":"a1","timestamp":"100","bids":[{"price":"0.4","size":"1"}]},
		{"event_type":"last_trade_price","asset_id":"a1","timestamp":"101"},
		{"event_type":"price_change","asset_id":"a2","timestamp":"102","changes":[{"price":"0.6","side":"SELL","size":"5"}]}
	]`)

	updates, err := parseFrame(raw, time.Now())
	require.NoError(t, err)
	require.Len(t, updates, 2, "non-book events skipped")
	assert.Equal(t, "a1", updates[0].TokenID)
	assert.Equal(t, "a2", updates[1].TokenID)
}

func TestParseControlAndHeartbeatFrames(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`{"type":"subscribed"}`,
		`[]`,
	} {
		updates, err := parseFrame([]byte(raw), time.Now())
		require.NoError(t, err, "frame %s", raw)
		assert.Empty(t, updates)
	}
}

func TestParseRejectsMalformedLevels(t *testing.T) {
	t.Parallel()

	raw := []byte(`[{
		"event_type":"book",
		"asset_id":"7145",
		"timestamp":"1700000001000",
		"bids":[{"price":"not-a-number","size":"10"}]
	}]`)

	_, err := parseFrame(raw, time.Now())
	require.Error(t, err)
}

func TestParseQuantizesPrecision(t *testing.T) {
	t.Parallel()

	raw := []byte(`[{
		"event_type":"book",
		"asset_id":"7145",
		"timestamp":"1",
		"bids":[{"price":"0.123456789","size":"10.123456789"}]
	}]`)

	updates, err := parseFrame(raw, time.Now())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Len(t, updates[0].Bids, 1)
	assert.True(t, updates[0].Bids[0].Price.Equal(decimal.RequireFromString("0.123457")),
		"price rounds to %d places", types.PricePrecision)
	assert.True(t, updates[0].Bids[0].Size.Equal(decimal.RequireFromString("10.1235")),
		"size rounds to %d places", types.SizePrecision)
}
