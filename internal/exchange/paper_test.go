package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/logger"
)

func newTestPaper(t *testing.T) *Paper {
	t.Helper()

	cfg := config.Default() // 10000 start capital, 0.0006 taker fee
	return NewPaper(cfg, logger.New("error"))
}

func TestPaper_BuySellBookkeeping(t *testing.T) {
	t.Parallel()
	p := newTestPaper(t)
	p.SetPrice("BTCUSDC", 100)

	buy, err := p.ExecuteMarketOrder(context.Background(), "BTCUSDC", SideBuy, 1, "test", 0.7)
	require.NoError(t, err)

	// Buys fill above the last price, sells below.
	assert.Greater(t, buy.Price, 100.0)
	assert.Greater(t, buy.Fee, 0.0)
	assert.NotEmpty(t, buy.OrderID)

	account, err := p.Account(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10000-buy.Price-buy.Fee, account.FreeCash, 1e-9)
	assert.InDelta(t, 1.0, account.Positions["BTCUSDC"], 1e-12)

	sell, err := p.ExecuteMarketOrder(context.Background(), "BTCUSDC", SideSell, 1, "test", 0)
	require.NoError(t, err)
	assert.Less(t, sell.Price, 100.0)

	account, err = p.Account(context.Background())
	require.NoError(t, err)
	assert.Empty(t, account.Positions)
	// The round trip costs the spread crossing plus two fees.
	assert.Less(t, account.FreeCash, 10000.0)
}

func TestPaper_InsufficientCash(t *testing.T) {
	t.Parallel()
	p := newTestPaper(t)
	p.SetPrice("BTCUSDC", 100)

	_, err := p.ExecuteMarketOrder(context.Background(), "BTCUSDC", SideBuy, 200, "test", 0)
	assert.Error(t, err)

	account, err := p.Account(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10000.0, account.FreeCash, 1e-9)
	assert.Empty(t, account.Positions)
}

func TestPaper_InsufficientQty(t *testing.T) {
	t.Parallel()
	p := newTestPaper(t)
	p.SetPrice("BTCUSDC", 100)

	_, err := p.ExecuteMarketOrder(context.Background(), "BTCUSDC", SideSell, 1, "test", 0)
	assert.Error(t, err)
}

func TestPaper_OrderValidation(t *testing.T) {
	t.Parallel()
	p := newTestPaper(t)
	p.SetPrice("BTCUSDC", 100)

	_, err := p.ExecuteMarketOrder(context.Background(), "BTCUSDC", SideBuy, 0, "test", 0)
	assert.Error(t, err)

	_, err = p.ExecuteMarketOrder(context.Background(), "BTCUSDC", "SHORT", 1, "test", 0)
	assert.Error(t, err)

	_, err = p.ExecuteMarketOrder(context.Background(), "NOPRICE", SideBuy, 1, "test", 0)
	assert.Error(t, err)
}

func TestPaper_GetPrice(t *testing.T) {
	t.Parallel()
	p := newTestPaper(t)

	_, ok := p.GetPrice(context.Background(), "BTCUSDC")
	assert.False(t, ok)

	p.SetPrice("BTCUSDC", 100)
	price, ok := p.GetPrice(context.Background(), "BTCUSDC")
	assert.True(t, ok)
	assert.InDelta(t, 100.0, price, 1e-9)

	// A zeroed price reads as unavailable, not as zero.
	p.SetPrice("BTCUSDC", 0)
	_, ok = p.GetPrice(context.Background(), "BTCUSDC")
	assert.False(t, ok)
}

func TestPaper_ClearPosition(t *testing.T) {
	t.Parallel()
	p := newTestPaper(t)
	p.SetPrice("BTCUSDC", 100)

	_, err := p.ExecuteMarketOrder(context.Background(), "BTCUSDC", SideBuy, 1, "test", 0)
	require.NoError(t, err)

	p.ClearPosition("BTCUSDC")

	account, err := p.Account(context.Background())
	require.NoError(t, err)
	assert.Empty(t, account.Positions)
}

func TestPaper_OrderbookAndStats(t *testing.T) {
	t.Parallel()
	p := newTestPaper(t)

	_, err := p.GetOrderbookTop(context.Background(), "BTCUSDC")
	assert.Error(t, err)

	top := &OrderbookTop{
		Bids: []Level{{Price: 99.9, Qty: 5}},
		Asks: []Level{{Price: 100.1, Qty: 5}},
	}
	p.SetOrderbook("BTCUSDC", top)
	got, err := p.GetOrderbookTop(context.Background(), "BTCUSDC")
	require.NoError(t, err)
	assert.Equal(t, top, got)

	p.SetStats(TickerStats{Symbol: "BTCUSDC", QuoteVolume: 1_000_000})
	stats, err := p.Stats24h(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "BTCUSDC", stats[0].Symbol)
}
