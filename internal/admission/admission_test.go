package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/exchange"
	"github.com/aurimasb/safe-trader/internal/logger"
)

func newController(t *testing.T, mutate func(*config.Config)) *Controller {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg, logger.New("error"))
}

func f(v float64) *float64 { return &v }

// tightBook passes every microstructure check with the default config:
// ~5 bps spread, deep top levels, no slippage for a small order.
func tightBook() *exchange.OrderbookTop {
	return &exchange.OrderbookTop{
		Bids: []exchange.Level{{Price: 99.95, Qty: 50}},
		Asks: []exchange.Level{{Price: 100.0, Qty: 50}, {Price: 100.1, Qty: 50}},
	}
}

func validCtx() EntryContext {
	return EntryContext{
		Symbol:        "BTCUSDC",
		Side:          exchange.SideBuy,
		Price:         100,
		QuoteBalance:  10000,
		QuotePerTrade: 100,
		Confidence:    f(0.7),
		EdgePct:       f(0.002),
		Orderbook:     tightBook(),
		Rules:         exchange.Rules{StepSize: 0.001, MinNotional: 10, MinQty: 0.0001},
	}
}

func TestWalkAsks_WorstPriceAcrossLevels(t *testing.T) {
	t.Parallel()

	asks := []exchange.Level{
		{Price: 100, Qty: 1},
		{Price: 101, Qty: 2},
	}
	filled, worst := WalkAsks(asks, 150, 0)

	// 100 fills at the first level, the remaining 50 walks into the second.
	assert.InDelta(t, 150.0, filled, 1e-9)
	assert.InDelta(t, 101.0, worst, 1e-9)
}

func TestWalkAsks_FeeReducesFilled(t *testing.T) {
	t.Parallel()

	asks := []exchange.Level{{Price: 100, Qty: 10}}
	filled, worst := WalkAsks(asks, 200, 0.001)

	assert.InDelta(t, 200*0.999, filled, 1e-9)
	assert.InDelta(t, 100.0, worst, 1e-9)
}

func TestWalkAsks_LadderExhausted(t *testing.T) {
	t.Parallel()

	asks := []exchange.Level{{Price: 100, Qty: 1}}
	filled, worst := WalkAsks(asks, 500, 0)

	assert.InDelta(t, 100.0, filled, 1e-9)
	assert.InDelta(t, 100.0, worst, 1e-9)
}

func TestTopLiquidity(t *testing.T) {
	t.Parallel()

	levels := []exchange.Level{
		{Price: 100, Qty: 1},
		{Price: 101, Qty: 1},
		{Price: 102, Qty: 1},
	}
	assert.InDelta(t, 201.0, TopLiquidity(levels, 2), 1e-9)
	assert.InDelta(t, 303.0, TopLiquidity(levels, 10), 1e-9)
}

func TestValidate_Allowed(t *testing.T) {
	t.Parallel()
	c := newController(t, nil)

	res := c.Validate(validCtx())

	require.True(t, res.Allowed)
	assert.Equal(t, ReasonOK, res.Reason)
	assert.InDelta(t, 1.0, res.SizeMult, 1e-9)
	assert.InDelta(t, 1.0, res.Qty, 1e-9) // 100 quote / 100 price, step 0.001
	assert.InDelta(t, 100.0, res.Notional, 1e-9)
}

func TestValidate_ReasonCodes(t *testing.T) {
	t.Parallel()
	c := newController(t, nil)

	tests := []struct {
		name   string
		mutate func(*EntryContext)
		want   string
	}{
		{"missing symbol", func(ctx *EntryContext) { ctx.Symbol = "" }, ReasonInvalidCtx},
		{"zero price", func(ctx *EntryContext) { ctx.Price = 0 }, ReasonInvalidPrice},
		{"low confidence", func(ctx *EntryContext) { ctx.Confidence = f(0.40) }, ReasonConfidenceTooLow},
		{"low edge", func(ctx *EntryContext) { ctx.EdgePct = f(0.0001) }, ReasonEdgeTooLow},
		{"no orderbook", func(ctx *EntryContext) { ctx.Orderbook = nil }, ReasonNoOrderbook},
		{"crossed book", func(ctx *EntryContext) {
			ctx.Orderbook = &exchange.OrderbookTop{
				Bids: []exchange.Level{{Price: 101, Qty: 1}},
				Asks: []exchange.Level{{Price: 100, Qty: 1}},
			}
		}, ReasonInvalidBBO},
		{"wide spread", func(ctx *EntryContext) {
			ctx.Orderbook = &exchange.OrderbookTop{
				Bids: []exchange.Level{{Price: 99, Qty: 50}},
				Asks: []exchange.Level{{Price: 101, Qty: 50}},
			}
		}, ReasonSpreadTooWide},
		{"thin book", func(ctx *EntryContext) {
			ctx.Orderbook = &exchange.OrderbookTop{
				Bids: []exchange.Level{{Price: 99.95, Qty: 1}},
				Asks: []exchange.Level{{Price: 100, Qty: 1}},
			}
		}, ReasonLiquidityTooLow},
		{"slippage", func(ctx *EntryContext) {
			// First level covers only a sliver; the rest walks 1% up the book.
			ctx.Orderbook = &exchange.OrderbookTop{
				Bids: []exchange.Level{{Price: 99.95, Qty: 50}},
				Asks: []exchange.Level{{Price: 100, Qty: 0.1}, {Price: 101, Qty: 50}},
			}
		}, ReasonSlippageTooHigh},
		{"below min notional", func(ctx *EntryContext) {
			ctx.QuotePerTrade = 5
			ctx.Rules.MinNotional = 10
		}, ReasonMinNotional},
		{"below min qty", func(ctx *EntryContext) {
			ctx.Rules.MinNotional = 0
			ctx.Rules.MinQty = 5
		}, ReasonMinQty},
		{"qty rounds to zero", func(ctx *EntryContext) {
			ctx.Rules = exchange.Rules{StepSize: 10}
		}, ReasonQtyZero},
		{"total exposure", func(ctx *EntryContext) { ctx.TotalExposurePct = 80 }, ReasonTotalExposureLimit},
		{"asset exposure", func(ctx *EntryContext) { ctx.PerAssetExposurePct = 30 }, ReasonAssetExposureLimit},
		{"no cash", func(ctx *EntryContext) { ctx.QuoteBalance = 50 }, ReasonNoCash},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := validCtx()
			tt.mutate(&ctx)

			res := c.Validate(ctx)

			assert.False(t, res.Allowed)
			assert.Equal(t, tt.want, res.Reason)
		})
	}
}

func TestValidate_NilOptionalInputsSkipFilters(t *testing.T) {
	t.Parallel()
	c := newController(t, nil)

	ctx := validCtx()
	ctx.Confidence = nil
	ctx.EdgePct = nil
	ctx.RSI = nil

	res := c.Validate(ctx)
	assert.True(t, res.Allowed)
}

func TestValidate_RSIFilter(t *testing.T) {
	t.Parallel()
	c := newController(t, func(cfg *config.Config) {
		cfg.Admission.RSIFilterEnabled = true
	})

	ctx := validCtx()
	ctx.RSI = f(80)
	res := c.Validate(ctx)
	assert.Equal(t, ReasonRSIOutOfRange, res.Reason)

	ctx.RSI = f(60)
	res = c.Validate(ctx)
	assert.True(t, res.Allowed)

	// Filter disabled ignores the value entirely.
	off := newController(t, nil)
	ctx.RSI = f(80)
	assert.True(t, off.Validate(ctx).Allowed)
}

func TestValidate_CapitalRecoveryDerate(t *testing.T) {
	t.Parallel()
	c := newController(t, nil)

	ctx := validCtx()
	ctx.RecentLossPct = f(-6) // past the 5% recovery threshold

	res := c.Validate(ctx)
	require.True(t, res.Allowed)
	assert.InDelta(t, 0.5, res.SizeMult, 1e-9)
	// Notional shrinks with the derate.
	assert.InDelta(t, 50.0, res.Notional, 1e-6)

	// A smaller loss does not derate.
	ctx.RecentLossPct = f(-2)
	res = c.Validate(ctx)
	require.True(t, res.Allowed)
	assert.InDelta(t, 1.0, res.SizeMult, 1e-9)
}
