package admission

import (
	"math"

	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/exchange"
	"github.com/aurimasb/safe-trader/internal/logger"
)

// Rejection reason codes. Stable: callers and dashboards key off them.
const (
	ReasonOK                 = "OK"
	ReasonInvalidCtx         = "INVALID_CTX"
	ReasonInvalidPrice       = "INVALID_PRICE"
	ReasonConfidenceTooLow   = "CONFIDENCE_TOO_LOW"
	ReasonEdgeTooLow         = "EDGE_TOO_LOW"
	ReasonRSIOutOfRange      = "RSI_OUT_OF_RANGE"
	ReasonNoOrderbook        = "NO_ORDERBOOK"
	ReasonInvalidBBO         = "INVALID_BBO"
	ReasonSpreadTooWide      = "SPREAD_TOO_WIDE"
	ReasonLiquidityTooLow    = "LIQUIDITY_TOO_LOW"
	ReasonSlippageTooHigh    = "SLIPPAGE_TOO_HIGH"
	ReasonMinNotional        = "MIN_NOTIONAL"
	ReasonMinQty             = "MIN_QTY"
	ReasonQtyZero            = "QTY_ZERO"
	ReasonTotalExposureLimit = "TOTAL_EXPOSURE_LIMIT"
	ReasonAssetExposureLimit = "ASSET_EXPOSURE_LIMIT"
	ReasonNoCash             = "NO_CASH"
)

// EntryContext carries everything Validate needs about a candidate entry.
// Optional inputs are pointers; a nil pointer skips that filter.
type EntryContext struct {
	Symbol        string
	Side          string
	Price         float64
	QuoteBalance  float64
	QuotePerTrade float64

	Confidence *float64
	EdgePct    *float64
	RSI        *float64

	TotalExposurePct    float64
	PerAssetExposurePct float64
	RecentLossPct       *float64

	Orderbook *exchange.OrderbookTop
	Rules     exchange.Rules
}

// Result of an admission decision. SizeMult is the capital-recovery derate
// later stages must apply; Qty and Notional are lot-normalized.
type Result struct {
	Allowed  bool
	Reason   string
	SizeMult float64
	Qty      float64
	Notional float64
	Details  map[string]any
}

// Controller gates candidate entries using signal quality, microstructure and
// portfolio limits. Ordering is fail-fast: cheap local checks run before the
// ones that need market data.
type Controller struct {
	cfg    config.AdmissionConfig
	fee    float64
	logger *logger.Logger
}

func New(cfg *config.Config, log *logger.Logger) *Controller {
	return &Controller{
		cfg:    cfg.Admission,
		fee:    cfg.Exchange.FeeTaker,
		logger: log,
	}
}

// Validate never returns an error: every rejection path produces a stable
// reason code instead.
func (c *Controller) Validate(ctx EntryContext) Result {
	// 1. Structural validity.
	if ctx.Symbol == "" || ctx.Side == "" {
		return c.reject(ctx, ReasonInvalidCtx, map[string]any{"symbol": ctx.Symbol, "side": ctx.Side})
	}
	if ctx.Price <= 0 || math.IsNaN(ctx.Price) || math.IsInf(ctx.Price, 0) {
		return c.reject(ctx, ReasonInvalidPrice, map[string]any{"price": ctx.Price})
	}

	// 2. Capital-recovery derate. Shrinks later stages, never rejects.
	sizeMult := 1.0
	if ctx.RecentLossPct != nil && *ctx.RecentLossPct <= -math.Abs(c.cfg.CapitalRecoveryPct) {
		sizeMult = c.cfg.CapitalRecoveryMult
	}

	// 3. Signal-quality filters.
	if ctx.Confidence != nil && *ctx.Confidence < c.cfg.ConfidenceThreshold {
		return c.reject(ctx, ReasonConfidenceTooLow,
			map[string]any{"confidence": *ctx.Confidence, "threshold": c.cfg.ConfidenceThreshold})
	}
	if ctx.EdgePct != nil && *ctx.EdgePct < c.cfg.EdgeMinPct {
		return c.reject(ctx, ReasonEdgeTooLow,
			map[string]any{"edge_pct": *ctx.EdgePct, "min_edge": c.cfg.EdgeMinPct})
	}
	if c.cfg.RSIFilterEnabled && ctx.RSI != nil && (*ctx.RSI < c.cfg.RSIMin || *ctx.RSI > c.cfg.RSIMax) {
		return c.reject(ctx, ReasonRSIOutOfRange, map[string]any{"rsi": *ctx.RSI})
	}

	// 4-5. Orderbook sanity and slippage.
	obReason, obDetails := c.checkOrderbook(ctx)
	if obReason != ReasonOK {
		return c.reject(ctx, obReason, obDetails)
	}

	// 6. Lot normalization.
	qty, notional, lotReason, lotDetails := c.normalizeLot(ctx, sizeMult)
	if lotReason != ReasonOK {
		return c.reject(ctx, lotReason, lotDetails)
	}

	// 7. Exposure and cash.
	expReason, expDetails := c.checkExposure(ctx, sizeMult)
	if expReason != ReasonOK {
		return c.reject(ctx, expReason, expDetails)
	}

	details := map[string]any{"size_mult": sizeMult}
	for k, v := range obDetails {
		details[k] = v
	}
	for k, v := range lotDetails {
		details[k] = v
	}
	for k, v := range expDetails {
		details[k] = v
	}
	return Result{
		Allowed:  true,
		Reason:   ReasonOK,
		SizeMult: sizeMult,
		Qty:      qty,
		Notional: notional,
		Details:  details,
	}
}

func (c *Controller) checkOrderbook(ctx EntryContext) (string, map[string]any) {
	ob := ctx.Orderbook
	if ob == nil || len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return ReasonNoOrderbook, map[string]any{"symbol": ctx.Symbol}
	}

	bestBid := ob.Bids[0].Price
	bestAsk := ob.Asks[0].Price
	if bestAsk <= 0 || bestBid <= 0 || bestAsk <= bestBid {
		return ReasonInvalidBBO, map[string]any{"bid": bestBid, "ask": bestAsk}
	}

	mid := (bestBid + bestAsk) / 2
	spreadBps := (bestAsk - bestBid) / mid * 10000
	if spreadBps > c.cfg.MaxSpreadBps {
		return ReasonSpreadTooWide, map[string]any{"spread_bps": spreadBps}
	}

	topLiq := TopLiquidity(ob.Asks, c.cfg.DepthLevels)
	if topLiq < c.cfg.MinLiquidityUSDC {
		return ReasonLiquidityTooLow, map[string]any{"top_liq_usdc": topLiq}
	}

	_, worstPx := WalkAsks(ob.Asks, ctx.QuotePerTrade, c.fee)
	slipBps := (worstPx - bestAsk) / bestAsk * 10000
	if slipBps > c.cfg.MaxSlippageBps {
		return ReasonSlippageTooHigh, map[string]any{"slip_bps": slipBps}
	}

	return ReasonOK, map[string]any{
		"best_bid":     bestBid,
		"best_ask":     bestAsk,
		"spread_bps":   spreadBps,
		"slip_bps":     slipBps,
		"top_liq_usdc": topLiq,
	}
}

func (c *Controller) normalizeLot(ctx EntryContext, sizeMult float64) (float64, float64, string, map[string]any) {
	quote := ctx.QuotePerTrade * sizeMult
	qty := quote / ctx.Price
	if ctx.Rules.StepSize > 0 {
		qty = math.Floor(qty/ctx.Rules.StepSize) * ctx.Rules.StepSize
	}
	price := ctx.Price
	if ctx.Rules.TickSize > 0 {
		price = math.Floor(price/ctx.Rules.TickSize) * ctx.Rules.TickSize
	}
	notional := qty * price

	if ctx.Rules.MinNotional > 0 && notional < ctx.Rules.MinNotional {
		return 0, 0, ReasonMinNotional, map[string]any{"notional": notional}
	}
	if ctx.Rules.MinQty > 0 && qty < ctx.Rules.MinQty {
		return 0, 0, ReasonMinQty, map[string]any{"qty": qty}
	}
	if qty <= 0 {
		return 0, 0, ReasonQtyZero, map[string]any{"qty": qty}
	}
	return qty, notional, ReasonOK, map[string]any{"qty": qty, "notional": notional}
}

func (c *Controller) checkExposure(ctx EntryContext, sizeMult float64) (string, map[string]any) {
	if ctx.TotalExposurePct > c.cfg.MaxTotalExposurePct {
		return ReasonTotalExposureLimit, map[string]any{"total_exposure_pct": ctx.TotalExposurePct}
	}
	if ctx.PerAssetExposurePct > c.cfg.MaxPerAssetPct {
		return ReasonAssetExposureLimit, map[string]any{"asset_exposure_pct": ctx.PerAssetExposurePct}
	}
	need := ctx.QuotePerTrade * sizeMult
	if ctx.QuoteBalance < need {
		return ReasonNoCash, map[string]any{"have": ctx.QuoteBalance, "need": need}
	}
	return ReasonOK, map[string]any{
		"total_exposure_pct": ctx.TotalExposurePct,
		"asset_exposure_pct": ctx.PerAssetExposurePct,
	}
}

func (c *Controller) reject(ctx EntryContext, reason string, details map[string]any) Result {
	c.logger.Debug("entry blocked", "symbol", ctx.Symbol, "reason", reason)
	return Result{Allowed: false, Reason: reason, Details: details}
}

// WalkAsks consumes the ask ladder against targetQuote (net of the taker
// fee) and returns the filled notional and the worst price level touched.
// Deterministic: same ladder and target always produce the same result.
func WalkAsks(asks []exchange.Level, targetQuote, fee float64) (filledQuote, worstPx float64) {
	remaining := targetQuote
	for _, lv := range asks {
		levelQuote := lv.Price * lv.Qty
		take := math.Min(levelQuote, remaining)
		filledQuote += take * (1 - fee)
		worstPx = lv.Price
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	return filledQuote, worstPx
}

// TopLiquidity sums price*qty over the top depth levels of one book side.
func TopLiquidity(levels []exchange.Level, depth int) float64 {
	if depth > len(levels) {
		depth = len(levels)
	}
	var total float64
	for _, lv := range levels[:depth] {
		total += lv.Price * lv.Qty
	}
	return total
}
