package exchange

import (
	"context"
	"time"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Level is one orderbook price level.
type Level struct {
	Price float64
	Qty   float64
}

// OrderbookTop carries the best bid/ask and the top depth levels of both sides.
type OrderbookTop struct {
	Bid  float64
	Ask  float64
	Mid  float64
	Bids []Level
	Asks []Level
}

// Rules are the venue's lot and notional constraints for a symbol.
type Rules struct {
	StepSize    float64
	TickSize    float64
	MinQty      float64
	MinNotional float64
}

// Fill is the terminal result of a market order.
type Fill struct {
	OrderID string
	Symbol  string
	Side    string
	Price   float64
	Qty     float64
	Fee     float64
	Ts      time.Time
}

// TickerStats is a symbol's rolling 24h activity, used for universe selection.
type TickerStats struct {
	Symbol         string
	QuoteVolume    float64
	PriceChangePct float64
	TradeCount     int64
}

// AccountView is the execution-side picture of holdings. The sanitizer
// reconciles it against the ledger.
type AccountView struct {
	FreeCash  float64
	Positions map[string]float64 // symbol -> base qty
}

// Exchange is the venue collaborator. Calls may block on I/O and honor ctx.
type Exchange interface {
	GetPrice(ctx context.Context, symbol string) (float64, bool)
	GetOrderbookTop(ctx context.Context, symbol string) (*OrderbookTop, error)
	GetRules(symbol string) Rules
	ExecuteMarketOrder(ctx context.Context, symbol, side string, qty float64, reason string, confidence float64) (*Fill, error)
	Stats24h(ctx context.Context) ([]TickerStats, error)
	Account(ctx context.Context) (*AccountView, error)
}
