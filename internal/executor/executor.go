package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aurimasb/safe-trader/internal/exchange"
	"github.com/aurimasb/safe-trader/internal/logger"
	"github.com/aurimasb/safe-trader/internal/metrics"
	"github.com/aurimasb/safe-trader/internal/storage"
	"github.com/aurimasb/safe-trader/internal/telegram"
)

// orderTimeout bounds a single exchange call. No in-flight order is
// cancellable; the caller waits for a terminal result.
const orderTimeout = 15 * time.Second

// Error is a structured execution failure. Stage tells the caller whether
// the exchange call or the ledger transition failed.
type Error struct {
	Op     string
	Stage  string // "precheck", "exchange" or "ledger"
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Symbol, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Executor routes every position mutation for a symbol through one code
// path, serialized per symbol, so open and close can never interleave.
type Executor struct {
	exchange exchange.Exchange
	repo     *storage.Repository
	notifier *telegram.Notifier
	logger   *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(ex exchange.Exchange, repo *storage.Repository, notifier *telegram.Notifier, log *logger.Logger) *Executor {
	return &Executor{
		exchange: ex,
		repo:     repo,
		notifier: notifier,
		logger:   log,
		locks:    make(map[string]*sync.Mutex),
	}
}

// symbolLock returns the serialization mutex for a symbol.
func (e *Executor) symbolLock(symbol string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[symbol] = lock
	}
	return lock
}

// Open buys quoteAmount worth of symbol and records the OPEN row plus its
// trade record in one ledger transaction. If an OPEN row already exists the
// call fails without touching the exchange; if the exchange call fails the
// ledger stays untouched.
func (e *Executor) Open(ctx context.Context, symbol string, quoteAmount, edge, confidence float64) (*exchange.Fill, error) {
	lock := e.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	if quoteAmount <= 0 {
		return nil, &Error{Op: "open", Stage: "precheck", Symbol: symbol,
			Err: fmt.Errorf("quote amount must be positive, got %v", quoteAmount)}
	}

	exists, err := e.repo.HasOpenPosition(symbol)
	if err != nil {
		return nil, &Error{Op: "open", Stage: "ledger", Symbol: symbol, Err: err}
	}
	if exists {
		return nil, &Error{Op: "open", Stage: "precheck", Symbol: symbol, Err: storage.ErrPositionExists}
	}

	price, ok := e.exchange.GetPrice(ctx, symbol)
	if !ok {
		return nil, &Error{Op: "open", Stage: "exchange", Symbol: symbol,
			Err: fmt.Errorf("no price available")}
	}
	qty := quoteAmount / price

	orderCtx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()
	fill, err := e.exchange.ExecuteMarketOrder(orderCtx, symbol, exchange.SideBuy, qty, "SIGNAL BUY", confidence)
	if err != nil {
		e.notifier.NotifyError("OPEN "+symbol, err)
		return nil, &Error{Op: "open", Stage: "exchange", Symbol: symbol, Err: err}
	}

	entryPrice := fill.Price
	if entryPrice <= 0 {
		entryPrice = price
	}
	executedQty := fill.Qty
	if executedQty <= 0 {
		executedQty = qty
	}
	openedAt := fill.Ts
	if openedAt.IsZero() {
		openedAt = time.Now().UTC()
	}

	pos := &storage.Position{
		Symbol:     symbol,
		EntryPrice: entryPrice,
		Qty:        executedQty,
		OpenedAt:   openedAt,
		Confidence: confidence,
		Edge:       edge,
		State:      storage.StateOpen,
	}
	rec := &storage.TradeRecord{
		Ts:         openedAt,
		Event:      storage.EventOpen,
		Symbol:     symbol,
		Price:      entryPrice,
		Qty:        executedQty,
		USDValue:   entryPrice * executedQty,
		Reason:     "SIGNAL BUY",
		Confidence: confidence,
	}
	if err := e.repo.OpenPosition(pos, rec); err != nil {
		// The fill happened; losing it silently is the one unforgivable
		// failure here, so shout before surfacing.
		e.logger.Error("fill executed but ledger open failed",
			"symbol", symbol, "order_id", fill.OrderID, "qty", executedQty, "error", err)
		e.notifier.NotifyError("LEDGER OPEN "+symbol, err)
		return nil, &Error{Op: "open", Stage: "ledger", Symbol: symbol, Err: err}
	}

	metrics.TradesOpened.Inc()
	e.notifier.NotifyOpen(symbol, entryPrice, executedQty, entryPrice*executedQty)
	e.logger.Info("position opened",
		"symbol", symbol, "price", entryPrice, "qty", executedQty,
		"notional", entryPrice*executedQty, "confidence", confidence)
	return fill, nil
}

// Close sells qty of symbol, flips the OPEN row to CLOSED and appends the
// CLOSE trade record atomically. The closed row is retained for audit. On
// exchange failure the position stays OPEN and nothing is written.
func (e *Executor) Close(ctx context.Context, symbol string, qty float64, reason string, entryPrice float64) (*exchange.Fill, error) {
	lock := e.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	pos, err := e.repo.GetOpenPosition(symbol)
	if err != nil {
		return nil, &Error{Op: "close", Stage: "ledger", Symbol: symbol, Err: err}
	}
	if pos == nil {
		return nil, &Error{Op: "close", Stage: "precheck", Symbol: symbol, Err: storage.ErrNoOpenPosition}
	}
	if qty <= 0 {
		qty = pos.Qty
	}
	if entryPrice <= 0 {
		entryPrice = pos.EntryPrice
	}

	orderCtx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()
	fill, err := e.exchange.ExecuteMarketOrder(orderCtx, symbol, exchange.SideSell, qty, reason, pos.Confidence)
	if err != nil {
		e.notifier.NotifyError("CLOSE "+symbol, err)
		return nil, &Error{Op: "close", Stage: "exchange", Symbol: symbol, Err: err}
	}

	closePrice := fill.Price
	executedQty := fill.Qty
	if executedQty <= 0 {
		executedQty = qty
	}
	closedAt := fill.Ts
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	pnlUSDC := (closePrice - entryPrice) * executedQty
	pnlPct := 0.0
	if entryPrice > 0 {
		pnlPct = (closePrice/entryPrice - 1) * 100
	}
	holdSec := closedAt.Sub(pos.OpenedAt).Seconds()

	rec := &storage.TradeRecord{
		Ts:         closedAt,
		Event:      storage.EventClose,
		Symbol:     symbol,
		Price:      closePrice,
		Qty:        executedQty,
		USDValue:   closePrice * executedQty,
		PnlPct:     pnlPct,
		Reason:     reason,
		Confidence: pos.Confidence,
		HoldSec:    holdSec,
	}
	if err := e.repo.ClosePosition(symbol, closedAt, closePrice, pnlPct, pnlUSDC, reason, rec); err != nil {
		e.logger.Error("fill executed but ledger close failed",
			"symbol", symbol, "order_id", fill.OrderID, "qty", executedQty, "error", err)
		e.notifier.NotifyError("LEDGER CLOSE "+symbol, err)
		return nil, &Error{Op: "close", Stage: "ledger", Symbol: symbol, Err: err}
	}

	metrics.TradesClosed.WithLabelValues(reason).Inc()
	e.notifier.NotifyClose(symbol, closePrice, pnlUSDC, pnlPct, reason)
	e.logger.Info("position closed",
		"symbol", symbol, "price", closePrice, "pnl_usdc", pnlUSDC,
		"pnl_pct", pnlPct, "reason", reason)
	return fill, nil
}
