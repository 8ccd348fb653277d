package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/logger"
)

// paperSlipBps is the simulated adverse move applied to market fills.
const paperSlipBps = 5.0

// Paper simulates the venue in process: fills at the live price shifted by a
// fixed slippage, taker fee deducted, cash and holdings tracked locally.
// Prices, books and stats are pushed in by the market-data client.
type Paper struct {
	mu        sync.RWMutex
	prices    map[string]float64
	books     map[string]*OrderbookTop
	stats     map[string]TickerStats
	rules     map[string]Rules
	freeCash  float64
	positions map[string]float64
	feeTaker  float64
	logger    *logger.Logger
}

func NewPaper(cfg *config.Config, log *logger.Logger) *Paper {
	return &Paper{
		prices:    make(map[string]float64),
		books:     make(map[string]*OrderbookTop),
		stats:     make(map[string]TickerStats),
		rules:     make(map[string]Rules),
		freeCash:  cfg.Exchange.StartCapital,
		positions: make(map[string]float64),
		feeTaker:  cfg.Exchange.FeeTaker,
		logger:    log,
	}
}

// SetPrice feeds a last price; market-data ingestion lives outside the core.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

func (p *Paper) SetOrderbook(symbol string, top *OrderbookTop) {
	p.mu.Lock()
	p.books[symbol] = top
	p.mu.Unlock()
}

func (p *Paper) SetStats(stats TickerStats) {
	p.mu.Lock()
	p.stats[stats.Symbol] = stats
	p.mu.Unlock()
}

func (p *Paper) SetRules(symbol string, r Rules) {
	p.mu.Lock()
	p.rules[symbol] = r
	p.mu.Unlock()
}

func (p *Paper) GetPrice(_ context.Context, symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[symbol]
	return price, ok && price > 0
}

func (p *Paper) GetOrderbookTop(_ context.Context, symbol string) (*OrderbookTop, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	top, ok := p.books[symbol]
	if !ok {
		return nil, fmt.Errorf("no orderbook for %s", symbol)
	}
	return top, nil
}

func (p *Paper) GetRules(symbol string) Rules {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rules[symbol]
}

func (p *Paper) Stats24h(_ context.Context) ([]TickerStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]TickerStats, 0, len(p.stats))
	for _, s := range p.stats {
		out = append(out, s)
	}
	return out, nil
}

func (p *Paper) Account(_ context.Context) (*AccountView, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	positions := make(map[string]float64, len(p.positions))
	for sym, qty := range p.positions {
		positions[sym] = qty
	}
	return &AccountView{FreeCash: p.freeCash, Positions: positions}, nil
}

// ClearPosition drops the execution-side holding for symbol. Used by the
// sanitizer when the ledger shows nothing open.
func (p *Paper) ClearPosition(symbol string) {
	p.mu.Lock()
	delete(p.positions, symbol)
	p.mu.Unlock()
}

func (p *Paper) ExecuteMarketOrder(ctx context.Context, symbol, side string, qty float64, reason string, confidence float64) (*Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, fmt.Errorf("qty must be positive, got %v", qty)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("no price for %s", symbol)
	}

	// Market orders cross the spread; shift the fill against the taker.
	var fillPrice float64
	switch side {
	case SideBuy:
		fillPrice = price * (1 + paperSlipBps/10000)
	case SideSell:
		fillPrice = price * (1 - paperSlipBps/10000)
	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}

	notional := fillPrice * qty
	fee := notional * p.feeTaker

	switch side {
	case SideBuy:
		if p.freeCash < notional+fee {
			return nil, fmt.Errorf("insufficient cash: have %.2f, need %.2f", p.freeCash, notional+fee)
		}
		p.freeCash -= notional + fee
		p.positions[symbol] += qty
	case SideSell:
		held := p.positions[symbol]
		if held < qty {
			return nil, fmt.Errorf("insufficient qty for %s: have %v, need %v", symbol, held, qty)
		}
		p.freeCash += notional - fee
		remaining := held - qty
		if remaining <= 1e-12 {
			delete(p.positions, symbol)
		} else {
			p.positions[symbol] = remaining
		}
	}

	fill := &Fill{
		OrderID: uuid.NewString(),
		Symbol:  symbol,
		Side:    side,
		Price:   fillPrice,
		Qty:     qty,
		Fee:     fee,
		Ts:      time.Now().UTC(),
	}
	p.logger.Debug("paper fill",
		"symbol", symbol, "side", side, "qty", qty,
		"price", fillPrice, "fee", fee, "reason", reason, "confidence", confidence)
	return fill, nil
}
