package sanitizer

import (
	"context"
	"fmt"
	"time"

	"github.com/aurimasb/safe-trader/internal/exchange"
	"github.com/aurimasb/safe-trader/internal/logger"
	"github.com/aurimasb/safe-trader/internal/storage"
	"github.com/aurimasb/safe-trader/internal/telegram"
)

const dustQty = 1e-12

// positionClearer is implemented by exchanges whose execution-side holdings
// can be dropped locally (the paper venue).
type positionClearer interface {
	ClearPosition(symbol string)
}

// Sanitizer reconciles the execution-side view of open positions with the
// ledger. It repairs only the direction that is safe to repair: a holding
// the ledger knows nothing about is cleared; a ledger row with no backing
// holding is reported but left alone, because entry price and time cannot
// be guessed.
type Sanitizer struct {
	exchange exchange.Exchange
	repo     *storage.Repository
	notifier *telegram.Notifier
	logger   *logger.Logger

	interval time.Duration
	lastRun  time.Time
}

func New(ex exchange.Exchange, repo *storage.Repository, notifier *telegram.Notifier, interval time.Duration, log *logger.Logger) *Sanitizer {
	return &Sanitizer{
		exchange: ex,
		repo:     repo,
		notifier: notifier,
		interval: interval,
		logger:   log,
	}
}

// MaybeRun reconciles at most once per interval.
func (s *Sanitizer) MaybeRun(ctx context.Context) {
	now := time.Now()
	if now.Sub(s.lastRun) < s.interval {
		return
	}
	s.lastRun = now

	if err := s.runOnce(ctx); err != nil {
		s.logger.Error("sanitizer pass failed", "error", err)
	}
}

func (s *Sanitizer) runOnce(ctx context.Context) error {
	account, err := s.exchange.Account(ctx)
	if err != nil {
		return fmt.Errorf("fetch account view: %w", err)
	}

	open, err := s.repo.GetOpenPositions()
	if err != nil {
		return fmt.Errorf("fetch open positions: %w", err)
	}
	ledger := make(map[string]float64, len(open))
	for _, pos := range open {
		ledger[pos.Symbol] = pos.Qty
	}

	// Execution side holds something the ledger does not: clear and warn.
	clearer, canClear := s.exchange.(positionClearer)
	for symbol, qty := range account.Positions {
		if qty <= dustQty {
			continue
		}
		if _, ok := ledger[symbol]; ok {
			continue
		}
		msg := fmt.Sprintf("dangling holding %s qty=%.8f with no open ledger row", symbol, qty)
		s.logger.Warn("sanitizer: "+msg, "symbol", symbol, "qty", qty)
		s.notifier.Notify(msg, "sanitizer")
		if canClear {
			clearer.ClearPosition(symbol)
		}
	}

	// Ledger row with no execution-side backing: warn only, never repair.
	for symbol, qty := range ledger {
		if held := account.Positions[symbol]; held > dustQty {
			continue
		}
		msg := fmt.Sprintf("ledger shows %s OPEN qty=%.8f but execution side holds none, check registration", symbol, qty)
		s.logger.Warn("sanitizer: "+msg, "symbol", symbol)
		s.notifier.Notify(msg, "sanitizer")
	}

	return nil
}
