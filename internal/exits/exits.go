package exits

import (
	"context"
	"time"

	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/exchange"
	"github.com/aurimasb/safe-trader/internal/executor"
	"github.com/aurimasb/safe-trader/internal/logger"
	"github.com/aurimasb/safe-trader/internal/storage"
)

// Close reasons, first match wins in this order.
const (
	ReasonStopLoss   = "Stop Loss"
	ReasonTakeProfit = "Take Profit"
	ReasonHoldLimit  = "Hold limit"
)

// Manager scans open positions each tick and triggers closes on rule breach.
// A position is OPEN until closed, terminally; there is no reopen.
type Manager struct {
	cfg      config.ExitsConfig
	exchange exchange.Exchange
	exec     *executor.Executor
	repo     *storage.Repository
	logger   *logger.Logger
}

func New(cfg *config.Config, ex exchange.Exchange, exec *executor.Executor, repo *storage.Repository, log *logger.Logger) *Manager {
	return &Manager{
		cfg:      cfg.Exits,
		exchange: ex,
		exec:     exec,
		repo:     repo,
		logger:   log,
	}
}

// CheckExits evaluates every open position once and returns how many were
// closed. A failure closing one position never blocks the rest, and a
// missing price skips that position until the next tick.
func (m *Manager) CheckExits(ctx context.Context, prices map[string]float64) int {
	positions, err := m.repo.GetOpenPositions()
	if err != nil {
		m.logger.Error("fetch open positions", "error", err)
		return 0
	}

	now := time.Now().UTC()
	closed := 0
	for _, pos := range positions {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			price, ok = m.exchange.GetPrice(ctx, pos.Symbol)
		}
		if !ok || price <= 0 {
			// Stale or missing data never force-closes; retry next tick.
			m.logger.Debug("no price, skipping exit check", "symbol", pos.Symbol)
			continue
		}

		reason := m.evaluate(pos, price, now)
		if reason == "" {
			continue
		}

		if _, err := m.exec.Close(ctx, pos.Symbol, pos.Qty, reason, pos.EntryPrice); err != nil {
			m.logger.Error("close failed", "symbol", pos.Symbol, "reason", reason, "error", err)
			continue
		}
		closed++
	}
	return closed
}

// evaluate returns the close reason for a breached rule, or "" to hold.
func (m *Manager) evaluate(pos storage.Position, price float64, now time.Time) string {
	pnlPct := (price/pos.EntryPrice - 1) * 100
	heldSec := now.Sub(pos.OpenedAt).Seconds()

	switch {
	case pnlPct <= -m.cfg.StopLossPct:
		return ReasonStopLoss
	case pnlPct >= m.cfg.TakeProfitPct:
		return ReasonTakeProfit
	case heldSec > float64(m.cfg.MaxHoldSec):
		return ReasonHoldLimit
	}
	return ""
}
