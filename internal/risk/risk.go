package risk

import (
	"strconv"
	"sync"
	"time"

	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/logger"
	"github.com/aurimasb/safe-trader/internal/metrics"
	"github.com/aurimasb/safe-trader/internal/storage"
)

const (
	StatusOK   = "OK"
	StatusStop = "STOP"
)

// DailyGuard is the day-scoped circuit breaker. It only moves OK to STOP
// intraday; the status resets at day rollover and never earlier.
type DailyGuard struct {
	maxDDPct  float64
	day       string
	sodEquity float64
	status    string
}

func NewDailyGuard(maxDDPct float64) *DailyGuard {
	return &DailyGuard{maxDDPct: maxDDPct, status: StatusOK}
}

// update applies the current equity. Start-of-day equity must already be set.
func (g *DailyGuard) update(equityNow float64) {
	if equityNow <= 0 || g.sodEquity <= 0 {
		return
	}
	ddPct := (equityNow/g.sodEquity - 1) * 100
	if ddPct <= -g.maxDDPct {
		g.status = StatusStop
	}
}

func (g *DailyGuard) Status() string { return g.status }

// Summary is what the dashboard and the decision loop read each cycle.
type Summary struct {
	GuardStatus string  `json:"guard_status"`
	PnlToday    float64 `json:"pnl_today"`
}

// Manager owns the guard state machine and the persisted risk state rows.
type Manager struct {
	cfg    config.RiskConfig
	repo   *storage.Repository
	logger *logger.Logger

	mu    sync.Mutex
	guard *DailyGuard
}

func NewManager(cfg *config.Config, repo *storage.Repository, log *logger.Logger) *Manager {
	return &Manager{
		cfg:    cfg.Risk,
		repo:   repo,
		logger: log,
		guard:  NewDailyGuard(cfg.Risk.MaxDailyDrawdownPct),
	}
}

// UpdateEquity runs once per decision cycle. Zero or unset equity is a
// no-op so a slow startup never trips the guard. Start-of-day equity comes
// from the first snapshot of the calendar day and never moves intraday.
func (m *Manager) UpdateEquity(equityNow float64) {
	if equityNow <= 0 {
		m.logger.Warn("equity unset, skipping drawdown check")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	today := now.Format("2006-01-02")
	if m.guard.day != today {
		if m.guard.day != "" {
			m.logger.Info("day rollover, resetting daily guard", "day", today)
		}
		m.guard.day = today
		m.guard.sodEquity = 0
		m.guard.status = StatusOK
	}

	if m.guard.sodEquity <= 0 {
		if first, err := m.repo.GetFirstEquityOfDay(now); err == nil && first != nil {
			m.guard.sodEquity = first.Equity
		} else {
			m.guard.sodEquity = equityNow
		}
	}

	before := m.guard.status
	m.guard.update(equityNow)
	if before == StatusOK && m.guard.status == StatusStop {
		m.logger.Warn("daily drawdown limit hit, halting new entries",
			"sod_equity", m.guard.sodEquity, "equity", equityNow)
	}

	if m.guard.status == StatusStop {
		metrics.GuardStop.Set(1)
	} else {
		metrics.GuardStop.Set(0)
	}

	m.persistState(now, equityNow)
}

// persistState mirrors the guard view into the risk_state rows. Only the
// risk manager writes them.
func (m *Manager) persistState(now time.Time, equityNow float64) {
	ddOf := func(base *storage.EquitySnapshot) float64 {
		if base == nil || base.Equity <= 0 {
			return 0
		}
		return (equityNow/base.Equity - 1) * 100
	}

	dayBase, _ := m.repo.GetFirstEquityOfDay(now)
	weekStart := now.AddDate(0, 0, -int(now.Weekday()))
	weekBase, _ := m.repo.GetFirstEquitySince(time.Date(weekStart.Year(), weekStart.Month(), weekStart.Day(), 0, 0, 0, 0, time.UTC))
	monthBase, _ := m.repo.GetFirstEquitySince(time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC))

	states := map[string]string{
		storage.RiskKeyDDDay:        strconv.FormatFloat(ddOf(dayBase), 'f', 4, 64),
		storage.RiskKeyDDWeek:       strconv.FormatFloat(ddOf(weekBase), 'f', 4, 64),
		storage.RiskKeyDDMonth:      strconv.FormatFloat(ddOf(monthBase), 'f', 4, 64),
		storage.RiskKeyMaxPositions: strconv.Itoa(m.cfg.MaxPositions),
		storage.RiskKeyMaxExposure:  strconv.FormatFloat(m.cfg.MaxExposurePct, 'f', 2, 64),
		storage.RiskKeyStatus:       m.guard.status,
	}
	for key, value := range states {
		if err := m.repo.UpsertRiskState(key, value); err != nil {
			m.logger.Error("persist risk state", "key", key, "error", err)
		}
	}
}

// CanOpen reports whether new admissions are allowed. A STOP only blocks
// entries; closes stay permitted.
func (m *Manager) CanOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guard.status == StatusOK
}

// GetSummary derives today's pnl from the first and last snapshot of the day.
func (m *Manager) GetSummary() Summary {
	m.mu.Lock()
	status := m.guard.status
	m.mu.Unlock()

	pnlToday := 0.0
	now := time.Now().UTC()
	first, err1 := m.repo.GetFirstEquityOfDay(now)
	last, err2 := m.repo.GetLastEquityOfDay(now)
	if err1 == nil && err2 == nil && first != nil && last != nil && first.Equity > 0 {
		pnlToday = (last.Equity/first.Equity - 1) * 100
	}

	return Summary{GuardStatus: status, PnlToday: pnlToday}
}

// HasPosition is a direct ledger lookup; callers use it to avoid duplicate
// entries or exits.
func (m *Manager) HasPosition(symbol string) bool {
	has, err := m.repo.HasOpenPosition(symbol)
	if err != nil {
		m.logger.Error("check position", "symbol", symbol, "error", err)
		return false
	}
	return has
}

func (m *Manager) MaxPositions() int { return m.cfg.MaxPositions }
