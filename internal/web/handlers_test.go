package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/exchange"
	"github.com/aurimasb/safe-trader/internal/logger"
	"github.com/aurimasb/safe-trader/internal/risk"
	"github.com/aurimasb/safe-trader/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *exchange.Paper, *storage.Repository) {
	t.Helper()

	cfg := config.Default()
	log := logger.New("error")

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	repo := storage.NewRepository(db)

	paper := exchange.NewPaper(cfg, log)
	rm := risk.NewManager(cfg, repo, log)
	return NewServer(paper, repo, rm, cfg, log), paper, repo
}

func TestHandleOpenPositions(t *testing.T) {
	t.Parallel()
	s, paper, repo := newTestServer(t)

	now := time.Now().UTC()
	pos := &storage.Position{
		Symbol: "BTCUSDC", EntryPrice: 100, Qty: 2, OpenedAt: now, State: storage.StateOpen,
	}
	require.NoError(t, repo.OpenPosition(pos, &storage.TradeRecord{
		Ts: now, Event: storage.EventOpen, Symbol: "BTCUSDC", Price: 100, Qty: 2,
	}))
	paper.SetPrice("BTCUSDC", 110)

	rec := httptest.NewRecorder()
	s.handleOpenPositions(rec, httptest.NewRequest(http.MethodGet, "/api/open_positions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var views []OpenPositionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "BTCUSDC", views[0].Symbol)
	assert.InDelta(t, 110.0, views[0].CurrentPrice, 1e-9)
	assert.InDelta(t, 10.0, views[0].PnlPct, 1e-9)
	assert.InDelta(t, 20.0, views[0].PnlUSDC, 1e-9)
}

func TestHandleTrades_LimitValidation(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.handleTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.handleTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?limit=10", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSummary(t *testing.T) {
	t.Parallel()
	s, _, repo := newTestServer(t)

	require.NoError(t, repo.InsertEquitySnapshot(&storage.EquitySnapshot{
		Ts:            time.Now().UTC(),
		Equity:        10250,
		FreeCash:      9000,
		UsedCash:      1250,
		DayPnlPct:     2.5,
		PositionCount: 3,
	}))

	rec := httptest.NewRecorder()
	s.handleSummary(rec, httptest.NewRequest(http.MethodGet, "/api/summary", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var view SummaryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.InDelta(t, 10250.0, view.Equity, 1e-9)
	assert.Equal(t, 3, view.PositionCount)
	assert.Equal(t, "OK", view.GuardStatus)
	assert.Equal(t, "PAPER", view.Mode)
}

func TestHandleRisk(t *testing.T) {
	t.Parallel()
	s, _, repo := newTestServer(t)

	require.NoError(t, repo.UpsertRiskState(storage.RiskKeyStatus, "OK"))
	require.NoError(t, repo.UpsertRiskState(storage.RiskKeyDDDay, "-0.5000"))

	rec := httptest.NewRecorder()
	s.handleRisk(rec, httptest.NewRequest(http.MethodGet, "/api/risk", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var state map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "OK", state[storage.RiskKeyStatus])
	assert.Equal(t, "-0.5000", state[storage.RiskKeyDDDay])
}
