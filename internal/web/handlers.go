package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

type OpenPositionView struct {
	Symbol       string    `json:"symbol"`
	Qty          float64   `json:"qty"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	PnlPct       float64   `json:"pnl_pct"`
	PnlUSDC      float64   `json:"pnl_usdc"`
	OpenedAt     time.Time `json:"opened_at"`
}

type SummaryView struct {
	Equity        float64 `json:"equity"`
	FreeCash      float64 `json:"free_cash"`
	UsedCash      float64 `json:"used_cash"`
	DayPnlPct     float64 `json:"day_pnl_pct"`
	PnlFromStart  float64 `json:"pnl_from_start_pct"`
	PositionCount int     `json:"position_count"`
	GuardStatus   string  `json:"guard_status"`
	Mode          string  `json:"mode"`
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// handleOpenPositions returns the ledger's open rows marked at live prices.
func (s *Server) handleOpenPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.repo.GetOpenPositions()
	if err != nil {
		s.logger.Error("fetch open positions", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	out := make([]OpenPositionView, 0, len(positions))
	for _, pos := range positions {
		view := OpenPositionView{
			Symbol:     pos.Symbol,
			Qty:        pos.Qty,
			EntryPrice: pos.EntryPrice,
			OpenedAt:   pos.OpenedAt,
		}
		if price, ok := s.exchange.GetPrice(r.Context(), pos.Symbol); ok && pos.EntryPrice > 0 {
			view.CurrentPrice = price
			view.PnlPct = (price/pos.EntryPrice - 1) * 100
			view.PnlUSDC = (price - pos.EntryPrice) * pos.Qty
		}
		out = append(out, view)
	}
	s.writeJSON(w, out)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	trades, err := s.repo.GetRecentTrades(limit)
	if err != nil {
		s.logger.Error("fetch trades", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, trades)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	view := SummaryView{GuardStatus: s.risk.GetSummary().GuardStatus}
	if s.config.IsPaper() {
		view.Mode = "PAPER"
	} else {
		view.Mode = "LIVE"
	}

	if snap, err := s.repo.GetLatestEquity(); err == nil && snap != nil {
		view.Equity = snap.Equity
		view.FreeCash = snap.FreeCash
		view.UsedCash = snap.UsedCash
		view.DayPnlPct = snap.DayPnlPct
		view.PnlFromStart = snap.EquityPctFromStart
		view.PositionCount = snap.PositionCount
	}
	s.writeJSON(w, view)
}

// handleRisk dumps the persisted risk_state rows as written by the risk
// manager.
func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	state, err := s.repo.GetRiskState()
	if err != nil {
		s.logger.Error("fetch risk state", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, state)
}
