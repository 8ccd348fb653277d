// Package web exposes a small read-only ops API over the ledger plus the
// Prometheus scrape endpoint. It never mutates trading state.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/exchange"
	"github.com/aurimasb/safe-trader/internal/logger"
	"github.com/aurimasb/safe-trader/internal/risk"
	"github.com/aurimasb/safe-trader/internal/storage"
)

type Server struct {
	httpServer *http.Server
	exchange   exchange.Exchange
	repo       *storage.Repository
	risk       *risk.Manager
	config     *config.Config
	logger     *logger.Logger
}

func NewServer(ex exchange.Exchange, repo *storage.Repository, rm *risk.Manager, cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		exchange: ex,
		repo:     repo,
		risk:     rm,
		config:   cfg,
		logger:   log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/open_positions", s.handleOpenPositions)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/risk", s.handleRisk)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.config.Web.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
