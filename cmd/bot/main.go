package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aurimasb/safe-trader/internal/admission"
	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/engine"
	"github.com/aurimasb/safe-trader/internal/exchange"
	"github.com/aurimasb/safe-trader/internal/executor"
	"github.com/aurimasb/safe-trader/internal/exits"
	"github.com/aurimasb/safe-trader/internal/logger"
	"github.com/aurimasb/safe-trader/internal/risk"
	"github.com/aurimasb/safe-trader/internal/sanitizer"
	signalsrc "github.com/aurimasb/safe-trader/internal/signal"
	"github.com/aurimasb/safe-trader/internal/sizer"
	"github.com/aurimasb/safe-trader/internal/storage"
	"github.com/aurimasb/safe-trader/internal/telegram"
	"github.com/aurimasb/safe-trader/internal/universe"
	"github.com/aurimasb/safe-trader/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/safe-trader.db", "path to SQLite database")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)

	mode := "LIVE"
	if cfg.IsPaper() {
		mode = "PAPER"
	}
	log.Info("starting safe-trader", "mode", mode)

	db, err := storage.NewDatabase(*dbPath)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ex exchange.Exchange
	if cfg.IsPaper() {
		ex = exchange.NewPaper(cfg, log)
	} else {
		ex = exchange.NewLive(cfg, log)
	}

	notifier := telegram.NewNotifier(cfg, log)
	adm := admission.New(cfg, log)
	sz := sizer.New(cfg, log)
	exec := executor.New(ex, repo, notifier, log)
	exitMgr := exits.New(cfg, ex, exec, repo, log)
	riskMgr := risk.NewManager(cfg, repo, log)
	san := sanitizer.New(ex, repo, notifier, cfg.SanitizeInterval(), log)
	uni := universe.NewSelector(cfg, ex, log)
	trend := signalsrc.NewTrendFilter(cfg.Engine.TrendFastEMA, cfg.Engine.TrendSlowEMA)
	source := signalsrc.NewMomentumSource(trend)

	eng := engine.New(cfg, ex, repo, adm, sz, exec, exitMgr, riskMgr, san, uni, source, trend, notifier, log)
	webServer := web.NewServer(ex, repo, riskMgr, cfg, log)

	go eng.Run(ctx)

	go func() {
		if err := webServer.Start(); err != nil {
			log.Error("web server error", "error", err)
		}
	}()

	notifier.NotifyStatus(fmt.Sprintf("safe-trader started (%s)", mode))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", "signal", sig.String())

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error("web server shutdown error", "error", err)
	}

	notifier.NotifyStatus("safe-trader stopped")
	log.Info("safe-trader stopped")
}
