package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/exchange"
	"github.com/aurimasb/safe-trader/internal/executor"
	"github.com/aurimasb/safe-trader/internal/logger"
	"github.com/aurimasb/safe-trader/internal/storage"
	"github.com/aurimasb/safe-trader/internal/telegram"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/safe-trader.db", "path to SQLite database")
	dryRun := flag.Bool("dry-run", false, "show positions without closing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)

	db, err := storage.NewDatabase(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database init error: %v\n", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	var ex exchange.Exchange
	if cfg.IsPaper() {
		ex = exchange.NewPaper(cfg, log)
	} else {
		ex = exchange.NewLive(cfg, log)
	}

	ctx := context.Background()

	positions, err := repo.GetOpenPositions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch open positions error: %v\n", err)
		os.Exit(1)
	}

	if len(positions) == 0 {
		fmt.Println("No open positions.")
		return
	}

	fmt.Printf("Found %d position(s):\n\n", len(positions))
	for _, p := range positions {
		current, _ := ex.GetPrice(ctx, p.Symbol)
		fmt.Printf("  %s: qty %.8f, entry %.4f, current %.4f\n",
			p.Symbol, p.Qty, p.EntryPrice, current)
	}
	fmt.Println()

	if *dryRun {
		fmt.Println("Dry run, no orders placed.")
		return
	}

	notifier := telegram.NewNotifier(cfg, log)
	exec := executor.New(ex, repo, notifier, log)

	var closed, failed int
	for _, p := range positions {
		fill, err := exec.Close(ctx, p.Symbol, p.Qty, "MANUAL CLOSE", p.EntryPrice)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  [FAIL] %s: %v\n", p.Symbol, err)
			failed++
			continue
		}
		fmt.Printf("  [OK]   %s: sold %.8f @ %.4f\n", p.Symbol, fill.Qty, fill.Price)
		closed++
	}

	fmt.Printf("\nDone: %d closed, %d failed.\n", closed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
