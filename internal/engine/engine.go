package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aurimasb/safe-trader/internal/admission"
	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/exchange"
	"github.com/aurimasb/safe-trader/internal/executor"
	"github.com/aurimasb/safe-trader/internal/exits"
	"github.com/aurimasb/safe-trader/internal/logger"
	"github.com/aurimasb/safe-trader/internal/metrics"
	"github.com/aurimasb/safe-trader/internal/risk"
	"github.com/aurimasb/safe-trader/internal/sanitizer"
	"github.com/aurimasb/safe-trader/internal/signal"
	"github.com/aurimasb/safe-trader/internal/sizer"
	"github.com/aurimasb/safe-trader/internal/storage"
	"github.com/aurimasb/safe-trader/internal/telegram"
	"github.com/aurimasb/safe-trader/internal/universe"
)

// Engine owns the periodic loops: decision, exit scan, equity snapshot and
// sanitizer. They communicate only through the ledger and narrow method
// calls; the ledger is the single source of truth.
type Engine struct {
	cfg       *config.Config
	exchange  exchange.Exchange
	repo      *storage.Repository
	admission *admission.Controller
	sizer     *sizer.Sizer
	executor  *executor.Executor
	exits     *exits.Manager
	risk      *risk.Manager
	sanitizer *sanitizer.Sanitizer
	universe  *universe.Selector
	source    signal.Source
	trend     *signal.TrendFilter
	notifier  *telegram.Notifier
	logger    *logger.Logger
}

func New(
	cfg *config.Config,
	ex exchange.Exchange,
	repo *storage.Repository,
	adm *admission.Controller,
	sz *sizer.Sizer,
	exec *executor.Executor,
	em *exits.Manager,
	rm *risk.Manager,
	san *sanitizer.Sanitizer,
	uni *universe.Selector,
	source signal.Source,
	trend *signal.TrendFilter,
	notifier *telegram.Notifier,
	log *logger.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		exchange:  ex,
		repo:      repo,
		admission: adm,
		sizer:     sz,
		executor:  exec,
		exits:     em,
		risk:      rm,
		sanitizer: san,
		universe:  uni,
		source:    source,
		trend:     trend,
		notifier:  notifier,
		logger:    log,
	}
}

// Run starts every loop and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("engine started",
		"decision_interval", e.cfg.Engine.DecisionInterval,
		"exit_interval", e.cfg.Engine.ExitInterval,
		"equity_interval", e.cfg.Engine.EquityInterval)

	go e.loop(ctx, "decision", e.cfg.DecisionInterval(), e.decisionCycle)
	go e.loop(ctx, "exits", e.cfg.ExitInterval(), e.exitCycle)
	go e.loop(ctx, "equity", e.cfg.EquityInterval(), e.equityCycle)
	go e.loop(ctx, "sanitizer", e.cfg.SanitizeInterval(), e.sanitizeCycle)

	<-ctx.Done()
	e.logger.Info("engine stopped")
}

// loop runs cycle on a fixed interval, once immediately on start. A panic in
// one cycle is logged and notified but never takes the process down.
func (e *Engine) loop(ctx context.Context, name string, interval time.Duration, cycle func(context.Context)) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("panic in cycle", "loop", name, "panic", fmt.Sprint(r))
				e.notifier.NotifyError(name+" panic", fmt.Errorf("%v", r))
			}
		}()
		cycle(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// decisionCycle is one admission+sizing+open pass over the candidate set.
func (e *Engine) decisionCycle(ctx context.Context) {
	equity, freeCash, usedCash, err := e.accountState(ctx)
	if err != nil {
		e.logger.Error("read account state", "error", err)
		return
	}
	e.risk.UpdateEquity(equity)

	symbols, err := e.universe.Select(ctx)
	if err != nil {
		e.logger.Error("select universe", "error", err)
		return
	}
	for _, sym := range symbols {
		if price, ok := e.exchange.GetPrice(ctx, sym); ok {
			e.trend.Observe(sym, price)
		}
	}

	signals, err := e.source.Signals(ctx, symbols)
	if err != nil {
		e.logger.Error("fetch signals", "error", err)
		return
	}

	summary := e.risk.GetSummary()

	// A guard STOP halts entries only; sells below still run.
	if e.risk.CanOpen() {
		e.openCandidates(ctx, signals, equity, freeCash, usedCash, summary.PnlToday)
	} else {
		e.logger.Debug("guard STOP, skipping entries")
	}

	for _, sig := range signals {
		if sig.Direction != signal.DirectionSell {
			continue
		}
		if !e.risk.HasPosition(sig.Symbol) {
			continue
		}
		if _, err := e.executor.Close(ctx, sig.Symbol, 0, "SIGNAL SELL", 0); err != nil {
			e.logger.Error("signal close failed", "symbol", sig.Symbol, "error", err)
		}
	}
}

func (e *Engine) openCandidates(ctx context.Context, signals []signal.Signal, equity, freeCash, usedCash, pnlToday float64) {
	var buys []signal.Signal
	for _, sig := range signals {
		if sig.Direction != signal.DirectionBuy {
			continue
		}
		if e.trend.Trend(sig.Symbol) == signal.TrendDown {
			continue
		}
		buys = append(buys, sig)
	}
	sort.Slice(buys, func(i, j int) bool { return buys[i].Confidence > buys[j].Confidence })

	positions, err := e.repo.GetOpenPositions()
	if err != nil {
		e.logger.Error("fetch open positions", "error", err)
		return
	}
	slotsLeft := e.risk.MaxPositions() - len(positions)
	if slotsLeft <= 0 {
		return
	}
	assetUsed := exposureByAsset(positions, e.cfg.Exchange.BaseQuote)

	for _, sig := range buys {
		if slotsLeft <= 0 || freeCash <= e.cfg.Engine.MinPerTradeUSDC {
			break
		}
		if e.risk.HasPosition(sig.Symbol) {
			continue
		}

		price, ok := e.exchange.GetPrice(ctx, sig.Symbol)
		if !ok {
			continue
		}

		// Exposure already committed to this candidate's base asset. Open rows
		// on the same pair are skipped above, so this only bites when several
		// listed pairs share a base.
		perAssetPct := 0.0
		if equity > 0 {
			perAssetPct = assetUsed[baseAsset(sig.Symbol, e.cfg.Exchange.BaseQuote)] / equity * 100
		}

		quote := e.sizer.Quote(sizer.QuoteInput{
			Symbol:        sig.Symbol,
			Confidence:    sig.Confidence,
			Edge:          sig.Edge,
			Price:         price,
			FreeCash:      freeCash,
			Equity:        equity,
			AssetExposPct: perAssetPct,
			SlotsLeft:     slotsLeft,
			DailyPnlPct:   pnlToday,
		})
		if quote < e.cfg.Engine.MinPerTradeUSDC {
			continue
		}

		book, err := e.exchange.GetOrderbookTop(ctx, sig.Symbol)
		if err != nil {
			e.logger.Debug("no orderbook", "symbol", sig.Symbol, "error", err)
			continue
		}

		totalExposurePct := 0.0
		if equity > 0 {
			totalExposurePct = usedCash / equity * 100
		}
		var recentLoss *float64
		if pnlToday < 0 {
			recentLoss = &pnlToday
		}
		res := e.admission.Validate(admission.EntryContext{
			Symbol:              sig.Symbol,
			Side:                exchange.SideBuy,
			Price:               price,
			QuoteBalance:        freeCash,
			QuotePerTrade:       quote,
			Confidence:          &sig.Confidence,
			EdgePct:             &sig.Edge,
			TotalExposurePct:    totalExposurePct,
			PerAssetExposurePct: perAssetPct,
			RecentLossPct:       recentLoss,
			Orderbook:           book,
			Rules:               e.exchange.GetRules(sig.Symbol),
		})
		if !res.Allowed {
			metrics.Rejections.WithLabelValues(res.Reason).Inc()
			e.logger.Debug("entry rejected", "symbol", sig.Symbol, "reason", res.Reason)
			continue
		}

		if _, err := e.executor.Open(ctx, sig.Symbol, res.Notional, sig.Edge, sig.Confidence); err != nil {
			e.logger.Error("open failed", "symbol", sig.Symbol, "error", err)
			continue
		}
		freeCash -= res.Notional
		usedCash += res.Notional
		assetUsed[baseAsset(sig.Symbol, e.cfg.Exchange.BaseQuote)] += res.Notional
		slotsLeft--
	}
}

// baseAsset strips the quote currency suffix from a pair symbol.
func baseAsset(symbol, quote string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), strings.ToUpper(quote))
}

// exposureByAsset sums the entry notional of open rows per base asset.
func exposureByAsset(positions []storage.Position, quote string) map[string]float64 {
	used := make(map[string]float64, len(positions))
	for _, pos := range positions {
		used[baseAsset(pos.Symbol, quote)] += pos.Qty * pos.EntryPrice
	}
	return used
}

func (e *Engine) exitCycle(ctx context.Context) {
	closed := e.exits.CheckExits(ctx, nil)
	if closed > 0 {
		e.logger.Info("exit scan closed positions", "count", closed)
	}
}

// equityCycle appends one snapshot; the first of the day fixes that day's
// drawdown baseline.
func (e *Engine) equityCycle(ctx context.Context) {
	equity, freeCash, usedCash, err := e.accountState(ctx)
	if err != nil {
		e.logger.Error("read account state", "error", err)
		return
	}
	count, err := e.repo.CountOpenPositions()
	if err != nil {
		e.logger.Error("count open positions", "error", err)
		return
	}

	dayPnlPct := 0.0
	if prev, err := e.repo.GetLatestEquity(); err == nil && prev != nil && prev.Equity > 0 {
		dayPnlPct = (equity - prev.Equity) / prev.Equity * 100
	}
	fromStartPct := 0.0
	if first, err := e.repo.GetFirstEquity(); err == nil && first != nil && first.Equity > 0 {
		fromStartPct = (equity - first.Equity) / first.Equity * 100
	}

	snap := &storage.EquitySnapshot{
		Ts:                 time.Now().UTC(),
		Equity:             equity,
		DayPnlPct:          dayPnlPct,
		EquityPctFromStart: fromStartPct,
		FreeCash:           freeCash,
		UsedCash:           usedCash,
		PositionCount:      int(count),
	}
	if err := e.repo.InsertEquitySnapshot(snap); err != nil {
		e.logger.Error("insert equity snapshot", "error", err)
		return
	}

	metrics.Equity.Set(equity)
	metrics.OpenPositions.Set(float64(count))
}

func (e *Engine) sanitizeCycle(ctx context.Context) {
	e.sanitizer.MaybeRun(ctx)
}

// accountState derives equity from execution-side cash plus the marked value
// of the ledger's open positions. Position state itself always comes from
// the ledger.
func (e *Engine) accountState(ctx context.Context) (equity, freeCash, usedCash float64, err error) {
	account, err := e.exchange.Account(ctx)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("fetch account: %w", err)
	}
	freeCash = account.FreeCash

	positions, err := e.repo.GetOpenPositions()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("fetch open positions: %w", err)
	}

	var marked float64
	for _, pos := range positions {
		price, ok := e.exchange.GetPrice(ctx, pos.Symbol)
		if !ok {
			price = pos.EntryPrice
		}
		marked += pos.Qty * price
		usedCash += pos.Qty * pos.EntryPrice
	}
	return freeCash + marked, freeCash, usedCash, nil
}
