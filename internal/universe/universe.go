package universe

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/exchange"
	"github.com/aurimasb/safe-trader/internal/logger"
)

// Selector picks the tradable symbol set from 24h venue activity: quote
// volume and trade count score up, violent moves score down.
type Selector struct {
	exchange  exchange.Exchange
	baseQuote string
	minLiq    float64
	limit     int
	logger    *logger.Logger
}

func NewSelector(cfg *config.Config, ex exchange.Exchange, log *logger.Logger) *Selector {
	return &Selector{
		exchange:  ex,
		baseQuote: strings.ToUpper(cfg.Exchange.BaseQuote),
		minLiq:    cfg.Admission.MinLiquidityUSDC,
		limit:     cfg.Engine.UniverseLimit,
		logger:    log,
	}
}

func score(t exchange.TickerStats) float64 {
	return t.QuoteVolume/1_000_000 + float64(t.TradeCount)/10_000 - math.Abs(t.PriceChangePct)/100
}

// Select returns the top-scored symbols quoted in the base currency.
func (s *Selector) Select(ctx context.Context) ([]string, error) {
	stats, err := s.exchange.Stats24h(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		symbol string
		score  float64
	}
	rows := make([]scored, 0, len(stats))
	for _, t := range stats {
		if !strings.HasSuffix(strings.ToUpper(t.Symbol), s.baseQuote) {
			continue
		}
		if t.QuoteVolume < s.minLiq {
			continue
		}
		rows = append(rows, scored{symbol: t.Symbol, score: score(t)})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].score > rows[j].score })
	if len(rows) > s.limit {
		rows = rows[:s.limit]
	}

	symbols := make([]string, len(rows))
	for i, r := range rows {
		symbols[i] = r.symbol
	}
	s.logger.Debug("universe selected", "count", len(symbols))
	return symbols, nil
}
