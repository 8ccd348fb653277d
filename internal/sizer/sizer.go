package sizer

import (
	"math"

	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/logger"
)

// drawdown multiplier never shrinks below this floor
const ddFloor = 0.1

// Sizer turns equity, confidence, edge and drawdown into a trade notional.
// It never returns an error: degenerate inputs produce 0, meaning no trade.
type Sizer struct {
	cfg    config.SizerConfig
	logger *logger.Logger
}

func New(cfg *config.Config, log *logger.Logger) *Sizer {
	return &Sizer{cfg: cfg.Sizer, logger: log}
}

// QuoteInput carries a candidate's sizing context.
type QuoteInput struct {
	Symbol        string
	Confidence    float64
	Edge          float64
	Price         float64
	FreeCash      float64
	Equity        float64
	AssetExposPct float64 // existing per-asset exposure
	SlotsLeft     int
	DailyPnlPct   float64
}

// Size computes the base notional for a trade.
// Final = equity*baseRisk * confMult * edgeMult * ddMult, clamped to dynamic
// bounds that scale with equity.
func (s *Sizer) Size(equity, confidence, edge, ddPct float64) float64 {
	if equity <= 0 || math.IsNaN(equity) || math.IsInf(equity, 0) {
		return 0
	}
	edgeMult := s.scaleByEdge(edge)
	if edgeMult == 0 {
		return 0
	}

	minUSD, maxUSD := s.DynamicLimits(equity)
	base := equity * s.cfg.BaseRiskPct
	raw := base * s.scaleByConfidence(confidence) * edgeMult * s.scaleByDrawdown(ddPct)
	return math.Max(math.Min(raw, maxUSD), minUSD)
}

// Quote post-processes Size for a concrete signal: cap to free cash, halve
// over the per-asset soft cap, reserve capacity for other candidates, and
// treat a sub-minimum result as "do not trade".
func (s *Sizer) Quote(in QuoteInput) float64 {
	if in.Price <= 0 || math.IsNaN(in.Price) || math.IsInf(in.Price, 0) {
		return 0
	}

	dd := 0.0
	if in.DailyPnlPct < 0 {
		dd = math.Abs(in.DailyPnlPct)
	}
	size := s.Size(in.Equity, in.Confidence, in.Edge, dd)
	if size == 0 {
		return 0
	}

	if in.FreeCash < size {
		size = in.FreeCash * 0.9
	}
	if in.AssetExposPct > s.cfg.PerAssetSoftCapPct {
		size *= 0.5
	}
	if in.SlotsLeft > 1 {
		size /= float64(in.SlotsLeft)
	}

	if size < s.cfg.MinNotional {
		return 0
	}

	s.logger.Debug("sized signal",
		"symbol", in.Symbol, "confidence", in.Confidence, "edge", in.Edge, "notional", size)
	return size
}

// DynamicLimits scales the per-trade bounds with equity.
func (s *Sizer) DynamicLimits(equity float64) (minUSD, maxUSD float64) {
	minUSD = math.Max(5, equity*0.0025)
	maxUSD = math.Max(minUSD, equity*0.05)
	return minUSD, maxUSD
}

func (s *Sizer) scaleByConfidence(conf float64) float64 {
	c := math.Max(math.Min(conf, s.cfg.ConfMax), s.cfg.ConfMin)
	ratio := (c - s.cfg.ConfMin) / (s.cfg.ConfMax - s.cfg.ConfMin)
	return s.cfg.ConfScaleMin + ratio*(s.cfg.ConfScaleMax-s.cfg.ConfScaleMin)
}

func (s *Sizer) scaleByEdge(edge float64) float64 {
	if edge <= 0 {
		return 0
	}
	return 1 + (edge/s.cfg.EdgeRef-1)*s.cfg.EdgeScale
}

func (s *Sizer) scaleByDrawdown(ddPct float64) float64 {
	if ddPct <= 0 {
		return 1
	}
	return math.Max(ddFloor, 1-ddPct*s.cfg.DDSlowdownPerPct)
}
