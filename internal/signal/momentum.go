package signal

import (
	"context"
	"time"
)

const momentumLookback = 20

// MomentumSource is a minimal built-in Source: recent return over a short
// lookback becomes the edge, scaled into a confidence. It exists so the
// paper mode runs end to end without an external model feed.
type MomentumSource struct {
	trend *TrendFilter
}

func NewMomentumSource(trend *TrendFilter) *MomentumSource {
	return &MomentumSource{trend: trend}
}

func (m *MomentumSource) Signals(_ context.Context, symbols []string) ([]Signal, error) {
	now := time.Now().UTC()
	var out []Signal
	for _, sym := range symbols {
		h := m.trend.History(sym)
		if len(h) < momentumLookback {
			continue
		}
		prev := h[len(h)-momentumLookback]
		last := h[len(h)-1]
		if prev <= 0 {
			continue
		}
		ret := last/prev - 1
		if ret == 0 {
			continue
		}

		direction := DirectionBuy
		if ret < 0 {
			direction = DirectionSell
			ret = -ret
		}

		// Confidence saturates at 0.9 for a 1% move over the lookback.
		confidence := 0.5 + ret*40
		if confidence > 0.9 {
			confidence = 0.9
		}

		out = append(out, Signal{
			Symbol:     sym,
			Direction:  direction,
			Confidence: confidence,
			Edge:       ret,
			Timestamp:  now,
		})
	}
	return out, nil
}
