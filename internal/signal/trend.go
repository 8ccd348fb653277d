package signal

import (
	"sync"
)

const (
	TrendUp      = "UP"
	TrendDown    = "DOWN"
	TrendNeutral = "NEUTRAL"
)

const historyCap = 200

// TrendFilter keeps a rolling price history per symbol and classifies the
// short-term trend from a fast/slow EMA pair. BUY candidates against a
// non-UP trend are dropped by the decision loop.
type TrendFilter struct {
	mu       sync.Mutex
	history  map[string][]float64
	fast     int
	slow     int
	biasUp   float64
	biasDown float64
}

func NewTrendFilter(fast, slow int) *TrendFilter {
	return &TrendFilter{
		history:  make(map[string][]float64),
		fast:     fast,
		slow:     slow,
		biasUp:   0.0005,
		biasDown: -0.0005,
	}
}

// Observe appends a price point, keeping the window bounded.
func (t *TrendFilter) Observe(symbol string, price float64) {
	if price <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h := append(t.history[symbol], price)
	if len(h) > historyCap {
		h = h[len(h)-historyCap:]
	}
	t.history[symbol] = h
}

// Trend returns UP, DOWN or NEUTRAL. Too little history is NEUTRAL.
func (t *TrendFilter) Trend(symbol string) string {
	t.mu.Lock()
	h := t.history[symbol]
	t.mu.Unlock()

	if len(h) < t.slow {
		return TrendNeutral
	}
	fast := ema(h, t.fast)
	slow := ema(h, t.slow)
	if slow == 0 {
		return TrendNeutral
	}
	diff := fast/slow - 1
	switch {
	case diff >= t.biasUp:
		return TrendUp
	case diff <= t.biasDown:
		return TrendDown
	}
	return TrendNeutral
}

// History returns a copy of the rolling window for a symbol.
func (t *TrendFilter) History(symbol string) []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.history[symbol]
	out := make([]float64, len(h))
	copy(out, h)
	return out
}

func ema(series []float64, period int) float64 {
	if len(series) == 0 || period <= 0 {
		return 0
	}
	if len(series) > period {
		series = series[len(series)-period:]
	}
	k := 2.0 / (float64(period) + 1)
	v := series[0]
	for _, p := range series[1:] {
		v = p*k + v*(1-k)
	}
	return v
}
