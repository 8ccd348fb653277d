// Package signal defines the candidate-trade inputs the engine consumes.
// Signal generation itself is a collaborator; anything satisfying Source
// can drive the decision loop.
package signal

import (
	"context"
	"time"
)

const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
)

type Signal struct {
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Confidence float64   `json:"confidence"` // [0,1]
	Edge       float64   `json:"edge"`       // expected return pct before costs
	Timestamp  time.Time `json:"timestamp"`
}

// Source produces candidate signals for the given symbols.
type Source interface {
	Signals(ctx context.Context, symbols []string) ([]Signal, error)
}
