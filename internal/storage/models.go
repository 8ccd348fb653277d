package storage

import "time"

const (
	StateOpen   = "OPEN"
	StateClosed = "CLOSED"
)

const (
	EventOpen  = "OPEN"
	EventClose = "CLOSE"
)

// Position is one row per symbol while open. At most one row per symbol may
// be in state OPEN at any instant; closed rows stay for audit.
type Position struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Symbol     string    `gorm:"index;not null" json:"symbol"`
	EntryPrice float64   `gorm:"not null" json:"entry_price"`
	Qty        float64   `gorm:"not null" json:"qty"`
	OpenedAt   time.Time `gorm:"not null" json:"opened_at"`
	Confidence float64   `json:"confidence"`
	Edge       float64   `json:"edge"`
	State      string    `gorm:"not null;default:'OPEN'" json:"state"`

	ClosedAt    *time.Time `json:"closed_at"`
	ClosePrice  float64    `json:"close_price"`
	PnlPct      float64    `json:"pnl_pct"`
	PnlUSDC     float64    `gorm:"column:pnl_usdc" json:"pnl_usdc"`
	CloseReason string     `json:"close_reason"`
}

// EquitySnapshot is an append-only equity time series. The first row of a
// calendar day fixes that day's drawdown baseline.
type EquitySnapshot struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Ts                 time.Time `gorm:"index;not null" json:"ts"`
	Equity             float64   `gorm:"not null" json:"equity"`
	DayPnlPct          float64   `json:"day_pnl_pct"`
	EquityPctFromStart float64   `json:"equity_pct_from_start"`
	FreeCash           float64   `json:"free_cash"`
	UsedCash           float64   `json:"used_cash"`
	PositionCount      int       `json:"position_count"`
}

// TradeRecord is the append-only audit log. Every ledger state transition
// writes exactly one record in the same transaction.
type TradeRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Ts         time.Time `gorm:"index;not null" json:"ts"`
	Event      string    `gorm:"not null" json:"event"` // OPEN or CLOSE
	Symbol     string    `gorm:"index;not null" json:"symbol"`
	Price      float64   `json:"price"`
	Qty        float64   `json:"qty"`
	USDValue   float64   `json:"usd_value"`
	PnlPct     float64   `json:"pnl_pct"`
	Reason     string    `json:"reason"`
	Confidence float64   `json:"confidence"`
	HoldSec    float64   `json:"hold_sec"`
}

// RiskState is a key-value row mutated by the risk manager only.
type RiskState struct {
	Key       string    `gorm:"primarykey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Well-known risk state keys.
const (
	RiskKeyDDDay        = "dd_day_pct"
	RiskKeyDDWeek       = "dd_week_pct"
	RiskKeyDDMonth      = "dd_month_pct"
	RiskKeyMaxPositions = "max_positions"
	RiskKeyMaxExposure  = "max_exposure_pct"
	RiskKeyStatus       = "status"
)
