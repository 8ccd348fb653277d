package storage

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrPositionExists is returned when an open for a symbol that already
	// has an OPEN row is attempted.
	ErrPositionExists = errors.New("open position already exists")
	// ErrNoOpenPosition is returned when a close finds no OPEN row.
	ErrNoOpenPosition = errors.New("no open position")
)

const (
	writeRetries = 3
	retryBackoff = 100 * time.Millisecond
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// withRetry re-runs a write a few times with backoff; a completed fill must
// not be dropped because sqlite was momentarily busy.
func (r *Repository) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, ErrPositionExists) || errors.Is(err, ErrNoOpenPosition) {
			return err
		}
		time.Sleep(retryBackoff * time.Duration(attempt+1))
	}
	return err
}

// Positions

// OpenPosition inserts an OPEN row and its OPEN trade record in one
// transaction. The existence check runs inside the same transaction as the
// insert; the partial unique index backstops concurrent opens.
func (r *Repository) OpenPosition(pos *Position, rec *TradeRecord) error {
	return r.withRetry(func() error {
		return r.db.Transaction(func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&Position{}).
				Where("symbol = ? AND state = ?", pos.Symbol, StateOpen).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("%w: %s", ErrPositionExists, pos.Symbol)
			}
			if err := tx.Create(pos).Error; err != nil {
				return err
			}
			return tx.Create(rec).Error
		})
	})
}

// ClosePosition flips the OPEN row for symbol to CLOSED and appends the
// CLOSE trade record in one transaction. The row is retained for audit.
func (r *Repository) ClosePosition(symbol string, closedAt time.Time, closePrice, pnlPct, pnlUSDC float64, reason string, rec *TradeRecord) error {
	return r.withRetry(func() error {
		return r.db.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&Position{}).
				Where("symbol = ? AND state = ?", symbol, StateOpen).
				Updates(map[string]any{
					"state":        StateClosed,
					"closed_at":    closedAt,
					"close_price":  closePrice,
					"pnl_pct":      pnlPct,
					"pnl_usdc":     pnlUSDC,
					"close_reason": reason,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", ErrNoOpenPosition, symbol)
			}
			return tx.Create(rec).Error
		})
	})
}

func (r *Repository) GetOpenPosition(symbol string) (*Position, error) {
	var pos Position
	err := r.db.Where("symbol = ? AND state = ?", symbol, StateOpen).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (r *Repository) HasOpenPosition(symbol string) (bool, error) {
	var count int64
	err := r.db.Model(&Position{}).
		Where("symbol = ? AND state = ? AND qty > 0", symbol, StateOpen).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) GetOpenPositions() ([]Position, error) {
	var positions []Position
	err := r.db.Where("state = ?", StateOpen).Order("opened_at ASC").Find(&positions).Error
	return positions, err
}

func (r *Repository) CountOpenPositions() (int64, error) {
	var count int64
	err := r.db.Model(&Position{}).
		Where("state = ? AND qty > 0", StateOpen).
		Count(&count).Error
	return count, err
}

// UsedCash is the notional locked in OPEN positions at entry prices.
func (r *Repository) UsedCash() (float64, error) {
	var total float64
	err := r.db.Model(&Position{}).
		Where("state = ?", StateOpen).
		Select("COALESCE(SUM(qty * entry_price), 0)").Scan(&total).Error
	return total, err
}

// Trades

func (r *Repository) GetRecentTrades(limit int) ([]TradeRecord, error) {
	var trades []TradeRecord
	err := r.db.Order("ts DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// Equity history

func (r *Repository) InsertEquitySnapshot(snap *EquitySnapshot) error {
	return r.withRetry(func() error {
		return r.db.Create(snap).Error
	})
}

func (r *Repository) GetLatestEquity() (*EquitySnapshot, error) {
	var snap EquitySnapshot
	err := r.db.Order("ts DESC").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetFirstEquity returns the series-start snapshot.
func (r *Repository) GetFirstEquity() (*EquitySnapshot, error) {
	var snap EquitySnapshot
	err := r.db.Order("ts ASC").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetFirstEquityOfDay returns the first snapshot timestamped within the
// calendar day of ts, which fixes the day's drawdown baseline.
func (r *Repository) GetFirstEquityOfDay(ts time.Time) (*EquitySnapshot, error) {
	return r.equityOfDay(ts, "ts ASC")
}

func (r *Repository) GetLastEquityOfDay(ts time.Time) (*EquitySnapshot, error) {
	return r.equityOfDay(ts, "ts DESC")
}

// GetFirstEquitySince returns the earliest snapshot at or after ts, used as
// the week and month drawdown baselines.
func (r *Repository) GetFirstEquitySince(ts time.Time) (*EquitySnapshot, error) {
	var snap EquitySnapshot
	err := r.db.Where("ts >= ?", ts).Order("ts ASC").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *Repository) equityOfDay(ts time.Time, order string) (*EquitySnapshot, error) {
	dayStart := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var snap EquitySnapshot
	err := r.db.Where("ts >= ? AND ts < ?", dayStart, dayEnd).Order(order).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Risk state

func (r *Repository) UpsertRiskState(key, value string) error {
	return r.withRetry(func() error {
		return r.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&RiskState{Key: key, Value: value, UpdatedAt: time.Now().UTC()}).Error
	})
}

func (r *Repository) GetRiskState() (map[string]string, error) {
	var rows []RiskState
	if err := r.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	state := make(map[string]string, len(rows))
	for _, row := range rows {
		state[row.Key] = row.Value
	}
	return state, nil
}
