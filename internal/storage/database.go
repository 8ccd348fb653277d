package storage

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDatabase(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	// WAL lets the periodic loops read while a writer holds a transaction.
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := db.AutoMigrate(&Position{}, &EquitySnapshot{}, &TradeRecord{}, &RiskState{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	// One OPEN row per symbol, enforced at the storage layer so two
	// concurrent admissions cannot both insert.
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_symbol
		 ON positions(symbol) WHERE state = 'OPEN'`,
	).Error; err != nil {
		return nil, fmt.Errorf("create open-position index: %w", err)
	}

	return db, nil
}
