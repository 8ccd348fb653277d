package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return NewRepository(db)
}

func openPos(symbol string, entry, qty float64, openedAt time.Time) (*Position, *TradeRecord) {
	pos := &Position{
		Symbol:     symbol,
		EntryPrice: entry,
		Qty:        qty,
		OpenedAt:   openedAt,
		Confidence: 0.7,
		Edge:       0.002,
		State:      StateOpen,
	}
	rec := &TradeRecord{
		Ts:       openedAt,
		Event:    EventOpen,
		Symbol:   symbol,
		Price:    entry,
		Qty:      qty,
		USDValue: entry * qty,
		Reason:   "SIGNAL BUY",
	}
	return pos, rec
}

func TestOpenClose_RoundTrip(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	openedAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	pos, rec := openPos("BTCUSDC", 100, 1.5, openedAt)
	require.NoError(t, repo.OpenPosition(pos, rec))

	got, err := repo.GetOpenPosition("BTCUSDC")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StateOpen, got.State)
	assert.InDelta(t, 100.0, got.EntryPrice, 1e-9)
	assert.InDelta(t, 1.5, got.Qty, 1e-9)

	closedAt := openedAt.Add(2 * time.Hour)
	closeRec := &TradeRecord{
		Ts: closedAt, Event: EventClose, Symbol: "BTCUSDC",
		Price: 105, Qty: 1.5, USDValue: 157.5, PnlPct: 5, Reason: "Take Profit",
	}
	require.NoError(t, repo.ClosePosition("BTCUSDC", closedAt, 105, 5, 7.5, "Take Profit", closeRec))

	// OPEN row is gone from the open view...
	got, err = repo.GetOpenPosition("BTCUSDC")
	require.NoError(t, err)
	assert.Nil(t, got)

	// ...but the row itself is retained as CLOSED with close fields set.
	var rows []Position
	require.NoError(t, repo.db.Where("symbol = ?", "BTCUSDC").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, StateClosed, rows[0].State)
	assert.Equal(t, "Take Profit", rows[0].CloseReason)
	assert.InDelta(t, 105.0, rows[0].ClosePrice, 1e-9)
	assert.InDelta(t, 7.5, rows[0].PnlUSDC, 1e-9)
	require.NotNil(t, rows[0].ClosedAt)

	// Exactly one OPEN and one CLOSE record.
	trades, err := repo.GetRecentTrades(10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, EventClose, trades[0].Event)
	assert.Equal(t, EventOpen, trades[1].Event)
}

func TestOpenPosition_DuplicateRejected(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	now := time.Now().UTC()
	pos, rec := openPos("ETHUSDC", 2000, 0.5, now)
	require.NoError(t, repo.OpenPosition(pos, rec))

	dup, dupRec := openPos("ETHUSDC", 2010, 0.4, now)
	err := repo.OpenPosition(dup, dupRec)
	require.ErrorIs(t, err, ErrPositionExists)

	// The failed open must not leave a stray trade record behind.
	trades, err2 := repo.GetRecentTrades(10)
	require.NoError(t, err2)
	assert.Len(t, trades, 1)

	count, err := repo.CountOpenPositions()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestOpenPosition_AllowedAfterClose(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	now := time.Now().UTC()
	pos, rec := openPos("SOLUSDC", 150, 2, now)
	require.NoError(t, repo.OpenPosition(pos, rec))
	require.NoError(t, repo.ClosePosition("SOLUSDC", now.Add(time.Minute), 151, 0.66, 2, "Take Profit",
		&TradeRecord{Ts: now.Add(time.Minute), Event: EventClose, Symbol: "SOLUSDC"}))

	again, againRec := openPos("SOLUSDC", 149, 1, now.Add(2*time.Minute))
	assert.NoError(t, repo.OpenPosition(again, againRec))
}

func TestClosePosition_NoOpenRow(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	err := repo.ClosePosition("XRPUSDC", time.Now().UTC(), 1, 0, 0, "Stop Loss",
		&TradeRecord{Ts: time.Now().UTC(), Event: EventClose, Symbol: "XRPUSDC"})
	require.ErrorIs(t, err, ErrNoOpenPosition)

	// No CLOSE record is written when there was nothing to close.
	trades, err := repo.GetRecentTrades(10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestOpenPosition_ConcurrentOpensKeepOneRow(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	const workers = 16
	now := time.Now().UTC()
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			pos, rec := openPos("BTCUSDC", 100, 1, now)
			errs <- repo.OpenPosition(pos, rec)
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrPositionExists)
	}
	assert.Equal(t, 1, successes)

	count, err := repo.CountOpenPositions()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// Exactly one OPEN record: one per successful transition, none for losers.
	trades, err := repo.GetRecentTrades(workers)
	require.NoError(t, err)
	assert.Len(t, trades, successes)
}

func TestClosePosition_ConcurrentClosesWriteOneRecord(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	now := time.Now().UTC()
	pos, rec := openPos("ETHUSDC", 100, 1, now)
	require.NoError(t, repo.OpenPosition(pos, rec))

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			closedAt := time.Now().UTC()
			errs <- repo.ClosePosition("ETHUSDC", closedAt, 101, 1, 1, "Take Profit",
				&TradeRecord{Ts: closedAt, Event: EventClose, Symbol: "ETHUSDC"})
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrNoOpenPosition)
	}
	assert.Equal(t, 1, successes)

	count, err := repo.CountOpenPositions()
	require.NoError(t, err)
	assert.Zero(t, count)

	// One OPEN plus exactly one CLOSE, however the closes interleaved.
	trades, err := repo.GetRecentTrades(workers + 1)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestWithRetry_TransientThenSuccess(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	attempts := 0
	err := repo.withRetry(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_TerminalErrorsNotRetried(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	for _, sentinel := range []error{ErrPositionExists, ErrNoOpenPosition} {
		attempts := 0
		err := repo.withRetry(func() error {
			attempts++
			return fmt.Errorf("wrapped: %w", sentinel)
		})
		require.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, attempts)
	}
}

func TestWithRetry_SurfacesAfterExhaustion(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	boom := errors.New("disk I/O error")
	attempts := 0
	err := repo.withRetry(func() error {
		attempts++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, writeRetries, attempts)
}

func TestUsedCash(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	now := time.Now().UTC()
	a, aRec := openPos("BTCUSDC", 100, 2, now)
	require.NoError(t, repo.OpenPosition(a, aRec))
	b, bRec := openPos("ETHUSDC", 50, 3, now)
	require.NoError(t, repo.OpenPosition(b, bRec))

	total, err := repo.UsedCash()
	require.NoError(t, err)
	assert.InDelta(t, 350.0, total, 1e-9)

	require.NoError(t, repo.ClosePosition("BTCUSDC", now.Add(time.Minute), 101, 1, 2, "Take Profit",
		&TradeRecord{Ts: now.Add(time.Minute), Event: EventClose, Symbol: "BTCUSDC"}))

	total, err = repo.UsedCash()
	require.NoError(t, err)
	assert.InDelta(t, 150.0, total, 1e-9)
}

func TestEquityOfDayBaselines(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	for i, eq := range []float64{10000, 10100, 9900} {
		require.NoError(t, repo.InsertEquitySnapshot(&EquitySnapshot{
			Ts:     day.Add(time.Duration(i) * time.Hour),
			Equity: eq,
		}))
	}
	// Previous day must not leak into the baseline.
	require.NoError(t, repo.InsertEquitySnapshot(&EquitySnapshot{
		Ts:     day.Add(-2 * time.Hour),
		Equity: 12000,
	}))

	first, err := repo.GetFirstEquityOfDay(day.Add(5 * time.Hour))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.InDelta(t, 10000.0, first.Equity, 1e-9)

	last, err := repo.GetLastEquityOfDay(day.Add(5 * time.Hour))
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.InDelta(t, 9900.0, last.Equity, 1e-9)

	none, err := repo.GetFirstEquityOfDay(day.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Nil(t, none)

	since, err := repo.GetFirstEquitySince(day)
	require.NoError(t, err)
	require.NotNil(t, since)
	assert.InDelta(t, 10000.0, since.Equity, 1e-9)
}

func TestRiskStateUpsert(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	require.NoError(t, repo.UpsertRiskState(RiskKeyStatus, "OK"))
	require.NoError(t, repo.UpsertRiskState(RiskKeyStatus, "STOP"))
	require.NoError(t, repo.UpsertRiskState(RiskKeyDDDay, "-1.2500"))

	state, err := repo.GetRiskState()
	require.NoError(t, err)
	assert.Equal(t, "STOP", state[RiskKeyStatus])
	assert.Equal(t, "-1.2500", state[RiskKeyDDDay])
	assert.Len(t, state, 2)
}
