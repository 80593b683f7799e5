// Package testutil provides an in-memory ledger and a controllable clock for tests.
package testutil

import (
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/renegade-fi/fee-sweeper/db"
)

// NewLedgerDB opens a migrated in-memory SQLite database. A single connection keeps the memory
// database alive for the whole test and serialises writers the way row locks would.
func NewLedgerDB(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db.AutoMigrateDB(gdb)
	return gdb
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NewFee returns an unsaved fee row with the given mint and amount.
func NewFee(txHash, mint, amount, blinder, receiver string) *db.Fee {
	return &db.Fee{
		TxHash:   txHash,
		Mint:     mint,
		Amount:   db.MustNumeric(amount),
		Blinder:  db.MustNumeric(blinder),
		Receiver: receiver,
	}
}
