// Package dbtest opens throwaway databases for package tests.
package dbtest

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tabletop-signup/internal/db"
)

// Open returns a migrated sqlite database stored under t.TempDir. The pool is
// limited to one connection, so transactions run one after another the way a
// serializable store would order them.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("test database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return conn
}

// Runner wraps conn in a TxRunner using the driver's default isolation.
func Runner(conn *gorm.DB) *db.TxRunner {
	return db.NewTxRunner(conn, sql.LevelDefault, 3, time.Millisecond)
}

// CreateTable inserts a table row with the given default capacity.
func CreateTable(t *testing.T, conn *gorm.DB, name string, minPlayers, maxPlayers int) db.Table {
	t.Helper()
	table := db.Table{
		Name:                   name,
		DefaultMinParticipants: minPlayers,
		DefaultMaxParticipants: maxPlayers,
		DefaultDurationMinutes: 90,
	}
	if err := conn.Create(&table).Error; err != nil {
		t.Fatalf("create table %q: %v", name, err)
	}
	return table
}
