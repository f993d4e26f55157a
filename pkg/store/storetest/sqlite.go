// Package storetest opens throwaway stores for tests.
package storetest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"filevault/pkg/store"
)

var seq atomic.Int64

// NewSQLite returns a migrated GormStore backed by a private in-memory
// SQLite database that is closed when the test ends.
func NewSQLite(tb testing.TB) *store.GormStore {
	tb.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=on", name, seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), store.GormConfig())
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	s, err := store.NewGormStoreFromDB(db)
	if err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	tb.Cleanup(func() { _ = s.Close() })
	return s
}
