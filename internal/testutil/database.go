package testutil

import (
	"testing"

	"dbcfg/internal/database"
)

// NewTestHistory creates an in-memory history store with the schema
// applied. It is closed when the test completes.
func NewTestHistory(t *testing.T) *database.SQLiteHistory {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec(database.Schema); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	h := database.NewSQLiteHistoryFromDB(sqlDB, "test-host")
	t.Cleanup(func() {
		h.Close()
	})
	return h
}
