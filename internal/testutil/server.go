package testutil

import (
	"testing"

	"dbcfg/internal/dbcfg"
	"dbcfg/internal/engine"
)

// NewTestServer creates a memory server holding the named databases, each
// with a PRIMARY filegroup, a primary data file and a log file.
func NewTestServer(databases ...string) *engine.MemoryServer {
	s := engine.NewMemoryServer()
	for _, name := range databases {
		s.AddDatabase(name)
	}
	return s
}

// MustLoad loads a prototype of an existing database.
func MustLoad(t *testing.T, conn dbcfg.Connection, name string) *dbcfg.DatabasePrototype {
	t.Helper()
	db, err := dbcfg.Load(conn, name, nil)
	if err != nil {
		t.Fatalf("Load(%s) error = %v", name, err)
	}
	return db
}
