package database

import (
	"fmt"
	"os"
	"path/filepath"

	"dbcfg/internal/config"
)

// NewHistoryFromConfig opens the history store named by the config type and
// migrates it to the latest schema.
func NewHistoryFromConfig(cfg config.HistoryConfig, hostID string) (*SQLiteHistory, error) {
	var path string
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite history")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
		path = filepath.Join(cfg.DataDir, hostID+".db")
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown history type: %s", cfg.Type)
	}

	h, err := NewSQLiteHistory(path, hostID)
	if err != nil {
		return nil, err
	}
	if err := h.Migrate(); err != nil {
		h.Close()
		return nil, fmt.Errorf("migrating history: %w", err)
	}
	return h, nil
}
