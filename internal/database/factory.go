package database

import (
	"fmt"
	"os"
	"path/filepath"

	"panelup/internal/config"
	"panelup/internal/update"
)

// DatabaseFileName is the sqlite file created under data_dir.
const DatabaseFileName = "panelup.db"

// NewDatabaseFromConfig creates the database described by the config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, clock update.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, DatabaseFileName), clock)
	case "memory":
		return NewSQLiteDatabase(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
