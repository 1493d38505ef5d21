package database

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/config"
)

// NewDatabaseFromConfig opens the build history selected by cfg.Type.
// The sqlite file is named after the user so several users can share a
// data directory.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, userUUID string, now func() time.Time) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, userUUID+".db"), now)
	case "memory":
		return NewSQLiteDatabase(":memory:", now)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
