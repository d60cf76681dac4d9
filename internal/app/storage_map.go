package app

import (
	"fmt"
	"strings"
	"time"

	"fortunebot/internal/config"
	"fortunebot/internal/storage"
)

// mapStorageConfig resolves the storage section. ok is false when the audit
// store is disabled.
func mapStorageConfig(cfg *config.Config) (sc storage.Config, ok bool, err error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	s := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	path := strings.TrimSpace(s.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", s.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", s.Driver)
	}
}
