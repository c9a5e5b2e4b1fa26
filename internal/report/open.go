package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/deixis/procman/internal/config"
)

// Open builds the store selected by cfg, wrapped in an LRU cache.
func Open(cfg *config.Config) (*LRUStore, error) {
	var back Store
	switch driver := cfg.StoreDriver(); driver {
	case "disk":
		path, err := storePath(cfg, "runs")
		if err != nil {
			return nil, err
		}
		back = NewDiskStore(path)
	case DriverSQLite:
		path, err := storePath(cfg, "history.db")
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		s, err := OpenSQL(DriverSQLite, path)
		if err != nil {
			return nil, err
		}
		back = s
	case DriverPostgres:
		if cfg.Store.DSN == "" {
			return nil, fmt.Errorf("store: postgres driver requires a dsn")
		}
		s, err := OpenSQL(DriverPostgres, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		back = s
	default:
		return nil, fmt.Errorf("store: unknown driver %q (want disk, sqlite or postgres)", driver)
	}
	return NewLRUStore(cfg.CacheSize(), back), nil
}

// storePath returns the configured store path, or name under the user cache
// directory so that separate invocations share one history.
func storePath(cfg *config.Config, name string) (string, error) {
	if cfg.Store.Path != "" {
		return cfg.Store.Path, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locating cache directory: %w", err)
	}
	return filepath.Join(dir, "procman", name), nil
}
