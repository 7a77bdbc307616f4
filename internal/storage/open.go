package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"pushstream/pkg/logx"
)

// Store is the persistence API used by the dedup pipeline and the notifier.
type Store interface {
	LoadWatermark(ctx context.Context) (float64, error)
	SaveWatermark(ctx context.Context, ts float64) error
	AppendLedger(ctx context.Context, e LedgerEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	path, err := ExpandHome(strings.TrimSpace(cfg.Path))
	if err != nil {
		return nil, err
	}
	cfg.Path = path

	switch driver {
	case "file":
		return openFile(cfg, log.Component("storage"))
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log.Component("storage"))
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
