package storage

import (
	"errors"
	"strings"

	logx "immunizer/pkg/logx"
)

// Open initializes the configured store. An empty driver selects "memory".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "memory":
		log.Warn("using in-memory store; data is lost on restart")
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
