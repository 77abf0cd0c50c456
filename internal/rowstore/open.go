package rowstore

import (
	"errors"
	"strings"
	"time"

	logx "deadlinebot/pkg/logx"
)

// Config configures the row store.
//
// Driver values:
//   - "memory": in-process tables, lost on exit
//   - "xlsx": a workbook file, one sheet per table with a header row
//   - "sqlite": SQLite database file
//   - "redis": one list per table
type Config struct {
	Driver string
	Path   string // xlsx, sqlite
	Addr   string // redis
	Prefix string // redis key prefix

	BusyTimeout time.Duration // sqlite only; 0 means default

	// Headers returns the header row written when an xlsx sheet is created.
	Headers func(table string) []string

	// Client-side quota. Zero disables throttling.
	RatePerSec float64
	Burst      int

	Retry RetryPolicy
}

// Open initializes the configured backend and wraps it with throttling
// and bounded retry.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	var (
		st  Store
		err error
	)
	switch driver {
	case "", "memory":
		st = NewMemory()
	case "xlsx", "excel":
		st, err = openXLSX(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	case "redis":
		st, err = openRedis(cfg, log)
	default:
		return nil, errors.New("unknown row store driver: " + driver)
	}
	if err != nil {
		return nil, err
	}

	st = WithThrottle(st, cfg.RatePerSec, cfg.Burst)
	p := cfg.Retry
	if p.Attempts <= 0 {
		p = DefaultRetryPolicy()
	}
	return WithRetry(st, p, log.With(logx.String("comp", "rowstore"), logx.String("driver", driver))), nil
}
