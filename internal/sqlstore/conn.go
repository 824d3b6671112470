package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite

	"openadmin/internal/logger"
)

// Options tune how Open waits for the database.
type Options struct {
	ConnectAttempts uint
	ConnectDelay    time.Duration
	Logger          logger.Logger
}

// Open connects and pings, retrying while the database comes up.
func Open(ctx context.Context, driver, dsn string, opts Options) (*sql.DB, Dialect, error) {
	d, err := ParseDialect(driver)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, "", err
	}
	if d == SQLite {
		// one writer; also keeps in-memory databases on a single connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	lggr := opts.Logger
	if lggr == nil {
		lggr = logger.Nop()
	}
	attempts := opts.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}
	delay := opts.ConnectDelay
	if delay <= 0 {
		delay = time.Second
	}

	err = retry.Do(func() error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pctx)
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			lggr.Warnw("database not ready", "driver", d, "attempt", n+1, "of", attempts, "err", err)
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("connect %s: %w", d, err)
	}
	lggr.Infow("database connected", "driver", d)
	return db, d, nil
}
