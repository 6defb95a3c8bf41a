package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"       // postgres driver
	_ "modernc.org/sqlite"      // pure go sqlite driver
)

type Config struct {
	// Driver is "postgres" or "sqlite".
	Driver   string
	DSN      string
	MaxConns int
	Timeout  time.Duration
}

// Connect opens a *sql.DB for the configured driver and verifies
// connectivity with a ping.
func Connect(cfg Config) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 5
	}
	if driver == "sqlite" {
		// modernc sqlite serializes writers; a single connection avoids
		// SQLITE_BUSY under concurrent requests.
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
