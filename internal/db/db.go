package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/dmd/devicetracker/config"
	_ "github.com/lib/pq"
)

const (
	driverName      = "postgres"
	applicationName = "devicetracker"

	pingTimeout   = 5 * time.Second
	connectTries  = 5
	retryInterval = time.Second

	// The ledger writes from one goroutine at a time, so a small pool is
	// enough.
	connMaxIdle  = 2 * time.Minute
	connMaxLife  = 30 * time.Minute
	maxIdleConns = 2
	maxOpenConns = 5
)

// URL builds the postgres connection URL used by both the driver and the
// migrator.
func URL(cfg config.DatabaseConfig) string {
	sslmode := "disable"
	if cfg.UseSSL {
		sslmode = "require"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:   url.UserPassword(cfg.User, cfg.Password),
		Path:   cfg.DBName,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	q.Set("application_name", applicationName)
	u.RawQuery = q.Encode()
	return u.String()
}

// Open connects to postgres, retrying the initial ping while the server is
// still starting.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := sql.Open(driverName, URL(cfg))
	if err != nil {
		return nil, err
	}
	conn.SetConnMaxIdleTime(connMaxIdle)
	conn.SetConnMaxLifetime(connMaxLife)
	conn.SetMaxIdleConns(maxIdleConns)
	conn.SetMaxOpenConns(maxOpenConns)

	for attempt := 1; ; attempt++ {
		err = ping(ctx, conn)
		if err == nil {
			return conn, nil
		}
		if attempt == connectTries {
			break
		}
		logger.Warn("database not ready", "host", cfg.Host, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}

	_ = conn.Close()
	return nil, fmt.Errorf("ping %s after %d attempts: %w", cfg.Host, connectTries, err)
}

func ping(ctx context.Context, conn *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return conn.PingContext(ctx)
}
