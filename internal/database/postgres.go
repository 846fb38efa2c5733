package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/classbank/economy/internal/config"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// InitDB opens the connection pool and waits for the server to answer,
// retrying with exponential backoff up to cfg.ConnectAttempts times.
func InitDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := ping(ctx, db, cfg.ConnectAttempts, newConnectBackOff()); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	logrus.WithFields(logrus.Fields{"host": cfg.Host, "database": cfg.Name}).Info("Database connection established")
	return db, nil
}

func newConnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

func ping(ctx context.Context, db *sql.DB, attempts uint64, b backoff.BackOff) error {
	if attempts == 0 {
		attempts = 1
	}
	op := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}
	notify := func(err error, wait time.Duration) {
		logrus.WithError(err).WithField("retry_in", wait).Warn("database not ready")
	}
	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx), notify)
}
