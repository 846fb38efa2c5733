package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/classbank/economy/internal/metrics"
	"github.com/classbank/economy/internal/models"
	"github.com/classbank/economy/internal/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

var _ storage.Store = (*Store)(nil)
var _ storage.Tx = (*tx)(nil)

// Store implements storage.Store on PostgreSQL.
type Store struct {
	queries
	db         *sqlx.DB
	maxRetries uint64
	newBackOff func() backoff.BackOff
	log        *logrus.Entry
}

// Option customises a Store.
type Option func(*Store)

// WithMaxRetries bounds how many times a transaction is replayed after a
// transient failure.
func WithMaxRetries(n uint64) Option {
	return func(s *Store) { s.maxRetries = n }
}

// WithBackOff replaces the retry schedule.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(s *Store) { s.newBackOff = fn }
}

// New creates a Store using the provided database handle.
func New(db *sql.DB, opts ...Option) *Store {
	x := sqlx.NewDb(db, "postgres")
	s := &Store{
		queries:    queries{ext: x},
		db:         x,
		maxRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return b
		},
		log: logrus.WithField("component", "postgres-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithTx runs fn inside a database transaction, replaying the whole unit on
// serialization failures, deadlocks, dropped connections and lost
// optimistic-lock races. Errors returned by fn are never retried otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	attempt := 0
	op := func() error {
		attempt++
		start := time.Now()
		err := s.run(ctx, fn)
		metrics.ObserveStoreTx(err, time.Since(start))
		if err == nil {
			return nil
		}
		if isTransient(err) {
			s.log.WithError(err).WithField("attempt", attempt).Warn("transient store failure, retrying")
			return err
		}
		return backoff.Permanent(err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx)
	return backoff.Retry(op, b)
}

func (s *Store) run(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &tx{queries: queries{ext: sqlTx}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isTransient(err error) bool {
	if errors.Is(err, models.ErrConcurrentUpdate) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %v", models.ErrNotFound, what, id)
	}
	return err
}
