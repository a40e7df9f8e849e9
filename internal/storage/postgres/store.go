package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dlnIndexer/internal/storage"
)

const (
	defaultSaveTimeout = 10 * time.Second
	txAttempts         = 3
)

// PostgreSQL error codes worth another attempt.
const (
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
	pgErrConnectionFailure    = "08006"
	pgErrConnectionException  = "08000"
	pgErrTooManyConnections   = "53300"
	pgErrCannotConnectNow     = "57P03"
)

var (
	_ storage.TaskSink   = (*Store)(nil)
	_ storage.TaskQueue  = (*Store)(nil)
	_ storage.PriceStore = (*Store)(nil)
)

// Store provides Postgres persistence for tasks, checkpoints, trn logs and prices.
type Store struct {
	pool        *pgxpool.Pool
	saveTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithSaveTimeout bounds the SaveTask transaction. Zero disables the bound.
func WithSaveTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.saveTimeout = d
	}
}

// NewStore opens a connection pool for dsn. The pool connects lazily.
func NewStore(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database url is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	s := &Store{
		pool:        pool,
		saveTimeout: defaultSaveTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// inTx runs fn in a transaction, retrying serialization and connection failures.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < txAttempts; attempt++ {
		err = pgx.BeginFunc(ctx, s.pool, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}

		delay := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// IsRetryable reports whether err is a transient PostgreSQL failure.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgErrSerializationFailure, pgErrDeadlockDetected,
		pgErrConnectionFailure, pgErrConnectionException,
		pgErrTooManyConnections, pgErrCannotConnectNow:
		return true
	}
	return false
}
