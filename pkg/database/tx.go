package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/skylinetransit/ticketing/pkg/logger"
	"go.uber.org/zap"
)

// DefaultTxAttempts bounds retries of serialization failures
const DefaultTxAttempts = 3

// TxRunner opens database transactions at a chosen isolation level.
// Workflows depend on it so tests can substitute a runner that skips
// the database entirely.
type TxRunner interface {
	WithinTx(ctx context.Context, iso pgx.TxIsoLevel, fn func(ctx context.Context, q Querier) error) error
}

// DB wraps a pgx pool with transaction helpers
type DB struct {
	Pool        *pgxpool.Pool
	MaxAttempts int
}

// NewDB creates a DB wrapper around an existing pool
func NewDB(pool *pgxpool.Pool) *DB {
	return &DB{Pool: pool, MaxAttempts: DefaultTxAttempts}
}

// WithinTx runs fn inside a transaction at the given isolation level.
// An error from fn rolls the transaction back. Serialization failures
// and deadlocks are retried with a fresh transaction, bounded by
// MaxAttempts, since SERIALIZABLE aborts are expected under contention.
func (d *DB) WithinTx(ctx context.Context, iso pgx.TxIsoLevel, fn func(ctx context.Context, q Querier) error) error {
	attempts := d.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultTxAttempts
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = d.runOnce(ctx, iso, fn)
		if err == nil || !isSerializationFailure(err) || attempt == attempts {
			return err
		}

		logger.Warn("transaction serialization conflict, retrying",
			zap.Int("attempt", attempt),
			zap.String("isolation", string(iso)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return err
}

func (d *DB) runOnce(ctx context.Context, iso pgx.TxIsoLevel, fn func(ctx context.Context, q Querier) error) error {
	tx, err := d.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logger.Error("transaction rollback failed", zap.Error(rbErr))
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping checks connectivity, for readiness probes
func (d *DB) Ping(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}
