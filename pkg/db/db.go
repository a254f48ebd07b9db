// SPDX-License-Identifier: Apache-2.0

// Package db is the gateway component (spec §4.1): it owns the
// connection, retries transient failures with bounded exponential
// backoff, and enforces process-wide mutual exclusion via a Postgres
// advisory lock.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"
)

const (
	deadlockDetectedCode     pq.ErrorCode = "40P01"
	serializationFailureCode pq.ErrorCode = "40001"
	lockNotAvailableCode     pq.ErrorCode = "55P03"

	backoffInitial = 100 * time.Millisecond
	backoffMax     = 3200 * time.Millisecond
	maxAttempts    = 10
)

// ErrAlreadyRunning is returned by Acquire when another process already
// holds the engine's advisory lock. Callers must not wait for it — spec
// §4.1 requires immediate failure, never a blocking wait, because two
// concurrent migration tools must never both proceed.
var ErrAlreadyRunning = errors.New("db: another reshape invocation is already running against this database")

// DB is the interface the rest of the engine depends on, so tests can
// substitute a fake without a real Postgres connection.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	WithTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error
	Close() error
}

// Gateway wraps a *sql.DB, retrying queries on transient errors with a
// bounded exponential backoff, and provides the process-wide advisory
// lock used for mutual exclusion between tool invocations.
type Gateway struct {
	conn *sql.DB

	// lockConn is not used: the session-scoped advisory lock is held by
	// the dedicated connection inside the Handle that Acquire returns,
	// and is released by Handle.Release, not by Close.
	lockConn *sql.Conn
}

// New wraps an existing *sql.DB.
func New(conn *sql.DB) *Gateway {
	return &Gateway{conn: conn}
}

// AdvisoryLockKey is the fixed 64-bit key used for the engine's
// process-wide mutual exclusion lock (spec §4.1, §5). The key is an
// arbitrary constant distinguishing this lock from any other advisory
// lock a cohabiting application might take.
const AdvisoryLockKey int64 = 0x72657368617065 // "reshape" in hex (7 bytes, fits an int64)

// Handle is returned by Acquire; it holds the advisory lock until
// Release is called.
type Handle struct {
	conn *sql.Conn
}

// Acquire takes the engine's session-scoped advisory lock. It does not
// wait: if another process already holds it, ErrAlreadyRunning is
// returned immediately (spec §4.1, Invariant 1, P4).
func (g *Gateway) Acquire(ctx context.Context) (*Handle, error) {
	conn, err := g.conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("db: acquiring connection for advisory lock: %w", err)
	}

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", AdvisoryLockKey).Scan(&acquired)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: acquiring advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, ErrAlreadyRunning
	}

	return &Handle{conn: conn}, nil
}

// Release drops the advisory lock and returns the underlying connection
// to the pool.
func (h *Handle) Release(ctx context.Context) error {
	_, err := h.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", AdvisoryLockKey)
	closeErr := h.conn.Close()
	return errors.Join(err, closeErr)
}

// ExecContext retries on transient failure.
func (g *Gateway) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := retry(ctx, func() error {
		var execErr error
		res, execErr = g.conn.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// QueryContext retries on transient failure.
func (g *Gateway) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	err := retry(ctx, func() error {
		var queryErr error
		rows, queryErr = g.conn.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

// QueryRowContext is a thin pass-through: row-level errors surface via
// Scan, not here, so there is nothing to retry against up front.
func (g *Gateway) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return g.conn.QueryRowContext(ctx, query, args...)
}

// WithTransaction runs f inside a transaction, retrying the whole
// transaction on transient failure.
func (g *Gateway) WithTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error {
	return retry(ctx, func() error {
		tx, err := g.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		if err := f(ctx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return errors.Join(err, rbErr)
			}
			return err
		}

		return tx.Commit()
	})
}

func (g *Gateway) Close() error {
	return g.conn.Close()
}

// retry runs f, retrying with exponential backoff on errors classified
// as transient by isTransient, up to maxAttempts times. Any other error
// (permanent, per spec §4.1) is returned immediately.
func retry(ctx context.Context, f func() error) error {
	b := backoff.New(backoffMax, backoffInitial)

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if sleepErr := sleepCtx(ctx, b.Duration()); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("db: exceeded %d retry attempts: %w", maxAttempts, err)
}

// isTransient classifies an error per spec §4.1/§7: connection reset,
// deadlock detected, serialization failure and lock not available are
// transient; every other SQL error is permanent and reported
// immediately.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case deadlockDetectedCode, serializationFailureCode, lockNotAvailableCode:
			return true
		}
		return false
	}

	// database/sql surfaces connection resets and other driver-level
	// connectivity failures (a dropped TCP connection, sql.ErrConnDone,
	// driver.ErrBadConn) without a pq.Error at all. Since it isn't one
	// of the classified permanent SQL errors above, treat it as a
	// connectivity blip worth retrying.
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
