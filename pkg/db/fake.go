// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"database/sql"
)

// Fake is a no-op DB for unit tests that exercise code taking a db.DB
// without touching a real database.
type Fake struct{}

func (f *Fake) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return driverResult{}, nil
}

func (f *Fake) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}

func (f *Fake) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (f *Fake) WithTransaction(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	return nil
}

func (f *Fake) Close() error { return nil }

type driverResult struct{}

func (driverResult) LastInsertId() (int64, error) { return 0, nil }
func (driverResult) RowsAffected() (int64, error) { return 0, nil }
