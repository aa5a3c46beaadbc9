package db

import (
	"context"
	"database/sql"
)

// Querier represents the minimal database operations used by the store.
// Both *sql.DB and *sql.Tx satisfy this interface.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
