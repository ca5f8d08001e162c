// Package store is the transactional store adapter: all SQL for
// invoices, users, and the sync_changes journal lives here.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps the connection pool with the invoice-sync domain's SQL.
type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// ErrNotFound is returned by the user lookups (FetchUser,
// FetchUserByEmail) that find nothing. The invoice lookups report
// absence through their found result instead.
var ErrNotFound = errors.New("store: record not found")

// BeginTx starts a transaction for the push engine's single-transaction
// apply-and-journal cycle.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.Pool.Begin(ctx)
}
