// Package idempotency turns at-least-once broker delivery into effectively-
// once processing. The only primitive is claiming a key: the insert either
// succeeds (this caller does the work) or hits the unique constraint (someone
// already did, or is doing, the work). There is no check-then-insert.
package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Store persists processed-event keys. Keys follow the pattern
// "<OPERATION>:<aggregateId>", e.g. "RESERVE_STOCK:<orderId>".
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// TryClaim attempts to insert key and reports whether this caller won. Under
// concurrent claims for the same key exactly one caller sees true.
func (s *Store) TryClaim(ctx context.Context, key string) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_events (event_key) VALUES ($1)`, key)
	return claimResult(key, err)
}

// TryClaimTx is TryClaim inside the caller's transaction, for operations
// whose claim must commit or roll back together with their side effect
// (e.g. courier assignment).
func (s *Store) TryClaimTx(ctx context.Context, tx *sql.Tx, key string) (bool, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO processed_events (event_key) VALUES ($1)`, key)
	return claimResult(key, err)
}

func claimResult(key string, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return false, nil
	}
	return false, fmt.Errorf("failed to claim idempotency key %s: %w", key, err)
}
