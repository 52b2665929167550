// Package outbox implements the transactional outbox: business writes and
// the events they imply commit atomically, and a background publisher drains
// committed events to the broker afterwards.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one pending outbound message. Payload is stored opaque; the
// routing key in Type decides where it goes.
type Event struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	CreatedAt     time.Time
	Processed     bool
}

// NewEvent marshals payload and stamps a fresh event id and creation time.
func NewEvent(aggregateType, aggregateID, routingKey string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", routingKey, err)
	}
	return Event{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          routingKey,
		Payload:       body,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Store persists outbox rows in the service's own database.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts ev inside the caller's transaction. Sharing the transaction
// with the aggregate write is the whole point: if the business write rolls
// back, the event never existed.
func (s *Store) Append(ctx context.Context, tx *sql.Tx, ev Event) error {
	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, type, payload, created_at, processed)
		VALUES ($1, $2, $3, $4, $5, $6, false)`
	_, err := tx.ExecContext(ctx, query,
		ev.ID, ev.AggregateType, ev.AggregateID, ev.Type, ev.Payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append outbox event %s: %w", ev.Type, err)
	}
	return nil
}

// AppendNow inserts ev in its own short transaction. Used where an event must
// commit independently of a rolled-back business transaction, e.g. the saga
// failure reply.
func (s *Store) AppendNow(ctx context.Context, ev Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin outbox transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.Append(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

// FetchPendingBatch returns up to n unprocessed events, oldest first.
func (s *Store) FetchPendingBatch(ctx context.Context, n int) ([]Event, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, type, payload, created_at
		FROM outbox
		WHERE processed = false
		ORDER BY created_at ASC
		LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending outbox events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.AggregateType, &ev.AggregateID, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkProcessed flags one event as delivered to the broker.
func (s *Store) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox SET processed = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event processed: %w", err)
	}
	return nil
}

// DeleteProcessedOlderThan removes processed rows created before cutoff, at
// most limit rows per call to keep lock times bounded. Returns rows deleted.
func (s *Store) DeleteProcessedOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	query := `
		DELETE FROM outbox
		WHERE id IN (
			SELECT id FROM outbox
			WHERE processed = true AND created_at < $1
			LIMIT $2
		)`
	res, err := s.db.ExecContext(ctx, query, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed outbox events: %w", err)
	}
	return res.RowsAffected()
}

// CountPending returns the number of unprocessed rows, for metrics.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE processed = false`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending outbox events: %w", err)
	}
	return n, nil
}
