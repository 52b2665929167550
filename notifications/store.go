package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quickbite/delivery-microservices/common/apperr"
	"github.com/quickbite/delivery-microservices/common/httpx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, n *Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, order_id, type, message, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)`,
		n.ID, n.UserID, n.OrderID, n.Type, n.Message, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPending(ctx context.Context, userID string) ([]*Notification, error) {
	return s.list(ctx, `WHERE user_id = $1 AND delivered_at IS NULL ORDER BY created_at ASC`, userID)
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET delivered_at = now() WHERE id = $1 AND delivered_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification delivered: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUnread(ctx context.Context, userID string) ([]*Notification, error) {
	return s.list(ctx, `WHERE user_id = $1 AND is_read = false ORDER BY created_at DESC`, userID)
}

func (s *PostgresStore) ListHistory(ctx context.Context, userID string, page httpx.Page) ([]*Notification, error) {
	return s.list(ctx, `WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, page.Size, page.Offset())
}

// MarkRead flags the row read. Repeated calls are no-ops; a row owned by a
// different user surfaces as a validation failure (400), per the REST
// contract.
func (s *PostgresStore) MarkRead(ctx context.Context, userID, id string) error {
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM notifications WHERE id = $1`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, "notification not found")
	}
	if err != nil {
		return fmt.Errorf("failed to load notification: %w", err)
	}
	if owner != userID {
		return apperr.New(apperr.KindValidation, "notification does not belong to this user")
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

func (s *PostgresStore) list(ctx context.Context, clause string, args ...any) ([]*Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, order_id, type, message, is_read, created_at, delivered_at
		FROM notifications `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.OrderID, &n.Type, &n.Message,
			&n.IsRead, &n.CreatedAt, &n.DeliveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}
