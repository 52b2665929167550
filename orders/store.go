package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quickbite/delivery-microservices/common/apperr"
	"github.com/quickbite/delivery-microservices/common/outbox"
)

// PostgresStore persists orders and their items, appending outbox events in
// the same transaction as every aggregate write.
type PostgresStore struct {
	db     *sql.DB
	outbox *outbox.Store
}

func NewPostgresStore(db *sql.DB, ob *outbox.Store) *PostgresStore {
	return &PostgresStore{db: db, outbox: ob}
}

func (s *PostgresStore) Create(ctx context.Context, o *Order, evs []outbox.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, store_id, courier_id, status, total_price, shipping_address, pickup_address, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)`,
		o.ID, o.UserID, o.StoreID, o.CourierID, o.Status, o.TotalPrice, o.ShippingAddress, o.PickupAddress, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, price, quantity)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, item.ProductID, item.ProductName, item.Price, item.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	for _, ev := range evs {
		if err := s.outbox.Append(ctx, tx, ev); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, selectOrder+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, s.db, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, selectOrder+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, o := range orders {
		if err := s.loadItems(ctx, s.db, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *PostgresStore) Transition(ctx context.Context, id string, apply func(o *Order) ([]outbox.Event, error)) (*Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Re-read under a row lock so concurrent transitions re-validate
	// against the current state, not the state the caller saw earlier.
	o, err := scanOrder(tx.QueryRowContext(ctx, selectOrder+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, tx, o); err != nil {
		return nil, err
	}

	evs, err := apply(o)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, courier_id = NULLIF($3, ''), pickup_address = $4, updated_at = now()
		WHERE id = $1`,
		o.ID, o.Status, o.CourierID, o.PickupAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	for _, ev := range evs {
		if err := s.outbox.Append(ctx, tx, ev); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return o, nil
}

// StuckReserving lists orders that entered RESERVING_STOCK before cutoff and
// never received a saga reply.
func (s *PostgresStore) StuckReserving(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM orders
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC`,
		StatusReservingStock, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const selectOrder = `
	SELECT id, user_id, store_id, COALESCE(courier_id, ''), status, total_price,
	       shipping_address, pickup_address, created_at
	FROM orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.StoreID, &o.CourierID, &o.Status,
		&o.TotalPrice, &o.ShippingAddress, &o.PickupAddress, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return &o, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) loadItems(ctx context.Context, q queryer, o *Order) error {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, product_name, price, quantity
		FROM order_items WHERE order_id = $1`, o.ID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Price, &item.Quantity); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return rows.Err()
}
