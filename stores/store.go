package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quickbite/delivery-microservices/common/apperr"
	"github.com/quickbite/delivery-microservices/common/events"
	"github.com/quickbite/delivery-microservices/common/outbox"
)

// PostgresEngine implements StockEngine on the products table. Every stock
// mutation goes through a single conditional UPDATE, so concurrent
// reservations serialize on the row and stock can never be driven below zero.
type PostgresEngine struct {
	db     *sql.DB
	outbox *outbox.Store
}

func NewPostgresEngine(db *sql.DB, ob *outbox.Store) *PostgresEngine {
	return &PostgresEngine{db: db, outbox: ob}
}

func (e *PostgresEngine) BatchReserve(ctx context.Context, storeID string, items []events.Item, onReserved func(pickupAddress string) (outbox.Event, error)) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reservation transaction: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		if err := e.decreaseStock(ctx, tx, storeID, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	var pickupAddress string
	err = tx.QueryRowContext(ctx,
		`SELECT pickup_address FROM stores WHERE id = $1`, storeID).Scan(&pickupAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Newf(apperr.KindNotFound, "store %s not found", storeID)
	}
	if err != nil {
		return fmt.Errorf("failed to look up pickup address: %w", err)
	}

	ev, err := onReserved(pickupAddress)
	if err != nil {
		return err
	}
	if err := e.outbox.Append(ctx, tx, ev); err != nil {
		return err
	}

	return tx.Commit()
}

func (e *PostgresEngine) BatchRestore(ctx context.Context, items []events.Item) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin restore transaction: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		if err := e.restoreStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// decreaseStock applies the conditional decrement. The WHERE clause is the
// invariant: no row is updated unless it has enough stock, so the check and
// the write are one atomic statement. Availability drops to false when the
// decrement empties the row.
func (e *PostgresEngine) decreaseStock(ctx context.Context, tx *sql.Tx, storeID, productID string, qty int) error {
	if qty <= 0 {
		return apperr.Newf(apperr.KindValidation, "quantity must be positive for product %s", productID)
	}

	var p Product
	err := tx.QueryRowContext(ctx, `
		SELECT id, store_id, name, price, available
		FROM products WHERE id = $1 FOR UPDATE`, productID).
		Scan(&p.ID, &p.StoreID, &p.Name, &p.Price, &p.Available)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Newf(apperr.KindNotFound, "product %s not found", productID)
	}
	if err != nil {
		return fmt.Errorf("failed to load product %s: %w", productID, err)
	}
	if p.StoreID != storeID {
		return apperr.Newf(apperr.KindValidation, "product %s does not belong to store %s", productID, storeID)
	}
	if !p.Available {
		return apperr.Newf(apperr.KindInvalidState, "product %s is not available", p.Name)
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock - $1,
		    available = CASE WHEN stock - $1 = 0 THEN false ELSE available END
		WHERE id = $2 AND stock >= $1
		RETURNING stock, available`, qty, productID).
		Scan(&p.Stock, &p.Available)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Newf(apperr.KindInsufficientStock, "insufficient stock for product %s", p.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to decrease stock for product %s: %w", productID, err)
	}

	return e.appendProductEvent(ctx, tx, events.ProductStockReserved, &p)
}

// restoreStock increments unconditionally and re-enables availability when
// the increment lifts stock off zero.
func (e *PostgresEngine) restoreStock(ctx context.Context, tx *sql.Tx, productID string, qty int) error {
	if qty <= 0 {
		return apperr.Newf(apperr.KindValidation, "quantity must be positive for product %s", productID)
	}

	var p Product
	err := tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $1,
		    available = CASE WHEN stock = 0 THEN true ELSE available END
		WHERE id = $2
		RETURNING id, store_id, name, price, stock, available`, qty, productID).
		Scan(&p.ID, &p.StoreID, &p.Name, &p.Price, &p.Stock, &p.Available)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Newf(apperr.KindNotFound, "product %s not found", productID)
	}
	if err != nil {
		return fmt.Errorf("failed to restore stock for product %s: %w", productID, err)
	}

	return e.appendProductEvent(ctx, tx, events.ProductStockRestored, &p)
}

func (e *PostgresEngine) appendProductEvent(ctx context.Context, tx *sql.Tx, routingKey string, p *Product) error {
	ev, err := outbox.NewEvent(events.AggregateProduct, p.ID, routingKey, events.ProductPayload{
		ProductID: p.ID,
		StoreID:   p.StoreID,
		Name:      p.Name,
		Price:     p.Price,
		Stock:     p.Stock,
		Available: p.Available,
	})
	if err != nil {
		return err
	}
	return e.outbox.Append(ctx, tx, ev)
}
