package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresSnapshotStore holds the order service's local copy of the catalog.
// Writes are idempotent upserts, so product event replays are harmless.
type PostgresSnapshotStore struct {
	db *sql.DB
}

func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

func (s *PostgresSnapshotStore) Upsert(ctx context.Context, snap *ProductSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_snapshots (product_id, store_id, name, price, stock, available)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (product_id) DO UPDATE
		SET store_id = EXCLUDED.store_id,
		    name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    stock = EXCLUDED.stock,
		    available = EXCLUDED.available`,
		snap.ProductID, snap.StoreID, snap.Name, snap.Price, snap.Stock, snap.Available)
	if err != nil {
		return fmt.Errorf("failed to upsert product snapshot: %w", err)
	}
	return nil
}

func (s *PostgresSnapshotStore) Delete(ctx context.Context, productID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM product_snapshots WHERE product_id = $1`, productID)
	if err != nil {
		return fmt.Errorf("failed to delete product snapshot: %w", err)
	}
	return nil
}

func (s *PostgresSnapshotStore) FindAll(ctx context.Context, ids []string) (map[string]*ProductSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, store_id, name, price, stock, available
		FROM product_snapshots WHERE product_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query product snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*ProductSnapshot, len(ids))
	for rows.Next() {
		var snap ProductSnapshot
		if err := rows.Scan(&snap.ProductID, &snap.StoreID, &snap.Name, &snap.Price, &snap.Stock, &snap.Available); err != nil {
			return nil, fmt.Errorf("failed to scan product snapshot: %w", err)
		}
		out[snap.ProductID] = &snap
	}
	return out, rows.Err()
}
