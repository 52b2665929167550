package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quickbite/delivery-microservices/common/apperr"
	"github.com/quickbite/delivery-microservices/common/events"
	"github.com/quickbite/delivery-microservices/common/idempotency"
	"github.com/quickbite/delivery-microservices/common/outbox"
)

type PostgresStore struct {
	db     *sql.DB
	outbox *outbox.Store
	idem   *idempotency.Store
}

func NewPostgresStore(db *sql.DB, ob *outbox.Store, idem *idempotency.Store) *PostgresStore {
	return &PostgresStore{db: db, outbox: ob, idem: idem}
}

// AssignAvailable binds one AVAILABLE courier to orderID. The idempotency
// claim lives in the same transaction as the courier update and the outbox
// append: either the whole assignment happened or none of it did, so a crash
// mid-way leaves the key unclaimed and the redelivery starts fresh.
//
// SKIP LOCKED lets concurrent assignments for different orders pick different
// couriers instead of queueing on the same row.
func (s *PostgresStore) AssignAvailable(ctx context.Context, orderID string) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to begin assignment transaction: %w", err)
	}
	defer tx.Rollback()

	claimed, err := s.idem.TryClaimTx(ctx, tx, "ASSIGN_COURIER:"+orderID)
	if err != nil {
		return "", false, err
	}
	if !claimed {
		return "", false, nil
	}

	var courierID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM couriers
		WHERE status = $1
		ORDER BY location_updated_at ASC NULLS LAST
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, StatusAvailable).Scan(&courierID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, apperr.New(apperr.KindUnavailable, "no courier available")
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to select available courier: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE couriers SET status = $1, current_order_id = $2 WHERE id = $3`,
		StatusBusy, orderID, courierID)
	if err != nil {
		return "", false, fmt.Errorf("failed to mark courier busy: %w", err)
	}

	ev, err := outbox.NewEvent(events.AggregateOrder, orderID, events.OrderCourierAssigned,
		events.CourierAssigned{OrderID: orderID, CourierID: courierID})
	if err != nil {
		return "", false, err
	}
	if err := s.outbox.Append(ctx, tx, ev); err != nil {
		return "", false, err
	}

	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	return courierID, true, nil
}

// ReleaseByOrder is a no-op when no courier is bound to orderID, which covers
// cancellations that never reached assignment.
func (s *PostgresStore) ReleaseByOrder(ctx context.Context, orderID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin release transaction: %w", err)
	}
	defer tx.Rollback()

	claimed, err := s.idem.TryClaimTx(ctx, tx, "RELEASE_COURIER:"+orderID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE couriers SET status = $1, current_order_id = NULL
		WHERE current_order_id = $2 AND status = $3`,
		StatusAvailable, orderID, StatusBusy)
	if err != nil {
		return fmt.Errorf("failed to release courier: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Courier, error) {
	return scanCourier(s.db.QueryRowContext(ctx, selectCourier+` WHERE id = $1`, id))
}

// UpdateStatus upserts the courier row: the first status report a courier
// makes creates it. A BUSY courier may not change their own status; the
// delivery has to finish (or be cancelled) first.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status CourierStatus) (*Courier, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin status transaction: %w", err)
	}
	defer tx.Rollback()

	var current CourierStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM couriers WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first contact: create the row
	case err != nil:
		return nil, fmt.Errorf("failed to load courier: %w", err)
	case current == StatusBusy:
		return nil, apperr.New(apperr.KindInvalidState, "courier is on an active delivery")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO couriers (id, status) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`, id, status)
	if err != nil {
		return nil, fmt.Errorf("failed to update courier status: %w", err)
	}

	c, err := scanCourier(tx.QueryRowContext(ctx, selectCourier+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) UpdateLocation(ctx context.Context, id string, lat, lng float64) (*Courier, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE couriers SET lat = $2, lng = $3, location_updated_at = now()
		WHERE id = $1`, id, lat, lng)
	if err != nil {
		return nil, fmt.Errorf("failed to update courier location: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.New(apperr.KindNotFound, "courier not found")
	}
	return s.Get(ctx, id)
}

const selectCourier = `
	SELECT id, status, COALESCE(current_order_id, ''), COALESCE(lat, 0), COALESCE(lng, 0),
	       lat IS NOT NULL, COALESCE(location_updated_at, to_timestamp(0))
	FROM couriers`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCourier(row rowScanner) (*Courier, error) {
	var c Courier
	err := row.Scan(&c.ID, &c.Status, &c.CurrentOrderID, &c.Lat, &c.Lng, &c.HasLocation, &c.LocationUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "courier not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan courier: %w", err)
	}
	return &c, nil
}
