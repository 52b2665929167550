package main

import (
	"context"
	"time"
)

// CourierStatus is the courier's availability state. BUSY is only ever set by
// the assignment path, never by the courier's own status endpoint.
type CourierStatus string

const (
	StatusAvailable CourierStatus = "AVAILABLE"
	StatusBusy      CourierStatus = "BUSY"
	StatusOffline   CourierStatus = "OFFLINE"
	StatusOnBreak   CourierStatus = "ON_BREAK"
)

func validStatus(s CourierStatus) bool {
	switch s {
	case StatusAvailable, StatusOffline, StatusOnBreak:
		return true
	default:
		return false
	}
}

// Courier is keyed by the courier's user id from the bearer token. A courier
// row appears the first time the courier reports a status.
type Courier struct {
	ID                string
	Status            CourierStatus
	CurrentOrderID    string // set while BUSY
	Lat               float64
	Lng               float64
	HasLocation       bool
	LocationUpdatedAt time.Time
}

type CourierStore interface {
	// AssignAvailable atomically claims the assignment key for orderID, picks
	// an AVAILABLE courier and flips them to BUSY, all in one transaction.
	// Returns the courier id and whether this call performed the assignment;
	// a lost idempotency claim returns ("", false, nil).
	AssignAvailable(ctx context.Context, orderID string) (string, bool, error)
	// ReleaseByOrder returns the courier bound to orderID to AVAILABLE. The
	// release key is claimed in the same transaction so replays are no-ops.
	ReleaseByOrder(ctx context.Context, orderID string) error
	Get(ctx context.Context, id string) (*Courier, error)
	UpdateStatus(ctx context.Context, id string, status CourierStatus) (*Courier, error)
	UpdateLocation(ctx context.Context, id string, lat, lng float64) (*Courier, error)
}
