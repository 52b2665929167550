package main

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickbite/delivery-microservices/common/outbox"
)

// Status is the order lifecycle state. Transitions are validated by the
// table in state.go; nothing else may write Status.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusReservingStock Status = "RESERVING_STOCK"
	StatusPreparing      Status = "PREPARING"
	StatusOnTheWay       Status = "ON_THE_WAY"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
)

// Order is the aggregate root. Items are immutable after creation; their
// name and price are snapshots taken from the product cache at create time.
type Order struct {
	ID              string
	UserID          string
	StoreID         string
	CourierID       string // empty until a courier is bound
	Status          Status
	TotalPrice      decimal.Decimal
	ShippingAddress string
	PickupAddress   string // filled when the order reaches PREPARING
	Items           []OrderItem
	CreatedAt       time.Time
}

type OrderItem struct {
	ProductID   string
	ProductName string
	Price       decimal.Decimal
	Quantity    int
}

// ProductSnapshot is the eventually-consistent local copy of a product,
// maintained from product.* events. Stale reads are acceptable here: the
// authoritative stock check happens in the reservation saga.
type ProductSnapshot struct {
	ProductID string
	StoreID   string
	Name      string
	Price     decimal.Decimal
	Stock     int
	Available bool
}

type OrdersStore interface {
	// Create persists the order, its items and the given outbox events in
	// one transaction.
	Create(ctx context.Context, o *Order, evs []outbox.Event) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]*Order, error)
	// Transition re-reads the order under a row lock, applies the mutation
	// and persists it together with the events the mutation returns, all in
	// one transaction. An error from apply rolls everything back.
	Transition(ctx context.Context, id string, apply func(o *Order) ([]outbox.Event, error)) (*Order, error)
}

type SnapshotStore interface {
	Upsert(ctx context.Context, snap *ProductSnapshot) error
	Delete(ctx context.Context, productID string) error
	FindAll(ctx context.Context, ids []string) (map[string]*ProductSnapshot, error)
}

// Claimer is the idempotency primitive consumed by event handlers.
type Claimer interface {
	TryClaim(ctx context.Context, key string) (bool, error)
}
