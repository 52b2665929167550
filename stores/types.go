package main

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/quickbite/delivery-microservices/common/events"
	"github.com/quickbite/delivery-microservices/common/outbox"
)

// Product is the authoritative catalog row. Stock is only ever mutated by the
// conditional update in the engine, so it can never go negative.
type Product struct {
	ID         string
	StoreID    string
	CategoryID string
	Name       string
	Price      decimal.Decimal
	Stock      int
	Available  bool
}

// StockEngine reserves and restores product stock.
//
// BatchReserve is all-or-nothing: every item is decremented in one
// transaction, and onReserved builds the success event that commits with the
// decrements. A domain failure rolls the whole batch back. BatchRestore
// increments unconditionally and re-enables availability when stock crosses
// zero; both emit product stock events so downstream snapshots stay current.
type StockEngine interface {
	BatchReserve(ctx context.Context, storeID string, items []events.Item, onReserved func(pickupAddress string) (outbox.Event, error)) error
	BatchRestore(ctx context.Context, items []events.Item) error
}

// Claimer is the idempotency primitive consumed by event handlers.
type Claimer interface {
	TryClaim(ctx context.Context, key string) (bool, error)
}

// FailureOutbox commits a single event in its own transaction, independent of
// any rolled-back business transaction.
type FailureOutbox interface {
	AppendNow(ctx context.Context, ev outbox.Event) error
}
