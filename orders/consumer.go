package main

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/broker"
	"github.com/quickbite/delivery-microservices/common/events"
)

// Queue names owned by the order service: one per logical purpose.
const (
	sagaQueue    = "orders.saga"
	catalogQueue = "orders.catalog"
)

type consumer struct {
	svc       *Service
	snapshots SnapshotStore
	logger    *zap.Logger
}

func NewConsumer(svc *Service, snapshots SnapshotStore, logger *zap.Logger) *consumer {
	return &consumer{svc: svc, snapshots: snapshots, logger: logger}
}

// RegisterSaga binds the saga reply handlers and the courier binding.
func (c *consumer) RegisterSaga(r *broker.Router) {
	r.Handle(events.OrderStockReserved, c.handleStockReserved)
	r.Handle(events.OrderStockReservationFailed, c.handleStockReservationFailed)
	r.Handle(events.OrderCourierAssigned, c.handleCourierAssigned)
}

// RegisterCatalog binds the product event feed for the snapshot cache.
func (c *consumer) RegisterCatalog(r *broker.Router) {
	for _, key := range []string{
		events.ProductCreated,
		events.ProductUpdated,
		events.ProductStockUpdated,
		events.ProductStockReserved,
		events.ProductStockRestored,
		events.ProductAvailabilityUpdated,
	} {
		r.Handle(key, c.handleProductUpsert)
	}
	r.Handle(events.ProductDeleted, c.handleProductDeleted)
}

func (c *consumer) handleStockReserved(ctx context.Context, body []byte) error {
	var reply events.StockReserved
	if err := json.Unmarshal(body, &reply); err != nil {
		return fmt.Errorf("failed to unmarshal stock_reserved: %w", err)
	}
	return c.svc.PromoteToPreparing(ctx, reply)
}

func (c *consumer) handleStockReservationFailed(ctx context.Context, body []byte) error {
	var reply events.StockReservationFailed
	if err := json.Unmarshal(body, &reply); err != nil {
		return fmt.Errorf("failed to unmarshal stock_reservation_failed: %w", err)
	}
	return c.svc.RevertToPending(ctx, reply)
}

func (c *consumer) handleCourierAssigned(ctx context.Context, body []byte) error {
	var assignment events.CourierAssigned
	if err := json.Unmarshal(body, &assignment); err != nil {
		return fmt.Errorf("failed to unmarshal courier_assigned: %w", err)
	}
	return c.svc.AssignCourier(ctx, assignment)
}

func (c *consumer) handleProductUpsert(ctx context.Context, body []byte) error {
	var p events.ProductPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("failed to unmarshal product event: %w", err)
	}
	return c.snapshots.Upsert(ctx, &ProductSnapshot{
		ProductID: p.ProductID,
		StoreID:   p.StoreID,
		Name:      p.Name,
		Price:     p.Price,
		Stock:     p.Stock,
		Available: p.Available,
	})
}

func (c *consumer) handleProductDeleted(ctx context.Context, body []byte) error {
	var p events.ProductDeletedPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("failed to unmarshal product.deleted: %w", err)
	}
	return c.snapshots.Delete(ctx, p.ProductID)
}
