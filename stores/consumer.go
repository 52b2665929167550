package main

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/broker"
	"github.com/quickbite/delivery-microservices/common/events"
)

const (
	reservationQueue  = "stores.reservation"
	compensationQueue = "stores.compensation"
)

type consumer struct {
	svc    *Service
	logger *zap.Logger
}

func NewConsumer(svc *Service, logger *zap.Logger) *consumer {
	return &consumer{svc: svc, logger: logger}
}

func (c *consumer) RegisterReservation(r *broker.Router) {
	r.Handle(events.OrderStockReservationRequested, c.handleReservationRequested)
}

func (c *consumer) RegisterCompensation(r *broker.Router) {
	r.Handle(events.OrderCancelled, c.handleOrderCancelled)
}

func (c *consumer) handleReservationRequested(ctx context.Context, body []byte) error {
	var req events.StockReservationRequested
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("failed to unmarshal reservation request: %w", err)
	}
	return c.svc.HandleReservationRequested(ctx, req)
}

func (c *consumer) handleOrderCancelled(ctx context.Context, body []byte) error {
	var ev events.OrderCancelledPayload
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal order.cancelled: %w", err)
	}
	return c.svc.HandleOrderCancelled(ctx, ev)
}
