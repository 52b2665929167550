package main

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/broker"
	"github.com/quickbite/delivery-microservices/common/events"
)

const assignmentQueue = "couriers.assignment"

type consumer struct {
	svc    *Service
	logger *zap.Logger
}

func NewConsumer(svc *Service, logger *zap.Logger) *consumer {
	return &consumer{svc: svc, logger: logger}
}

func (c *consumer) Register(r *broker.Router) {
	r.Handle(events.OrderPreparing, c.handleOrderPreparing)
	r.Handle(events.OrderDelivered, c.handleOrderClosed)
	r.Handle(events.OrderCancelled, c.handleOrderClosed)
}

func (c *consumer) handleOrderPreparing(ctx context.Context, body []byte) error {
	var ev events.OrderPreparingPayload
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal order.preparing: %w", err)
	}
	return c.svc.HandleOrderPreparing(ctx, ev)
}

// handleOrderClosed serves both order.delivered and order.cancelled; each
// payload carries orderId at the top level.
func (c *consumer) handleOrderClosed(ctx context.Context, body []byte) error {
	var ev struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return c.svc.HandleOrderClosed(ctx, ev.OrderID)
}
