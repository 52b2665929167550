package main

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/broker"
	"github.com/quickbite/delivery-microservices/common/events"
)

const eventsQueue = "notifications.events"

// messageFor maps routing keys to the user-facing text.
var messageFor = map[string]string{
	events.OrderCreated:   "Your order has been placed.",
	events.OrderPreparing: "The store is preparing your order.",
	events.OrderAssigned:  "A courier has been assigned to your order.",
	events.OrderOnTheWay:  "Your order is on the way.",
	events.OrderDelivered: "Your order has been delivered. Enjoy!",
	events.OrderCancelled: "Your order has been cancelled.",
}

type consumer struct {
	svc    *Service
	idem   Claimer
	logger *zap.Logger
}

func NewConsumer(svc *Service, idem Claimer, logger *zap.Logger) *consumer {
	return &consumer{svc: svc, idem: idem, logger: logger}
}

func (c *consumer) Register(r *broker.Router) {
	for key := range messageFor {
		r.Handle(key, c.handleOrderEvent(key))
	}
	r.Handle(events.OrderStockReservationFailed, c.handleReservationFailed)
}

// handleOrderEvent builds one handler per routing key; every order event
// carries orderId and userId at the top level.
func (c *consumer) handleOrderEvent(routingKey string) broker.HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		var ev struct {
			OrderID string `json:"orderId"`
			UserID  string `json:"userId"`
		}
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", routingKey, err)
		}
		return c.notify(ctx, routingKey, ev.UserID, ev.OrderID, messageFor[routingKey])
	}
}

func (c *consumer) handleReservationFailed(ctx context.Context, body []byte) error {
	var ev events.StockReservationFailed
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal stock_reservation_failed: %w", err)
	}
	message := "Your order could not be confirmed: " + ev.Reason
	return c.notify(ctx, events.OrderStockReservationFailed, ev.UserID, ev.OrderID, message)
}

func (c *consumer) notify(ctx context.Context, routingKey, userID, orderID, message string) error {
	claimed, err := c.idem.TryClaim(ctx, "NOTIFY:"+routingKey+":"+orderID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	return c.svc.Dispatch(ctx, userID, orderID, routingKey, message)
}
