// Package events holds the routing keys and payload schemas shared by every
// service. Both sides of each conversation must agree on these; keeping them
// in one place prevents silent drift between publisher and consumer.
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange is the single topic exchange all services publish to.
const Exchange = "order_events_exchange"

// Order lifecycle routing keys.
const (
	OrderCreated                   = "order.created"
	OrderStockReservationRequested = "order.stock_reservation.requested"
	OrderStockReserved             = "order.stock_reserved"
	OrderStockReservationFailed    = "order.stock_reservation_failed"
	OrderPreparing                 = "order.preparing"
	OrderAssigned                  = "order.assigned"
	OrderOnTheWay                  = "order.on_the_way"
	OrderDelivered                 = "order.delivered"
	OrderCancelled                 = "order.cancelled"

	// OrderCourierAssigned is internal: the courier service tells the order
	// service which courier it bound. The order service then emits
	// OrderAssigned from its own outbox.
	OrderCourierAssigned = "order.courier_assigned"
)

// Product catalog routing keys, consumed by the order service's snapshot cache.
const (
	ProductCreated             = "product.created"
	ProductUpdated             = "product.updated"
	ProductStockUpdated        = "product.stock.updated"
	ProductStockReserved       = "product.stock.reserved"
	ProductStockRestored       = "product.stock.restored"
	ProductAvailabilityUpdated = "product.availability.updated"
	ProductDeleted             = "product.deleted"
)

// Aggregate types recorded on outbox rows.
const (
	AggregateOrder   = "ORDER"
	AggregateProduct = "PRODUCT"
)

// Item is the productId/quantity pair carried by reservation and
// cancellation payloads.
type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderEnvelope is the common body of order.created, order.on_the_way and
// order.delivered. CourierID is empty on order.created.
type OrderEnvelope struct {
	OrderID         string          `json:"orderId"`
	UserID          string          `json:"userId"`
	StoreID         string          `json:"storeId"`
	CourierID       string          `json:"courierId,omitempty"`
	Status          string          `json:"status"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	ShippingAddress string          `json:"shippingAddress"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type StockReservationRequested struct {
	OrderID         string `json:"orderId"`
	StoreID         string `json:"storeId"`
	UserID          string `json:"userId"`
	Items           []Item `json:"items"`
	ShippingAddress string `json:"shippingAddress"`
}

type StockReserved struct {
	OrderID       string `json:"orderId"`
	StoreID       string `json:"storeId"`
	UserID        string `json:"userId"`
	PickupAddress string `json:"pickupAddress"`
	Items         []Item `json:"items"`
}

type StockReservationFailed struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	Reason  string `json:"reason"`
}

type OrderPreparingPayload struct {
	OrderID         string `json:"orderId"`
	StoreID         string `json:"storeId"`
	UserID          string `json:"userId"`
	PickupAddress   string `json:"pickupAddress"`
	ShippingAddress string `json:"shippingAddress"`
}

type OrderAssignedPayload struct {
	OrderID         string `json:"orderId"`
	StoreID         string `json:"storeId"`
	CourierID       string `json:"courierId"`
	UserID          string `json:"userId"`
	PickupAddress   string `json:"pickupAddress"`
	ShippingAddress string `json:"shippingAddress"`
}

type OrderCancelledPayload struct {
	OrderID   string `json:"orderId"`
	StoreID   string `json:"storeId"`
	UserID    string `json:"userId"`
	CourierID string `json:"courierId,omitempty"`
	OldStatus string `json:"oldStatus"`
	Items     []Item `json:"items"`
}

// CourierAssigned is the internal reply from the courier service.
type CourierAssigned struct {
	OrderID   string `json:"orderId"`
	CourierID string `json:"courierId"`
}

// ProductPayload is the body of every product.* event except product.deleted.
type ProductPayload struct {
	ProductID string          `json:"productId"`
	StoreID   string          `json:"storeId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Available bool            `json:"available"`
}

type ProductDeletedPayload struct {
	ProductID string `json:"productId"`
}
