package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/apperr"
	"github.com/quickbite/delivery-microservices/common/auth"
	"github.com/quickbite/delivery-microservices/common/events"
	"github.com/quickbite/delivery-microservices/common/outbox"
)

type Service struct {
	store     OrdersStore
	snapshots SnapshotStore
	idem      Claimer
	logger    *zap.Logger
}

func NewService(store OrdersStore, snapshots SnapshotStore, idem Claimer, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		snapshots: snapshots,
		idem:      idem,
		logger:    logger,
	}
}

type CreateOrderRequest struct {
	StoreID         string                   `json:"storeId"`
	ShippingAddress string                   `json:"shippingAddress"`
	Items           []CreateOrderItemRequest `json:"items"`
}

type CreateOrderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CreateOrder validates the request against the local product snapshots,
// snapshots item names and prices, and persists the PENDING order together
// with its order.created event. The snapshot stock check is advisory only;
// the store service re-checks authoritatively during the reservation saga.
func (s *Service) CreateOrder(ctx context.Context, p auth.Principal, req CreateOrderRequest) (*Order, error) {
	if !p.HasRole(auth.RoleCustomer) {
		return nil, apperr.New(apperr.KindForbidden, "only customers can create orders")
	}
	if req.StoreID == "" {
		return nil, apperr.New(apperr.KindValidation, "storeId is required")
	}
	if req.ShippingAddress == "" {
		return nil, apperr.New(apperr.KindValidation, "shippingAddress is required")
	}
	if len(req.Items) == 0 {
		return nil, apperr.New(apperr.KindValidation, "order must contain at least one item")
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, apperr.Newf(apperr.KindValidation, "quantity must be positive for product %s", item.ProductID)
		}
		ids = append(ids, item.ProductID)
	}

	snaps, err := s.snapshots.FindAll(ctx, ids)
	if err != nil {
		return nil, err
	}

	order := &Order{
		ID:              uuid.New().String(),
		UserID:          p.UserID,
		StoreID:         req.StoreID,
		Status:          StatusPending,
		TotalPrice:      decimal.Zero,
		ShippingAddress: req.ShippingAddress,
		CreatedAt:       time.Now().UTC(),
	}

	for _, item := range req.Items {
		snap, ok := snaps[item.ProductID]
		if !ok {
			return nil, apperr.Newf(apperr.KindNotFound, "product %s not found", item.ProductID)
		}
		if snap.StoreID != req.StoreID {
			return nil, apperr.Newf(apperr.KindValidation, "product %s does not belong to store %s", item.ProductID, req.StoreID)
		}
		if !snap.Available {
			return nil, apperr.Newf(apperr.KindInvalidState, "product %s is not available", snap.Name)
		}
		if snap.Stock < item.Quantity {
			return nil, apperr.Newf(apperr.KindInsufficientStock, "insufficient stock for product %s", snap.Name)
		}
		order.Items = append(order.Items, OrderItem{
			ProductID:   snap.ProductID,
			ProductName: snap.Name,
			Price:       snap.Price,
			Quantity:    item.Quantity,
		})
		order.TotalPrice = order.TotalPrice.Add(snap.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	ev, err := outbox.NewEvent(events.AggregateOrder, order.ID, events.OrderCreated, envelope(order))
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, order, []outbox.Event{ev}); err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("total_price", order.TotalPrice.String()),
	)
	return order, nil
}

// AcceptOrder moves PENDING → RESERVING_STOCK and emits the reservation
// request toward the store service.
func (s *Service) AcceptOrder(ctx context.Context, p auth.Principal, orderID string) (*Order, error) {
	if !p.HasRole(auth.RoleStoreOwner) {
		return nil, apperr.New(apperr.KindForbidden, "only store owners can accept orders")
	}
	return s.store.Transition(ctx, orderID, func(o *Order) ([]outbox.Event, error) {
		if o.StoreID != p.StoreID {
			return nil, apperr.New(apperr.KindForbidden, "order belongs to another store")
		}
		if err := validateTransition(o.Status, StatusReservingStock); err != nil {
			return nil, err
		}
		o.Status = StatusReservingStock

		ev, err := outbox.NewEvent(events.AggregateOrder, o.ID, events.OrderStockReservationRequested,
			events.StockReservationRequested{
				OrderID:         o.ID,
				StoreID:         o.StoreID,
				UserID:          o.UserID,
				Items:           eventItems(o),
				ShippingAddress: o.ShippingAddress,
			})
		if err != nil {
			return nil, err
		}
		return []outbox.Event{ev}, nil
	})
}

// PickupOrder moves PREPARING → ON_THE_WAY; only the assigned courier may
// do it.
func (s *Service) PickupOrder(ctx context.Context, p auth.Principal, orderID string) (*Order, error) {
	return s.courierTransition(ctx, p, orderID, StatusOnTheWay, events.OrderOnTheWay)
}

// DeliverOrder moves ON_THE_WAY → DELIVERED; only the assigned courier may
// do it.
func (s *Service) DeliverOrder(ctx context.Context, p auth.Principal, orderID string) (*Order, error) {
	return s.courierTransition(ctx, p, orderID, StatusDelivered, events.OrderDelivered)
}

func (s *Service) courierTransition(ctx context.Context, p auth.Principal, orderID string, to Status, routingKey string) (*Order, error) {
	if !p.HasRole(auth.RoleCourier) {
		return nil, apperr.New(apperr.KindForbidden, "only couriers can update delivery progress")
	}
	return s.store.Transition(ctx, orderID, func(o *Order) ([]outbox.Event, error) {
		if o.CourierID == "" || o.CourierID != p.UserID {
			return nil, apperr.New(apperr.KindForbidden, "order is not assigned to this courier")
		}
		if err := validateTransition(o.Status, to); err != nil {
			return nil, err
		}
		o.Status = to

		ev, err := outbox.NewEvent(events.AggregateOrder, o.ID, routingKey, envelope(o))
		if err != nil {
			return nil, err
		}
		return []outbox.Event{ev}, nil
	})
}

// CancelOrder cancels from PENDING (customer-owner or store owner) or from
// PREPARING (store owner only). Authorization and state are re-validated
// inside the transaction, so a transition racing this cancellation loses
// cleanly. The emitted event carries oldStatus so the compensator can decide
// whether stock was ever deducted.
func (s *Service) CancelOrder(ctx context.Context, p auth.Principal, orderID string) (*Order, error) {
	return s.store.Transition(ctx, orderID, func(o *Order) ([]outbox.Event, error) {
		if err := validateTransition(o.Status, StatusCancelled); err != nil {
			return nil, err
		}

		oldStatus := o.Status
		switch {
		case p.HasRole(auth.RoleStoreOwner) && o.StoreID == p.StoreID:
			// store owner may cancel from PENDING or PREPARING
		case p.HasRole(auth.RoleCustomer) && o.UserID == p.UserID:
			if oldStatus != StatusPending {
				return nil, apperr.New(apperr.KindForbidden, "customers can only cancel pending orders")
			}
		default:
			return nil, apperr.New(apperr.KindForbidden, "not allowed to cancel this order")
		}

		o.Status = StatusCancelled

		ev, err := outbox.NewEvent(events.AggregateOrder, o.ID, events.OrderCancelled,
			events.OrderCancelledPayload{
				OrderID:   o.ID,
				StoreID:   o.StoreID,
				UserID:    o.UserID,
				CourierID: o.CourierID,
				OldStatus: string(oldStatus),
				Items:     eventItems(o),
			})
		if err != nil {
			return nil, err
		}
		return []outbox.Event{ev}, nil
	})
}

// GetOrder is readable by its customer, the store that sells it and the
// courier carrying it.
func (s *Service) GetOrder(ctx context.Context, p auth.Principal, orderID string) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case o.UserID == p.UserID:
	case p.HasRole(auth.RoleStoreOwner) && o.StoreID == p.StoreID:
	case p.HasRole(auth.RoleCourier) && o.CourierID == p.UserID:
	default:
		return nil, apperr.New(apperr.KindForbidden, "not allowed to view this order")
	}
	return o, nil
}

func (s *Service) ListMyOrders(ctx context.Context, p auth.Principal) ([]*Order, error) {
	return s.store.ListByUser(ctx, p.UserID)
}

// PromoteToPreparing applies the saga success reply: RESERVING_STOCK →
// PREPARING, records the pickup address and emits order.preparing.
func (s *Service) PromoteToPreparing(ctx context.Context, reply events.StockReserved) error {
	claimed, err := s.idem.TryClaim(ctx, "STOCK_RESERVED:"+reply.OrderID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	_, err = s.store.Transition(ctx, reply.OrderID, func(o *Order) ([]outbox.Event, error) {
		if err := validateTransition(o.Status, StatusPreparing); err != nil {
			return nil, err
		}
		o.Status = StatusPreparing
		o.PickupAddress = reply.PickupAddress

		ev, err := outbox.NewEvent(events.AggregateOrder, o.ID, events.OrderPreparing,
			events.OrderPreparingPayload{
				OrderID:         o.ID,
				StoreID:         o.StoreID,
				UserID:          o.UserID,
				PickupAddress:   o.PickupAddress,
				ShippingAddress: o.ShippingAddress,
			})
		if err != nil {
			return nil, err
		}
		return []outbox.Event{ev}, nil
	})
	return s.absorbInvalidState(err, "stock_reserved reply", reply.OrderID)
}

// RevertToPending applies the saga failure reply: the order returns to
// PENDING with items and total untouched, ready for another accept attempt.
func (s *Service) RevertToPending(ctx context.Context, reply events.StockReservationFailed) error {
	claimed, err := s.idem.TryClaim(ctx, "STOCK_RESERVATION_FAILED:"+reply.OrderID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	s.logger.Warn("stock reservation failed, reverting order",
		zap.String("order_id", reply.OrderID),
		zap.String("reason", reply.Reason),
	)

	_, err = s.store.Transition(ctx, reply.OrderID, func(o *Order) ([]outbox.Event, error) {
		if err := validateTransition(o.Status, StatusPending); err != nil {
			return nil, err
		}
		o.Status = StatusPending
		return nil, nil
	})
	return s.absorbInvalidState(err, "stock_reservation_failed reply", reply.OrderID)
}

// AssignCourier applies the courier service's binding: the order must still
// be PREPARING (assignment does not change the status) and must not already
// have a courier. Emits order.assigned.
func (s *Service) AssignCourier(ctx context.Context, assignment events.CourierAssigned) error {
	claimed, err := s.idem.TryClaim(ctx, "ASSIGN_COURIER:"+assignment.OrderID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	_, err = s.store.Transition(ctx, assignment.OrderID, func(o *Order) ([]outbox.Event, error) {
		if o.Status != StatusPreparing {
			return nil, apperr.Newf(apperr.KindInvalidState, "order %s is %s, not PREPARING", o.ID, o.Status)
		}
		if o.CourierID != "" {
			return nil, apperr.Newf(apperr.KindInvalidState, "order %s already has a courier", o.ID)
		}
		o.CourierID = assignment.CourierID

		ev, err := outbox.NewEvent(events.AggregateOrder, o.ID, events.OrderAssigned,
			events.OrderAssignedPayload{
				OrderID:         o.ID,
				StoreID:         o.StoreID,
				CourierID:       o.CourierID,
				UserID:          o.UserID,
				PickupAddress:   o.PickupAddress,
				ShippingAddress: o.ShippingAddress,
			})
		if err != nil {
			return nil, err
		}
		return []outbox.Event{ev}, nil
	})
	return s.absorbInvalidState(err, "courier assignment", assignment.OrderID)
}

// absorbInvalidState drops replies that no longer apply (the order has moved
// on) instead of cycling them through the retry path.
func (s *Service) absorbInvalidState(err error, what, orderID string) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) == apperr.KindInvalidState {
		s.logger.Warn("dropping stale "+what,
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return nil
	}
	return err
}

func envelope(o *Order) events.OrderEnvelope {
	return events.OrderEnvelope{
		OrderID:         o.ID,
		UserID:          o.UserID,
		StoreID:         o.StoreID,
		CourierID:       o.CourierID,
		Status:          string(o.Status),
		TotalPrice:      o.TotalPrice,
		ShippingAddress: o.ShippingAddress,
		CreatedAt:       o.CreatedAt,
	}
}

func eventItems(o *Order) []events.Item {
	items := make([]events.Item, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, events.Item{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return items
}
