package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/apperr"
	"github.com/quickbite/delivery-microservices/common/auth"
	"github.com/quickbite/delivery-microservices/common/events"
	"github.com/quickbite/delivery-microservices/common/outbox"
)

type fakeOrdersStore struct {
	mu     sync.Mutex
	orders map[string]*Order
	events []outbox.Event
}

func newFakeOrdersStore() *fakeOrdersStore {
	return &fakeOrdersStore{orders: make(map[string]*Order)}
}

func (s *fakeOrdersStore) Create(_ context.Context, o *Order, evs []outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	s.events = append(s.events, evs...)
	return nil
}

func (s *fakeOrdersStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "order not found")
	}
	cp := *o
	return &cp, nil
}

func (s *fakeOrdersStore) ListByUser(_ context.Context, userID string) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		if o.UserID == userID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeOrdersStore) Transition(_ context.Context, id string, apply func(o *Order) ([]outbox.Event, error)) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "order not found")
	}
	cp := *o
	evs, err := apply(&cp)
	if err != nil {
		return nil, err
	}
	s.orders[id] = &cp
	s.events = append(s.events, evs...)
	out := cp
	return &out, nil
}

func (s *fakeOrdersStore) eventsByKey(routingKey string) []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []outbox.Event
	for _, ev := range s.events {
		if ev.Type == routingKey {
			out = append(out, ev)
		}
	}
	return out
}

type fakeSnapshotStore struct {
	mu    sync.Mutex
	snaps map[string]*ProductSnapshot
}

func newFakeSnapshotStore(snaps ...*ProductSnapshot) *fakeSnapshotStore {
	s := &fakeSnapshotStore{snaps: make(map[string]*ProductSnapshot)}
	for _, snap := range snaps {
		s.snaps[snap.ProductID] = snap
	}
	return s
}

func (s *fakeSnapshotStore) Upsert(_ context.Context, snap *ProductSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ProductID] = snap
	return nil
}

func (s *fakeSnapshotStore) Delete(_ context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, productID)
	return nil
}

func (s *fakeSnapshotStore) FindAll(_ context.Context, ids []string) (map[string]*ProductSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*ProductSnapshot)
	for _, id := range ids {
		if snap, ok := s.snaps[id]; ok {
			out[id] = snap
		}
	}
	return out, nil
}

type fakeClaimer struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func newFakeClaimer() *fakeClaimer {
	return &fakeClaimer{claimed: make(map[string]bool)}
}

func (c *fakeClaimer) TryClaim(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimed[key] {
		return false, nil
	}
	c.claimed[key] = true
	return true, nil
}

const (
	testStoreID   = "11111111-1111-1111-1111-111111111111"
	testProductID = "22222222-2222-2222-2222-222222222222"
)

var (
	customer   = auth.Principal{UserID: "user-1", Roles: []string{auth.RoleCustomer}}
	storeOwner = auth.Principal{UserID: "owner-1", Roles: []string{auth.RoleStoreOwner}, StoreID: testStoreID}
	courier    = auth.Principal{UserID: "courier-1", Roles: []string{auth.RoleCourier}}
)

func testSnapshot() *ProductSnapshot {
	return &ProductSnapshot{
		ProductID: testProductID,
		StoreID:   testStoreID,
		Name:      "Margherita",
		Price:     decimal.NewFromFloat(9.50),
		Stock:     10,
		Available: true,
	}
}

func newTestService(snaps ...*ProductSnapshot) (*Service, *fakeOrdersStore) {
	store := newFakeOrdersStore()
	svc := NewService(store, newFakeSnapshotStore(snaps...), newFakeClaimer(), zap.NewNop())
	return svc, store
}

func validRequest() CreateOrderRequest {
	return CreateOrderRequest{
		StoreID:         testStoreID,
		ShippingAddress: "Hauptstr. 1",
		Items:           []CreateOrderItemRequest{{ProductID: testProductID, Quantity: 2}},
	}
}

func TestCreateOrder(t *testing.T) {
	svc, store := newTestService(testSnapshot())

	order, err := svc.CreateOrder(context.Background(), customer, validRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusPending, order.Status)
	assert.Equal(t, customer.UserID, order.UserID)
	assert.True(t, order.TotalPrice.Equal(decimal.NewFromFloat(19.00)), "total was %s", order.TotalPrice)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Margherita", order.Items[0].ProductName)

	created := store.eventsByKey(events.OrderCreated)
	require.Len(t, created, 1)
	var env events.OrderEnvelope
	require.NoError(t, json.Unmarshal(created[0].Payload, &env))
	assert.Equal(t, order.ID, env.OrderID)
	assert.Equal(t, string(StatusPending), env.Status)
}

func TestCreateOrderValidation(t *testing.T) {
	unavailable := testSnapshot()
	unavailable.Available = false

	lowStock := testSnapshot()
	lowStock.Stock = 1

	otherStore := testSnapshot()
	otherStore.StoreID = "33333333-3333-3333-3333-333333333333"

	tests := []struct {
		name      string
		principal auth.Principal
		snap      *ProductSnapshot
		mutate    func(*CreateOrderRequest)
		wantKind  apperr.Kind
	}{
		{
			name:      "not a customer",
			principal: storeOwner,
			snap:      testSnapshot(),
			mutate:    func(*CreateOrderRequest) {},
			wantKind:  apperr.KindForbidden,
		},
		{
			name:      "missing store id",
			principal: customer,
			snap:      testSnapshot(),
			mutate:    func(r *CreateOrderRequest) { r.StoreID = "" },
			wantKind:  apperr.KindValidation,
		},
		{
			name:      "missing shipping address",
			principal: customer,
			snap:      testSnapshot(),
			mutate:    func(r *CreateOrderRequest) { r.ShippingAddress = "" },
			wantKind:  apperr.KindValidation,
		},
		{
			name:      "no items",
			principal: customer,
			snap:      testSnapshot(),
			mutate:    func(r *CreateOrderRequest) { r.Items = nil },
			wantKind:  apperr.KindValidation,
		},
		{
			name:      "zero quantity",
			principal: customer,
			snap:      testSnapshot(),
			mutate:    func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 },
			wantKind:  apperr.KindValidation,
		},
		{
			name:      "unknown product",
			principal: customer,
			snap:      testSnapshot(),
			mutate:    func(r *CreateOrderRequest) { r.Items[0].ProductID = "99999999-9999-9999-9999-999999999999" },
			wantKind:  apperr.KindNotFound,
		},
		{
			name:      "product from another store",
			principal: customer,
			snap:      otherStore,
			mutate:    func(*CreateOrderRequest) {},
			wantKind:  apperr.KindValidation,
		},
		{
			name:      "product unavailable",
			principal: customer,
			snap:      unavailable,
			mutate:    func(*CreateOrderRequest) {},
			wantKind:  apperr.KindInvalidState,
		},
		{
			name:      "insufficient stock",
			principal: customer,
			snap:      lowStock,
			mutate:    func(*CreateOrderRequest) {},
			wantKind:  apperr.KindInsufficientStock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(tt.snap)
			req := validRequest()
			tt.mutate(&req)

			_, err := svc.CreateOrder(context.Background(), tt.principal, req)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			assert.Empty(t, store.events, "no event may leak from a rejected order")
		})
	}
}

func TestAcceptOrder(t *testing.T) {
	svc, store := newTestService(testSnapshot())
	order, err := svc.CreateOrder(context.Background(), customer, validRequest())
	require.NoError(t, err)

	accepted, err := svc.AcceptOrder(context.Background(), storeOwner, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReservingStock, accepted.Status)

	requested := store.eventsByKey(events.OrderStockReservationRequested)
	require.Len(t, requested, 1)
	var payload events.StockReservationRequested
	require.NoError(t, json.Unmarshal(requested[0].Payload, &payload))
	assert.Equal(t, order.ID, payload.OrderID)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, 2, payload.Items[0].Quantity)
}

func TestAcceptOrderAuthorization(t *testing.T) {
	svc, _ := newTestService(testSnapshot())
	order, err := svc.CreateOrder(context.Background(), customer, validRequest())
	require.NoError(t, err)

	_, err = svc.AcceptOrder(context.Background(), customer, order.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	otherOwner := storeOwner
	otherOwner.StoreID = "33333333-3333-3333-3333-333333333333"
	_, err = svc.AcceptOrder(context.Background(), otherOwner, order.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// double accept: second attempt finds RESERVING_STOCK
	_, err = svc.AcceptOrder(context.Background(), storeOwner, order.ID)
	require.NoError(t, err)
	_, err = svc.AcceptOrder(context.Background(), storeOwner, order.ID)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestPromoteToPreparing(t *testing.T) {
	svc, store := newTestService(testSnapshot())
	order, err := svc.CreateOrder(context.Background(), customer, validRequest())
	require.NoError(t, err)
	_, err = svc.AcceptOrder(context.Background(), storeOwner, order.ID)
	require.NoError(t, err)

	reply := events.StockReserved{OrderID: order.ID, StoreID: testStoreID, PickupAddress: "Marktplatz 5"}
	require.NoError(t, svc.PromoteToPreparing(context.Background(), reply))

	got, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPreparing, got.Status)
	assert.Equal(t, "Marktplatz 5", got.PickupAddress)

	preparing := store.eventsByKey(events.OrderPreparing)
	require.Len(t, preparing, 1)

	// a duplicate reply is absorbed by the idempotency claim
	require.NoError(t, svc.PromoteToPreparing(context.Background(), reply))
	assert.Len(t, store.eventsByKey(events.OrderPreparing), 1)
}

func TestRevertToPending(t *testing.T) {
	svc, store := newTestService(testSnapshot())
	order, err := svc.CreateOrder(context.Background(), customer, validRequest())
	require.NoError(t, err)
	_, err = svc.AcceptOrder(context.Background(), storeOwner, order.ID)
	require.NoError(t, err)

	reply := events.StockReservationFailed{OrderID: order.ID, Reason: "insufficient stock"}
	require.NoError(t, svc.RevertToPending(context.Background(), reply))

	got, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.True(t, got.TotalPrice.Equal(order.TotalPrice), "revert must not touch the total")
}

func TestStaleSagaReplyIsDropped(t *testing.T) {
	svc, store := newTestService(testSnapshot())
	order, err := svc.CreateOrder(context.Background(), customer, validRequest())
	require.NoError(t, err)

	// order is still PENDING; a stray success reply must not error, and must
	// not move the order
	reply := events.StockReserved{OrderID: order.ID, PickupAddress: "Marktplatz 5"}
	require.NoError(t, svc.PromoteToPreparing(context.Background(), reply))

	got, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, store.eventsByKey(events.OrderPreparing))
}

func TestAssignCourier(t *testing.T) {
	svc, store := newTestService(testSnapshot())
	order := preparingOrder(t, svc)

	assignment := events.CourierAssigned{OrderID: order.ID, CourierID: courier.UserID}
	require.NoError(t, svc.AssignCourier(context.Background(), assignment))

	got, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, courier.UserID, got.CourierID)
	assert.Equal(t, StatusPreparing, got.Status, "assignment must not change the status")

	assigned := store.eventsByKey(events.OrderAssigned)
	require.Len(t, assigned, 1)
	var payload events.OrderAssignedPayload
	require.NoError(t, json.Unmarshal(assigned[0].Payload, &payload))
	assert.Equal(t, courier.UserID, payload.CourierID)
	assert.Equal(t, "Marktplatz 5", payload.PickupAddress)

	// duplicate assignment is absorbed
	require.NoError(t, svc.AssignCourier(context.Background(), assignment))
	assert.Len(t, store.eventsByKey(events.OrderAssigned), 1)
}

func TestCourierDeliveryFlow(t *testing.T) {
	svc, _ := newTestService(testSnapshot())
	order := preparingOrder(t, svc)
	require.NoError(t, svc.AssignCourier(context.Background(),
		events.CourierAssigned{OrderID: order.ID, CourierID: courier.UserID}))

	// another courier may not touch the order
	other := auth.Principal{UserID: "courier-2", Roles: []string{auth.RoleCourier}}
	_, err := svc.PickupOrder(context.Background(), other, order.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	picked, err := svc.PickupOrder(context.Background(), courier, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOnTheWay, picked.Status)

	delivered, err := svc.DeliverOrder(context.Background(), courier, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, delivered.Status)

	// terminal: no further moves
	_, err = svc.DeliverOrder(context.Background(), courier, order.ID)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestCancelOrder(t *testing.T) {
	t.Run("customer cancels own pending order", func(t *testing.T) {
		svc, store := newTestService(testSnapshot())
		order, err := svc.CreateOrder(context.Background(), customer, validRequest())
		require.NoError(t, err)

		cancelled, err := svc.CancelOrder(context.Background(), customer, order.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)

		evs := store.eventsByKey(events.OrderCancelled)
		require.Len(t, evs, 1)
		var payload events.OrderCancelledPayload
		require.NoError(t, json.Unmarshal(evs[0].Payload, &payload))
		assert.Equal(t, string(StatusPending), payload.OldStatus)
	})

	t.Run("store owner cancels preparing order with items for restock", func(t *testing.T) {
		svc, store := newTestService(testSnapshot())
		order := preparingOrder(t, svc)

		cancelled, err := svc.CancelOrder(context.Background(), storeOwner, order.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)

		evs := store.eventsByKey(events.OrderCancelled)
		require.Len(t, evs, 1)
		var payload events.OrderCancelledPayload
		require.NoError(t, json.Unmarshal(evs[0].Payload, &payload))
		assert.Equal(t, string(StatusPreparing), payload.OldStatus)
		require.Len(t, payload.Items, 1, "compensator needs the items to restore stock")
		assert.Equal(t, 2, payload.Items[0].Quantity)
	})

	t.Run("customer cannot cancel preparing order", func(t *testing.T) {
		svc, _ := newTestService(testSnapshot())
		order := preparingOrder(t, svc)

		_, err := svc.CancelOrder(context.Background(), customer, order.ID)
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	})

	t.Run("nobody cancels during stock reservation", func(t *testing.T) {
		svc, _ := newTestService(testSnapshot())
		order, err := svc.CreateOrder(context.Background(), customer, validRequest())
		require.NoError(t, err)
		_, err = svc.AcceptOrder(context.Background(), storeOwner, order.ID)
		require.NoError(t, err)

		_, err = svc.CancelOrder(context.Background(), storeOwner, order.ID)
		assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	})

	t.Run("stranger cannot cancel", func(t *testing.T) {
		svc, _ := newTestService(testSnapshot())
		order, err := svc.CreateOrder(context.Background(), customer, validRequest())
		require.NoError(t, err)

		stranger := auth.Principal{UserID: "user-2", Roles: []string{auth.RoleCustomer}}
		_, err = svc.CancelOrder(context.Background(), stranger, order.ID)
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	})
}

func TestGetOrderVisibility(t *testing.T) {
	svc, _ := newTestService(testSnapshot())
	order := preparingOrder(t, svc)
	require.NoError(t, svc.AssignCourier(context.Background(),
		events.CourierAssigned{OrderID: order.ID, CourierID: courier.UserID}))

	for _, p := range []auth.Principal{customer, storeOwner, courier} {
		_, err := svc.GetOrder(context.Background(), p, order.ID)
		assert.NoError(t, err, "principal %s", p.UserID)
	}

	stranger := auth.Principal{UserID: "user-2", Roles: []string{auth.RoleCustomer}}
	_, err := svc.GetOrder(context.Background(), stranger, order.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

// preparingOrder walks a fresh order through create → accept → stock reserved.
func preparingOrder(t *testing.T, svc *Service) *Order {
	t.Helper()
	order, err := svc.CreateOrder(context.Background(), customer, validRequest())
	require.NoError(t, err)
	_, err = svc.AcceptOrder(context.Background(), storeOwner, order.ID)
	require.NoError(t, err)
	require.NoError(t, svc.PromoteToPreparing(context.Background(),
		events.StockReserved{OrderID: order.ID, StoreID: testStoreID, PickupAddress: "Marktplatz 5"}))
	return order
}
