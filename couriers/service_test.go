package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/apperr"
	"github.com/quickbite/delivery-microservices/common/auth"
	"github.com/quickbite/delivery-microservices/common/events"
)

// fakeCourierStore keeps the postgres store's semantics in memory: one
// assignment per order key, BUSY couriers invisible to selection.
type fakeCourierStore struct {
	mu       sync.Mutex
	couriers map[string]*Courier
	claimed  map[string]bool
}

func newFakeCourierStore(couriers ...*Courier) *fakeCourierStore {
	s := &fakeCourierStore{
		couriers: make(map[string]*Courier),
		claimed:  make(map[string]bool),
	}
	for _, c := range couriers {
		s.couriers[c.ID] = c
	}
	return s
}

func (s *fakeCourierStore) AssignAvailable(_ context.Context, orderID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed["ASSIGN_COURIER:"+orderID] {
		return "", false, nil
	}
	for _, c := range s.couriers {
		if c.Status == StatusAvailable {
			// claim commits together with the binding
			s.claimed["ASSIGN_COURIER:"+orderID] = true
			c.Status = StatusBusy
			c.CurrentOrderID = orderID
			return c.ID, true, nil
		}
	}
	return "", false, apperr.New(apperr.KindUnavailable, "no courier available")
}

func (s *fakeCourierStore) ReleaseByOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed["RELEASE_COURIER:"+orderID] {
		return nil
	}
	s.claimed["RELEASE_COURIER:"+orderID] = true
	for _, c := range s.couriers {
		if c.CurrentOrderID == orderID && c.Status == StatusBusy {
			c.Status = StatusAvailable
			c.CurrentOrderID = ""
		}
	}
	return nil
}

func (s *fakeCourierStore) Get(_ context.Context, id string) (*Courier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.couriers[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "courier not found")
	}
	cp := *c
	return &cp, nil
}

func (s *fakeCourierStore) UpdateStatus(_ context.Context, id string, status CourierStatus) (*Courier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.couriers[id]
	if !ok {
		c = &Courier{ID: id}
		s.couriers[id] = c
	} else if c.Status == StatusBusy {
		return nil, apperr.New(apperr.KindInvalidState, "courier is on an active delivery")
	}
	c.Status = status
	cp := *c
	return &cp, nil
}

func (s *fakeCourierStore) UpdateLocation(_ context.Context, id string, lat, lng float64) (*Courier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.couriers[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "courier not found")
	}
	c.Lat, c.Lng, c.HasLocation = lat, lng, true
	c.LocationUpdatedAt = time.Now()
	cp := *c
	return &cp, nil
}

var courierPrincipal = auth.Principal{UserID: "courier-1", Roles: []string{auth.RoleCourier}}

func availableCourier(id string) *Courier {
	return &Courier{ID: id, Status: StatusAvailable}
}

func TestAssignmentBindsOneCourier(t *testing.T) {
	store := newFakeCourierStore(availableCourier("courier-1"))
	svc := NewService(store, zap.NewNop())

	ev := events.OrderPreparingPayload{OrderID: "order-1"}
	require.NoError(t, svc.HandleOrderPreparing(context.Background(), ev))

	c, err := store.Get(context.Background(), "courier-1")
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, c.Status)
	assert.Equal(t, "order-1", c.CurrentOrderID)

	// redelivery of the same order.preparing is a no-op
	require.NoError(t, svc.HandleOrderPreparing(context.Background(), ev))
}

func TestAssignmentWithNoCourierRetries(t *testing.T) {
	store := newFakeCourierStore() // nobody on shift
	svc := NewService(store, zap.NewNop())

	err := svc.HandleOrderPreparing(context.Background(), events.OrderPreparingPayload{OrderID: "order-1"})
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err), "must error so the broker redelivers")
}

func TestBusyCourierIsNotReassigned(t *testing.T) {
	store := newFakeCourierStore(availableCourier("courier-1"))
	svc := NewService(store, zap.NewNop())

	require.NoError(t, svc.HandleOrderPreparing(context.Background(), events.OrderPreparingPayload{OrderID: "order-1"}))

	err := svc.HandleOrderPreparing(context.Background(), events.OrderPreparingPayload{OrderID: "order-2"})
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
}

func TestReleaseMakesCourierAvailableAgain(t *testing.T) {
	store := newFakeCourierStore(availableCourier("courier-1"))
	svc := NewService(store, zap.NewNop())

	require.NoError(t, svc.HandleOrderPreparing(context.Background(), events.OrderPreparingPayload{OrderID: "order-1"}))
	require.NoError(t, svc.HandleOrderClosed(context.Background(), "order-1"))

	c, err := store.Get(context.Background(), "courier-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, c.Status)
	assert.Empty(t, c.CurrentOrderID)

	// released courier can take the next order
	require.NoError(t, svc.HandleOrderPreparing(context.Background(), events.OrderPreparingPayload{OrderID: "order-2"}))
}

func TestReleaseWithoutAssignmentIsNoop(t *testing.T) {
	store := newFakeCourierStore(availableCourier("courier-1"))
	svc := NewService(store, zap.NewNop())

	// cancelled before any courier was bound
	require.NoError(t, svc.HandleOrderClosed(context.Background(), "order-1"))

	c, err := store.Get(context.Background(), "courier-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, c.Status)
}

func TestUpdateStatus(t *testing.T) {
	store := newFakeCourierStore()
	svc := NewService(store, zap.NewNop())

	c, err := svc.UpdateStatus(context.Background(), courierPrincipal, StatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, c.Status)

	// BUSY is not self-assignable
	_, err = svc.UpdateStatus(context.Background(), courierPrincipal, StatusBusy)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.UpdateStatus(context.Background(), courierPrincipal, CourierStatus("NAPPING"))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	// a courier on a delivery cannot flip their own status
	require.NoError(t, svc.HandleOrderPreparing(context.Background(), events.OrderPreparingPayload{OrderID: "order-1"}))
	_, err = svc.UpdateStatus(context.Background(), courierPrincipal, StatusOffline)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestUpdateLocation(t *testing.T) {
	store := newFakeCourierStore(availableCourier("courier-1"))
	svc := NewService(store, zap.NewNop())

	c, err := svc.UpdateLocation(context.Background(), courierPrincipal, 52.52, 13.405)
	require.NoError(t, err)
	assert.True(t, c.HasLocation)
	assert.Equal(t, 52.52, c.Lat)

	_, err = svc.UpdateLocation(context.Background(), courierPrincipal, 91, 0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	customer := auth.Principal{UserID: "user-1", Roles: []string{auth.RoleCustomer}}
	_, err = svc.UpdateLocation(context.Background(), customer, 0, 0)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}
