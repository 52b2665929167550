package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/apperr"
	"github.com/quickbite/delivery-microservices/common/auth"
	"github.com/quickbite/delivery-microservices/common/events"
)

type Service struct {
	store  CourierStore
	logger *zap.Logger
}

func NewService(store CourierStore, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// HandleOrderPreparing assigns an AVAILABLE courier to the freshly prepared
// order. With no courier free the handler errors so the broker redelivers;
// after the retry budget the request parks in the DLQ for an operator.
func (s *Service) HandleOrderPreparing(ctx context.Context, ev events.OrderPreparingPayload) error {
	courierID, assigned, err := s.store.AssignAvailable(ctx, ev.OrderID)
	if err != nil {
		return err
	}
	if !assigned {
		s.logger.Info("duplicate assignment request dropped", zap.String("order_id", ev.OrderID))
		return nil
	}
	s.logger.Info("courier assigned",
		zap.String("order_id", ev.OrderID),
		zap.String("courier_id", courierID),
	)
	return nil
}

// HandleOrderClosed frees the courier once the order is delivered or
// cancelled. Orders cancelled before assignment simply have no courier to
// release.
func (s *Service) HandleOrderClosed(ctx context.Context, orderID string) error {
	return s.store.ReleaseByOrder(ctx, orderID)
}

func (s *Service) GetMe(ctx context.Context, p auth.Principal) (*Courier, error) {
	if !p.HasRole(auth.RoleCourier) {
		return nil, apperr.New(apperr.KindForbidden, "courier role required")
	}
	return s.store.Get(ctx, p.UserID)
}

// UpdateStatus lets a courier report AVAILABLE, OFFLINE or ON_BREAK. BUSY is
// reserved for the assignment path.
func (s *Service) UpdateStatus(ctx context.Context, p auth.Principal, status CourierStatus) (*Courier, error) {
	if !p.HasRole(auth.RoleCourier) {
		return nil, apperr.New(apperr.KindForbidden, "courier role required")
	}
	if !validStatus(status) {
		return nil, apperr.Newf(apperr.KindValidation, "invalid status %q", status)
	}
	return s.store.UpdateStatus(ctx, p.UserID, status)
}

func (s *Service) UpdateLocation(ctx context.Context, p auth.Principal, lat, lng float64) (*Courier, error) {
	if !p.HasRole(auth.RoleCourier) {
		return nil, apperr.New(apperr.KindForbidden, "courier role required")
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, apperr.New(apperr.KindValidation, "coordinates out of range")
	}
	return s.store.UpdateLocation(ctx, p.UserID, lat, lng)
}
