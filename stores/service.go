package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/apperr"
	"github.com/quickbite/delivery-microservices/common/events"
	"github.com/quickbite/delivery-microservices/common/outbox"
)

// Service is the store side of the reservation saga plus the cancellation
// compensator.
type Service struct {
	engine StockEngine
	outbox FailureOutbox
	idem   Claimer
	logger *zap.Logger
}

func NewService(engine StockEngine, ob FailureOutbox, idem Claimer, logger *zap.Logger) *Service {
	return &Service{
		engine: engine,
		outbox: ob,
		idem:   idem,
		logger: logger,
	}
}

// HandleReservationRequested processes one reservation request. The
// idempotency key is claimed before any work so a redelivered request is
// dropped without touching stock. On success the decrements, the pickup
// address lookup and the success event commit in one transaction. On a domain
// failure the whole batch rolls back and the failure reply commits in a fresh
// transaction of its own.
func (s *Service) HandleReservationRequested(ctx context.Context, req events.StockReservationRequested) error {
	claimed, err := s.idem.TryClaim(ctx, "RESERVE_STOCK:"+req.OrderID)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Info("duplicate reservation request dropped", zap.String("order_id", req.OrderID))
		return nil
	}

	err = s.engine.BatchReserve(ctx, req.StoreID, req.Items, func(pickupAddress string) (outbox.Event, error) {
		return outbox.NewEvent(events.AggregateOrder, req.OrderID, events.OrderStockReserved,
			events.StockReserved{
				OrderID:       req.OrderID,
				StoreID:       req.StoreID,
				UserID:        req.UserID,
				PickupAddress: pickupAddress,
				Items:         req.Items,
			})
	})
	if err == nil {
		s.logger.Info("stock reserved", zap.String("order_id", req.OrderID))
		return nil
	}

	if !isDomainFailure(err) {
		// Infrastructure failure: let the broker retry the delivery.
		return err
	}

	s.logger.Warn("stock reservation failed",
		zap.String("order_id", req.OrderID),
		zap.Error(err),
	)

	failure, evErr := outbox.NewEvent(events.AggregateOrder, req.OrderID, events.OrderStockReservationFailed,
		events.StockReservationFailed{
			OrderID: req.OrderID,
			UserID:  req.UserID,
			Reason:  apperr.MessageOf(err),
		})
	if evErr != nil {
		return evErr
	}
	// The business transaction rolled back; the failure reply must commit on
	// its own or the order stays in RESERVING_STOCK forever.
	return s.outbox.AppendNow(ctx, failure)
}

// HandleOrderCancelled is the compensator. Stock is restored only when the
// order's last status implies it was deducted; a cancellation from PENDING or
// RESERVING_STOCK restores nothing, which is what keeps phantom stock out of
// the catalog. The key is claimed either way so replays are absorbed even on
// the no-op path.
func (s *Service) HandleOrderCancelled(ctx context.Context, ev events.OrderCancelledPayload) error {
	claimed, err := s.idem.TryClaim(ctx, "CANCEL_ORDER:"+ev.OrderID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	if !stockWasDeducted(ev.OldStatus) {
		s.logger.Info("cancellation needs no stock restore",
			zap.String("order_id", ev.OrderID),
			zap.String("old_status", ev.OldStatus),
		)
		return nil
	}

	if err := s.engine.BatchRestore(ctx, ev.Items); err != nil {
		return err
	}
	s.logger.Info("stock restored after cancellation",
		zap.String("order_id", ev.OrderID),
		zap.Int("items", len(ev.Items)),
	)
	return nil
}

// stockWasDeducted reports whether an order in the given status had already
// passed a successful reservation.
func stockWasDeducted(oldStatus string) bool {
	return oldStatus == "PREPARING" || oldStatus == "ON_THE_WAY"
}

func isDomainFailure(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindValidation, apperr.KindInvalidState, apperr.KindInsufficientStock:
		return true
	default:
		return false
	}
}
