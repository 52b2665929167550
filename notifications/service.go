package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/auth"
	"github.com/quickbite/delivery-microservices/common/httpx"
)

// Service persists notifications and fans them out to live sessions.
type Service struct {
	store    NotificationStore
	registry *Registry
	logger   *zap.Logger
}

func NewService(store NotificationStore, registry *Registry, logger *zap.Logger) *Service {
	return &Service{store: store, registry: registry, logger: logger}
}

// Dispatch persists the notification and pushes it to every session the
// recipient has open. A push failure (or no session at all) leaves the row
// pending; it is replayed when the user reconnects. The fan-out never crosses
// users: only sessions registered under n.UserID are considered.
func (s *Service) Dispatch(ctx context.Context, userID, orderID, eventType, message string) error {
	n := &Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		OrderID:   orderID,
		Type:      eventType,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, n); err != nil {
		return err
	}

	delivered := false
	for _, sink := range s.registry.ForUser(userID) {
		if err := sink.Push(ctx, n); err != nil {
			s.logger.Warn("failed to push notification",
				zap.String("notification_id", n.ID),
				zap.Error(err),
			)
			continue
		}
		delivered = true
	}
	if delivered {
		return s.store.MarkDelivered(ctx, n.ID)
	}
	return nil
}

// ReplayPending pushes every undelivered notification for userID to sink in
// creation order, marking each delivered as it lands. A failed push stops the
// replay so the remaining rows keep their order on the next attempt.
func (s *Service) ReplayPending(ctx context.Context, userID string, sink Sink) error {
	pending, err := s.store.ListPending(ctx, userID)
	if err != nil {
		return err
	}
	for _, n := range pending {
		if err := sink.Push(ctx, n); err != nil {
			return err
		}
		if err := s.store.MarkDelivered(ctx, n.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) ListUnread(ctx context.Context, p auth.Principal) ([]*Notification, error) {
	return s.store.ListUnread(ctx, p.UserID)
}

func (s *Service) ListHistory(ctx context.Context, p auth.Principal, page httpx.Page) ([]*Notification, error) {
	return s.store.ListHistory(ctx, p.UserID, page)
}

func (s *Service) MarkRead(ctx context.Context, p auth.Principal, id string) error {
	return s.store.MarkRead(ctx, p.UserID, id)
}
