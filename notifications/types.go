package main

import (
	"context"
	"time"

	"github.com/quickbite/delivery-microservices/common/httpx"
)

// Notification is one message addressed to one user. DeliveredAt stays nil
// until a live session acknowledged the push; pending rows are replayed when
// the user reconnects. IsRead is the user-facing flag, independent of
// delivery.
type Notification struct {
	ID          string
	UserID      string
	OrderID     string
	Type        string // originating routing key
	Message     string
	IsRead      bool
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

type NotificationStore interface {
	Create(ctx context.Context, n *Notification) error
	// ListPending returns undelivered rows for userID, oldest first, so a
	// reconnecting client replays them in original order.
	ListPending(ctx context.Context, userID string) ([]*Notification, error)
	MarkDelivered(ctx context.Context, id string) error
	ListUnread(ctx context.Context, userID string) ([]*Notification, error)
	ListHistory(ctx context.Context, userID string, page httpx.Page) ([]*Notification, error)
	// MarkRead is idempotent. A notification owned by another user is
	// reported as a validation failure, not a not-found, mirroring the REST
	// contract.
	MarkRead(ctx context.Context, userID, id string) error
}

// Claimer is the idempotency primitive consumed by event handlers.
type Claimer interface {
	TryClaim(ctx context.Context, key string) (bool, error)
}
