package main

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/auth"
)

// Frame destinations, kept stable for existing clients.
const (
	destSubscribe = "/user/queue/notifications"
	destReplay    = "/app/notifications"
)

// clientFrame is what the browser sends: a subscribe first, then optionally a
// replay trigger.
type clientFrame struct {
	Type        string `json:"type"` // "subscribe" | "send"
	Destination string `json:"destination"`
	Token       string `json:"token,omitempty"`
}

type notificationFrame struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// wsHandler upgrades /ws connections, authenticates them and registers the
// session for pushes.
type wsHandler struct {
	svc      *Service
	registry *Registry
	verifier *auth.Verifier
	logger   *zap.Logger
}

func NewWSHandler(svc *Service, registry *Registry, verifier *auth.Verifier, logger *zap.Logger) *wsHandler {
	return &wsHandler{svc: svc, registry: registry, verifier: verifier, logger: logger}
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// token in the handshake: Authorization header or ?token= for browsers
	// that cannot set headers on websocket upgrades
	token := auth.BearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	p, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	ctx := r.Context()

	// the client must re-authenticate in the subscribe frame before the
	// session is bound to the user
	var sub clientFrame
	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = wsjson.Read(readCtx, conn, &sub)
	cancel()
	if err != nil || sub.Type != "subscribe" || sub.Destination != destSubscribe {
		conn.Close(websocket.StatusPolicyViolation, "expected subscribe frame")
		return
	}
	subP, err := h.verifier.Verify(sub.Token)
	if err != nil || subP.UserID != p.UserID {
		conn.Close(websocket.StatusPolicyViolation, "invalid subscribe token")
		return
	}

	session := &wsSession{conn: conn}
	h.registry.Register(p.UserID, session)
	defer h.registry.Unregister(p.UserID, session)
	h.logger.Info("websocket session opened", zap.String("user_id", p.UserID))

	for {
		var frame clientFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			h.logger.Info("websocket session closed", zap.String("user_id", p.UserID))
			return
		}
		if frame.Destination == destReplay {
			if err := h.svc.ReplayPending(ctx, p.UserID, session); err != nil {
				h.logger.Warn("pending replay failed",
					zap.String("user_id", p.UserID),
					zap.Error(err),
				)
			}
		}
	}
}

// wsSession adapts one websocket connection to the registry's Sink.
type wsSession struct {
	conn *websocket.Conn
}

func (s *wsSession) Push(ctx context.Context, n *Notification) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, s.conn, notificationFrame{
		ID:        n.ID,
		OrderID:   n.OrderID,
		Type:      n.Type,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
	})
}
