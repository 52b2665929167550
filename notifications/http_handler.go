package main

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/apperr"
	"github.com/quickbite/delivery-microservices/common/auth"
	"github.com/quickbite/delivery-microservices/common/httpx"
)

type handler struct {
	svc    *Service
	logger *zap.Logger
}

func NewHandler(svc *Service, logger *zap.Logger) *handler {
	return &handler{svc: svc, logger: logger}
}

func (h *handler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/notifications/unread", h.handleListUnread)
	mux.HandleFunc("GET /api/v1/notifications/history", h.handleListHistory)
	mux.HandleFunc("PUT /api/v1/notifications/{id}/read", h.handleMarkRead)
}

func (h *handler) handleListUnread(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, apperr.New(apperr.KindUnauthenticated, "missing principal"))
		return
	}

	list, err := h.svc.ListUnread(r.Context(), p)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toNotificationResponses(list))
}

func (h *handler) handleListHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, apperr.New(apperr.KindUnauthenticated, "missing principal"))
		return
	}

	page, err := httpx.ParsePage(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	list, err := h.svc.ListHistory(r.Context(), p, page)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toNotificationResponses(list))
}

func (h *handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, apperr.New(apperr.KindUnauthenticated, "missing principal"))
		return
	}

	if err := h.svc.MarkRead(r.Context(), p, r.PathValue("id")); err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nil)
}

type notificationResponse struct {
	ID          string     `json:"id"`
	OrderID     string     `json:"orderId"`
	Type        string     `json:"type"`
	Message     string     `json:"message"`
	IsRead      bool       `json:"isRead"`
	CreatedAt   time.Time  `json:"createdAt"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

func toNotificationResponses(list []*Notification) []notificationResponse {
	out := make([]notificationResponse, 0, len(list))
	for _, n := range list {
		out = append(out, notificationResponse{
			ID:          n.ID,
			OrderID:     n.OrderID,
			Type:        n.Type,
			Message:     n.Message,
			IsRead:      n.IsRead,
			CreatedAt:   n.CreatedAt,
			DeliveredAt: n.DeliveredAt,
		})
	}
	return out
}
