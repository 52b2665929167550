package main

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
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
	mux.HandleFunc("POST /api/v1/orders", h.handleCreateOrder)
	mux.HandleFunc("GET /api/v1/orders/me", h.handleListMyOrders)
	mux.HandleFunc("GET /api/v1/orders/{id}", h.handleGetOrder)
	mux.HandleFunc("PATCH /api/v1/orders/{id}/accept", h.transition(h.svc.AcceptOrder))
	mux.HandleFunc("PATCH /api/v1/orders/{id}/pickup", h.transition(h.svc.PickupOrder))
	mux.HandleFunc("PATCH /api/v1/orders/{id}/deliver", h.transition(h.svc.DeliverOrder))
	mux.HandleFunc("PATCH /api/v1/orders/{id}/cancel", h.transition(h.svc.CancelOrder))
}

func (h *handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, apperr.New(apperr.KindUnauthenticated, "missing principal"))
		return
	}

	var req CreateOrderRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	order, err := h.svc.CreateOrder(r.Context(), p, req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *handler) handleListMyOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, apperr.New(apperr.KindUnauthenticated, "missing principal"))
		return
	}

	orders, err := h.svc.ListMyOrders(r.Context(), p)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, apperr.New(apperr.KindUnauthenticated, "missing principal"))
		return
	}

	order, err := h.svc.GetOrder(r.Context(), p, r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *handler) transition(fn func(ctx context.Context, p auth.Principal, orderID string) (*Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.FromContext(r.Context())
		if !ok {
			httpx.WriteError(w, apperr.New(apperr.KindUnauthenticated, "missing principal"))
			return
		}

		order, err := fn(r.Context(), p, r.PathValue("id"))
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, toOrderResponse(order))
	}
}

type orderResponse struct {
	ID              string              `json:"id"`
	UserID          string              `json:"userId"`
	StoreID         string              `json:"storeId"`
	CourierID       string              `json:"courierId,omitempty"`
	Status          string              `json:"status"`
	TotalPrice      decimal.Decimal     `json:"totalPrice"`
	ShippingAddress string              `json:"shippingAddress"`
	PickupAddress   string              `json:"pickupAddress,omitempty"`
	Items           []orderItemResponse `json:"items"`
	CreatedAt       time.Time           `json:"createdAt"`
}

type orderItemResponse struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

func toOrderResponse(o *Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.Price,
			Quantity:    item.Quantity,
		})
	}
	return orderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		StoreID:         o.StoreID,
		CourierID:       o.CourierID,
		Status:          string(o.Status),
		TotalPrice:      o.TotalPrice,
		ShippingAddress: o.ShippingAddress,
		PickupAddress:   o.PickupAddress,
		Items:           items,
		CreatedAt:       o.CreatedAt,
	}
}
