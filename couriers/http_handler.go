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
	mux.HandleFunc("GET /api/v1/couriers/me", h.handleGetMe)
	mux.HandleFunc("PATCH /api/v1/couriers/me/status", h.handleUpdateStatus)
	mux.HandleFunc("PATCH /api/v1/couriers/me/location", h.handleUpdateLocation)
}

func (h *handler) handleGetMe(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, apperr.New(apperr.KindUnauthenticated, "missing principal"))
		return
	}

	c, err := h.svc.GetMe(r.Context(), p)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toCourierResponse(c))
}

func (h *handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, apperr.New(apperr.KindUnauthenticated, "missing principal"))
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	c, err := h.svc.UpdateStatus(r.Context(), p, CourierStatus(req.Status))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toCourierResponse(c))
}

func (h *handler) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, apperr.New(apperr.KindUnauthenticated, "missing principal"))
		return
	}

	var req struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	c, err := h.svc.UpdateLocation(r.Context(), p, req.Lat, req.Lng)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toCourierResponse(c))
}

type courierResponse struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	CurrentOrderID    string     `json:"currentOrderId,omitempty"`
	Lat               *float64   `json:"lat,omitempty"`
	Lng               *float64   `json:"lng,omitempty"`
	LocationUpdatedAt *time.Time `json:"locationUpdatedAt,omitempty"`
}

func toCourierResponse(c *Courier) courierResponse {
	resp := courierResponse{
		ID:             c.ID,
		Status:         string(c.Status),
		CurrentOrderID: c.CurrentOrderID,
	}
	if c.HasLocation {
		lat, lng, at := c.Lat, c.Lng, c.LocationUpdatedAt
		resp.Lat = &lat
		resp.Lng = &lng
		resp.LocationUpdatedAt = &at
	}
	return resp
}
