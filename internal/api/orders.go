package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/order-relay/internal/domain"
	"github.com/Priya8975/order-relay/internal/store"
)

// OrderStore is the order persistence the API writes through. Every write
// fires the change feed trigger, so the API never notifies sessions itself.
type OrderStore interface {
	CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, req domain.UpdateStatusRequest) (*domain.Order, error)
	ApplyPaymentCallback(ctx context.Context, req domain.PaymentCallbackRequest) (*domain.Order, error)
}

type OrderHandler struct {
	store  OrderStore
	logger *slog.Logger
}

func NewOrderHandler(s OrderStore, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{store: s, logger: logger}
}

type orderResponse struct {
	Success bool          `json:"success"`
	Order   *domain.Order `json:"order,omitempty"`
}

func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.OrderID = strings.TrimSpace(req.OrderID)
	switch {
	case req.OrderID == "":
		respondError(w, http.StatusBadRequest, "order_id is required")
		return
	case strings.TrimSpace(req.Name) == "":
		respondError(w, http.StatusBadRequest, "name is required")
		return
	case strings.TrimSpace(req.Phone) == "":
		respondError(w, http.StatusBadRequest, "phone is required")
		return
	case req.Total < 0:
		respondError(w, http.StatusBadRequest, "total must not be negative")
		return
	}
	if len(req.Items) > 0 && !json.Valid(req.Items) {
		respondError(w, http.StatusBadRequest, "items must be valid JSON")
		return
	}

	order, err := h.store.CreateOrder(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to create order", "error", err, "order_id", req.OrderID)
		respondError(w, http.StatusInternalServerError, "failed to create order")
		return
	}

	respondJSON(w, http.StatusCreated, orderResponse{Success: true, Order: order})
}

func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	orders, err := h.store.ListOrders(r.Context())
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}

	respondJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	order, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", orderID)
		respondError(w, http.StatusInternalServerError, "failed to get order")
		return
	}
	if order == nil {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	var req domain.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Status = nonEmpty(req.Status)
	req.PaymentStatus = nonEmpty(req.PaymentStatus)
	if req.Status == nil && req.PaymentStatus == nil {
		respondError(w, http.StatusBadRequest, "status or payment_status is required")
		return
	}

	order, err := h.store.UpdateStatus(r.Context(), orderID, req)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			respondError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to update order status", "error", err, "order_id", orderID)
		respondError(w, http.StatusInternalServerError, "failed to update order")
		return
	}

	respondJSON(w, http.StatusOK, orderResponse{Success: true, Order: order})
}

func (h *OrderHandler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.OrderID = strings.TrimSpace(req.OrderID)
	req.Status = strings.TrimSpace(req.Status)
	if req.OrderID == "" || req.Status == "" {
		respondError(w, http.StatusBadRequest, "order_id and status are required")
		return
	}

	if _, err := h.store.ApplyPaymentCallback(r.Context(), req); err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			respondError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to apply payment callback", "error", err, "order_id", req.OrderID)
		respondError(w, http.StatusInternalServerError, "failed to apply payment")
		return
	}

	h.logger.Info("payment callback applied", "order_id", req.OrderID, "payment_status", req.Status)
	respondJSON(w, http.StatusOK, orderResponse{Success: true})
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
