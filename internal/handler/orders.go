package handler

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
	"github.com/mmeshcher/digibite-marketplace/internal/service"
	"github.com/mmeshcher/digibite-marketplace/internal/validation"
)

type checkoutItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

type checkoutRequest struct {
	TenantID      string                `json:"tenant_id" validate:"required,uuid"`
	Items         []checkoutItemRequest `json:"items" validate:"required,min=1,dive"`
	Notes         string                `json:"notes" validate:"max=500"`
	PaymentMethod string                `json:"payment_method" validate:"omitempty,payment_method"`
	Replace       bool                  `json:"replace"`
}

type paymentMethodRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required,payment_method"`
}

type orderStatusRequest struct {
	Status string `json:"status" validate:"required,order_status"`
}

func paymentMethodOrDefault(raw string) model.PaymentMethod {
	if raw == "" {
		return model.PaymentMethodGateway
	}
	return model.PaymentMethod(raw)
}

func writeCheckout(w http.ResponseWriter, res *service.CheckoutResult) {
	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, checkoutResponse{
		Order:          newOrderResponse(res.Order),
		Resumed:        res.Resumed,
		SessionPending: res.SessionPending,
	})
}

// Checkout оформляет заказ из переданных позиций и открывает платёжную сессию.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req checkoutRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]service.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, service.ItemInput{ProductID: uuid.MustParse(it.ProductID), Quantity: it.Quantity})
	}

	res, err := h.service.Checkout(r.Context(), actor.UserID, service.CheckoutRequest{
		TenantID:      uuid.MustParse(req.TenantID),
		Items:         items,
		Notes:         req.Notes,
		PaymentMethod: paymentMethodOrDefault(req.PaymentMethod),
		Replace:       req.Replace,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeCheckout(w, res)
}

// GetOrder возвращает заказ, если пользователь имеет к нему доступ.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, err := uuidParam(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.service.GetOrder(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

// GetPendingOrder возвращает ожидающий оплаты заказ покупателя в заведении.
// Если такого заказа нет, отвечает 204.
func (h *Handler) GetPendingOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	tenantID, err := uuidQuery(r, "tenant_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if tenantID == uuid.Nil {
		h.writeError(w, r, &validation.Error{
			Message: "invalid query parameter",
			Fields:  map[string]string{"tenant_id": "is required"},
		})
		return
	}

	order, err := h.service.GetPendingOrder(r.Context(), actor.UserID, tenantID)
	if errors.Is(err, model.ErrOrderNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

// GetActiveOrders возвращает незавершённые заказы покупателя.
func (h *Handler) GetActiveOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	orders, err := h.service.ListActiveOrders(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrdersResponse(orders))
}

// GetOrderHistory возвращает завершённые и отменённые заказы покупателя.
func (h *Handler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	orders, err := h.service.ListOrderHistory(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrdersResponse(orders))
}

// ResumePayment выдаёт действующую платёжную сессию заказа или создаёт новую.
func (h *Handler) ResumePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, err := uuidParam(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.service.ResumePayment(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) ChangePaymentMethod(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, err := uuidParam(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req paymentMethodRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.service.ChangePaymentMethod(r.Context(), actor, id, model.PaymentMethod(req.PaymentMethod))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, err := uuidParam(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.service.CancelOrder(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

// UpdateOrderStatus меняет статус заказа по запросу продавца или администратора.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, err := uuidParam(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req orderStatusRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.service.UpdateOrderStatus(r.Context(), actor, id, model.OrderStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}
