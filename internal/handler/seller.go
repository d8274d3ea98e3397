package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
	"github.com/mmeshcher/digibite-marketplace/internal/validation"
)

func parseStatusFilter(raw string) (model.OrderStatus, error) {
	if raw == "" {
		return "", nil
	}
	status, err := model.ParseOrderStatus(raw)
	if err != nil {
		return "", &validation.Error{
			Message: "invalid query parameter",
			Fields:  map[string]string{"status": "must be a known order status"},
		}
	}
	return status, nil
}

// GetTenantOrders возвращает заказы заведения продавца. Для администратора
// идентификатор заведения берётся из пути.
func (h *Handler) GetTenantOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	tenantID := uuid.Nil
	if actor.Role == model.RoleAdmin {
		id, err := uuidParam(r, "tenantID")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		tenantID = id
	}
	status, err := parseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	orders, err := h.service.ListTenantOrders(r.Context(), actor, tenantID, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrdersResponse(orders))
}

// GetSellerStats возвращает сводку заказов и баланс заведения.
func (h *Handler) GetSellerStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	stats, err := h.service.SellerStats(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
