package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mmeshcher/digibite-marketplace/internal/service"
	"github.com/mmeshcher/digibite-marketplace/internal/validation"
)

type addCartItemRequest struct {
	ProductID     string `json:"product_id" validate:"required,uuid"`
	Quantity      int    `json:"quantity" validate:"required,gt=0"`
	ConfirmSwitch bool   `json:"confirm_switch"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

type cartCheckoutRequest struct {
	Notes         string `json:"notes" validate:"max=500"`
	PaymentMethod string `json:"payment_method" validate:"omitempty,payment_method"`
	Replace       bool   `json:"replace"`
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	cart, err := h.service.GetCart(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(cart))
}

// AddCartItem добавляет товар в корзину. Товар другого заведения требует confirm_switch.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	var req addCartItemRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	cart, err := h.service.AddToCart(r.Context(), actor.UserID, uuid.MustParse(req.ProductID), req.Quantity, req.ConfirmSwitch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(cart))
}

// UpdateCartItem задаёт количество товара. Ноль удаляет позицию.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	productID, err := uuidParam(r, "productID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req updateCartItemRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	cart, err := h.service.UpdateCartItem(r.Context(), actor.UserID, productID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(cart))
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if err := h.service.ClearCart(r.Context(), actor.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckoutCart оформляет заказ из содержимого корзины.
func (h *Handler) CheckoutCart(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	var req cartCheckoutRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.CheckoutCart(r.Context(), actor.UserID, service.CartCheckoutRequest{
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
