package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
	"github.com/mmeshcher/digibite-marketplace/internal/service"
	"github.com/mmeshcher/digibite-marketplace/internal/validation"
)

type withdrawRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	BankName      string `json:"bank_name" validate:"required,max=100"`
	AccountNumber string `json:"account_number" validate:"required,account_number"`
	AccountName   string `json:"account_name" validate:"required,max=100"`
	Notes         string `json:"notes" validate:"max=500"`
}

type resolveWithdrawalRequest struct {
	AdminNotes string `json:"admin_notes" validate:"max=500"`
}

func parseWithdrawalStatus(raw string) (model.WithdrawalStatus, error) {
	switch s := model.WithdrawalStatus(raw); s {
	case "", model.WithdrawalStatusPending, model.WithdrawalStatusApproved, model.WithdrawalStatusRejected:
		return s, nil
	}
	return "", &validation.Error{
		Message: "invalid query parameter",
		Fields:  map[string]string{"status": "must be pending, approved or rejected"},
	}
}

func withdrawalsResponse(list []model.Withdrawal) []withdrawalResponse {
	resp := make([]withdrawalResponse, 0, len(list))
	for i := range list {
		resp = append(resp, newWithdrawalResponse(&list[i]))
	}
	return resp
}

// GetBalance возвращает баланс заведения продавца с учётом заявок на вывод.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	balance, err := h.service.GetBalance(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// Withdraw создаёт заявку на вывод средств.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req withdrawRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	wd, err := h.service.RequestWithdrawal(r.Context(), actor, service.WithdrawalRequest{
		Amount: req.Amount,
		Bank: model.BankAccount{
			BankName:      req.BankName,
			AccountNumber: req.AccountNumber,
			AccountHolder: req.AccountName,
		},
		Notes: req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newWithdrawalResponse(wd))
}

// GetWithdrawals возвращает заявки на вывод. Продавец видит только свои.
func (h *Handler) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	status, err := parseWithdrawalStatus(r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	list, err := h.service.ListWithdrawals(r.Context(), actor, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawalsResponse(list))
}

func (h *Handler) GetWithdrawalCounts(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	counts, err := h.service.WithdrawalCounts(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.resolveWithdrawal(w, r, h.service.ApproveWithdrawal)
}

func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.resolveWithdrawal(w, r, h.service.RejectWithdrawal)
}

type resolveFunc func(ctx context.Context, actor service.Actor, id uuid.UUID, adminNotes string) (*model.Withdrawal, error)

func (h *Handler) resolveWithdrawal(w http.ResponseWriter, r *http.Request, resolve resolveFunc) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, err := uuidParam(r, "withdrawalID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req resolveWithdrawalRequest
	if r.ContentLength != 0 {
		if err := validation.DecodeJSON(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	wd, err := resolve(r.Context(), actor, id, req.AdminNotes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newWithdrawalResponse(wd))
}
