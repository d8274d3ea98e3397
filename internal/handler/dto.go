package handler

import (
	"time"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
)

type orderItemResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
	Subtotal    int64  `json:"subtotal"`
}

type orderResponse struct {
	ID             string              `json:"id"`
	Reference      string              `json:"order_ref"`
	UserID         string              `json:"user_id"`
	TenantID       string              `json:"tenant_id"`
	Items          []orderItemResponse `json:"items,omitempty"`
	Subtotal       int64               `json:"subtotal"`
	ServiceFee     int64               `json:"service_fee"`
	Total          int64               `json:"total"`
	Status         string              `json:"status"`
	PaymentMethod  string              `json:"payment_method"`
	PaymentChannel string              `json:"payment_channel,omitempty"`
	SessionToken   *string             `json:"snap_token,omitempty"`
	RedirectURL    *string             `json:"redirect_url,omitempty"`
	Notes          string              `json:"notes,omitempty"`
	PaidAt         *string             `json:"paid_at,omitempty"`
	CreatedAt      string              `json:"created_at"`
	UpdatedAt      string              `json:"updated_at"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func newOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID.String(),
		Reference:      o.Reference,
		UserID:         o.UserID.String(),
		TenantID:       o.TenantID.String(),
		Subtotal:       o.Subtotal,
		ServiceFee:     o.ServiceFee,
		Total:          o.Total,
		Status:         string(o.Status),
		PaymentMethod:  string(o.PaymentMethod),
		PaymentChannel: o.PaymentChannel,
		SessionToken:   o.SessionToken,
		RedirectURL:    o.RedirectURL,
		Notes:          o.Notes,
		PaidAt:         formatTime(o.PaidAt),
		CreatedAt:      o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      o.UpdatedAt.Format(time.RFC3339),
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID:   it.ProductID.String(),
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.Price,
			Subtotal:    it.Subtotal,
		})
	}
	return resp
}

func newOrdersResponse(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	return resp
}

type checkoutResponse struct {
	Order          orderResponse `json:"order"`
	Resumed        bool          `json:"resumed"`
	SessionPending bool          `json:"session_pending"`
}

type cartItemResponse struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
}

type cartResponse struct {
	TenantID *string            `json:"tenant_id"`
	Items    []cartItemResponse `json:"items"`
	Subtotal int64              `json:"subtotal"`
}

func newCartResponse(c *model.Cart) cartResponse {
	resp := cartResponse{Items: make([]cartItemResponse, 0, len(c.Items)), Subtotal: c.Subtotal()}
	if len(c.Items) > 0 {
		id := c.TenantID.String()
		resp.TenantID = &id
	}
	for _, it := range c.Items {
		resp.Items = append(resp.Items, cartItemResponse{
			ProductID: it.ProductID.String(),
			Name:      it.Name,
			Price:     it.Price,
			Quantity:  it.Quantity,
		})
	}
	return resp
}

type withdrawalResponse struct {
	ID            string  `json:"id"`
	TenantID      string  `json:"tenant_id"`
	Amount        int64   `json:"amount"`
	BankName      string  `json:"bank_name"`
	AccountNumber string  `json:"account_number"`
	AccountName   string  `json:"account_name"`
	Notes         string  `json:"notes,omitempty"`
	AdminNotes    *string `json:"admin_notes,omitempty"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	ProcessedAt   *string `json:"processed_at,omitempty"`
}

func newWithdrawalResponse(w *model.Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		ID:            w.ID.String(),
		TenantID:      w.TenantID.String(),
		Amount:        w.Amount,
		BankName:      w.Bank.BankName,
		AccountNumber: w.Bank.AccountNumber,
		AccountName:   w.Bank.AccountHolder,
		Notes:         w.Notes,
		AdminNotes:    w.AdminNotes,
		Status:        string(w.Status),
		CreatedAt:     w.CreatedAt.Format(time.RFC3339),
		ProcessedAt:   formatTime(w.ProcessedAt),
	}
}
