// Package handler содержит HTTP-обработчики API маркетплейса DigiBite.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/digibite-marketplace/internal/gateway"
	"github.com/mmeshcher/digibite-marketplace/internal/metrics"
	"github.com/mmeshcher/digibite-marketplace/internal/middleware"
	"github.com/mmeshcher/digibite-marketplace/internal/model"
	"github.com/mmeshcher/digibite-marketplace/internal/notify"
	"github.com/mmeshcher/digibite-marketplace/internal/service"
	"github.com/mmeshcher/digibite-marketplace/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Checkout(ctx context.Context, userID uuid.UUID, req service.CheckoutRequest) (*service.CheckoutResult, error)
	ResumePayment(ctx context.Context, actor service.Actor, orderID uuid.UUID) (*model.Order, error)
	ChangePaymentMethod(ctx context.Context, actor service.Actor, orderID uuid.UUID, method model.PaymentMethod) (*model.Order, error)
	CancelOrder(ctx context.Context, actor service.Actor, orderID uuid.UUID) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, actor service.Actor, orderID uuid.UUID, to model.OrderStatus) (*model.Order, error)
	ApplyExternalStatus(ctx context.Context, ext service.ExternalStatus) (*service.ApplyResult, error)

	GetOrder(ctx context.Context, actor service.Actor, orderID uuid.UUID) (*model.Order, error)
	GetPendingOrder(ctx context.Context, userID, tenantID uuid.UUID) (*model.Order, error)
	ListActiveOrders(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
	ListOrderHistory(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
	ListTenantOrders(ctx context.Context, actor service.Actor, tenantID uuid.UUID, status model.OrderStatus) ([]model.Order, error)
	SellerStats(ctx context.Context, actor service.Actor) (*model.OrderStats, error)
	TenantOf(ctx context.Context, actor service.Actor) (uuid.UUID, error)

	GetCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error)
	AddToCart(ctx context.Context, userID, productID uuid.UUID, quantity int, confirmSwitch bool) (*model.Cart, error)
	UpdateCartItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*model.Cart, error)
	ClearCart(ctx context.Context, userID uuid.UUID) error
	CheckoutCart(ctx context.Context, userID uuid.UUID, req service.CartCheckoutRequest) (*service.CheckoutResult, error)

	GetBalance(ctx context.Context, actor service.Actor) (*model.Balance, error)
	RequestWithdrawal(ctx context.Context, actor service.Actor, req service.WithdrawalRequest) (*model.Withdrawal, error)
	ApproveWithdrawal(ctx context.Context, actor service.Actor, id uuid.UUID, adminNotes string) (*model.Withdrawal, error)
	RejectWithdrawal(ctx context.Context, actor service.Actor, id uuid.UUID, adminNotes string) (*model.Withdrawal, error)
	ListWithdrawals(ctx context.Context, actor service.Actor, status model.WithdrawalStatus) ([]model.Withdrawal, error)
	WithdrawalCounts(ctx context.Context, actor service.Actor) (*model.WithdrawalCounts, error)
}

// Subscriber выдаёт поток изменений заказов для SSE.
type Subscriber interface {
	Subscribe(topic notify.Topic) (<-chan model.Order, func())
}

// Options содержит параметры обработчиков, не относящиеся к бизнес-логике.
type Options struct {
	// ServerKey используется для проверки подписи уведомлений шлюза.
	ServerKey string
	// StrictSignatures отклоняет уведомления с неверной подписью.
	StrictSignatures bool
	Events           Subscriber
	Metrics          *metrics.Metrics
}

// Handler реализует HTTP-обработчики API маркетплейса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	opts           Options
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts Options) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		opts:           opts,
	}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
	Order  *orderResponse    `json:"order,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus сопоставляет ошибку бизнес-логики с HTTP-статусом.
func errorStatus(err error) int {
	var verr *validation.Error
	var apiErr *gateway.APIError

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrEmptyCart),
		errors.Is(err, model.ErrInvalidQuantity),
		errors.Is(err, model.ErrInvalidPaymentMethod),
		errors.Is(err, model.ErrInvalidServiceFee),
		errors.Is(err, model.ErrInvalidStatus),
		errors.Is(err, model.ErrProductNotInTenant),
		errors.Is(err, model.ErrProductUnavailable),
		errors.Is(err, model.ErrBelowMinimum),
		errors.Is(err, model.ErrInvalidBankAccount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrOrderNotFound),
		errors.Is(err, model.ErrProductNotFound),
		errors.Is(err, model.ErrTenantNotFound),
		errors.Is(err, model.ErrWithdrawalNotFound),
		errors.Is(err, model.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPendingOrderExists),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrOrderNotPending),
		errors.Is(err, model.ErrWithdrawalProcessed),
		errors.Is(err, model.ErrCartTenantSwitch),
		errors.Is(err, model.ErrAmountMismatch):
		return http.StatusConflict
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.As(err, &apiErr), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError отвечает клиенту понятной причиной ошибки. Внутренние ошибки логируются и не раскрываются.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.Error(err), zap.String("method", r.Method), zap.String("path", r.URL.Path))
		if status == http.StatusInternalServerError {
			writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
			return
		}
	}

	resp := errorResponse{Error: err.Error()}

	var verr *validation.Error
	if errors.As(err, &verr) {
		resp.Error = verr.Message
		resp.Fields = verr.Fields
	}
	var pending *model.PendingOrderError
	if errors.As(err, &pending) && pending.Order != nil {
		o := newOrderResponse(pending.Order)
		resp.Order = &o
	}

	writeJSON(w, status, resp)
}

func (h *Handler) actor(r *http.Request) (service.Actor, bool) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		return service.Actor{}, false
	}
	return service.Actor{UserID: identity.UserID, Role: identity.Role}, true
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, &validation.Error{Message: "invalid path parameter", Fields: map[string]string{name: "must be a valid UUID"}}
	}
	return id, nil
}

func uuidQuery(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &validation.Error{Message: "invalid query parameter", Fields: map[string]string{name: "must be a valid UUID"}}
	}
	return id, nil
}
