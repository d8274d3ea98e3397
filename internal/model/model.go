// Package model содержит доменные сущности маркетплейса DigiBite.
package model

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodGateway PaymentMethod = "gateway"
	PaymentMethodCash    PaymentMethod = "cash"
)

// Valid сообщает, является ли способ оплаты известным.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodGateway || m == PaymentMethodCash
}

// OrderItem описывает позицию заказа. Цена фиксируется в момент создания заказа.
type OrderItem struct {
	ID          uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	Quantity    int
	Price       int64
	Subtotal    int64
}

// Order описывает заказ покупателя в одном заведении.
type Order struct {
	ID               uuid.UUID
	Reference        string
	UserID           uuid.UUID
	TenantID         uuid.UUID
	Items            []OrderItem
	Subtotal         int64
	ServiceFee       int64
	Total            int64
	Status           OrderStatus
	PaymentMethod    PaymentMethod
	PaymentChannel   string
	SessionToken     *string
	RedirectURL      *string
	SessionExpiresAt *time.Time
	Notes            string
	PaidAt           *time.Time
	CreditedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewOrder собирает заказ в статусе pending и вычисляет суммы по позициям.
func NewOrder(userID, tenantID uuid.UUID, items []OrderItem, serviceFee int64, notes string, method PaymentMethod) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	if !method.Valid() {
		return nil, ErrInvalidPaymentMethod
	}
	if serviceFee < 0 {
		return nil, ErrInvalidServiceFee
	}

	o := &Order{
		UserID:        userID,
		TenantID:      tenantID,
		Items:         make([]OrderItem, 0, len(items)),
		ServiceFee:    serviceFee,
		Status:        OrderStatusPending,
		PaymentMethod: method,
		Notes:         notes,
	}

	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		it.Subtotal = it.Price * int64(it.Quantity)
		o.Subtotal += it.Subtotal
		o.Items = append(o.Items, it)
	}
	o.Total = o.Subtotal + o.ServiceFee

	return o, nil
}

// TransitionTo переводит заказ в новый статус, если переход разрешён графом статусов.
// При первом входе в paid или completed фиксируется время оплаты.
func (o *Order) TransitionTo(to OrderStatus, now time.Time) error {
	if err := CanTransition(o.Status, to, o.PaymentMethod); err != nil {
		return err
	}

	o.Status = to
	if (to == OrderStatusPaid || to == OrderStatusCompleted) && o.PaidAt == nil {
		paidAt := now
		o.PaidAt = &paidAt
	}
	return nil
}

// CreditDue сообщает, что заказ оплачен, но баланс заведения ещё не пополнен.
// Единственная проверка, через которую проходят и вебхук, и ручная смена статуса.
func (o *Order) CreditDue() bool {
	return (o.Status == OrderStatusPaid || o.Status == OrderStatusCompleted) && o.CreditedAt == nil
}

// CreditAmount возвращает сумму зачисления на баланс заведения. Сервисный сбор остаётся платформе.
func (o *Order) CreditAmount() int64 {
	return o.Total - o.ServiceFee
}

// SessionValid сообщает, есть ли у заказа действующая платёжная сессия.
func (o *Order) SessionValid(now time.Time) bool {
	if o.SessionToken == nil || *o.SessionToken == "" {
		return false
	}
	if o.SessionExpiresAt != nil && !now.Before(*o.SessionExpiresAt) {
		return false
	}
	return true
}

// ClearSession сбрасывает платёжную сессию.
func (o *Order) ClearSession() {
	o.SessionToken = nil
	o.RedirectURL = nil
	o.SessionExpiresAt = nil
}

// Product описывает товар каталога в объёме, нужном для оформления заказа.
type Product struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	Price     int64
	Available bool
}

// Profile содержит контактные данные покупателя.
type Profile struct {
	Name  string
	Phone string
	Email string
}

// Tenant описывает заведение продавца.
type Tenant struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	Name    string
	Balance int64
}

// Balance содержит баланс заведения с учётом заявок на вывод.
type Balance struct {
	Balance            int64 `json:"balance"`
	PendingWithdrawals int64 `json:"pending_withdrawals"`
	Available          int64 `json:"available"`
}

// OrderStats содержит сводку по заказам заведения.
type OrderStats struct {
	Pending   int   `json:"pending"`
	Paid      int   `json:"paid"`
	Completed int   `json:"completed"`
	Balance   int64 `json:"balance"`
}
