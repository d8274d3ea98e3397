package model

import (
	"errors"
	"fmt"
)

// Ошибки валидации входных данных.
var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInvalidPaymentMethod = errors.New("unknown payment method")
	ErrInvalidServiceFee    = errors.New("service fee must not be negative")
	ErrInvalidStatus        = errors.New("unknown order status")
	ErrProductNotInTenant   = errors.New("product does not belong to tenant")
	ErrProductUnavailable   = errors.New("product is not available")
	ErrBelowMinimum         = errors.New("withdrawal amount is below minimum")
	ErrInvalidBankAccount   = errors.New("bank account details are incomplete")
	// ErrInsufficientBalance возвращается, если доступного баланса не хватает на вывод.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Ошибки поиска.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrProductNotFound    = errors.New("product not found")
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrProfileNotFound    = errors.New("profile not found")
)

// Конфликты состояния.
var (
	ErrPendingOrderExists  = errors.New("pending order already exists for tenant")
	ErrInvalidTransition   = errors.New("invalid order status transition")
	ErrOrderNotPending     = errors.New("order is not pending")
	ErrWithdrawalProcessed = errors.New("withdrawal already processed")
	ErrCartTenantSwitch    = errors.New("cart holds items from another tenant")
	ErrAmountMismatch      = errors.New("gateway amount does not match order total")
	ErrForbidden           = errors.New("forbidden")
)

// PendingOrderError возвращается при попытке оформить второй заказ в том же заведении,
// пока первый ожидает оплаты. Содержит существующий заказ.
type PendingOrderError struct {
	Order *Order
}

func (e *PendingOrderError) Error() string {
	return fmt.Sprintf("order %s is still pending for tenant %s", e.Order.Reference, e.Order.TenantID)
}

// Is позволяет сравнивать ошибку с ErrPendingOrderExists.
func (e *PendingOrderError) Is(target error) bool {
	return target == ErrPendingOrderExists
}

// TransitionError описывает отклонённую смену статуса.
type TransitionError struct {
	From   OrderStatus
	To     OrderStatus
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order status %s -> %s: %s", e.From, e.To, e.Reason)
}

// Is позволяет сравнивать ошибку с ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
