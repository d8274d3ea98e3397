package model

import "fmt"

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusReady      OrderStatus = "ready"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// ActiveStatuses перечисляет статусы незавершённых заказов.
var ActiveStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusProcessing,
	OrderStatusReady,
}

// HistoryStatuses перечисляет терминальные статусы.
var HistoryStatuses = []OrderStatus{
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// pending -> completed допустим только для оплаты наличными, см. CanTransition.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusPaid, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusPaid:       {OrderStatusProcessing, OrderStatusCompleted},
	OrderStatusProcessing: {OrderStatusReady, OrderStatusCompleted},
	OrderStatusReady:      {OrderStatusCompleted},
}

// ParseOrderStatus проверяет строковое значение статуса.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	switch st {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusReady, OrderStatusCompleted, OrderStatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransition проверяет переход from -> to с учётом способа оплаты.
func CanTransition(from, to OrderStatus, method PaymentMethod) error {
	if from.IsTerminal() {
		return &TransitionError{From: from, To: to, Reason: "order is already terminal"}
	}
	if from == OrderStatusPending && to == OrderStatusCompleted && method != PaymentMethodCash {
		return &TransitionError{From: from, To: to, Reason: "only cash orders complete without payment"}
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to, Reason: "transition is not allowed"}
}
