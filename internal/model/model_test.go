package model

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrder_Totals(t *testing.T) {
	items := []OrderItem{
		{ProductID: uuid.New(), Quantity: 2, Price: 15000},
		{ProductID: uuid.New(), Quantity: 1, Price: 8000},
	}

	o, err := NewOrder(uuid.New(), uuid.New(), items, 2000, "no onions", PaymentMethodGateway)
	require.NoError(t, err)

	assert.Equal(t, int64(38000), o.Subtotal)
	assert.Equal(t, int64(2000), o.ServiceFee)
	assert.Equal(t, int64(46000), o.Total)
	assert.Equal(t, OrderStatusPending, o.Status)
	assert.Equal(t, int64(30000), o.Items[0].Subtotal)
	assert.Equal(t, int64(44000), o.CreditAmount())
}

func TestNewOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		items  []OrderItem
		fee    int64
		method PaymentMethod
		want   error
	}{
		{
			name:   "empty cart",
			method: PaymentMethodCash,
			want:   ErrEmptyCart,
		},
		{
			name:   "zero quantity",
			items:  []OrderItem{{Quantity: 0, Price: 100}},
			method: PaymentMethodCash,
			want:   ErrInvalidQuantity,
		},
		{
			name:   "unknown method",
			items:  []OrderItem{{Quantity: 1, Price: 100}},
			method: "bitcoin",
			want:   ErrInvalidPaymentMethod,
		},
		{
			name:   "negative fee",
			items:  []OrderItem{{Quantity: 1, Price: 100}},
			fee:    -1,
			method: PaymentMethodCash,
			want:   ErrInvalidServiceFee,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrder(uuid.New(), uuid.New(), tt.items, tt.fee, "", tt.method)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from   OrderStatus
		to     OrderStatus
		method PaymentMethod
		ok     bool
	}{
		{OrderStatusPending, OrderStatusPaid, PaymentMethodGateway, true},
		{OrderStatusPending, OrderStatusCancelled, PaymentMethodGateway, true},
		{OrderStatusPending, OrderStatusCompleted, PaymentMethodCash, true},
		{OrderStatusPending, OrderStatusCompleted, PaymentMethodGateway, false},
		{OrderStatusPending, OrderStatusProcessing, PaymentMethodGateway, false},
		{OrderStatusPaid, OrderStatusProcessing, PaymentMethodGateway, true},
		{OrderStatusPaid, OrderStatusCompleted, PaymentMethodGateway, true},
		{OrderStatusPaid, OrderStatusCancelled, PaymentMethodGateway, false},
		{OrderStatusPaid, OrderStatusPending, PaymentMethodGateway, false},
		{OrderStatusProcessing, OrderStatusReady, PaymentMethodGateway, true},
		{OrderStatusProcessing, OrderStatusCompleted, PaymentMethodGateway, true},
		{OrderStatusReady, OrderStatusCompleted, PaymentMethodCash, true},
		{OrderStatusReady, OrderStatusProcessing, PaymentMethodCash, false},
		{OrderStatusCompleted, OrderStatusPending, PaymentMethodCash, false},
		{OrderStatusCompleted, OrderStatusCompleted, PaymentMethodCash, false},
		{OrderStatusCancelled, OrderStatusPaid, PaymentMethodGateway, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := CanTransition(tt.from, tt.to, tt.method)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition)
			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.from, te.From)
		})
	}
}

func TestOrder_TransitionStampsPaidAtOnce(t *testing.T) {
	o := &Order{Status: OrderStatusPending, PaymentMethod: PaymentMethodGateway, Total: 12000, ServiceFee: 2000}
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, o.TransitionTo(OrderStatusPaid, first))
	require.NotNil(t, o.PaidAt)
	assert.True(t, o.CreditDue())

	credited := first
	o.CreditedAt = &credited

	require.NoError(t, o.TransitionTo(OrderStatusCompleted, first.Add(time.Hour)))
	assert.Equal(t, first, *o.PaidAt)
	assert.False(t, o.CreditDue())
}

func TestOrder_SessionValid(t *testing.T) {
	now := time.Now()
	token := "snap-token"
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	o := &Order{}
	assert.False(t, o.SessionValid(now))

	o.SessionToken = &token
	assert.True(t, o.SessionValid(now))

	o.SessionExpiresAt = &past
	assert.False(t, o.SessionValid(now))

	o.SessionExpiresAt = &future
	assert.True(t, o.SessionValid(now))

	o.ClearSession()
	assert.False(t, o.SessionValid(now))
}

func TestCart_TenantSwitchRequiresConfirmation(t *testing.T) {
	tenantA, tenantB := uuid.New(), uuid.New()
	burger := Product{ID: uuid.New(), TenantID: tenantA, Name: "Burger", Price: 15000, Available: true}
	tea := Product{ID: uuid.New(), TenantID: tenantB, Name: "Tea", Price: 5000, Available: true}

	cart := NewCart(uuid.New())
	require.NoError(t, cart.AddItem(burger, 1, false))
	require.NoError(t, cart.AddItem(burger, 1, false))
	assert.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)

	err := cart.AddItem(tea, 1, false)
	assert.ErrorIs(t, err, ErrCartTenantSwitch)
	assert.Equal(t, tenantA, cart.TenantID)

	require.NoError(t, cart.AddItem(tea, 3, true))
	assert.Equal(t, tenantB, cart.TenantID)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(15000), cart.Subtotal())

	require.NoError(t, cart.SetQuantity(tea.ID, 0))
	assert.Empty(t, cart.Items)
	assert.Equal(t, uuid.Nil, cart.TenantID)
}

func TestWithdrawal_ResolveOnce(t *testing.T) {
	w := &Withdrawal{Status: WithdrawalStatusPending, Amount: 20000}
	now := time.Now()

	require.NoError(t, w.Resolve(WithdrawalStatusApproved, "transferred", now))
	assert.Equal(t, WithdrawalStatusApproved, w.Status)
	require.NotNil(t, w.AdminNotes)

	err := w.Resolve(WithdrawalStatusRejected, "", now)
	assert.ErrorIs(t, err, ErrWithdrawalProcessed)
	assert.Equal(t, WithdrawalStatusApproved, w.Status)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("user")
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, r)

	_, err = ParseRole("root")
	assert.Error(t, err)
}
