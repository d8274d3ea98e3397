package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/digibite-marketplace/internal/gateway"
	"github.com/mmeshcher/digibite-marketplace/internal/model"
	"github.com/mmeshcher/digibite-marketplace/internal/repository"
)

// memRepo повторяет поведение PostgresRepository в памяти: один заказ pending на пару
// (покупатель, заведение) и зачисление на баланс под той же блокировкой, что и смена статуса.
type memRepo struct {
	mu          sync.Mutex
	orders      map[uuid.UUID]*model.Order
	balances    map[uuid.UUID]int64
	withdrawals map[uuid.UUID]*model.Withdrawal
	reconciled  map[uuid.UUID]time.Time
	now         time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{
		orders:      make(map[uuid.UUID]*model.Order),
		balances:    make(map[uuid.UUID]int64),
		withdrawals: make(map[uuid.UUID]*model.Withdrawal),
		reconciled:  make(map[uuid.UUID]time.Time),
		now:         time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
	}
}

func copyOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = append([]model.OrderItem(nil), o.Items...)
	return &c
}

func (r *memRepo) CreateOrder(_ context.Context, o *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.orders {
		if existing.UserID == o.UserID && existing.TenantID == o.TenantID && existing.Status == model.OrderStatusPending {
			return model.ErrPendingOrderExists
		}
	}
	o.CreatedAt = r.now
	o.UpdatedAt = r.now
	r.orders[o.ID] = copyOrder(o)
	return nil
}

func (r *memRepo) GetOrder(_ context.Context, id uuid.UUID) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (r *memRepo) GetPendingOrder(_ context.Context, userID, tenantID uuid.UUID) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.orders {
		if o.UserID == userID && o.TenantID == tenantID && o.Status == model.OrderStatusPending {
			return copyOrder(o), nil
		}
	}
	return nil, model.ErrOrderNotFound
}

func (r *memRepo) list(match func(o *model.Order) bool) []model.Order {
	var res []model.Order
	for _, o := range r.orders {
		if match(o) {
			res = append(res, *copyOrder(o))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Reference < res[j].Reference })
	return res
}

func (r *memRepo) ListOrdersByUser(_ context.Context, userID uuid.UUID, statuses []model.OrderStatus) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.list(func(o *model.Order) bool {
		if o.UserID != userID {
			return false
		}
		for _, s := range statuses {
			if o.Status == s {
				return true
			}
		}
		return false
	}), nil
}

func (r *memRepo) ListOrdersByTenant(_ context.Context, tenantID uuid.UUID, status model.OrderStatus) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.list(func(o *model.Order) bool {
		return o.TenantID == tenantID && (status == "" || o.Status == status)
	}), nil
}

func (r *memRepo) ListStaleGatewayOrders(_ context.Context, createdBefore time.Time, limit int) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.list(func(o *model.Order) bool {
		return o.Status == model.OrderStatusPending && o.PaymentMethod == model.PaymentMethodGateway &&
			o.SessionToken != nil && o.CreatedAt.Before(createdBefore)
	})
	sort.SliceStable(res, func(i, j int) bool {
		ri, rj := r.reconciled[res[i].ID], r.reconciled[res[j].ID]
		if !ri.Equal(rj) {
			return ri.Before(rj)
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r *memRepo) MarkReconciled(_ context.Context, ids []uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		r.reconciled[id] = at
	}
	return nil
}

// seedGatewayOrder сохраняет заказ pending с выданной сессией, минуя проверку одного заказа на заведение.
func (r *memRepo) seedGatewayOrder(tenantID uuid.UUID, total int64, createdAt, sessionExpiresAt time.Time) *model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := "token-" + uuid.NewString()
	o := &model.Order{
		ID:               uuid.New(),
		Reference:        newReference(createdAt.UnixMilli()),
		UserID:           uuid.New(),
		TenantID:         tenantID,
		Subtotal:         total - 2000,
		ServiceFee:       2000,
		Total:            total,
		Status:           model.OrderStatusPending,
		PaymentMethod:    model.PaymentMethodGateway,
		SessionToken:     &token,
		SessionExpiresAt: &sessionExpiresAt,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	r.orders[o.ID] = copyOrder(o)
	return copyOrder(o)
}

func (r *memRepo) OrderStats(_ context.Context, tenantID uuid.UUID) (*model.OrderStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &model.OrderStats{Balance: r.balances[tenantID]}
	for _, o := range r.orders {
		if o.TenantID != tenantID {
			continue
		}
		switch o.Status {
		case model.OrderStatusPending:
			stats.Pending++
		case model.OrderStatusPaid:
			stats.Paid++
		case model.OrderStatusCompleted:
			stats.Completed++
		}
	}
	return stats, nil
}

func (r *memRepo) UpdateOrder(_ context.Context, id uuid.UUID, mutate repository.OrderMutation) (*model.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[id]
	if !ok {
		return nil, false, model.ErrOrderNotFound
	}
	return r.apply(stored, mutate)
}

func (r *memRepo) UpdateOrderByReference(_ context.Context, reference string, mutate repository.OrderMutation) (*model.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, stored := range r.orders {
		if stored.Reference == reference {
			return r.apply(stored, mutate)
		}
	}
	return nil, false, model.ErrOrderNotFound
}

func (r *memRepo) apply(stored *model.Order, mutate repository.OrderMutation) (*model.Order, bool, error) {
	o := copyOrder(stored)
	changed, err := mutate(o)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return o, false, nil
	}
	if o.CreditDue() {
		r.balances[o.TenantID] += o.CreditAmount()
		now := r.now
		o.CreditedAt = &now
	}
	o.UpdatedAt = r.now
	r.orders[o.ID] = copyOrder(o)
	return o, true, nil
}

func (r *memRepo) pendingWithdrawals(tenantID uuid.UUID) int64 {
	var sum int64
	for _, w := range r.withdrawals {
		if w.TenantID == tenantID && w.Status == model.WithdrawalStatusPending {
			sum += w.Amount
		}
	}
	return sum
}

func (r *memRepo) GetBalance(_ context.Context, tenantID uuid.UUID) (*model.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.pendingWithdrawals(tenantID)
	return &model.Balance{
		Balance:            r.balances[tenantID],
		PendingWithdrawals: pending,
		Available:          r.balances[tenantID] - pending,
	}, nil
}

func (r *memRepo) CreateWithdrawal(_ context.Context, w *model.Withdrawal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w.Amount > r.balances[w.TenantID]-r.pendingWithdrawals(w.TenantID) {
		return model.ErrInsufficientBalance
	}
	w.Status = model.WithdrawalStatusPending
	w.CreatedAt = r.now
	c := *w
	r.withdrawals[w.ID] = &c
	return nil
}

func (r *memRepo) resolve(id uuid.UUID, status model.WithdrawalStatus, notes string) (*model.Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.withdrawals[id]
	if !ok {
		return nil, model.ErrWithdrawalNotFound
	}
	w := *stored
	if err := w.Resolve(status, notes, r.now); err != nil {
		return nil, err
	}
	if status == model.WithdrawalStatusApproved {
		if r.balances[w.TenantID] < w.Amount {
			return nil, model.ErrInsufficientBalance
		}
		r.balances[w.TenantID] -= w.Amount
	}
	r.withdrawals[id] = &w
	return &w, nil
}

func (r *memRepo) ApproveWithdrawal(_ context.Context, id uuid.UUID, notes string) (*model.Withdrawal, error) {
	return r.resolve(id, model.WithdrawalStatusApproved, notes)
}

func (r *memRepo) RejectWithdrawal(_ context.Context, id uuid.UUID, notes string) (*model.Withdrawal, error) {
	return r.resolve(id, model.WithdrawalStatusRejected, notes)
}

func (r *memRepo) ListWithdrawals(_ context.Context, filter repository.WithdrawalFilter) ([]model.Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Withdrawal
	for _, w := range r.withdrawals {
		if filter.TenantID != uuid.Nil && w.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && w.Status != filter.Status {
			continue
		}
		res = append(res, *w)
	}
	return res, nil
}

func (r *memRepo) WithdrawalCounts(_ context.Context) (*model.WithdrawalCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var c model.WithdrawalCounts
	for _, w := range r.withdrawals {
		switch w.Status {
		case model.WithdrawalStatusPending:
			c.Pending++
			c.PendingAmount += w.Amount
		case model.WithdrawalStatusApproved:
			c.Approved++
		case model.WithdrawalStatusRejected:
			c.Rejected++
		}
	}
	return &c, nil
}

func (r *memRepo) balance(tenantID uuid.UUID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[tenantID]
}

func (r *memRepo) setBalance(tenantID uuid.UUID, v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[tenantID] = v
}

type stubCatalog struct {
	products map[uuid.UUID]model.Product
	tenants  map[uuid.UUID]model.Tenant
}

func (c *stubCatalog) GetProducts(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Product, error) {
	res := make(map[uuid.UUID]model.Product)
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			res[id] = p
		}
	}
	return res, nil
}

func (c *stubCatalog) GetTenant(_ context.Context, id uuid.UUID) (*model.Tenant, error) {
	t, ok := c.tenants[id]
	if !ok {
		return nil, model.ErrTenantNotFound
	}
	return &t, nil
}

func (c *stubCatalog) GetTenantByOwner(_ context.Context, ownerID uuid.UUID) (*model.Tenant, error) {
	for _, t := range c.tenants {
		if t.OwnerID == ownerID {
			return &t, nil
		}
	}
	return nil, model.ErrTenantNotFound
}

func (c *stubCatalog) GetProfile(_ context.Context, _ uuid.UUID) (*model.Profile, error) {
	return &model.Profile{Name: "Budi", Phone: "08123456789"}, nil
}

type stubGateway struct {
	mu       sync.Mutex
	calls    int
	requests []gateway.SessionRequest
	block    bool
	err      error
	statuses map[string]*gateway.Notification
}

func (g *stubGateway) CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.requests = append(g.requests, req)
	block, err := g.block, g.err
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &gateway.Session{
		Token:       "token-" + req.OrderRef + "-" + string(rune('0'+n)),
		RedirectURL: "https://pay.example/" + req.OrderRef,
	}, nil
}

func (g *stubGateway) TransactionStatus(_ context.Context, ref string) (*gateway.Notification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.statuses[ref]
	if !ok {
		return nil, gateway.ErrTransactionNotFound
	}
	return n, nil
}

func (g *stubGateway) sessionCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.Order
}

func (n *recordingNotifier) OrderChanged(_ context.Context, o model.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, o)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}
