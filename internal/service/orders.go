package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/digibite-marketplace/internal/gateway"
	"github.com/mmeshcher/digibite-marketplace/internal/model"
)

const (
	referencePrefix  = "DIGIBITE"
	referenceAlpha   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referenceSuffix  = 9
	customerFallback = "Pelanggan"
)

// ItemInput описывает позицию, которую покупатель хочет заказать.
type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// CheckoutRequest содержит данные оформления заказа.
type CheckoutRequest struct {
	TenantID      uuid.UUID
	Items         []ItemInput
	Notes         string
	PaymentMethod model.PaymentMethod
	// Replace отменяет существующий заказ pending в заведении вместо его возобновления.
	Replace bool
}

// CheckoutResult описывает итог оформления.
type CheckoutResult struct {
	Order *model.Order
	// Resumed означает, что возвращён ранее созданный заказ pending.
	Resumed bool
	// SessionPending означает, что платёжную сессию получить не удалось и её нужно запросить позже.
	SessionPending bool
}

// newReference формирует внешний номер заказа: префикс, время создания в миллисекундах и случайный суффикс.
// Байты из хвоста диапазона, не кратного длине алфавита, отбрасываются, чтобы символы были равновероятны.
func newReference(millis int64) string {
	limit := 256 - 256%len(referenceAlpha)
	suffix := make([]byte, 0, referenceSuffix)
	buf := make([]byte, 2*referenceSuffix)
	for len(suffix) < referenceSuffix {
		_, _ = rand.Read(buf)
		for _, b := range buf {
			if int(b) >= limit || len(suffix) == referenceSuffix {
				continue
			}
			suffix = append(suffix, referenceAlpha[int(b)%len(referenceAlpha)])
		}
	}
	return referencePrefix + "-" + strconv.FormatInt(millis, 10) + "-" + string(suffix)
}

// CreateOrder создаёт заказ pending с ценами из каталога на момент оформления.
// Если у покупателя уже есть заказ pending в заведении, возвращается *model.PendingOrderError.
func (s *Service) CreateOrder(ctx context.Context, userID uuid.UUID, req CheckoutRequest) (*model.Order, error) {
	if len(req.Items) == 0 {
		return nil, model.ErrEmptyCart
	}
	if !req.PaymentMethod.Valid() {
		return nil, model.ErrInvalidPaymentMethod
	}

	quantities := make(map[uuid.UUID]int, len(req.Items))
	ids := make([]uuid.UUID, 0, len(req.Items))
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, model.ErrInvalidQuantity
		}
		if _, ok := quantities[it.ProductID]; !ok {
			ids = append(ids, it.ProductID)
		}
		quantities[it.ProductID] += it.Quantity
	}

	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	items := make([]model.OrderItem, 0, len(ids))
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", model.ErrProductNotFound, id)
		}
		if p.TenantID != req.TenantID {
			return nil, fmt.Errorf("%w: %s", model.ErrProductNotInTenant, p.Name)
		}
		if !p.Available {
			return nil, fmt.Errorf("%w: %s", model.ErrProductUnavailable, p.Name)
		}
		items = append(items, model.OrderItem{
			ID:          uuid.New(),
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    quantities[id],
			Price:       p.Price,
		})
	}

	o, err := model.NewOrder(userID, req.TenantID, items, s.serviceFee, req.Notes, req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	o.ID = uuid.New()
	o.Reference = newReference(s.now().UnixMilli())

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		if errors.Is(err, model.ErrPendingOrderExists) {
			existing, getErr := s.repo.GetPendingOrder(ctx, userID, req.TenantID)
			if getErr != nil {
				return nil, err
			}
			return nil, &model.PendingOrderError{Order: existing}
		}
		return nil, err
	}

	s.metrics.OrderCreated(string(o.PaymentMethod))
	s.notify(ctx, o)
	return o, nil
}

// Checkout оформляет заказ и для оплаты через шлюз запрашивает платёжную сессию.
// Существующий заказ pending в том же заведении возобновляется или, при Replace, отменяется.
// Ошибка шлюза не считается ошибкой оформления: заказ остаётся pending без сессии.
func (s *Service) Checkout(ctx context.Context, userID uuid.UUID, req CheckoutRequest) (*CheckoutResult, error) {
	existing, err := s.repo.GetPendingOrder(ctx, userID, req.TenantID)
	switch {
	case err == nil:
		if !req.Replace {
			return s.resumeExisting(ctx, existing), nil
		}
		if _, err := s.cancel(ctx, existing.ID, "replace"); err != nil && !errors.Is(err, model.ErrOrderNotPending) {
			return nil, fmt.Errorf("cancel replaced order: %w", err)
		}
	case errors.Is(err, model.ErrOrderNotFound):
	default:
		return nil, err
	}

	o, err := s.CreateOrder(ctx, userID, req)
	if err != nil {
		var pending *model.PendingOrderError
		if errors.As(err, &pending) {
			return s.resumeExisting(ctx, pending.Order), nil
		}
		return nil, err
	}

	res := &CheckoutResult{Order: o}
	if o.PaymentMethod == model.PaymentMethodGateway {
		updated, err := s.ensureSession(ctx, o)
		if err != nil {
			s.logger.Warn("payment session not created, order stays pending",
				zap.String("order", o.Reference), zap.Error(err))
			res.SessionPending = true
		} else {
			res.Order = updated
		}
	}
	return res, nil
}

func (s *Service) resumeExisting(ctx context.Context, o *model.Order) *CheckoutResult {
	res := &CheckoutResult{Order: o, Resumed: true}
	if o.PaymentMethod != model.PaymentMethodGateway {
		return res
	}
	updated, err := s.ensureSession(ctx, o)
	if err != nil {
		s.logger.Warn("payment session not resumed", zap.String("order", o.Reference), zap.Error(err))
		res.SessionPending = true
		return res
	}
	res.Order = updated
	return res
}

// ResumePayment возвращает действующую платёжную сессию заказа или запрашивает новую.
// Повторные вызовы не создают второй действующей сессии.
func (s *Service) ResumePayment(ctx context.Context, actor Actor, orderID uuid.UUID) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOrder(ctx, actor, o); err != nil {
		return nil, err
	}
	if o.Status != model.OrderStatusPending {
		return nil, model.ErrOrderNotPending
	}
	if o.PaymentMethod != model.PaymentMethodGateway {
		return nil, model.ErrInvalidPaymentMethod
	}
	return s.ensureSession(ctx, o)
}

// ensureSession возвращает заказ с действующей сессией. Новая сессия сохраняется, только если
// под блокировкой строки у заказа всё ещё нет действующей сессии.
func (s *Service) ensureSession(ctx context.Context, o *model.Order) (*model.Order, error) {
	if o.SessionValid(s.now()) {
		return o, nil
	}
	if s.gateway == nil {
		return nil, errors.New("payment gateway is not configured")
	}

	req := gateway.SessionRequest{
		OrderRef:    o.Reference,
		GrossAmount: o.Total,
		Customer:    s.customer(ctx, o.UserID),
	}
	for _, it := range o.Items {
		req.Items = append(req.Items, gateway.Item{
			ID:       it.ProductID.String(),
			Name:     it.ProductName,
			Price:    it.Price,
			Quantity: it.Quantity,
		})
	}

	callCtx := ctx
	if s.gatewayTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()
	}

	started := s.now()
	session, err := s.gateway.CreateSession(callCtx, req)
	s.metrics.ObserveGateway("create_session", err, s.now().Sub(started))
	if err != nil {
		return nil, fmt.Errorf("create payment session: %w", err)
	}

	now := s.now()
	updated, changed, err := s.repo.UpdateOrder(ctx, o.ID, func(cur *model.Order) (bool, error) {
		if cur.Status != model.OrderStatusPending || cur.PaymentMethod != model.PaymentMethodGateway {
			return false, model.ErrOrderNotPending
		}
		if cur.SessionValid(now) {
			return false, nil
		}
		token, redirect := session.Token, session.RedirectURL
		cur.SessionToken = &token
		cur.RedirectURL = &redirect
		if s.sessionTTL > 0 {
			expires := now.Add(s.sessionTTL)
			cur.SessionExpiresAt = &expires
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	updated.Items = o.Items
	if changed {
		s.notify(ctx, updated)
	}
	return updated, nil
}

func (s *Service) customer(ctx context.Context, userID uuid.UUID) gateway.Customer {
	c := gateway.Customer{FirstName: customerFallback}
	if s.catalog == nil {
		return c
	}
	p, err := s.catalog.GetProfile(ctx, userID)
	if err != nil {
		s.logger.Debug("profile lookup failed", zap.String("user", userID.String()), zap.Error(err))
		return c
	}
	if p.Name != "" {
		c.FirstName = p.Name
	}
	c.Phone = p.Phone
	c.Email = p.Email
	return c
}

// ChangePaymentMethod меняет способ оплаты заказа pending и сбрасывает платёжную сессию.
func (s *Service) ChangePaymentMethod(ctx context.Context, actor Actor, orderID uuid.UUID, method model.PaymentMethod) (*model.Order, error) {
	if !method.Valid() {
		return nil, model.ErrInvalidPaymentMethod
	}
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOrder(ctx, actor, o); err != nil {
		return nil, err
	}

	updated, changed, err := s.repo.UpdateOrder(ctx, orderID, func(cur *model.Order) (bool, error) {
		if cur.Status != model.OrderStatusPending {
			return false, model.ErrOrderNotPending
		}
		if cur.PaymentMethod == method && cur.SessionToken == nil {
			return false, nil
		}
		cur.PaymentMethod = method
		cur.ClearSession()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	updated.Items = o.Items
	if changed {
		s.notify(ctx, updated)
	}
	return updated, nil
}

// CancelOrder отменяет заказ. Отменить можно только заказ pending.
func (s *Service) CancelOrder(ctx context.Context, actor Actor, orderID uuid.UUID) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOrder(ctx, actor, o); err != nil {
		return nil, err
	}
	updated, err := s.cancel(ctx, orderID, "manual")
	if err != nil {
		return nil, err
	}
	updated.Items = o.Items
	return updated, nil
}

func (s *Service) cancel(ctx context.Context, orderID uuid.UUID, source string) (*model.Order, error) {
	now := s.now()
	updated, _, err := s.repo.UpdateOrder(ctx, orderID, func(cur *model.Order) (bool, error) {
		if cur.Status != model.OrderStatusPending {
			return false, model.ErrOrderNotPending
		}
		if err := cur.TransitionTo(model.OrderStatusCancelled, now); err != nil {
			return false, err
		}
		cur.ClearSession()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Transition(string(model.OrderStatusPending), string(model.OrderStatusCancelled), source)
	s.notify(ctx, updated)
	return updated, nil
}

// UpdateOrderStatus выполняет ручную смену статуса продавцом или администратором.
// Зачисление на баланс проходит через ту же проверку, что и у вебхука.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor Actor, orderID uuid.UUID, to model.OrderStatus) (*model.Order, error) {
	if _, err := model.ParseOrderStatus(string(to)); err != nil {
		return nil, err
	}
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeTenantManager(ctx, actor, o.TenantID); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		from        model.OrderStatus
		wasCredited bool
	)
	updated, _, err := s.repo.UpdateOrder(ctx, orderID, func(cur *model.Order) (bool, error) {
		from = cur.Status
		wasCredited = cur.CreditedAt != nil
		if err := cur.TransitionTo(to, now); err != nil {
			return false, err
		}
		if to == model.OrderStatusCancelled {
			cur.ClearSession()
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	updated.Items = o.Items

	s.metrics.Transition(string(from), string(to), "manual")
	if !wasCredited && updated.CreditedAt != nil {
		s.metrics.Credited(updated.CreditAmount())
	}
	s.logger.Info("order status updated",
		zap.String("order", updated.Reference),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("role", string(actor.Role)))
	s.notify(ctx, updated)
	return updated, nil
}

// GetOrder возвращает заказ с позициями.
func (s *Service) GetOrder(ctx context.Context, actor Actor, orderID uuid.UUID) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOrder(ctx, actor, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetPendingOrder возвращает заказ покупателя, ожидающий оплаты в заведении.
func (s *Service) GetPendingOrder(ctx context.Context, userID, tenantID uuid.UUID) (*model.Order, error) {
	return s.repo.GetPendingOrder(ctx, userID, tenantID)
}

// ListActiveOrders возвращает незавершённые заказы покупателя.
func (s *Service) ListActiveOrders(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	return s.repo.ListOrdersByUser(ctx, userID, model.ActiveStatuses)
}

// ListOrderHistory возвращает завершённые и отменённые заказы покупателя.
func (s *Service) ListOrderHistory(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	return s.repo.ListOrdersByUser(ctx, userID, model.HistoryStatuses)
}

// ListTenantOrders возвращает заказы заведения. Продавец видит только своё заведение,
// администратор указывает tenantID явно.
func (s *Service) ListTenantOrders(ctx context.Context, actor Actor, tenantID uuid.UUID, status model.OrderStatus) ([]model.Order, error) {
	if actor.Role == model.RoleSeller && tenantID == uuid.Nil {
		own, err := s.tenantOf(ctx, actor)
		if err != nil {
			return nil, err
		}
		tenantID = own
	}
	if err := s.authorizeTenantManager(ctx, actor, tenantID); err != nil {
		return nil, err
	}
	return s.repo.ListOrdersByTenant(ctx, tenantID, status)
}

// SellerStats возвращает сводку по заказам и баланс заведения продавца.
func (s *Service) SellerStats(ctx context.Context, actor Actor) (*model.OrderStats, error) {
	tenantID, err := s.tenantOf(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.repo.OrderStats(ctx, tenantID)
}

// TenantOf возвращает идентификатор заведения продавца.
func (s *Service) TenantOf(ctx context.Context, actor Actor) (uuid.UUID, error) {
	if actor.Role != model.RoleSeller {
		return uuid.Nil, model.ErrForbidden
	}
	return s.tenantOf(ctx, actor)
}
