// Package service реализует бизнес-логику маркетплейса DigiBite: жизненный цикл заказа,
// сверку платежей, баланс заведений и вывод средств.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/digibite-marketplace/internal/gateway"
	"github.com/mmeshcher/digibite-marketplace/internal/metrics"
	"github.com/mmeshcher/digibite-marketplace/internal/model"
	"github.com/mmeshcher/digibite-marketplace/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetPendingOrder(ctx context.Context, userID, tenantID uuid.UUID) (*model.Order, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID, statuses []model.OrderStatus) ([]model.Order, error)
	ListOrdersByTenant(ctx context.Context, tenantID uuid.UUID, status model.OrderStatus) ([]model.Order, error)
	ListStaleGatewayOrders(ctx context.Context, createdBefore time.Time, limit int) ([]model.Order, error)
	MarkReconciled(ctx context.Context, ids []uuid.UUID, at time.Time) error
	OrderStats(ctx context.Context, tenantID uuid.UUID) (*model.OrderStats, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, mutate repository.OrderMutation) (*model.Order, bool, error)
	UpdateOrderByReference(ctx context.Context, reference string, mutate repository.OrderMutation) (*model.Order, bool, error)

	GetBalance(ctx context.Context, tenantID uuid.UUID) (*model.Balance, error)
	CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error
	ApproveWithdrawal(ctx context.Context, id uuid.UUID, adminNotes string) (*model.Withdrawal, error)
	RejectWithdrawal(ctx context.Context, id uuid.UUID, adminNotes string) (*model.Withdrawal, error)
	ListWithdrawals(ctx context.Context, filter repository.WithdrawalFilter) ([]model.Withdrawal, error)
	WithdrawalCounts(ctx context.Context) (*model.WithdrawalCounts, error)
}

// Catalog описывает чтение каталога и профилей, которыми сервис не владеет.
type Catalog interface {
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Product, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	GetTenantByOwner(ctx context.Context, ownerID uuid.UUID) (*model.Tenant, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*model.Profile, error)
}

// Gateway описывает платёжный шлюз.
type Gateway interface {
	CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error)
	TransactionStatus(ctx context.Context, orderRef string) (*gateway.Notification, error)
}

// Notifier получает снимок заказа после каждого изменения. Доставка не гарантируется.
type Notifier interface {
	OrderChanged(ctx context.Context, o model.Order)
}

// CartStore хранит корзины пользователей.
type CartStore interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error)
	SaveCart(ctx context.Context, cart *model.Cart) error
	DeleteCart(ctx context.Context, userID uuid.UUID) error
}

// Actor описывает пользователя, от имени которого выполняется операция.
type Actor struct {
	UserID uuid.UUID
	Role   model.Role
}

// Params содержит зависимости и настройки сервиса.
type Params struct {
	Repo     Repository
	Catalog  Catalog
	Gateway  Gateway
	Notifier Notifier
	Carts    CartStore
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	ServiceFee        int64
	MinWithdrawal     int64
	GatewayTimeout    time.Duration
	SessionTTL        time.Duration
	ReconcileInterval time.Duration
	ReconcileAfter    time.Duration
}

// Service содержит бизнес-логику маркетплейса.
type Service struct {
	repo     Repository
	catalog  Catalog
	gateway  Gateway
	notifier Notifier
	carts    CartStore
	metrics  *metrics.Metrics
	logger   *zap.Logger

	serviceFee        int64
	minWithdrawal     int64
	gatewayTimeout    time.Duration
	sessionTTL        time.Duration
	reconcileInterval time.Duration
	reconcileAfter    time.Duration

	now func() time.Time
}

// NewService создаёт сервис с указанными зависимостями.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	carts := p.Carts
	if carts == nil {
		carts = repository.NewMemoryCartStore()
	}
	return &Service{
		repo:              p.Repo,
		catalog:           p.Catalog,
		gateway:           p.Gateway,
		notifier:          p.Notifier,
		carts:             carts,
		metrics:           p.Metrics,
		logger:            logger,
		serviceFee:        p.ServiceFee,
		minWithdrawal:     p.MinWithdrawal,
		gatewayTimeout:    p.GatewayTimeout,
		sessionTTL:        p.SessionTTL,
		reconcileInterval: p.ReconcileInterval,
		reconcileAfter:    p.ReconcileAfter,
		now:               time.Now,
	}
}

func (s *Service) notify(ctx context.Context, o *model.Order) {
	if s.notifier == nil || o == nil {
		return
	}
	s.notifier.OrderChanged(ctx, *o)
}

// tenantOf возвращает заведение продавца.
func (s *Service) tenantOf(ctx context.Context, actor Actor) (uuid.UUID, error) {
	t, err := s.catalog.GetTenantByOwner(ctx, actor.UserID)
	if err != nil {
		return uuid.Nil, err
	}
	return t.ID, nil
}

// authorizeOrder проверяет, что actor может видеть и изменять заказ.
func (s *Service) authorizeOrder(ctx context.Context, actor Actor, o *model.Order) error {
	switch actor.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleSeller:
		if o.UserID == actor.UserID {
			return nil
		}
		return s.authorizeTenantManager(ctx, actor, o.TenantID)
	case model.RoleCustomer:
		if o.UserID != actor.UserID {
			return model.ErrForbidden
		}
		return nil
	}
	return model.ErrForbidden
}

// authorizeTenantManager проверяет, что actor управляет заказами заведения: продавец своего заведения или администратор.
func (s *Service) authorizeTenantManager(ctx context.Context, actor Actor, tenantID uuid.UUID) error {
	switch actor.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleSeller:
		own, err := s.tenantOf(ctx, actor)
		if errors.Is(err, model.ErrTenantNotFound) {
			return model.ErrForbidden
		}
		if err != nil {
			return err
		}
		if own != tenantID {
			return model.ErrForbidden
		}
		return nil
	case model.RoleCustomer:
		return model.ErrForbidden
	}
	return model.ErrForbidden
}
