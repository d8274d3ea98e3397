package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/digibite-marketplace/internal/gateway"
	"github.com/mmeshcher/digibite-marketplace/internal/model"
)

const reconcileBatchSize = 100

// RunPaymentReconciliation периодически запрашивает у шлюза статус давно ожидающих оплаты заказов
// и применяет его так же, как вебхук. Восстанавливает потерянные уведомления. Блокирует до отмены ctx.
func (s *Service) RunPaymentReconciliation(ctx context.Context) error {
	if s.gateway == nil || s.reconcileInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.processReconcileBatch(ctx)
		}
	}
}

// processReconcileBatch сверяет одну порцию заказов. Каждый просмотренный заказ отмечается,
// чтобы следующая порция начиналась с тех, что не сверялись дольше всех.
func (s *Service) processReconcileBatch(ctx context.Context) {
	now := s.now()
	orders, err := s.repo.ListStaleGatewayOrders(ctx, now.Add(-s.reconcileAfter), reconcileBatchSize)
	if err != nil {
		s.logger.Error("list orders for reconciliation", zap.Error(err))
		return
	}

	checked := make([]uuid.UUID, 0, len(orders))
	defer func() {
		if err := s.repo.MarkReconciled(context.WithoutCancel(ctx), checked, now); err != nil {
			s.logger.Error("mark orders reconciled", zap.Error(err))
		}
	}()

	for i := range orders {
		if ctx.Err() != nil {
			return
		}
		s.reconcileOrder(ctx, &orders[i], now)
		checked = append(checked, orders[i].ID)
	}
}

func (s *Service) reconcileOrder(ctx context.Context, o *model.Order, now time.Time) {
	started := s.now()
	n, err := s.gateway.TransactionStatus(ctx, o.Reference)
	s.metrics.ObserveGateway("transaction_status", err, s.now().Sub(started))
	if err != nil {
		if errors.Is(err, gateway.ErrTransactionNotFound) {
			s.expireAbandoned(ctx, o, now)
			return
		}
		s.metrics.Reconciled("error")
		s.logger.Warn("gateway status request failed", zap.String("order", o.Reference), zap.Error(err))
		return
	}

	amount, err := n.Amount()
	if err != nil {
		s.metrics.Reconciled("error")
		s.logger.Warn("gateway status has invalid amount", zap.String("order", o.Reference), zap.Error(err))
		return
	}

	res, err := s.ApplyExternalStatus(ctx, ExternalStatus{
		Reference:         o.Reference,
		TransactionStatus: n.TransactionStatus,
		FraudStatus:       n.FraudStatus,
		GrossAmount:       amount,
		PaymentType:       n.PaymentType,
		Source:            "reconcile",
	})
	if err != nil {
		s.metrics.Reconciled("error")
		return
	}
	s.metrics.Reconciled(string(res.Outcome))
}

// expireAbandoned отменяет заказ, по которому шлюз не знает транзакции, а платёжная сессия уже истекла:
// оплатить такой заказ через выданную сессию нельзя.
func (s *Service) expireAbandoned(ctx context.Context, o *model.Order, now time.Time) {
	if o.SessionValid(now) {
		s.metrics.Reconciled("not_found")
		return
	}

	_, err := s.cancel(ctx, o.ID, "reconcile")
	switch {
	case err == nil:
		s.metrics.Reconciled("expired")
		s.logger.Info("abandoned order cancelled", zap.String("order", o.Reference))
	case errors.Is(err, model.ErrOrderNotPending):
		s.metrics.Reconciled(string(OutcomeStale))
	default:
		s.metrics.Reconciled("error")
		s.logger.Warn("cancel abandoned order", zap.String("order", o.Reference), zap.Error(err))
	}
}
