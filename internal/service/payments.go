package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
)

// Outcome описывает результат применения статуса платёжного шлюза.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeStale          Outcome = "stale"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeReview         Outcome = "review"
	OutcomeAmountMismatch Outcome = "amount_mismatch"
	OutcomeUnknownOrder   Outcome = "unknown_order"
)

// ExternalStatus содержит нормализованные поля уведомления шлюза.
type ExternalStatus struct {
	Reference         string
	TransactionStatus string
	FraudStatus       string
	GrossAmount       int64
	PaymentType       string
	// Source указывает источник статуса: webhook или reconcile.
	Source string
}

// ApplyResult описывает, что произошло с заказом.
type ApplyResult struct {
	Outcome Outcome
	Order   *model.Order
	From    model.OrderStatus
	To      model.OrderStatus
}

// MapGatewayStatus переводит статус транзакции шлюза в статус заказа.
// review означает, что платёж требует ручной проверки и заказ остаётся pending.
// ok равен false для статусов, которые не влияют на заказ.
func MapGatewayStatus(transactionStatus, fraudStatus string) (status model.OrderStatus, review, ok bool) {
	switch transactionStatus {
	case "capture":
		switch fraudStatus {
		case "accept":
			return model.OrderStatusPaid, false, true
		case "deny":
			return model.OrderStatusCancelled, false, true
		}
		// challenge, пустой или неизвестный fraud_status: деньги списаны без решения антифрода.
		return model.OrderStatusPending, true, true
	case "settlement":
		return model.OrderStatusPaid, false, true
	case "cancel", "deny", "expire", "failure":
		return model.OrderStatusCancelled, false, true
	case "pending":
		return model.OrderStatusPending, false, true
	}
	return "", false, false
}

// ApplyExternalStatus применяет статус транзакции шлюза к заказу. Через вебхук заказ может выйти
// только из pending. Повторная доставка того же статуса ничего не меняет.
// Для неизвестного заказа возвращается model.ErrOrderNotFound.
func (s *Service) ApplyExternalStatus(ctx context.Context, ext ExternalStatus) (*ApplyResult, error) {
	source := ext.Source
	if source == "" {
		source = "webhook"
	}
	log := s.logger.With(
		zap.String("order", ext.Reference),
		zap.String("transaction_status", ext.TransactionStatus),
		zap.String("fraud_status", ext.FraudStatus),
		zap.String("source", source),
	)

	target, review, ok := MapGatewayStatus(ext.TransactionStatus, ext.FraudStatus)
	if !ok {
		log.Info("gateway status ignored")
		return &ApplyResult{Outcome: OutcomeIgnored}, nil
	}

	now := s.now()
	var res ApplyResult
	updated, _, err := s.repo.UpdateOrderByReference(ctx, ext.Reference, func(o *model.Order) (bool, error) {
		res = ApplyResult{From: o.Status, To: target}

		switch {
		case review:
			res.Outcome = OutcomeReview
			return false, nil
		case o.Status == target:
			res.Outcome = OutcomeDuplicate
			return false, nil
		case target == model.OrderStatusPending:
			res.Outcome = OutcomeIgnored
			return false, nil
		case o.Status != model.OrderStatusPending:
			res.Outcome = OutcomeStale
			return false, nil
		case target == model.OrderStatusPaid && ext.GrossAmount != o.Total:
			res.Outcome = OutcomeAmountMismatch
			return false, nil
		}

		if err := o.TransitionTo(target, now); err != nil {
			return false, err
		}
		if target == model.OrderStatusPaid {
			o.PaymentMethod = model.PaymentMethodGateway
		}
		if ext.PaymentType != "" {
			o.PaymentChannel = ext.PaymentType
		}
		o.ClearSession()
		res.Outcome = OutcomeApplied
		return true, nil
	})
	if err != nil {
		if errors.Is(err, model.ErrOrderNotFound) {
			log.Warn("gateway notification for unknown order")
			return &ApplyResult{Outcome: OutcomeUnknownOrder}, err
		}
		log.Error("apply gateway status", zap.Error(err))
		return nil, err
	}
	res.Order = updated

	switch res.Outcome {
	case OutcomeApplied:
		s.metrics.Transition(string(res.From), string(res.To), source)
		if res.To == model.OrderStatusPaid {
			s.metrics.Credited(updated.CreditAmount())
		}
		log.Info("order status applied from gateway",
			zap.String("from", string(res.From)), zap.String("to", string(res.To)))
		s.notify(ctx, updated)
	case OutcomeAmountMismatch:
		s.metrics.AmountMismatch()
		log.Error("gateway amount does not match order total",
			zap.Int64("gross_amount", ext.GrossAmount), zap.Int64("total", updated.Total))
	case OutcomeReview:
		log.Warn("payment flagged for manual review")
	case OutcomeDuplicate:
		log.Info("duplicate gateway notification")
	case OutcomeStale:
		log.Warn("gateway status for order that already left pending",
			zap.String("current", string(res.From)), zap.String("target", string(res.To)))
	default:
		log.Debug("gateway status left order unchanged")
	}

	return &res, nil
}
