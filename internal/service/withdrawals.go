package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
	"github.com/mmeshcher/digibite-marketplace/internal/repository"
)

// WithdrawalRequest содержит данные заявки продавца на вывод средств.
type WithdrawalRequest struct {
	Amount int64
	Bank   model.BankAccount
	Notes  string
}

// GetBalance возвращает баланс заведения продавца.
func (s *Service) GetBalance(ctx context.Context, actor Actor) (*model.Balance, error) {
	tenantID, err := s.TenantOf(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.repo.GetBalance(ctx, tenantID)
}

// RequestWithdrawal создаёт заявку на вывод. Баланс не меняется до одобрения.
func (s *Service) RequestWithdrawal(ctx context.Context, actor Actor, req WithdrawalRequest) (*model.Withdrawal, error) {
	if req.Amount < s.minWithdrawal {
		return nil, model.ErrBelowMinimum
	}
	if !req.Bank.Complete() {
		return nil, model.ErrInvalidBankAccount
	}

	tenantID, err := s.TenantOf(ctx, actor)
	if err != nil {
		return nil, err
	}

	w := &model.Withdrawal{
		ID:       uuid.New(),
		TenantID: tenantID,
		Amount:   req.Amount,
		Bank: model.BankAccount{
			BankName:      strings.TrimSpace(req.Bank.BankName),
			AccountNumber: strings.TrimSpace(req.Bank.AccountNumber),
			AccountHolder: strings.TrimSpace(req.Bank.AccountHolder),
		},
		Notes: req.Notes,
	}
	if err := s.repo.CreateWithdrawal(ctx, w); err != nil {
		return nil, err
	}

	s.metrics.Withdrawal(string(model.WithdrawalStatusPending))
	s.logger.Info("withdrawal requested",
		zap.String("withdrawal", w.ID.String()),
		zap.String("tenant", tenantID.String()),
		zap.Int64("amount", w.Amount))
	return w, nil
}

// ApproveWithdrawal одобряет заявку и списывает сумму с баланса заведения.
func (s *Service) ApproveWithdrawal(ctx context.Context, actor Actor, id uuid.UUID, adminNotes string) (*model.Withdrawal, error) {
	if actor.Role != model.RoleAdmin {
		return nil, model.ErrForbidden
	}
	w, err := s.repo.ApproveWithdrawal(ctx, id, adminNotes)
	if err != nil {
		return nil, err
	}
	s.metrics.Withdrawal(string(w.Status))
	s.logger.Info("withdrawal approved",
		zap.String("withdrawal", w.ID.String()),
		zap.String("tenant", w.TenantID.String()),
		zap.Int64("amount", w.Amount))
	return w, nil
}

// RejectWithdrawal отклоняет заявку.
func (s *Service) RejectWithdrawal(ctx context.Context, actor Actor, id uuid.UUID, adminNotes string) (*model.Withdrawal, error) {
	if actor.Role != model.RoleAdmin {
		return nil, model.ErrForbidden
	}
	w, err := s.repo.RejectWithdrawal(ctx, id, adminNotes)
	if err != nil {
		return nil, err
	}
	s.metrics.Withdrawal(string(w.Status))
	s.logger.Info("withdrawal rejected", zap.String("withdrawal", w.ID.String()))
	return w, nil
}

// ListWithdrawals возвращает заявки. Продавец видит заявки своего заведения, администратор все.
func (s *Service) ListWithdrawals(ctx context.Context, actor Actor, status model.WithdrawalStatus) ([]model.Withdrawal, error) {
	filter := repository.WithdrawalFilter{Status: status}

	switch actor.Role {
	case model.RoleAdmin:
	case model.RoleSeller:
		tenantID, err := s.tenantOf(ctx, actor)
		if err != nil {
			return nil, err
		}
		filter.TenantID = tenantID
	case model.RoleCustomer:
		return nil, model.ErrForbidden
	default:
		return nil, model.ErrForbidden
	}

	return s.repo.ListWithdrawals(ctx, filter)
}

// WithdrawalCounts возвращает количество заявок по статусам.
func (s *Service) WithdrawalCounts(ctx context.Context, actor Actor) (*model.WithdrawalCounts, error) {
	if actor.Role != model.RoleAdmin {
		return nil, model.ErrForbidden
	}
	return s.repo.WithdrawalCounts(ctx)
}
