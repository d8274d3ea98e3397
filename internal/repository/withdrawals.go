package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
)

const withdrawalColumns = `id, tenant_id, amount, bank_name, account_number, account_name, notes,
	admin_notes, status, created_at, processed_at`

// WithdrawalFilter ограничивает выборку заявок. Пустые поля не фильтруют.
type WithdrawalFilter struct {
	TenantID uuid.UUID
	Status   model.WithdrawalStatus
}

func scanWithdrawal(row pgx.Row) (*model.Withdrawal, error) {
	var (
		w      model.Withdrawal
		status string
	)
	err := row.Scan(
		&w.ID, &w.TenantID, &w.Amount, &w.Bank.BankName, &w.Bank.AccountNumber, &w.Bank.AccountHolder,
		&w.Notes, &w.AdminNotes, &status, &w.CreatedAt, &w.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Status = model.WithdrawalStatus(status)
	return &w, nil
}

// lockTenantBalance блокирует строку заведения и возвращает баланс и сумму ожидающих заявок.
func lockTenantBalance(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) (model.Balance, error) {
	var b model.Balance

	err := tx.QueryRow(ctx, `SELECT balance FROM tenants WHERE id = $1 FOR UPDATE`, tenantID).Scan(&b.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return b, model.ErrTenantNotFound
		}
		return b, fmt.Errorf("lock tenant for update: %w", err)
	}

	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM withdrawals WHERE tenant_id = $1 AND status = $2`,
		tenantID, string(model.WithdrawalStatusPending),
	).Scan(&b.PendingWithdrawals)
	if err != nil {
		return b, fmt.Errorf("sum pending withdrawals: %w", err)
	}

	b.Available = b.Balance - b.PendingWithdrawals
	return b, nil
}

// GetBalance возвращает баланс заведения, сумму ожидающих заявок и доступный остаток.
func (r *PostgresRepository) GetBalance(ctx context.Context, tenantID uuid.UUID) (*model.Balance, error) {
	var b model.Balance

	err := r.pool.QueryRow(ctx,
		`SELECT t.balance, COALESCE(SUM(w.amount), 0)
		 FROM tenants t
		 LEFT JOIN withdrawals w ON w.tenant_id = t.id AND w.status = $2
		 WHERE t.id = $1
		 GROUP BY t.balance`,
		tenantID, string(model.WithdrawalStatusPending),
	).Scan(&b.Balance, &b.PendingWithdrawals)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrTenantNotFound
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}

	b.Available = b.Balance - b.PendingWithdrawals
	return &b, nil
}

// CreateWithdrawal создаёт заявку на вывод. Блокирует строку заведения, чтобы параллельные заявки
// не превысили доступный остаток.
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}

	return r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			balance, err := lockTenantBalance(ctx, tx, w.TenantID)
			if err != nil {
				return err
			}
			if w.Amount > balance.Available {
				return model.ErrInsufficientBalance
			}

			err = tx.QueryRow(ctx,
				`INSERT INTO withdrawals (id, tenant_id, amount, bank_name, account_number, account_name, notes, status)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 RETURNING created_at`,
				w.ID, w.TenantID, w.Amount, w.Bank.BankName, w.Bank.AccountNumber, w.Bank.AccountHolder,
				w.Notes, string(model.WithdrawalStatusPending),
			).Scan(&w.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert withdrawal: %w", err)
			}
			w.Status = model.WithdrawalStatusPending
			return nil
		})
	})
}

// ApproveWithdrawal одобряет заявку и списывает сумму с баланса заведения в одной транзакции.
func (r *PostgresRepository) ApproveWithdrawal(ctx context.Context, id uuid.UUID, adminNotes string) (*model.Withdrawal, error) {
	return r.resolveWithdrawal(ctx, id, model.WithdrawalStatusApproved, adminNotes)
}

// RejectWithdrawal отклоняет заявку без изменения баланса.
func (r *PostgresRepository) RejectWithdrawal(ctx context.Context, id uuid.UUID, adminNotes string) (*model.Withdrawal, error) {
	return r.resolveWithdrawal(ctx, id, model.WithdrawalStatusRejected, adminNotes)
}

func (r *PostgresRepository) resolveWithdrawal(ctx context.Context, id uuid.UUID, status model.WithdrawalStatus, adminNotes string) (*model.Withdrawal, error) {
	var result *model.Withdrawal

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			w, err := scanWithdrawal(tx.QueryRow(ctx,
				`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id))
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return model.ErrWithdrawalNotFound
				}
				return fmt.Errorf("lock withdrawal: %w", err)
			}

			if err := w.Resolve(status, adminNotes, r.now()); err != nil {
				return err
			}

			if status == model.WithdrawalStatusApproved {
				var balance int64
				err := tx.QueryRow(ctx, `SELECT balance FROM tenants WHERE id = $1 FOR UPDATE`, w.TenantID).Scan(&balance)
				if err != nil {
					return fmt.Errorf("lock tenant for update: %w", err)
				}
				if balance < w.Amount {
					return model.ErrInsufficientBalance
				}
				if _, err := tx.Exec(ctx,
					`UPDATE tenants SET balance = balance - $2 WHERE id = $1`, w.TenantID, w.Amount,
				); err != nil {
					return fmt.Errorf("debit tenant balance: %w", err)
				}
			}

			if _, err := tx.Exec(ctx,
				`UPDATE withdrawals SET status = $2, admin_notes = $3, processed_at = $4 WHERE id = $1`,
				w.ID, string(w.Status), w.AdminNotes, w.ProcessedAt,
			); err != nil {
				return fmt.Errorf("update withdrawal: %w", err)
			}

			result = w
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetWithdrawal возвращает заявку по идентификатору.
func (r *PostgresRepository) GetWithdrawal(ctx context.Context, id uuid.UUID) (*model.Withdrawal, error) {
	w, err := scanWithdrawal(r.pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	return w, nil
}

// ListWithdrawals возвращает заявки по фильтру, новые первыми.
func (r *PostgresRepository) ListWithdrawals(ctx context.Context, filter WithdrawalFilter) ([]model.Withdrawal, error) {
	var tenantArg any
	if filter.TenantID != uuid.Nil {
		tenantArg = filter.TenantID
	}
	var statusArg any
	if filter.Status != "" {
		statusArg = string(filter.Status)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals
		 WHERE ($1::uuid IS NULL OR tenant_id = $1) AND ($2::text IS NULL OR status = $2)
		 ORDER BY created_at DESC`,
		tenantArg, statusArg,
	)
	if err != nil {
		return nil, fmt.Errorf("select withdrawals: %w", err)
	}
	defer rows.Close()

	var res []model.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		res = append(res, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// WithdrawalCounts возвращает количество заявок по статусам.
func (r *PostgresRepository) WithdrawalCounts(ctx context.Context) (*model.WithdrawalCounts, error) {
	var c model.WithdrawalCounts

	err := r.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COALESCE(SUM(amount) FILTER (WHERE status = 'pending'), 0),
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'rejected')
		 FROM withdrawals`,
	).Scan(&c.Pending, &c.PendingAmount, &c.Approved, &c.Rejected)
	if err != nil {
		return nil, fmt.Errorf("count withdrawals: %w", err)
	}
	return &c, nil
}
