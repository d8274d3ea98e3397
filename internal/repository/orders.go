package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
)

const orderColumns = `id, reference, user_id, tenant_id, subtotal, service_fee, total, status,
	payment_method, payment_channel, session_token, redirect_url, session_expires_at, notes,
	paid_at, credited_at, created_at, updated_at`

// OrderMutation изменяет заказ под блокировкой строки и сообщает, нужно ли сохранять изменения.
// Может вызываться повторно при ретраях транзакции, поэтому не должна иметь побочных эффектов.
type OrderMutation func(o *model.Order) (bool, error)

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		status string
		method string
	)
	err := row.Scan(
		&o.ID, &o.Reference, &o.UserID, &o.TenantID, &o.Subtotal, &o.ServiceFee, &o.Total, &status,
		&method, &o.PaymentChannel, &o.SessionToken, &o.RedirectURL, &o.SessionExpiresAt, &o.Notes,
		&o.PaidAt, &o.CreditedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.PaymentMethod = model.PaymentMethod(method)
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return orders, nil
}

// CreateOrder сохраняет заказ вместе с позициями в одной транзакции.
// Если у пользователя уже есть заказ pending в этом заведении, возвращается model.ErrPendingOrderExists.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	for i := range o.Items {
		if o.Items[i].ID == uuid.Nil {
			o.Items[i].ID = uuid.New()
		}
	}

	return r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			err := tx.QueryRow(ctx,
				`INSERT INTO orders (id, reference, user_id, tenant_id, subtotal, service_fee, total, status, payment_method, notes)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				 RETURNING created_at, updated_at`,
				o.ID, o.Reference, o.UserID, o.TenantID, o.Subtotal, o.ServiceFee, o.Total,
				string(o.Status), string(o.PaymentMethod), o.Notes,
			).Scan(&o.CreatedAt, &o.UpdatedAt)
			if err != nil {
				if isUniqueViolation(err, pendingOrderConstraint) {
					return model.ErrPendingOrderExists
				}
				return fmt.Errorf("insert order: %w", err)
			}

			batch := &pgx.Batch{}
			for _, it := range o.Items {
				batch.Queue(
					`INSERT INTO order_items (id, order_id, product_id, product_name, quantity, price, subtotal)
					 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
					it.ID, o.ID, it.ProductID, it.ProductName, it.Quantity, it.Price, it.Subtotal,
				)
			}

			br := tx.SendBatch(ctx, batch)
			for range o.Items {
				if _, err := br.Exec(); err != nil {
					br.Close()
					return fmt.Errorf("insert order item: %w", err)
				}
			}
			if err := br.Close(); err != nil {
				return fmt.Errorf("close batch: %w", err)
			}

			return nil
		})
	})
}

// GetOrder возвращает заказ с позициями.
func (r *PostgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if o.Items, err = r.getOrderItems(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrderByReference возвращает заказ по внешнему номеру платёжного шлюза.
func (r *PostgresRepository) GetOrderByReference(ctx context.Context, reference string) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE reference = $1`, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by reference: %w", err)
	}
	return o, nil
}

// GetPendingOrder возвращает заказ pending пользователя в заведении.
func (r *PostgresRepository) GetPendingOrder(ctx context.Context, userID, tenantID uuid.UUID) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = $1 AND tenant_id = $2 AND status = $3
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID, tenantID, string(model.OrderStatusPending),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get pending order: %w", err)
	}

	if o.Items, err = r.getOrderItems(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PostgresRepository) getOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, product_id, product_name, quantity, price, subtotal
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY product_name, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ID, &it.ProductID, &it.ProductName, &it.Quantity, &it.Price, &it.Subtotal); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}

// ListOrdersByUser возвращает заказы пользователя в указанных статусах, новые первыми.
func (r *PostgresRepository) ListOrdersByUser(ctx context.Context, userID uuid.UUID, statuses []model.OrderStatus) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = $1 AND status = ANY($2)
		 ORDER BY created_at DESC`,
		userID, statusStrings(statuses),
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	return collectOrders(rows)
}

// ListOrdersByTenant возвращает заказы заведения. Пустой status означает все статусы.
func (r *PostgresRepository) ListOrdersByTenant(ctx context.Context, tenantID uuid.UUID, status model.OrderStatus) ([]model.Order, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = r.pool.Query(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE tenant_id = $1 ORDER BY created_at DESC`,
			tenantID,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE tenant_id = $1 AND status = $2 ORDER BY created_at DESC`,
			tenantID, string(status),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("select tenant orders: %w", err)
	}
	return collectOrders(rows)
}

// ListStaleGatewayOrders возвращает заказы с оплатой через шлюз, которые ждут оплаты дольше заданного срока.
// Первыми идут заказы, которые ещё не сверялись, затем сверявшиеся раньше остальных.
func (r *PostgresRepository) ListStaleGatewayOrders(ctx context.Context, createdBefore time.Time, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = $1 AND payment_method = $2 AND session_token IS NOT NULL AND created_at < $3
		 ORDER BY reconciled_at NULLS FIRST, created_at
		 LIMIT $4`,
		string(model.OrderStatusPending), string(model.PaymentMethodGateway), createdBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select stale orders: %w", err)
	}
	return collectOrders(rows)
}

// MarkReconciled отмечает время последней сверки заказов со шлюзом.
func (r *PostgresRepository) MarkReconciled(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		strIDs = append(strIDs, id.String())
	}

	return r.withRetry(ctx, func(ctx context.Context) error {
		if _, err := r.pool.Exec(ctx,
			`UPDATE orders SET reconciled_at = $2 WHERE id = ANY($1::uuid[])`,
			strIDs, at,
		); err != nil {
			return fmt.Errorf("mark reconciled: %w", err)
		}
		return nil
	})
}

// OrderStats возвращает количество заказов заведения по статусам и текущий баланс.
func (r *PostgresRepository) OrderStats(ctx context.Context, tenantID uuid.UUID) (*model.OrderStats, error) {
	var stats model.OrderStats

	err := r.pool.QueryRow(ctx, `SELECT balance FROM tenants WHERE id = $1`, tenantID).Scan(&stats.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrTenantNotFound
		}
		return nil, fmt.Errorf("select tenant balance: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM orders WHERE tenant_id = $1 GROUP BY status`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan order count: %w", err)
		}
		switch model.OrderStatus(status) {
		case model.OrderStatusPending:
			stats.Pending = count
		case model.OrderStatusPaid:
			stats.Paid = count
		case model.OrderStatusCompleted:
			stats.Completed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &stats, nil
}

// UpdateOrder применяет mutate к заказу под блокировкой строки.
// Если после изменения заказ оплачен, но не зачислен, в той же транзакции пополняется баланс заведения.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, id uuid.UUID, mutate OrderMutation) (*model.Order, bool, error) {
	return r.updateOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id, mutate)
}

// UpdateOrderByReference применяет mutate к заказу, найденному по внешнему номеру.
func (r *PostgresRepository) UpdateOrderByReference(ctx context.Context, reference string, mutate OrderMutation) (*model.Order, bool, error) {
	return r.updateOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE reference = $1 FOR UPDATE`, reference, mutate)
}

func (r *PostgresRepository) updateOrder(ctx context.Context, query string, key any, mutate OrderMutation) (*model.Order, bool, error) {
	var (
		result  *model.Order
		changed bool
	)

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			o, err := scanOrder(tx.QueryRow(ctx, query, key))
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return model.ErrOrderNotFound
				}
				return fmt.Errorf("lock order: %w", err)
			}

			changed, err = mutate(o)
			if err != nil {
				return err
			}
			result = o
			if !changed {
				return nil
			}

			now := r.now()
			if o.CreditDue() {
				tag, err := tx.Exec(ctx,
					`UPDATE tenants SET balance = balance + $2 WHERE id = $1`,
					o.TenantID, o.CreditAmount(),
				)
				if err != nil {
					return fmt.Errorf("credit tenant balance: %w", err)
				}
				if tag.RowsAffected() != 1 {
					return model.ErrTenantNotFound
				}
				o.CreditedAt = &now
			}

			err = tx.QueryRow(ctx,
				`UPDATE orders SET status = $2, payment_method = $3, payment_channel = $4,
				        session_token = $5, redirect_url = $6, session_expires_at = $7,
				        paid_at = $8, credited_at = $9, updated_at = $10
				 WHERE id = $1
				 RETURNING updated_at`,
				o.ID, string(o.Status), string(o.PaymentMethod), o.PaymentChannel,
				o.SessionToken, o.RedirectURL, o.SessionExpiresAt,
				o.PaidAt, o.CreditedAt, now,
			).Scan(&o.UpdatedAt)
			if err != nil {
				return fmt.Errorf("update order: %w", err)
			}

			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}

	return result, changed, nil
}

func statusStrings(statuses []model.OrderStatus) []string {
	res := make([]string, 0, len(statuses))
	for _, s := range statuses {
		res = append(res, string(s))
	}
	return res
}
