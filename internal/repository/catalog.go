package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
)

// GetProducts возвращает товары по идентификаторам. Отсутствующие товары в результат не попадают.
func (r *PostgresRepository) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Product, error) {
	args := make([]string, 0, len(ids))
	for _, id := range ids {
		args = append(args, id.String())
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, name, price, is_available FROM products WHERE id = ANY($1::uuid[])`,
		args,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	res := make(map[uuid.UUID]model.Product, len(ids))
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Price, &p.Available); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetTenant возвращает заведение по идентификатору.
func (r *PostgresRepository) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	return r.getTenant(ctx, `SELECT id, owner_id, name, balance FROM tenants WHERE id = $1`, id)
}

// GetTenantByOwner возвращает заведение продавца.
func (r *PostgresRepository) GetTenantByOwner(ctx context.Context, ownerID uuid.UUID) (*model.Tenant, error) {
	return r.getTenant(ctx,
		`SELECT id, owner_id, name, balance FROM tenants WHERE owner_id = $1 ORDER BY created_at LIMIT 1`, ownerID)
}

func (r *PostgresRepository) getTenant(ctx context.Context, query string, arg uuid.UUID) (*model.Tenant, error) {
	var t model.Tenant
	err := r.pool.QueryRow(ctx, query, arg).Scan(&t.ID, &t.OwnerID, &t.Name, &t.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrTenantNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

// GetProfile возвращает контактные данные пользователя.
func (r *PostgresRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*model.Profile, error) {
	var p model.Profile
	err := r.pool.QueryRow(ctx, `SELECT name, phone, email FROM profiles WHERE id = $1`, userID).
		Scan(&p.Name, &p.Phone, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}
