package repository

import (
	"context"
	"fmt"
)

// Customer 客户
type Customer struct {
	ID            int64
	Email         string
	FirstName     string
	LastName      string
	LoyaltyPoints int64
	CreatedAtMs   int64
	UpdatedAtMs   int64
}

// FindOrCreateCustomer 按邮箱查找客户，不存在则创建
func (s *Store) FindOrCreateCustomer(ctx context.Context, q DBTX, email, firstName, lastName string, nowMs int64) (*Customer, error) {
	insert := `
		INSERT INTO customers (email, first_name, last_name, loyalty_points, created_at_ms, updated_at_ms)
		VALUES ($1, $2, $3, 0, $4, $4)
		ON CONFLICT (email) DO NOTHING
	`
	if _, err := q.ExecContext(ctx, insert, email, firstName, lastName, nowMs); err != nil {
		return nil, fmt.Errorf("insert customer: %w", err)
	}
	return s.GetCustomerByEmail(ctx, q, email)
}

// GetCustomerByEmail 按邮箱查询客户
func (s *Store) GetCustomerByEmail(ctx context.Context, q DBTX, email string) (*Customer, error) {
	query := `
		SELECT id, email, first_name, last_name, loyalty_points, created_at_ms, updated_at_ms
		FROM customers
		WHERE email = $1
	`
	c := &Customer{}
	err := q.QueryRowContext(ctx, query, email).Scan(
		&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.LoyaltyPoints, &c.CreatedAtMs, &c.UpdatedAtMs,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get customer by email: %w", err)
	}
	return c, nil
}

// GetCustomer 按 ID 查询客户
func (s *Store) GetCustomer(ctx context.Context, q DBTX, id int64) (*Customer, error) {
	query := `
		SELECT id, email, first_name, last_name, loyalty_points, created_at_ms, updated_at_ms
		FROM customers
		WHERE id = $1
	`
	c := &Customer{}
	err := q.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.LoyaltyPoints, &c.CreatedAtMs, &c.UpdatedAtMs,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

// GetCustomerForUpdate 加行锁查询客户（积分发放）
func (s *Store) GetCustomerForUpdate(ctx context.Context, q DBTX, id int64) (*Customer, error) {
	query := `
		SELECT id, email, first_name, last_name, loyalty_points, created_at_ms, updated_at_ms
		FROM customers
		WHERE id = $1
		FOR UPDATE
	`
	c := &Customer{}
	err := q.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.LoyaltyPoints, &c.CreatedAtMs, &c.UpdatedAtMs,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get customer for update: %w", err)
	}
	return c, nil
}

// AddLoyaltyPoints 增加客户积分
func (s *Store) AddLoyaltyPoints(ctx context.Context, q DBTX, customerID, delta, nowMs int64) error {
	query := `
		UPDATE customers
		SET loyalty_points = loyalty_points + $1, updated_at_ms = $2
		WHERE id = $3
	`
	result, err := q.ExecContext(ctx, query, delta, nowMs, customerID)
	if err != nil {
		return fmt.Errorf("add loyalty points: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
