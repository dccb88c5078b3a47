package repository

import (
	"context"
	"fmt"
)

// Product 商品
type Product struct {
	ID            int64
	SKU           string
	Name          string
	Description   string
	Price         string // DECIMAL from DB
	StockQuantity int
	Active        bool
	CreatedAtMs   int64
	UpdatedAtMs   int64
}

// GetProductBySKU 按 SKU 查询商品
func (s *Store) GetProductBySKU(ctx context.Context, q DBTX, sku string) (*Product, error) {
	query := `
		SELECT id, sku, name, COALESCE(description, ''), price, stock_quantity, active,
		       created_at_ms, updated_at_ms
		FROM products
		WHERE sku = $1
	`
	p := &Product{}
	err := q.QueryRowContext(ctx, query, sku).Scan(
		&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price, &p.StockQuantity, &p.Active,
		&p.CreatedAtMs, &p.UpdatedAtMs,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product by sku: %w", err)
	}
	return p, nil
}

// DecrementStock 条件扣减库存，库存不足时影响 0 行
func (s *Store) DecrementStock(ctx context.Context, q DBTX, productID int64, qty int, nowMs int64) error {
	query := `
		UPDATE products
		SET stock_quantity = stock_quantity - $1, updated_at_ms = $2
		WHERE id = $3 AND stock_quantity >= $1
	`
	result, err := q.ExecContext(ctx, query, qty, nowMs, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrInsufficientStock
	}
	return nil
}

// IncrementStock 回补库存（取消订单、人工补货）
func (s *Store) IncrementStock(ctx context.Context, q DBTX, productID int64, qty int, nowMs int64) error {
	query := `
		UPDATE products
		SET stock_quantity = stock_quantity + $1, updated_at_ms = $2
		WHERE id = $3
	`
	result, err := q.ExecContext(ctx, query, qty, nowMs, productID)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
