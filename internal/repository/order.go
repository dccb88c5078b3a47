package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// OrderStatus 订单状态
const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusCancelled = "CANCELLED"
)

// Order 订单
type Order struct {
	ID             int64
	CustomerID     int64
	Status         string
	IdempotencyKey string
	Subtotal       string // DECIMAL from DB
	DiscountAmount string // DECIMAL from DB
	Total          string // DECIMAL from DB
	CreatedAtMs    int64
	UpdatedAtMs    int64
	Version        int64
}

// OrderItem 订单明细，单价为下单时快照
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	SKU       string
	Name      string
	UnitPrice string // DECIMAL from DB
	Quantity  int
	LineTotal string // DECIMAL from DB
}

const orderColumns = `id, customer_id, status, idempotency_key, subtotal, discount_amount, total,
	       created_at_ms, updated_at_ms, version`

// InsertOrder 创建订单，幂等键冲突返回 ErrDuplicateKey
func (s *Store) InsertOrder(ctx context.Context, q DBTX, order *Order) error {
	query := `
		INSERT INTO orders
		(customer_id, status, idempotency_key, subtotal, discount_amount, total,
		 created_at_ms, updated_at_ms, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		order.CustomerID, order.Status, nullString(order.IdempotencyKey),
		order.Subtotal, order.DiscountAmount, order.Total,
		order.CreatedAtMs, order.UpdatedAtMs,
	).Scan(&order.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert order: %w", err)
	}
	order.Version = 1
	return nil
}

// InsertOrderItems 批量写入订单明细
func (s *Store) InsertOrderItems(ctx context.Context, q DBTX, orderID int64, items []*OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, sku, name, unit_price, quantity, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	for _, item := range items {
		item.OrderID = orderID
		err := q.QueryRowContext(ctx, query,
			orderID, item.ProductID, item.SKU, item.Name, item.UnitPrice, item.Quantity, item.LineTotal,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

// GetOrder 获取订单
func (s *Store) GetOrder(ctx context.Context, q DBTX, orderID int64) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return s.scanOrder(q.QueryRowContext(ctx, query, orderID))
}

// GetOrderForUpdate 加行锁获取订单（支付、取消）
func (s *Store) GetOrderForUpdate(ctx context.Context, q DBTX, orderID int64) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	return s.scanOrder(q.QueryRowContext(ctx, query, orderID))
}

// GetOrderByIdempotencyKey 按幂等键获取订单
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, q DBTX, key string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`
	return s.scanOrder(q.QueryRowContext(ctx, query, key))
}

// UpdateOrderStatus 乐观锁更新订单状态
func (s *Store) UpdateOrderStatus(ctx context.Context, q DBTX, orderID int64, status string, version, nowMs int64) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at_ms = $2, version = version + 1
		WHERE id = $3 AND version = $4
	`
	result, err := q.ExecContext(ctx, query, status, nowMs, orderID, version)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ListOrderItems 获取订单明细
func (s *Store) ListOrderItems(ctx context.Context, q DBTX, orderID int64) ([]*OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, sku, name, unit_price, quantity, line_total
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`
	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	var items []*OrderItem
	for rows.Next() {
		item := &OrderItem{}
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.SKU, &item.Name,
			&item.UnitPrice, &item.Quantity, &item.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListCustomerOrders 客户订单分页，按创建时间倒序
func (s *Store) ListCustomerOrders(ctx context.Context, q DBTX, customerID int64, limit, offset int) ([]*Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at_ms DESC, id DESC
		LIMIT $2 OFFSET $3`
	rows, err := q.QueryContext(ctx, query, customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list customer orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o := &Order{}
		if err := s.scanOrderRow(rows, o); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CountCustomerOrders 客户订单总数
func (s *Store) CountCustomerOrders(ctx context.Context, q DBTX, customerID int64) (int64, error) {
	var count int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE customer_id = $1`, customerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count customer orders: %w", err)
	}
	return count, nil
}

// ListPaidOrdersSince 积分扫描：按 ID 升序分批取已支付订单
func (s *Store) ListPaidOrdersSince(ctx context.Context, q DBTX, sinceMs, afterID int64, limit int) ([]*Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1 AND updated_at_ms >= $2 AND id > $3
		ORDER BY id
		LIMIT $4`
	rows, err := q.QueryContext(ctx, query, OrderStatusPaid, sinceMs, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list paid orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o := &Order{}
		if err := s.scanOrderRow(rows, o); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanOrder(row rowScanner) (*Order, error) {
	o := &Order{}
	if err := s.scanOrderRow(row, o); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

func (s *Store) scanOrderRow(row rowScanner, o *Order) error {
	var idemKey sql.NullString
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Status, &idemKey, &o.Subtotal, &o.DiscountAmount, &o.Total,
		&o.CreatedAtMs, &o.UpdatedAtMs, &o.Version,
	)
	if err != nil {
		return err
	}
	o.IdempotencyKey = idemKey.String
	return nil
}
