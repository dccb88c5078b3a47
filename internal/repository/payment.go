package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PaymentStatus 支付状态
const (
	PaymentStatusPending    = "PENDING"
	PaymentStatusAuthorized = "AUTHORIZED"
	PaymentStatusFailed     = "FAILED"
	PaymentStatusVoided     = "VOIDED"
)

// Payment 支付记录，每个订单至多一条
type Payment struct {
	ID              int64
	OrderID         int64
	Status          string
	Amount          string // DECIMAL from DB
	AuthorizationID string
	RetryAttempts   int
	FailureReason   string
	CreatedAtMs     int64
	UpdatedAtMs     int64
}

// UpsertPayment 创建或重置支付记录
func (s *Store) UpsertPayment(ctx context.Context, q DBTX, p *Payment) error {
	query := `
		INSERT INTO payments
		(order_id, status, amount, authorization_id, retry_attempts, failure_reason, created_at_ms, updated_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (order_id) DO UPDATE
		SET status = EXCLUDED.status, amount = EXCLUDED.amount,
		    authorization_id = EXCLUDED.authorization_id,
		    retry_attempts = EXCLUDED.retry_attempts,
		    failure_reason = EXCLUDED.failure_reason,
		    updated_at_ms = EXCLUDED.updated_at_ms
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		p.OrderID, p.Status, p.Amount, nullString(p.AuthorizationID),
		p.RetryAttempts, nullString(p.FailureReason), p.CreatedAtMs,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("upsert payment: %w", err)
	}
	return nil
}

// GetPaymentByOrder 按订单查询支付记录
func (s *Store) GetPaymentByOrder(ctx context.Context, q DBTX, orderID int64) (*Payment, error) {
	query := `
		SELECT id, order_id, status, amount, authorization_id, retry_attempts, failure_reason,
		       created_at_ms, updated_at_ms
		FROM payments
		WHERE order_id = $1
	`
	p := &Payment{}
	var authID, reason sql.NullString
	err := q.QueryRowContext(ctx, query, orderID).Scan(
		&p.ID, &p.OrderID, &p.Status, &p.Amount, &authID, &p.RetryAttempts, &reason,
		&p.CreatedAtMs, &p.UpdatedAtMs,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	p.AuthorizationID = authID.String
	p.FailureReason = reason.String
	return p, nil
}

// MarkPaymentAuthorized 授权成功
func (s *Store) MarkPaymentAuthorized(ctx context.Context, q DBTX, orderID int64, authorizationID string, retryAttempts int, nowMs int64) error {
	query := `
		UPDATE payments
		SET status = $1, authorization_id = $2, retry_attempts = $3, failure_reason = NULL, updated_at_ms = $4
		WHERE order_id = $5
	`
	return s.execPaymentUpdate(ctx, q, query, PaymentStatusAuthorized, authorizationID, retryAttempts, nowMs, orderID)
}

// MarkPaymentFailed 授权失败
func (s *Store) MarkPaymentFailed(ctx context.Context, q DBTX, orderID int64, reason string, retryAttempts int, nowMs int64) error {
	query := `
		UPDATE payments
		SET status = $1, failure_reason = $2, retry_attempts = $3, updated_at_ms = $4
		WHERE order_id = $5
	`
	return s.execPaymentUpdate(ctx, q, query, PaymentStatusFailed, reason, retryAttempts, nowMs, orderID)
}

// MarkPaymentVoided 撤销授权
func (s *Store) MarkPaymentVoided(ctx context.Context, q DBTX, orderID int64, nowMs int64) error {
	query := `
		UPDATE payments
		SET status = $1, updated_at_ms = $2
		WHERE order_id = $3
	`
	result, err := q.ExecContext(ctx, query, PaymentStatusVoided, nowMs, orderID)
	if err != nil {
		return fmt.Errorf("mark payment voided: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) execPaymentUpdate(ctx context.Context, q DBTX, query string, args ...interface{}) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
