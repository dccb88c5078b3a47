package repository

import (
	"context"
	"fmt"
)

// 审计操作类型
const (
	AuditOrderCreated       = "ORDER_CREATED"
	AuditOrderCancelled     = "ORDER_CANCELLED"
	AuditPaymentAuthorized  = "PAYMENT_AUTHORIZED"
	AuditPaymentVoided      = "PAYMENT_VOIDED"
	AuditInventoryRestocked = "INVENTORY_REPLENISHMENT"
	AuditLoyaltyPointsAdded = "LOYALTY_POINTS_ADDED"
)

// maxAuditDetails 审计详情截断长度（字符数，按 rune 截断避免切开多字节字符）
const maxAuditDetails = 1000

// AuditLog 审计日志，与业务变更同事务写入
type AuditLog struct {
	ID          int64
	EntityType  string
	EntityID    int64
	Operation   string
	Details     string
	CreatedAtMs int64
}

// AppendAudit 追加审计日志，详情超长时截断
func (s *Store) AppendAudit(ctx context.Context, q DBTX, log *AuditLog) error {
	details := log.Details
	if r := []rune(details); len(r) > maxAuditDetails {
		details = string(r[:maxAuditDetails])
	}
	query := `
		INSERT INTO audit_logs (entity_type, entity_id, operation, details, created_at_ms)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := q.ExecContext(ctx, query, log.EntityType, log.EntityID, log.Operation, details, log.CreatedAtMs)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// ListAuditByEntity 查询实体审计轨迹
func (s *Store) ListAuditByEntity(ctx context.Context, q DBTX, entityType string, entityID int64) ([]*AuditLog, error) {
	query := `
		SELECT id, entity_type, entity_id, operation, details, created_at_ms
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY id
	`
	rows, err := q.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*AuditLog
	for rows.Next() {
		l := &AuditLog{}
		if err := rows.Scan(&l.ID, &l.EntityType, &l.EntityID, &l.Operation, &l.Details, &l.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
