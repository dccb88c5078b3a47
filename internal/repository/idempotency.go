package repository

import (
	"context"
	"fmt"
)

// IdempotencyRecord 幂等记录，键由唯一约束保护
type IdempotencyRecord struct {
	Key            string
	OperationType  string
	ResultEntityID int64
	ResultData     string
	CreatedAtMs    int64
}

// InsertIdempotencyRecord 写入幂等记录，键冲突返回 ErrDuplicateKey
func (s *Store) InsertIdempotencyRecord(ctx context.Context, q DBTX, rec *IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_records (idempotency_key, operation_type, result_entity_id, result_data, created_at_ms)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := q.ExecContext(ctx, query, rec.Key, rec.OperationType, rec.ResultEntityID, nullString(rec.ResultData), rec.CreatedAtMs)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

// GetIdempotencyRecord 按键查询幂等记录
func (s *Store) GetIdempotencyRecord(ctx context.Context, q DBTX, key string) (*IdempotencyRecord, error) {
	query := `
		SELECT idempotency_key, operation_type, result_entity_id, COALESCE(result_data, ''), created_at_ms
		FROM idempotency_records
		WHERE idempotency_key = $1
	`
	rec := &IdempotencyRecord{}
	err := q.QueryRowContext(ctx, query, key).Scan(
		&rec.Key, &rec.OperationType, &rec.ResultEntityID, &rec.ResultData, &rec.CreatedAtMs,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return rec, nil
}
