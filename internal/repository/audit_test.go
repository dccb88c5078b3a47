package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestAppendAudit(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs("ORDER", int64(42), AuditOrderCreated, `{"total":"90.00"}`, int64(1000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.AppendAudit(context.Background(), store.DB(), &AuditLog{
		EntityType:  "ORDER",
		EntityID:    42,
		Operation:   AuditOrderCreated,
		Details:     `{"total":"90.00"}`,
		CreatedAtMs: 1000,
	})
	if err != nil {
		t.Fatalf("append audit: %v", err)
	}
}

func TestAppendAuditTruncatesOnRuneBoundary(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	long := strings.Repeat("汉", maxAuditDetails+10)

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs("ORDER", int64(7), AuditOrderCancelled, strings.Repeat("汉", maxAuditDetails), int64(3000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.AppendAudit(context.Background(), store.DB(), &AuditLog{
		EntityType:  "ORDER",
		EntityID:    7,
		Operation:   AuditOrderCancelled,
		Details:     long,
		CreatedAtMs: 3000,
	})
	if err != nil {
		t.Fatalf("append audit: %v", err)
	}
}

func TestAppendAuditTruncatesDetails(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	long := strings.Repeat("x", maxAuditDetails+500)

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs("ORDER", int64(1), AuditOrderCancelled, strings.Repeat("x", maxAuditDetails), int64(2000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.AppendAudit(context.Background(), store.DB(), &AuditLog{
		EntityType:  "ORDER",
		EntityID:    1,
		Operation:   AuditOrderCancelled,
		Details:     long,
		CreatedAtMs: 2000,
	})
	if err != nil {
		t.Fatalf("append audit: %v", err)
	}
}
