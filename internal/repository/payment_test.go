package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestUpsertPayment(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	p := &Payment{
		OrderID:     42,
		Status:      PaymentStatusPending,
		Amount:      "90.00",
		CreatedAtMs: 1000,
	}

	mock.ExpectQuery("INSERT INTO payments").
		WithArgs(p.OrderID, p.Status, p.Amount, sqlmock.AnyArg(), 0, sqlmock.AnyArg(), p.CreatedAtMs).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	if err := store.UpsertPayment(context.Background(), store.DB(), p); err != nil {
		t.Fatalf("upsert payment: %v", err)
	}
	if p.ID != 9 {
		t.Fatalf("expected id 9, got %d", p.ID)
	}
}

func TestGetPaymentByOrder(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	rows := sqlmock.NewRows([]string{
		"id", "order_id", "status", "amount", "authorization_id", "retry_attempts", "failure_reason",
		"created_at_ms", "updated_at_ms",
	}).AddRow(int64(9), int64(42), PaymentStatusAuthorized, "90.00", "auth-abc", 1, nil, int64(1000), int64(2000))

	mock.ExpectQuery("SELECT (.+) FROM payments").WithArgs(int64(42)).WillReturnRows(rows)

	p, err := store.GetPaymentByOrder(context.Background(), store.DB(), 42)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if p.AuthorizationID != "auth-abc" || p.RetryAttempts != 1 || p.FailureReason != "" {
		t.Fatalf("unexpected payment %+v", p)
	}
}

func TestMarkPaymentAuthorized(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectExec("UPDATE payments").
		WithArgs(PaymentStatusAuthorized, "auth-abc", 1, int64(2000), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkPaymentAuthorized(context.Background(), store.DB(), 42, "auth-abc", 1, 2000)
	if err != nil {
		t.Fatalf("mark authorized: %v", err)
	}
}

func TestMarkPaymentFailedNotFound(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectExec("UPDATE payments").
		WithArgs(PaymentStatusFailed, "card declined", 1, int64(2000), int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkPaymentFailed(context.Background(), store.DB(), 99, "card declined", 1, 2000)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkPaymentVoided(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectExec("UPDATE payments").
		WithArgs(PaymentStatusVoided, int64(3000), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.MarkPaymentVoided(context.Background(), store.DB(), 42, 3000); err != nil {
		t.Fatalf("mark voided: %v", err)
	}
}
