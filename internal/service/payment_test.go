package service

import (
	"context"
	"testing"

	"github.com/commerce/order/internal/client"
	"github.com/commerce/order/internal/repository"
	apperrors "github.com/commerce/order/pkg/errors"
)

func gatewayDown() *client.Error {
	return &client.Error{Status: 500, Message: "Internal Server Error", Retryable: true}
}

func cardDeclined() *client.Error {
	return &client.Error{Status: 402, Message: "Insufficient funds", Retryable: false}
}

func newPendingOrder(t *testing.T, store *memStore, svc *OrderService) *OrderView {
	t.Helper()
	store.addProduct("PAY", "Product Pay", "90.00", 100, true)
	return mustCreate(t, svc, &CreateOrderRequest{
		CustomerEmail:  "payer@x",
		Items:          []OrderItemRequest{{SKU: "PAY", Quantity: 1}},
		IdempotencyKey: "pay-key",
	})
}

func TestAuthorizePaymentRecoversAfterGatewayError(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{authResults: []error{gatewayDown(), nil}, authID: "auth-77"}
	svc, payments := newTestServices(store, gw)
	order := newPendingOrder(t, store, svc)

	view, err := payments.AuthorizePayment(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if view.Status != repository.PaymentStatusAuthorized {
		t.Fatalf("expected AUTHORIZED, got %s", view.Status)
	}
	if view.AuthorizationID != "auth-77" {
		t.Fatalf("expected auth-77, got %s", view.AuthorizationID)
	}
	// 一次可重试失败后成功：retry_attempts = 1
	if view.RetryAttempts != 1 {
		t.Fatalf("expected 1 retry, got %d", view.RetryAttempts)
	}
	if gw.authCalls != 2 {
		t.Fatalf("expected 2 gateway calls, got %d", gw.authCalls)
	}
	if store.orders[order.ID].Status != repository.OrderStatusPaid {
		t.Fatalf("expected PAID order, got %s", store.orders[order.ID].Status)
	}
	if store.auditCount(repository.AuditPaymentAuthorized) != 1 {
		t.Fatal("expected one PAYMENT_AUTHORIZED audit row")
	}
}

func TestAuthorizePaymentTerminalDecline(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{authResults: []error{cardDeclined()}}
	svc, payments := newTestServices(store, gw)
	order := newPendingOrder(t, store, svc)

	_, err := payments.AuthorizePayment(context.Background(), order.ID)
	e, ok := apperrors.As(err)
	if !ok || e.Code != apperrors.CodePaymentFailed {
		t.Fatalf("expected payment failed, got %v", err)
	}
	if !errContains(err, "Insufficient funds") {
		t.Fatalf("expected provider message, got %v", err)
	}
	// 终态拒绝不重试
	if gw.authCalls != 1 {
		t.Fatalf("expected 1 gateway call, got %d", gw.authCalls)
	}

	p := store.payments[order.ID]
	if p.Status != repository.PaymentStatusFailed {
		t.Fatalf("expected FAILED payment, got %s", p.Status)
	}
	if p.FailureReason != "Insufficient funds" {
		t.Fatalf("unexpected failure reason %q", p.FailureReason)
	}
	if p.RetryAttempts != 0 {
		t.Fatalf("expected 0 retries, got %d", p.RetryAttempts)
	}
	// 订单保持 PENDING，可重新发起支付
	if store.orders[order.ID].Status != repository.OrderStatusPending {
		t.Fatalf("expected PENDING order, got %s", store.orders[order.ID].Status)
	}
	if store.auditCount(repository.AuditPaymentAuthorized) != 0 {
		t.Fatal("no PAYMENT_AUTHORIZED audit on failure")
	}
}

func TestAuthorizePaymentExhaustsRetries(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{authResults: []error{gatewayDown(), gatewayDown()}}
	svc, payments := newTestServices(store, gw)
	order := newPendingOrder(t, store, svc)

	_, err := payments.AuthorizePayment(context.Background(), order.ID)
	e, ok := apperrors.As(err)
	if !ok || e.Code != apperrors.CodePaymentUnavailable {
		t.Fatalf("expected payment unavailable, got %v", err)
	}
	if gw.authCalls != 2 {
		t.Fatalf("expected 2 gateway calls, got %d", gw.authCalls)
	}

	p := store.payments[order.ID]
	if p.Status != repository.PaymentStatusFailed {
		t.Fatalf("expected FAILED payment, got %s", p.Status)
	}
	if p.RetryAttempts != 2 {
		t.Fatalf("expected 2 retries, got %d", p.RetryAttempts)
	}
	if store.orders[order.ID].Status != repository.OrderStatusPending {
		t.Fatalf("expected PENDING order, got %s", store.orders[order.ID].Status)
	}
}

func TestAuthorizePaymentRetryAfterTerminalFailure(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{authResults: []error{cardDeclined(), nil}, authID: "auth-2nd"}
	svc, payments := newTestServices(store, gw)
	order := newPendingOrder(t, store, svc)

	if _, err := payments.AuthorizePayment(context.Background(), order.ID); err == nil {
		t.Fatal("expected first attempt to fail")
	}

	// 失败后订单仍 PENDING，客户端可再次发起；支付行被覆盖为 AUTHORIZED
	view, err := payments.AuthorizePayment(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("second authorize: %v", err)
	}
	if view.Status != repository.PaymentStatusAuthorized || view.AuthorizationID != "auth-2nd" {
		t.Fatalf("unexpected view %+v", view)
	}
	if store.payments[order.ID].FailureReason != "" {
		t.Fatalf("failure reason must be cleared, got %q", store.payments[order.ID].FailureReason)
	}
}

func TestAuthorizePaymentConflictVoidsOrphanedHold(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{authID: "auth-orphan"}
	svc, payments := newTestServices(store, gw)
	order := newPendingOrder(t, store, svc)

	// 网关调用期间订单被并发取消，落库阶段检测到冲突
	gw.onAuthorize = func() {
		store.orders[order.ID].Status = repository.OrderStatusCancelled
	}

	_, err := payments.AuthorizePayment(context.Background(), order.ID)
	e, ok := apperrors.As(err)
	if !ok || e.Code != apperrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	// 已拿到的授权必须撤销，不能留下悬空冻结
	if gw.voidCalls != 1 {
		t.Fatalf("expected 1 void call, got %d", gw.voidCalls)
	}
	if store.payments[order.ID].Status != repository.PaymentStatusVoided {
		t.Fatalf("expected VOIDED payment, got %s", store.payments[order.ID].Status)
	}
	if store.orders[order.ID].Status != repository.OrderStatusCancelled {
		t.Fatalf("order status must be untouched, got %s", store.orders[order.ID].Status)
	}
}

func TestAuthorizePaymentConflictVoidFailureKeepsPending(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{authID: "auth-orphan", voidErr: gatewayDown()}
	svc, payments := newTestServices(store, gw)
	order := newPendingOrder(t, store, svc)

	gw.onAuthorize = func() {
		store.orders[order.ID].Status = repository.OrderStatusCancelled
	}

	_, err := payments.AuthorizePayment(context.Background(), order.ID)
	e, ok := apperrors.As(err)
	if !ok || e.Code != apperrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	// 撤销失败只记录，支付行保持 PENDING 等人工对账
	if store.payments[order.ID].Status != repository.PaymentStatusPending {
		t.Fatalf("expected PENDING payment, got %s", store.payments[order.ID].Status)
	}
}

func TestAuthorizePaymentOrderNotFound(t *testing.T) {
	store := newMemStore()
	_, payments := newTestServices(store, &fakeGateway{})

	_, err := payments.AuthorizePayment(context.Background(), 42)
	e, ok := apperrors.As(err)
	if !ok || e.Code != apperrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAuthorizePaymentWrongStatus(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{}
	svc, payments := newTestServices(store, gw)
	order := newPendingOrder(t, store, svc)

	if _, err := payments.AuthorizePayment(context.Background(), order.ID); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	// 已支付订单再次授权被拒，且不触网关
	calls := gw.authCalls
	_, err := payments.AuthorizePayment(context.Background(), order.ID)
	e, ok := apperrors.As(err)
	if !ok || e.Code != apperrors.CodeBusinessValidation {
		t.Fatalf("expected business validation, got %v", err)
	}
	if gw.authCalls != calls {
		t.Fatal("gateway must not be called for non-PENDING order")
	}
}

func TestVoidInTxWrongStatus(t *testing.T) {
	store := newMemStore()
	_, payments := newTestServices(store, &fakeGateway{})

	order := &repository.Order{ID: 1, Status: repository.OrderStatusPaid}
	payment := &repository.Payment{OrderID: 1, Status: repository.PaymentStatusFailed}

	err := payments.VoidInTx(context.Background(), nil, order, payment, 0)
	e, ok := apperrors.As(err)
	if !ok || e.Code != apperrors.CodeBusinessValidation {
		t.Fatalf("expected business validation, got %v", err)
	}
}
