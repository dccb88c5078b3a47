package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/commerce/order/internal/client"
	"github.com/commerce/order/internal/metrics"
	"github.com/commerce/order/internal/repository"
	apperrors "github.com/commerce/order/pkg/errors"
	"github.com/commerce/order/pkg/logger"
)

// Gateway 支付网关接口
type Gateway interface {
	Authorize(ctx context.Context, amount string) (string, error)
	Void(ctx context.Context, authorizationID string) error
}

// PaymentStore 支付数据接口
type PaymentStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error

	GetOrderForUpdate(ctx context.Context, q repository.DBTX, orderID int64) (*repository.Order, error)
	UpdateOrderStatus(ctx context.Context, q repository.DBTX, orderID int64, status string, version, nowMs int64) error

	UpsertPayment(ctx context.Context, q repository.DBTX, p *repository.Payment) error
	GetPaymentByOrder(ctx context.Context, q repository.DBTX, orderID int64) (*repository.Payment, error)
	MarkPaymentAuthorized(ctx context.Context, q repository.DBTX, orderID int64, authorizationID string, retryAttempts int, nowMs int64) error
	MarkPaymentFailed(ctx context.Context, q repository.DBTX, orderID int64, reason string, retryAttempts int, nowMs int64) error
	MarkPaymentVoided(ctx context.Context, q repository.DBTX, orderID int64, nowMs int64) error

	AppendAudit(ctx context.Context, q repository.DBTX, log *repository.AuditLog) error
}

// PaymentService 支付服务
type PaymentService struct {
	store   PaymentStore
	gateway Gateway
	retry   *RetryPolicy
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// NewPaymentService 创建支付服务
func NewPaymentService(store PaymentStore, gateway Gateway, retry *RetryPolicy, m *metrics.Metrics, log *logger.Logger) *PaymentService {
	return &PaymentService{
		store:   store,
		gateway: gateway,
		retry:   retry,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// IsRetryableGatewayError 网关 5xx、网络错误、超时可重试
func IsRetryableGatewayError(err error) bool {
	var gwErr *client.Error
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	return false
}

// AuthorizePayment 授权支付。网关调用在事务外进行，结果在新事务内落库。
func (s *PaymentService) AuthorizePayment(ctx context.Context, orderID int64) (*PaymentView, error) {
	nowMs := s.now().UnixMilli()

	// 第一阶段：校验状态，准备支付记录
	var order *repository.Order
	err := s.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		o, err := s.store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.Newf(apperrors.CodeNotFound, "Order not found: %d", orderID)
			}
			return err
		}
		if o.Status != repository.OrderStatusPending {
			return apperrors.Newf(apperrors.CodeBusinessValidation,
				"Order %d cannot be paid in status %s", orderID, o.Status)
		}
		order = o
		return s.store.UpsertPayment(ctx, tx, &repository.Payment{
			OrderID:     orderID,
			Status:      repository.PaymentStatusPending,
			Amount:      o.Total,
			CreatedAtMs: nowMs,
		})
	})
	if err != nil {
		return nil, err
	}

	// 第二阶段：带重试调用网关，不持有任何数据库锁
	var authorizationID string
	attempts, gwErr := s.retry.Do(ctx, func(ctx context.Context) error {
		id, err := s.gateway.Authorize(ctx, order.Total)
		if err != nil {
			return err
		}
		authorizationID = id
		return nil
	})
	retryAttempts := retryableFailures(attempts, gwErr)

	// 第三阶段：落库
	doneMs := s.now().UnixMilli()
	if gwErr != nil {
		reason := gwErr.Error()
		var ce *client.Error
		if errors.As(gwErr, &ce) {
			reason = ce.Message
		}
		if err := s.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return s.store.MarkPaymentFailed(ctx, tx, orderID, reason, retryAttempts, doneMs)
		}); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.IncPaymentAttempt("failed")
		}
		s.log.WithError(gwErr).Errorf("payment authorization failed", map[string]interface{}{
			"orderId":  orderID,
			"attempts": attempts,
		})
		if IsRetryableGatewayError(gwErr) {
			return nil, apperrors.New(apperrors.CodePaymentUnavailable,
				"Payment gateway is unavailable, please try again later")
		}
		return nil, apperrors.Newf(apperrors.CodePaymentFailed, "Payment failed: %s", reason)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		o, err := s.store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Status != repository.OrderStatusPending {
			return apperrors.Newf(apperrors.CodeConflict,
				"Order %d changed status during authorization", orderID)
		}
		if err := s.store.MarkPaymentAuthorized(ctx, tx, orderID, authorizationID, retryAttempts, doneMs); err != nil {
			return err
		}
		if err := s.store.UpdateOrderStatus(ctx, tx, orderID, repository.OrderStatusPaid, o.Version, doneMs); err != nil {
			return err
		}
		details, _ := json.Marshal(map[string]interface{}{
			"authorizationId": authorizationID,
			"amount":          o.Total,
			"retryAttempts":   retryAttempts,
		})
		return s.store.AppendAudit(ctx, tx, &repository.AuditLog{
			EntityType:  "ORDER",
			EntityID:    orderID,
			Operation:   repository.AuditPaymentAuthorized,
			Details:     string(details),
			CreatedAtMs: doneMs,
		})
	})
	if err != nil {
		// 订单在授权期间被改状态：网关侧已扣留的授权必须释放，否则资金冻结悬空
		if e, ok := apperrors.As(err); ok && e.Code == apperrors.CodeConflict {
			s.releaseOrphanedHold(context.WithoutCancel(ctx), orderID, authorizationID)
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncPaymentAttempt("authorized")
	}
	s.log.Infof("payment authorized", map[string]interface{}{
		"orderId":         orderID,
		"authorizationId": authorizationID,
		"retryAttempts":   retryAttempts,
	})
	return &PaymentView{
		Status:          repository.PaymentStatusAuthorized,
		Amount:          order.Total,
		AuthorizationID: authorizationID,
		RetryAttempts:   retryAttempts,
	}, nil
}

// releaseOrphanedHold 尽力撤销落库冲突后遗留的网关授权。失败只记录，不覆盖调用方错误。
func (s *PaymentService) releaseOrphanedHold(ctx context.Context, orderID int64, authorizationID string) {
	_, err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.gateway.Void(ctx, authorizationID)
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncPaymentAttempt("void_failed")
		}
		s.log.WithError(err).Errorf("void of orphaned authorization failed", map[string]interface{}{
			"orderId":         orderID,
			"authorizationId": authorizationID,
		})
		return
	}

	nowMs := s.now().UnixMilli()
	if err := s.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.store.MarkPaymentVoided(ctx, tx, orderID, nowMs)
	}); err != nil {
		s.log.WithError(err).Errorf("mark orphaned payment voided failed", map[string]interface{}{
			"orderId": orderID,
		})
		return
	}

	if s.metrics != nil {
		s.metrics.IncPaymentAttempt("voided")
	}
	s.log.Infof("orphaned authorization voided", map[string]interface{}{
		"orderId":         orderID,
		"authorizationId": authorizationID,
	})
}

// VoidInTx 在取消订单的事务内撤销授权。网关失败时返回错误使整个事务回滚。
func (s *PaymentService) VoidInTx(ctx context.Context, tx *sql.Tx, order *repository.Order, payment *repository.Payment, nowMs int64) error {
	if payment.Status != repository.PaymentStatusAuthorized {
		return apperrors.Newf(apperrors.CodeBusinessValidation,
			"Payment for order %d cannot be voided in status %s", order.ID, payment.Status)
	}

	_, err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.gateway.Void(ctx, payment.AuthorizationID)
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncPaymentAttempt("void_failed")
		}
		s.log.WithError(err).Errorf("payment void failed", map[string]interface{}{
			"orderId": order.ID,
		})
		return apperrors.New(apperrors.CodePaymentUnavailable,
			"Payment gateway rejected the void, cancellation aborted")
	}

	if err := s.store.MarkPaymentVoided(ctx, tx, order.ID, nowMs); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncPaymentAttempt("voided")
	}
	details, _ := json.Marshal(map[string]interface{}{
		"authorizationId": payment.AuthorizationID,
		"amount":          payment.Amount,
	})
	return s.store.AppendAudit(ctx, tx, &repository.AuditLog{
		EntityType:  "ORDER",
		EntityID:    order.ID,
		Operation:   repository.AuditPaymentVoided,
		Details:     string(details),
		CreatedAtMs: nowMs,
	})
}

// retryableFailures 统计可重试失败次数（retry_attempts 语义）
func retryableFailures(attempts int, finalErr error) int {
	if finalErr == nil {
		return attempts - 1
	}
	if IsRetryableGatewayError(finalErr) {
		return attempts
	}
	return attempts - 1
}
