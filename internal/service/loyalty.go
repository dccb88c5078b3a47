package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/commerce/order/internal/config"
	"github.com/commerce/order/internal/metrics"
	"github.com/commerce/order/internal/repository"
	"github.com/commerce/order/pkg/health"
	"github.com/commerce/order/pkg/logger"
	"github.com/commerce/order/pkg/money"
)

const (
	opLoyalty      = "LOYALTY"
	loyaltyLockKey = "loyalty:accrual:lock"
	loyaltyLockTTL = 10 * time.Minute
)

// LoyaltyStore 积分数据接口
type LoyaltyStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error

	ListPaidOrdersSince(ctx context.Context, q repository.DBTX, sinceMs, afterID int64, limit int) ([]*repository.Order, error)
	GetOrder(ctx context.Context, q repository.DBTX, orderID int64) (*repository.Order, error)
	GetCustomerForUpdate(ctx context.Context, q repository.DBTX, id int64) (*repository.Customer, error)
	AddLoyaltyPoints(ctx context.Context, q repository.DBTX, customerID, delta, nowMs int64) error
	GetIdempotencyRecord(ctx context.Context, q repository.DBTX, key string) (*repository.IdempotencyRecord, error)
	InsertIdempotencyRecord(ctx context.Context, q repository.DBTX, rec *repository.IdempotencyRecord) error
	AppendAudit(ctx context.Context, q repository.DBTX, log *repository.AuditLog) error
}

// LoyaltyWorker 积分发放后台任务
type LoyaltyWorker struct {
	store   LoyaltyStore
	locker  Locker
	cfg     config.LoyaltyConfig
	metrics *metrics.Metrics
	log     *logger.Logger
	Loop    *health.LoopMonitor
	now     func() time.Time
}

// NewLoyaltyWorker 创建积分任务
func NewLoyaltyWorker(store LoyaltyStore, locker Locker, cfg config.LoyaltyConfig, m *metrics.Metrics, log *logger.Logger) *LoyaltyWorker {
	return &LoyaltyWorker{
		store:   store,
		locker:  locker,
		cfg:     cfg,
		metrics: m,
		log:     log,
		Loop:    &health.LoopMonitor{},
		now:     time.Now,
	}
}

// RunResult 单次扫描结果
type RunResult struct {
	Scanned       int
	Accrued       int
	PointsAwarded int64
	Skipped       bool
}

// Run 扫描回看窗口内的已支付订单并发放积分。
// 同一时刻只允许一个实例执行；每个订单独立事务，单笔失败不影响批次。
func (w *LoyaltyWorker) Run(ctx context.Context, lookback time.Duration) (*RunResult, error) {
	acquired, err := w.locker.Acquire(ctx, loyaltyLockKey, loyaltyLockTTL)
	if err != nil {
		w.Loop.SetError(err)
		return nil, err
	}
	if !acquired {
		w.log.Info("loyalty run skipped, another instance holds the lock")
		return &RunResult{Skipped: true}, nil
	}
	defer func() {
		if err := w.locker.Release(context.WithoutCancel(ctx), loyaltyLockKey); err != nil {
			w.log.WithError(err).Error("release loyalty lock")
		}
	}()

	if lookback <= 0 {
		lookback = w.cfg.Lookback
	}
	sinceMs := w.now().Add(-lookback).UnixMilli()

	result := &RunResult{}
	var afterID int64
	for {
		var batch []*repository.Order
		err := w.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			orders, err := w.store.ListPaidOrdersSince(ctx, tx, sinceMs, afterID, w.cfg.BatchSize)
			if err != nil {
				return err
			}
			batch = orders
			return nil
		})
		if err != nil {
			w.Loop.SetError(err)
			return result, err
		}
		if len(batch) == 0 {
			break
		}

		for _, order := range batch {
			afterID = order.ID
			result.Scanned++

			delta, err := w.processOrder(ctx, order)
			if err != nil {
				w.Loop.SetError(err)
				w.log.WithError(err).Errorf("loyalty accrual failed", map[string]interface{}{
					"orderId": order.ID,
				})
				continue
			}
			if delta >= 0 {
				result.Accrued++
				result.PointsAwarded += delta
				if w.metrics != nil {
					w.metrics.IncLoyaltyProcessed()
					w.metrics.AddLoyaltyPoints(delta)
				}
			}
		}

		if len(batch) < w.cfg.BatchSize {
			break
		}
	}

	w.Loop.Tick()
	w.log.Infof("loyalty run finished", map[string]interface{}{
		"scanned": result.Scanned,
		"accrued": result.Accrued,
		"points":  result.PointsAwarded,
	})
	return result, nil
}

// processOrder 为单个订单发放积分。返回 -1 表示跳过（已处理或不符合条件）。
func (w *LoyaltyWorker) processOrder(ctx context.Context, order *repository.Order) (int64, error) {
	delta := int64(-1)
	err := w.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		key := loyaltyKey(order.ID)

		if _, err := w.store.GetIdempotencyRecord(ctx, tx, key); err == nil {
			return nil // 已处理
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		current, err := w.store.GetOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if current.Status != repository.OrderStatusPaid {
			return nil
		}

		total, err := money.Parse(current.Total)
		if err != nil {
			return fmt.Errorf("order %d total: %w", current.ID, err)
		}
		rawPoints := money.FloorInt(total.Mul(w.cfg.PointsPerDollar))
		if rawPoints <= 0 {
			return nil
		}

		customer, err := w.store.GetCustomerForUpdate(ctx, tx, current.CustomerID)
		if err != nil {
			return err
		}

		d := rawPoints
		if room := w.cfg.MaxPoints - customer.LoyaltyPoints; d > room {
			d = room
		}
		if d < 0 {
			d = 0
		}

		nowMs := w.now().UnixMilli()
		if d > 0 {
			if err := w.store.AddLoyaltyPoints(ctx, tx, customer.ID, d, nowMs); err != nil {
				return err
			}
		}

		if err := w.store.InsertIdempotencyRecord(ctx, tx, &repository.IdempotencyRecord{
			Key:            key,
			OperationType:  opLoyalty,
			ResultEntityID: customer.ID,
			ResultData:     fmt.Sprintf("%d", d),
			CreatedAtMs:    nowMs,
		}); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				return nil // 并发实例抢先处理
			}
			return err
		}

		if d > 0 {
			details, _ := json.Marshal(map[string]interface{}{
				"orderId":    current.ID,
				"delta":      d,
				"newBalance": customer.LoyaltyPoints + d,
				"cap":        w.cfg.MaxPoints,
			})
			if err := w.store.AppendAudit(ctx, tx, &repository.AuditLog{
				EntityType:  "CUSTOMER",
				EntityID:    customer.ID,
				Operation:   repository.AuditLoyaltyPointsAdded,
				Details:     string(details),
				CreatedAtMs: nowMs,
			}); err != nil {
				return err
			}
		}

		delta = d
		return nil
	})
	if err != nil {
		return -1, err
	}
	return delta, nil
}

func loyaltyKey(orderID int64) string {
	return fmt.Sprintf("LOYALTY_%d", orderID)
}
