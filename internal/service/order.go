package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/commerce/order/internal/metrics"
	"github.com/commerce/order/internal/repository"
	apperrors "github.com/commerce/order/pkg/errors"
	"github.com/commerce/order/pkg/logger"
	"github.com/commerce/order/pkg/money"
)

// OrderStore 订单数据接口
type OrderStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error

	GetProductBySKU(ctx context.Context, q repository.DBTX, sku string) (*repository.Product, error)
	DecrementStock(ctx context.Context, q repository.DBTX, productID int64, qty int, nowMs int64) error
	IncrementStock(ctx context.Context, q repository.DBTX, productID int64, qty int, nowMs int64) error

	FindOrCreateCustomer(ctx context.Context, q repository.DBTX, email, firstName, lastName string, nowMs int64) (*repository.Customer, error)
	GetCustomer(ctx context.Context, q repository.DBTX, id int64) (*repository.Customer, error)
	GetCustomerByEmail(ctx context.Context, q repository.DBTX, email string) (*repository.Customer, error)

	InsertOrder(ctx context.Context, q repository.DBTX, order *repository.Order) error
	InsertOrderItems(ctx context.Context, q repository.DBTX, orderID int64, items []*repository.OrderItem) error
	GetOrder(ctx context.Context, q repository.DBTX, orderID int64) (*repository.Order, error)
	GetOrderForUpdate(ctx context.Context, q repository.DBTX, orderID int64) (*repository.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, q repository.DBTX, key string) (*repository.Order, error)
	UpdateOrderStatus(ctx context.Context, q repository.DBTX, orderID int64, status string, version, nowMs int64) error
	ListOrderItems(ctx context.Context, q repository.DBTX, orderID int64) ([]*repository.OrderItem, error)
	ListCustomerOrders(ctx context.Context, q repository.DBTX, customerID int64, limit, offset int) ([]*repository.Order, error)
	CountCustomerOrders(ctx context.Context, q repository.DBTX, customerID int64) (int64, error)

	GetPaymentByOrder(ctx context.Context, q repository.DBTX, orderID int64) (*repository.Payment, error)
	GetIdempotencyRecord(ctx context.Context, q repository.DBTX, key string) (*repository.IdempotencyRecord, error)
	InsertIdempotencyRecord(ctx context.Context, q repository.DBTX, rec *repository.IdempotencyRecord) error
	AppendAudit(ctx context.Context, q repository.DBTX, log *repository.AuditLog) error
}

// OrderService 订单服务
type OrderService struct {
	store      OrderStore
	discounts  *DiscountCalculator
	payments   *PaymentService
	metrics    *metrics.Metrics
	log        *logger.Logger
	requireKey bool
	restockQty int
	now        func() time.Time
}

// NewOrderService 创建订单服务
func NewOrderService(store OrderStore, discounts *DiscountCalculator, payments *PaymentService, m *metrics.Metrics, log *logger.Logger, requireKey bool, restockQty int) *OrderService {
	return &OrderService{
		store:      store,
		discounts:  discounts,
		payments:   payments,
		metrics:    m,
		log:        log,
		requireKey: requireKey,
		restockQty: restockQty,
		now:        time.Now,
	}
}

const (
	opOrderCreate = "ORDER_CREATE"

	maxIdempotencyKeyLen = 100
	defaultPageSize      = 10
	maxPageSize          = 100
)

// OrderItemRequest 下单明细
type OrderItemRequest struct {
	SKU      string
	Quantity int
}

// CreateOrderRequest 下单请求
type CreateOrderRequest struct {
	CustomerEmail  string
	Items          []OrderItemRequest
	IdempotencyKey string
}

// OrderItemView 订单明细视图
type OrderItemView struct {
	ProductSKU  string
	ProductName string
	Quantity    int
	UnitPrice   string
	Subtotal    string
}

// PaymentView 支付快照
type PaymentView struct {
	Status          string
	Amount          string
	AuthorizationID string
	RetryAttempts   int
	FailureReason   string
}

// OrderView 订单视图
type OrderView struct {
	ID             int64
	CustomerEmail  string
	Status         string
	Subtotal       string
	DiscountAmount string
	Total          string
	Items          []OrderItemView
	Payment        *PaymentView
	CreatedAtMs    int64
	UpdatedAtMs    int64
}

// CreateOrderResult 下单结果，Replayed 表示幂等命中
type CreateOrderResult struct {
	Order    *OrderView
	Replayed bool
}

// OrderPage 分页结果
type OrderPage struct {
	Content       []*OrderView
	Page          int
	Size          int
	TotalElements int64
	TotalPages    int
}

// CreateOrder 下单：校验、扣库存、计折扣、落单，全程单事务
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResult, error) {
	start := s.now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOrderLatency(time.Since(start))
		}
	}()

	if err := s.validateCreateRequest(req); err != nil {
		s.incRejected("VALIDATION")
		return nil, err
	}

	// 幂等快路径：键已存在直接返回原订单
	if req.IdempotencyKey != "" {
		if existing, err := s.replayOrder(ctx, req.IdempotencyKey); err != nil {
			return nil, err
		} else if existing != nil {
			return &CreateOrderResult{Order: existing, Replayed: true}, nil
		}
	}

	nowMs := s.now().UnixMilli()
	var created *repository.Order
	var createdItems []*repository.OrderItem

	err := s.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		customer, err := s.store.FindOrCreateCustomer(ctx, tx,
			req.CustomerEmail, firstNameFromEmail(req.CustomerEmail), "Customer", nowMs)
		if err != nil {
			return err
		}

		subtotal := decimal.Zero
		items := make([]*repository.OrderItem, 0, len(req.Items))
		for _, line := range req.Items {
			product, err := s.store.GetProductBySKU(ctx, tx, line.SKU)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return apperrors.Newf(apperrors.CodeNotFound, "Product not found: %s", line.SKU)
				}
				return err
			}
			if !product.Active {
				return apperrors.Newf(apperrors.CodeBusinessValidation, "Product %s is not available", product.SKU)
			}
			if product.StockQuantity < line.Quantity {
				return apperrors.Newf(apperrors.CodeBusinessValidation,
					"Insufficient stock for product %s. Available: %d, Requested: %d",
					product.SKU, product.StockQuantity, line.Quantity)
			}

			unitPrice, err := money.Parse(product.Price)
			if err != nil {
				return fmt.Errorf("product %s price: %w", product.SKU, err)
			}
			lineTotal := money.Round2(unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
			subtotal = subtotal.Add(lineTotal)

			if err := s.store.DecrementStock(ctx, tx, product.ID, line.Quantity, nowMs); err != nil {
				if errors.Is(err, repository.ErrInsufficientStock) {
					return apperrors.Newf(apperrors.CodeBusinessValidation,
						"Insufficient stock for product %s. Available: %d, Requested: %d",
						product.SKU, product.StockQuantity, line.Quantity)
				}
				return err
			}

			items = append(items, &repository.OrderItem{
				ProductID: product.ID,
				SKU:       product.SKU,
				Name:      product.Name,
				UnitPrice: money.Format(unitPrice),
				Quantity:  line.Quantity,
				LineTotal: money.Format(lineTotal),
			})
		}

		subtotal = money.Round2(subtotal)
		discount := s.discounts.Discount(subtotal)
		total := subtotal.Sub(discount)
		if total.LessThan(money.MinTotal) {
			return apperrors.Newf(apperrors.CodeBusinessValidation,
				"Order total must be at least %s", money.Format(money.MinTotal))
		}

		order := &repository.Order{
			CustomerID:     customer.ID,
			Status:         repository.OrderStatusPending,
			IdempotencyKey: req.IdempotencyKey,
			Subtotal:       money.Format(subtotal),
			DiscountAmount: money.Format(discount),
			Total:          money.Format(total),
			CreatedAtMs:    nowMs,
			UpdatedAtMs:    nowMs,
		}
		if err := s.store.InsertOrder(ctx, tx, order); err != nil {
			return err
		}
		if err := s.store.InsertOrderItems(ctx, tx, order.ID, items); err != nil {
			return err
		}

		if req.IdempotencyKey != "" {
			err := s.store.InsertIdempotencyRecord(ctx, tx, &repository.IdempotencyRecord{
				Key:            req.IdempotencyKey,
				OperationType:  opOrderCreate,
				ResultEntityID: order.ID,
				ResultData:     fmt.Sprintf("%d", order.ID),
				CreatedAtMs:    nowMs,
			})
			if err != nil {
				return err
			}
		}

		details, _ := json.Marshal(map[string]interface{}{
			"customerId": customer.ID,
			"subtotal":   order.Subtotal,
			"discount":   order.DiscountAmount,
			"total":      order.Total,
			"items":      len(items),
		})
		if err := s.store.AppendAudit(ctx, tx, &repository.AuditLog{
			EntityType:  "ORDER",
			EntityID:    order.ID,
			Operation:   repository.AuditOrderCreated,
			Details:     string(details),
			CreatedAtMs: nowMs,
		}); err != nil {
			return err
		}

		created = order
		createdItems = items
		return nil
	})
	if err != nil {
		// 并发创建撞到同一个幂等键：回读对方写入的订单
		if errors.Is(err, repository.ErrDuplicateKey) && req.IdempotencyKey != "" {
			existing, replayErr := s.replayOrder(ctx, req.IdempotencyKey)
			if replayErr != nil {
				return nil, replayErr
			}
			if existing != nil {
				return &CreateOrderResult{Order: existing, Replayed: true}, nil
			}
			return nil, apperrors.New(apperrors.CodeConflict, "idempotency key already used by another operation")
		}
		if e, ok := apperrors.As(err); ok {
			s.incRejected(string(e.Code))
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncOrderCreated()
	}
	s.log.Infof("order created", map[string]interface{}{
		"orderId": created.ID,
		"total":   created.Total,
	})

	view := s.buildOrderView(created, createdItems, req.CustomerEmail, nil)
	return &CreateOrderResult{Order: view}, nil
}

func (s *OrderService) validateCreateRequest(req *CreateOrderRequest) error {
	if req == nil {
		return apperrors.New(apperrors.CodeValidation, "request body is required")
	}
	email := strings.TrimSpace(req.CustomerEmail)
	if email == "" || len(email) > 254 || strings.ContainsAny(email, " \t\r\n") {
		return apperrors.New(apperrors.CodeValidation, "customerEmail must be a valid email address")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return apperrors.New(apperrors.CodeValidation, "customerEmail must be a valid email address")
	}
	if len(req.Items) == 0 {
		return apperrors.New(apperrors.CodeValidation, "items must not be empty")
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.SKU) == "" {
			return apperrors.Newf(apperrors.CodeValidation, "items[%d].productSku is required", i)
		}
		if item.Quantity < 1 {
			return apperrors.Newf(apperrors.CodeValidation, "items[%d].quantity must be at least 1", i)
		}
	}
	if s.requireKey && req.IdempotencyKey == "" {
		return apperrors.New(apperrors.CodeValidation, "Idempotency-Key header is required")
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return apperrors.Newf(apperrors.CodeValidation, "Idempotency-Key must be at most %d characters", maxIdempotencyKeyLen)
	}
	return nil
}

// replayOrder 返回幂等键对应的已有订单，未命中返回 nil
func (s *OrderService) replayOrder(ctx context.Context, key string) (*OrderView, error) {
	var rec *repository.IdempotencyRecord
	err := s.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		r, err := s.store.GetIdempotencyRecord(ctx, tx, key)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	if rec.OperationType != opOrderCreate {
		return nil, apperrors.New(apperrors.CodeConflict, "idempotency key already used by another operation")
	}
	return s.loadOrderView(ctx, rec.ResultEntityID)
}

// GetOrder 获取订单详情
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*OrderView, error) {
	view, err := s.loadOrderView(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "Order not found: %d", orderID)
	}
	return view, nil
}

func (s *OrderService) loadOrderView(ctx context.Context, orderID int64) (*OrderView, error) {
	var view *OrderView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		order, err := s.store.GetOrder(ctx, tx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		items, err := s.store.ListOrderItems(ctx, tx, orderID)
		if err != nil {
			return err
		}
		customer, err := s.store.GetCustomer(ctx, tx, order.CustomerID)
		if err != nil {
			return err
		}
		var payment *PaymentView
		if p, err := s.store.GetPaymentByOrder(ctx, tx, orderID); err == nil {
			payment = &PaymentView{
				Status:          p.Status,
				Amount:          p.Amount,
				AuthorizationID: p.AuthorizationID,
				RetryAttempts:   p.RetryAttempts,
				FailureReason:   p.FailureReason,
			}
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		view = s.buildOrderView(order, items, customer.Email, payment)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ListCustomerOrders 客户订单分页，未知客户返回空页
func (s *OrderService) ListCustomerOrders(ctx context.Context, email string, page, size int) (*OrderPage, error) {
	if page < 0 {
		return nil, apperrors.New(apperrors.CodeMalformed, "page must not be negative")
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		return nil, apperrors.Newf(apperrors.CodeMalformed, "size must be at most %d", maxPageSize)
	}

	result := &OrderPage{Content: []*OrderView{}, Page: page, Size: size}

	err := s.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		customer, err := s.store.GetCustomerByEmail(ctx, tx, email)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}

		total, err := s.store.CountCustomerOrders(ctx, tx, customer.ID)
		if err != nil {
			return err
		}
		orders, err := s.store.ListCustomerOrders(ctx, tx, customer.ID, size, page*size)
		if err != nil {
			return err
		}

		for _, order := range orders {
			items, err := s.store.ListOrderItems(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			result.Content = append(result.Content, s.buildOrderView(order, items, customer.Email, nil))
		}
		result.TotalElements = total
		result.TotalPages = int((total + int64(size) - 1) / int64(size))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelOrder 取消订单：回补库存、撤销授权、置为 CANCELLED，单事务补偿
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64) (*OrderView, error) {
	nowMs := s.now().UnixMilli()

	err := s.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		order, err := s.store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.Newf(apperrors.CodeNotFound, "Order not found: %d", orderID)
			}
			return err
		}
		if order.Status != repository.OrderStatusPending && order.Status != repository.OrderStatusPaid {
			return apperrors.Newf(apperrors.CodeBusinessValidation,
				"Order %d cannot be cancelled in status %s", orderID, order.Status)
		}

		items, err := s.store.ListOrderItems(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := s.store.IncrementStock(ctx, tx, item.ProductID, item.Quantity, nowMs); err != nil {
				return err
			}
		}

		// 已授权的支付必须同事务撤销；网关失败则整体回滚
		payment, err := s.store.GetPaymentByOrder(ctx, tx, orderID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if payment != nil && payment.Status == repository.PaymentStatusAuthorized {
			if err := s.payments.VoidInTx(ctx, tx, order, payment, nowMs); err != nil {
				return err
			}
		}

		if err := s.store.UpdateOrderStatus(ctx, tx, orderID, repository.OrderStatusCancelled, order.Version, nowMs); err != nil {
			return err
		}

		details, _ := json.Marshal(map[string]interface{}{
			"previousStatus": order.Status,
			"itemsRestocked": len(items),
		})
		return s.store.AppendAudit(ctx, tx, &repository.AuditLog{
			EntityType:  "ORDER",
			EntityID:    orderID,
			Operation:   repository.AuditOrderCancelled,
			Details:     string(details),
			CreatedAtMs: nowMs,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("order cancelled", map[string]interface{}{"orderId": orderID})
	return s.GetOrder(ctx, orderID)
}

// ProductView 商品视图（补货接口）
type ProductView struct {
	SKU           string
	Name          string
	Price         string
	StockQuantity int
	Active        bool
}

// ReplenishProduct 人工补货，qty<=0 时使用默认补货量
func (s *OrderService) ReplenishProduct(ctx context.Context, sku string, qty int) (*ProductView, error) {
	if strings.TrimSpace(sku) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "sku is required")
	}
	if qty < 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "quantity must not be negative")
	}
	if qty == 0 {
		qty = s.restockQty
	}

	nowMs := s.now().UnixMilli()
	var view *ProductView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		product, err := s.store.GetProductBySKU(ctx, tx, sku)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.Newf(apperrors.CodeNotFound, "Product not found: %s", sku)
			}
			return err
		}
		if err := s.store.IncrementStock(ctx, tx, product.ID, qty, nowMs); err != nil {
			return err
		}

		details, _ := json.Marshal(map[string]interface{}{
			"sku":      product.SKU,
			"quantity": qty,
			"newStock": product.StockQuantity + qty,
		})
		if err := s.store.AppendAudit(ctx, tx, &repository.AuditLog{
			EntityType:  "PRODUCT",
			EntityID:    product.ID,
			Operation:   repository.AuditInventoryRestocked,
			Details:     string(details),
			CreatedAtMs: nowMs,
		}); err != nil {
			return err
		}

		view = &ProductView{
			SKU:           product.SKU,
			Name:          product.Name,
			Price:         product.Price,
			StockQuantity: product.StockQuantity + qty,
			Active:        product.Active,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *OrderService) buildOrderView(order *repository.Order, items []*repository.OrderItem, email string, payment *PaymentView) *OrderView {
	views := make([]OrderItemView, 0, len(items))
	for _, item := range items {
		views = append(views, OrderItemView{
			ProductSKU:  item.SKU,
			ProductName: item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.LineTotal,
		})
	}
	return &OrderView{
		ID:             order.ID,
		CustomerEmail:  email,
		Status:         order.Status,
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		Total:          order.Total,
		Items:          views,
		Payment:        payment,
		CreatedAtMs:    order.CreatedAtMs,
		UpdatedAtMs:    order.UpdatedAtMs,
	}
}

func (s *OrderService) incRejected(reason string) {
	if s.metrics != nil {
		s.metrics.IncOrderRejected(reason)
	}
}

// firstNameFromEmail 取邮箱本地部分的字母作为名
func firstNameFromEmail(email string) string {
	local := email
	if i := strings.Index(email, "@"); i >= 0 {
		local = email[:i]
	}
	var b strings.Builder
	for _, r := range local {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "Guest"
	}
	return b.String()
}
