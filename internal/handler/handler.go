// Package handler HTTP 接口
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/commerce/order/internal/service"
	apperrors "github.com/commerce/order/pkg/errors"
	"github.com/commerce/order/pkg/logger"
	"github.com/commerce/order/pkg/response"
)

// Handler 订单服务 HTTP 处理器
type Handler struct {
	orders         *service.OrderService
	payments       *service.PaymentService
	loyalty        *service.LoyaltyWorker
	manualLookback time.Duration
	log            *logger.Logger
}

// New 创建处理器
func New(orders *service.OrderService, payments *service.PaymentService, loyalty *service.LoyaltyWorker, manualLookback time.Duration, log *logger.Logger) *Handler {
	return &Handler{
		orders:         orders,
		payments:       payments,
		loyalty:        loyalty,
		manualLookback: manualLookback,
		log:            log,
	}
}

// Register 注册路由
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/orders", h.handleOrders)
	mux.HandleFunc("/api/orders/", h.handleOrderSubtree)
	mux.HandleFunc("/api/admin/loyalty/run", h.handleLoyaltyRun)
	mux.HandleFunc("/api/admin/products/", h.handleProducts)
}

type orderItemRequest struct {
	ProductSKU string `json:"productSku"`
	Quantity   int    `json:"quantity"`
}

type createOrderRequest struct {
	CustomerEmail string             `json:"customerEmail"`
	Items         []orderItemRequest `json:"items"`
}

type orderItemResponse struct {
	ProductSKU  string `json:"productSku"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	Subtotal    string `json:"subtotal"`
}

type paymentResponse struct {
	Status          string `json:"status"`
	Amount          string `json:"amount"`
	AuthorizationID string `json:"authorizationId,omitempty"`
	RetryAttempts   int    `json:"retryAttempts"`
	FailureReason   string `json:"failureReason,omitempty"`
}

type orderResponse struct {
	ID             int64               `json:"id"`
	CustomerEmail  string              `json:"customerEmail"`
	Status         string              `json:"status"`
	Subtotal       string              `json:"subtotal"`
	DiscountAmount string              `json:"discountAmount"`
	Total          string              `json:"total"`
	Items          []orderItemResponse `json:"items"`
	Payment        *paymentResponse    `json:"payment,omitempty"`
	CreatedAt      int64               `json:"createdAt"`
	UpdatedAt      int64               `json:"updatedAt"`
}

type pageResponse struct {
	Content       []*orderResponse `json:"content"`
	Page          int              `json:"page"`
	Size          int              `json:"size"`
	TotalElements int64            `json:"totalElements"`
	TotalPages    int              `json:"totalPages"`
	First         bool             `json:"first"`
	Last          bool             `json:"last"`
}

type productResponse struct {
	SKU           string `json:"sku"`
	Name          string `json:"name"`
	Price         string `json:"price"`
	StockQuantity int    `json:"stockQuantity"`
	Active        bool   `json:"active"`
}

type replenishRequest struct {
	Quantity int `json:"quantity"`
}

type loyaltyRunResponse struct {
	Scanned       int   `json:"scanned"`
	Accrued       int   `json:"accrued"`
	PointsAwarded int64 `json:"pointsAwarded"`
	Skipped       bool  `json:"skipped"`
}

func (h *Handler) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, r, apperrors.New(apperrors.CodeMalformed, "request body is not valid JSON"))
		return
	}

	items := make([]service.OrderItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, service.OrderItemRequest{SKU: item.ProductSKU, Quantity: item.Quantity})
	}

	result, err := h.orders.CreateOrder(r.Context(), &service.CreateOrderRequest{
		CustomerEmail:  req.CustomerEmail,
		Items:          items,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	// 幂等重放返回 200，新建返回 201
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	response.WriteJSON(w, status, toOrderResponse(result.Order))
}

func (h *Handler) handleOrderSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/orders/")

	if email, ok := strings.CutPrefix(rest, "customer/"); ok {
		h.listCustomerOrders(w, r, email)
		return
	}

	parts := strings.Split(strings.Trim(rest, "/"), "/")
	orderID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		response.WriteError(w, r, apperrors.New(apperrors.CodeMalformed, "order id must be numeric"))
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		view, err := h.orders.GetOrder(r.Context(), orderID)
		if err != nil {
			response.WriteError(w, r, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, toOrderResponse(view))

	case len(parts) == 2 && parts[1] == "authorize-payment":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		payment, err := h.payments.AuthorizePayment(r.Context(), orderID)
		if err != nil {
			response.WriteError(w, r, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, toPaymentResponse(payment))

	case len(parts) == 2 && parts[1] == "cancel":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		view, err := h.orders.CancelOrder(r.Context(), orderID)
		if err != nil {
			response.WriteError(w, r, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, toOrderResponse(view))

	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) listCustomerOrders(w http.ResponseWriter, r *http.Request, email string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	page, err := queryInt(r, "page", 0)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	size, err := queryInt(r, "size", 0)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	result, err := h.orders.ListCustomerOrders(r.Context(), email, page, size)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	content := make([]*orderResponse, 0, len(result.Content))
	for _, view := range result.Content {
		content = append(content, toOrderResponse(view))
	}
	response.WriteJSON(w, http.StatusOK, &pageResponse{
		Content:       content,
		Page:          result.Page,
		Size:          result.Size,
		TotalElements: result.TotalElements,
		TotalPages:    result.TotalPages,
		First:         result.Page == 0,
		Last:          result.Page >= result.TotalPages-1,
	})
}

func (h *Handler) handleLoyaltyRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := h.loyalty.Run(r.Context(), h.manualLookback)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, &loyaltyRunResponse{
		Scanned:       result.Scanned,
		Accrued:       result.Accrued,
		PointsAwarded: result.PointsAwarded,
		Skipped:       result.Skipped,
	})
}

func (h *Handler) handleProducts(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/admin/products/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "replenish" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// 请求体可省略，省略时使用默认补货量
	var req replenishRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.WriteError(w, r, apperrors.New(apperrors.CodeMalformed, "request body is not valid JSON"))
			return
		}
	}

	view, err := h.orders.ReplenishProduct(r.Context(), parts[0], req.Quantity)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, &productResponse{
		SKU:           view.SKU,
		Name:          view.Name,
		Price:         view.Price,
		StockQuantity: view.StockQuantity,
		Active:        view.Active,
	})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Newf(apperrors.CodeMalformed, "%s must be an integer", name)
	}
	return v, nil
}

func toOrderResponse(view *service.OrderView) *orderResponse {
	items := make([]orderItemResponse, 0, len(view.Items))
	for _, item := range view.Items {
		items = append(items, orderItemResponse{
			ProductSKU:  item.ProductSKU,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		})
	}
	resp := &orderResponse{
		ID:             view.ID,
		CustomerEmail:  view.CustomerEmail,
		Status:         view.Status,
		Subtotal:       view.Subtotal,
		DiscountAmount: view.DiscountAmount,
		Total:          view.Total,
		Items:          items,
		CreatedAt:      view.CreatedAtMs,
		UpdatedAt:      view.UpdatedAtMs,
	}
	if view.Payment != nil {
		resp.Payment = toPaymentResponse(view.Payment)
	}
	return resp
}

func toPaymentResponse(p *service.PaymentView) *paymentResponse {
	return &paymentResponse{
		Status:          p.Status,
		Amount:          p.Amount,
		AuthorizationID: p.AuthorizationID,
		RetryAttempts:   p.RetryAttempts,
		FailureReason:   p.FailureReason,
	}
}
