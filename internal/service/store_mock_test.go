package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/commerce/order/internal/repository"
)

// memStore is an in-memory Store stand-in. WithTx snapshots state and
// restores it when fn fails, mimicking a rollback.
type memStore struct {
	products  map[string]*repository.Product
	customers map[int64]*repository.Customer
	orders    map[int64]*repository.Order
	items     map[int64][]*repository.OrderItem
	payments  map[int64]*repository.Payment
	idem      map[string]*repository.IdempotencyRecord
	audits    []*repository.AuditLog
	nextID    int64

	failDecrement error
}

func newMemStore() *memStore {
	return &memStore{
		products:  map[string]*repository.Product{},
		customers: map[int64]*repository.Customer{},
		orders:    map[int64]*repository.Order{},
		items:     map[int64][]*repository.OrderItem{},
		payments:  map[int64]*repository.Payment{},
		idem:      map[string]*repository.IdempotencyRecord{},
	}
}

func (m *memStore) addProduct(sku, name, price string, stock int, active bool) *repository.Product {
	p := &repository.Product{
		ID: m.id(), SKU: sku, Name: name, Price: price,
		StockQuantity: stock, Active: active,
	}
	m.products[sku] = p
	return p
}

func (m *memStore) addCustomer(email string, points int64) *repository.Customer {
	c := &repository.Customer{ID: m.id(), Email: email, LoyaltyPoints: points}
	m.customers[c.ID] = c
	return c
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) snapshot() *memStore {
	s := newMemStore()
	s.nextID = m.nextID
	for k, v := range m.products {
		cp := *v
		s.products[k] = &cp
	}
	for k, v := range m.customers {
		cp := *v
		s.customers[k] = &cp
	}
	for k, v := range m.orders {
		cp := *v
		s.orders[k] = &cp
	}
	for k, v := range m.items {
		items := make([]*repository.OrderItem, len(v))
		for i, item := range v {
			cp := *item
			items[i] = &cp
		}
		s.items[k] = items
	}
	for k, v := range m.payments {
		cp := *v
		s.payments[k] = &cp
	}
	for k, v := range m.idem {
		cp := *v
		s.idem[k] = &cp
	}
	s.audits = append([]*repository.AuditLog(nil), m.audits...)
	return s
}

func (m *memStore) restore(s *memStore) {
	m.products = s.products
	m.customers = s.customers
	m.orders = s.orders
	m.items = s.items
	m.payments = s.payments
	m.idem = s.idem
	m.audits = s.audits
	m.nextID = s.nextID
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	snap := m.snapshot()
	if err := fn(ctx, nil); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) GetProductBySKU(ctx context.Context, q repository.DBTX, sku string) (*repository.Product, error) {
	p, ok := m.products[sku]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) DecrementStock(ctx context.Context, q repository.DBTX, productID int64, qty int, nowMs int64) error {
	if m.failDecrement != nil {
		return m.failDecrement
	}
	for _, p := range m.products {
		if p.ID == productID {
			if p.StockQuantity < qty {
				return repository.ErrInsufficientStock
			}
			p.StockQuantity -= qty
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memStore) IncrementStock(ctx context.Context, q repository.DBTX, productID int64, qty int, nowMs int64) error {
	for _, p := range m.products {
		if p.ID == productID {
			p.StockQuantity += qty
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memStore) FindOrCreateCustomer(ctx context.Context, q repository.DBTX, email, firstName, lastName string, nowMs int64) (*repository.Customer, error) {
	for _, c := range m.customers {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	c := &repository.Customer{ID: m.id(), Email: email, FirstName: firstName, LastName: lastName}
	m.customers[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *memStore) GetCustomer(ctx context.Context, q repository.DBTX, id int64) (*repository.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) GetCustomerByEmail(ctx context.Context, q repository.DBTX, email string) (*repository.Customer, error) {
	for _, c := range m.customers {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetCustomerForUpdate(ctx context.Context, q repository.DBTX, id int64) (*repository.Customer, error) {
	return m.GetCustomer(ctx, q, id)
}

func (m *memStore) AddLoyaltyPoints(ctx context.Context, q repository.DBTX, customerID, delta, nowMs int64) error {
	c, ok := m.customers[customerID]
	if !ok {
		return repository.ErrNotFound
	}
	c.LoyaltyPoints += delta
	return nil
}

func (m *memStore) InsertOrder(ctx context.Context, q repository.DBTX, order *repository.Order) error {
	if order.IdempotencyKey != "" {
		for _, o := range m.orders {
			if o.IdempotencyKey == order.IdempotencyKey {
				return repository.ErrDuplicateKey
			}
		}
	}
	order.ID = m.id()
	order.Version = 1
	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

func (m *memStore) InsertOrderItems(ctx context.Context, q repository.DBTX, orderID int64, items []*repository.OrderItem) error {
	for _, item := range items {
		item.ID = m.id()
		item.OrderID = orderID
		cp := *item
		m.items[orderID] = append(m.items[orderID], &cp)
	}
	return nil
}

func (m *memStore) GetOrder(ctx context.Context, q repository.DBTX, orderID int64) (*repository.Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetOrderForUpdate(ctx context.Context, q repository.DBTX, orderID int64) (*repository.Order, error) {
	return m.GetOrder(ctx, q, orderID)
}

func (m *memStore) GetOrderByIdempotencyKey(ctx context.Context, q repository.DBTX, key string) (*repository.Order, error) {
	for _, o := range m.orders {
		if o.IdempotencyKey == key {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) UpdateOrderStatus(ctx context.Context, q repository.DBTX, orderID int64, status string, version, nowMs int64) error {
	o, ok := m.orders[orderID]
	if !ok || o.Version != version {
		return repository.ErrVersionConflict
	}
	o.Status = status
	o.Version++
	o.UpdatedAtMs = nowMs
	return nil
}

func (m *memStore) ListOrderItems(ctx context.Context, q repository.DBTX, orderID int64) ([]*repository.OrderItem, error) {
	items := make([]*repository.OrderItem, 0, len(m.items[orderID]))
	for _, item := range m.items[orderID] {
		cp := *item
		items = append(items, &cp)
	}
	return items, nil
}

func (m *memStore) ListCustomerOrders(ctx context.Context, q repository.DBTX, customerID int64, limit, offset int) ([]*repository.Order, error) {
	var orders []*repository.Order
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			cp := *o
			orders = append(orders, &cp)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAtMs != orders[j].CreatedAtMs {
			return orders[i].CreatedAtMs > orders[j].CreatedAtMs
		}
		return orders[i].ID > orders[j].ID
	})
	if offset >= len(orders) {
		return nil, nil
	}
	orders = orders[offset:]
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (m *memStore) CountCustomerOrders(ctx context.Context, q repository.DBTX, customerID int64) (int64, error) {
	var count int64
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) ListPaidOrdersSince(ctx context.Context, q repository.DBTX, sinceMs, afterID int64, limit int) ([]*repository.Order, error) {
	var orders []*repository.Order
	for _, o := range m.orders {
		if o.Status == repository.OrderStatusPaid && o.UpdatedAtMs >= sinceMs && o.ID > afterID {
			cp := *o
			orders = append(orders, &cp)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (m *memStore) UpsertPayment(ctx context.Context, q repository.DBTX, p *repository.Payment) error {
	if existing, ok := m.payments[p.OrderID]; ok {
		p.ID = existing.ID
	} else {
		p.ID = m.id()
	}
	cp := *p
	m.payments[p.OrderID] = &cp
	return nil
}

func (m *memStore) GetPaymentByOrder(ctx context.Context, q repository.DBTX, orderID int64) (*repository.Payment, error) {
	p, ok := m.payments[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) MarkPaymentAuthorized(ctx context.Context, q repository.DBTX, orderID int64, authorizationID string, retryAttempts int, nowMs int64) error {
	p, ok := m.payments[orderID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = repository.PaymentStatusAuthorized
	p.AuthorizationID = authorizationID
	p.RetryAttempts = retryAttempts
	p.FailureReason = ""
	p.UpdatedAtMs = nowMs
	return nil
}

func (m *memStore) MarkPaymentFailed(ctx context.Context, q repository.DBTX, orderID int64, reason string, retryAttempts int, nowMs int64) error {
	p, ok := m.payments[orderID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = repository.PaymentStatusFailed
	p.FailureReason = reason
	p.RetryAttempts = retryAttempts
	p.UpdatedAtMs = nowMs
	return nil
}

func (m *memStore) MarkPaymentVoided(ctx context.Context, q repository.DBTX, orderID int64, nowMs int64) error {
	p, ok := m.payments[orderID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = repository.PaymentStatusVoided
	p.UpdatedAtMs = nowMs
	return nil
}

func (m *memStore) GetIdempotencyRecord(ctx context.Context, q repository.DBTX, key string) (*repository.IdempotencyRecord, error) {
	rec, ok := m.idem[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) InsertIdempotencyRecord(ctx context.Context, q repository.DBTX, rec *repository.IdempotencyRecord) error {
	if _, ok := m.idem[rec.Key]; ok {
		return repository.ErrDuplicateKey
	}
	cp := *rec
	m.idem[rec.Key] = &cp
	return nil
}

func (m *memStore) AppendAudit(ctx context.Context, q repository.DBTX, log *repository.AuditLog) error {
	cp := *log
	cp.ID = m.id()
	m.audits = append(m.audits, &cp)
	return nil
}

func (m *memStore) auditCount(operation string) int {
	count := 0
	for _, a := range m.audits {
		if a.Operation == operation {
			count++
		}
	}
	return count
}

// fakeGateway returns scripted authorize results in order.
type fakeGateway struct {
	authResults []error
	authID      string
	authCalls   int
	voidErr     error
	voidCalls   int
	onAuthorize func() // runs before each authorize result, to mutate state mid-flight
}

func (g *fakeGateway) Authorize(ctx context.Context, amount string) (string, error) {
	i := g.authCalls
	g.authCalls++
	if g.onAuthorize != nil {
		g.onAuthorize()
	}
	if i < len(g.authResults) && g.authResults[i] != nil {
		return "", g.authResults[i]
	}
	if g.authID == "" {
		return "auth-test", nil
	}
	return g.authID, nil
}

func (g *fakeGateway) Void(ctx context.Context, authorizationID string) error {
	g.voidCalls++
	return g.voidErr
}

// fakeLocker always grants unless held.
type fakeLocker struct {
	held     bool
	acquires int
	releases int
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.acquires++
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLocker) Release(ctx context.Context, key string) error {
	l.releases++
	l.held = false
	return nil
}

func errContains(err error, sub string) bool {
	return err != nil && strings.Contains(err.Error(), sub)
}
