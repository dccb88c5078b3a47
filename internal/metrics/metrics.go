package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus metrics for the order service.
type Metrics struct {
	registry      *prometheus.Registry
	orderCreated  prometheus.Counter
	orderRejected *prometheus.CounterVec
	orderLatency  prometheus.Histogram

	paymentAttempts *prometheus.CounterVec

	loyaltyProcessed prometheus.Counter
	loyaltyPoints    prometheus.Counter
}

// New creates a metrics registry and registers order metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	orderCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "order_created_total",
		Help: "Total number of created orders.",
	})

	orderRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_rejected_total",
		Help: "Total number of rejected order requests.",
	}, []string{"reason"})

	orderLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_create_latency_seconds",
		Help:    "Latency for order creation in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	paymentAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment authorization outcomes.",
	}, []string{"result"})

	loyaltyProcessed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_orders_processed_total",
		Help: "Total number of orders processed by the loyalty worker.",
	})

	loyaltyPoints := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_awarded_total",
		Help: "Total number of loyalty points awarded.",
	})

	registry.MustRegister(orderCreated, orderRejected, orderLatency, paymentAttempts, loyaltyProcessed, loyaltyPoints)

	return &Metrics{
		registry:         registry,
		orderCreated:     orderCreated,
		orderRejected:    orderRejected,
		orderLatency:     orderLatency,
		paymentAttempts:  paymentAttempts,
		loyaltyProcessed: loyaltyProcessed,
		loyaltyPoints:    loyaltyPoints,
	}
}

// Handler exposes the metrics registry via HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncOrderCreated increments the created order counter.
func (m *Metrics) IncOrderCreated() {
	m.orderCreated.Inc()
}

// IncOrderRejected increments the rejected order counter.
func (m *Metrics) IncOrderRejected(reason string) {
	m.orderRejected.WithLabelValues(reason).Inc()
}

// ObserveOrderLatency records order creation latency.
func (m *Metrics) ObserveOrderLatency(d time.Duration) {
	m.orderLatency.Observe(d.Seconds())
}

// IncPaymentAttempt increments the payment outcome counter.
func (m *Metrics) IncPaymentAttempt(result string) {
	m.paymentAttempts.WithLabelValues(result).Inc()
}

// IncLoyaltyProcessed increments the loyalty processed counter.
func (m *Metrics) IncLoyaltyProcessed() {
	m.loyaltyProcessed.Inc()
}

// AddLoyaltyPoints adds awarded points to the loyalty counter.
func (m *Metrics) AddLoyaltyPoints(points int64) {
	if points <= 0 {
		return
	}
	m.loyaltyPoints.Add(float64(points))
}
