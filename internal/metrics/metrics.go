// Package metrics содержит метрики Prometheus для заказов, платежей и выводов средств.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics собирает счётчики домена. Нулевой указатель допустим: все методы становятся no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	ordersCreated   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	amountMismatch  prometheus.Counter
	credited        prometheus.Counter
	gatewayDuration *prometheus.HistogramVec
	withdrawals     *prometheus.CounterVec
	reconciled      *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New регистрирует метрики в reg. Если reg равен nil, возвращает пустой сборщик.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return &Metrics{}
	}

	m := &Metrics{
		gatherer: reg,
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digibite_orders_created_total",
			Help: "Orders created, by payment method.",
		}, []string{"method"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digibite_order_transitions_total",
			Help: "Applied order status transitions.",
		}, []string{"from", "to", "source"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digibite_webhooks_total",
			Help: "Payment gateway notifications, by outcome.",
		}, []string{"outcome"}),
		amountMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "digibite_webhook_amount_mismatch_total",
			Help: "Notifications whose gross amount differs from the order total.",
		}),
		credited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "digibite_tenant_credited_amount_total",
			Help: "Amount credited to tenant balances.",
		}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digibite_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digibite_withdrawals_total",
			Help: "Withdrawal requests, by resulting status.",
		}, []string{"status"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digibite_reconciled_orders_total",
			Help: "Orders checked by the payment reconciliation poller.",
		}, []string{"outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digibite_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}

	reg.MustRegister(
		m.ordersCreated, m.transitions, m.webhooks, m.amountMismatch, m.credited,
		m.gatewayDuration, m.withdrawals, m.reconciled, m.httpDuration,
	)
	return m
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// OrderCreated учитывает созданный заказ.
func (m *Metrics) OrderCreated(method string) {
	if m == nil || m.ordersCreated == nil {
		return
	}
	m.ordersCreated.WithLabelValues(normalizeLabel(method)).Inc()
}

// Transition учитывает смену статуса заказа. source указывает инициатора: webhook, manual, reconcile.
func (m *Metrics) Transition(from, to, source string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to), normalizeLabel(source)).Inc()
}

// Webhook учитывает обработанное уведомление шлюза.
func (m *Metrics) Webhook(outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// AmountMismatch учитывает уведомление с неверной суммой.
func (m *Metrics) AmountMismatch() {
	if m == nil || m.amountMismatch == nil {
		return
	}
	m.amountMismatch.Inc()
}

// Credited учитывает зачисление на баланс заведения.
func (m *Metrics) Credited(amount int64) {
	if m == nil || m.credited == nil || amount <= 0 {
		return
	}
	m.credited.Add(float64(amount))
}

// ObserveGateway записывает длительность вызова платёжного шлюза.
func (m *Metrics) ObserveGateway(operation string, err error, d time.Duration) {
	if m == nil || m.gatewayDuration == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.gatewayDuration.WithLabelValues(normalizeLabel(operation), outcome).Observe(d.Seconds())
}

// Withdrawal учитывает заявку на вывод в указанном статусе.
func (m *Metrics) Withdrawal(status string) {
	if m == nil || m.withdrawals == nil {
		return
	}
	m.withdrawals.WithLabelValues(normalizeLabel(status)).Inc()
}

// Reconciled учитывает заказ, проверенный сверкой.
func (m *Metrics) Reconciled(outcome string) {
	if m == nil || m.reconciled == nil {
		return
	}
	m.reconciled.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveHTTP записывает длительность HTTP-запроса.
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m == nil || m.httpDuration == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, normalizeLabel(route), strconv.Itoa(code)).Observe(d.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
