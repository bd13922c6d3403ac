// Package metrics provides Prometheus metrics for the billing service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing, which keeps services usable without a registry.
type Metrics struct {
	BillsOpened          prometheus.Counter
	BillsFinalized       prometheus.Counter
	BillsCancelled       prometheus.Counter
	PaymentsRecorded     *prometheus.CounterVec
	PaymentAmount        *prometheus.CounterVec
	ClaimTransitions     *prometheus.CounterVec
	PreAuthDecisions     *prometheus.CounterVec
	TxRetries            prometheus.Counter
	NotificationsSent    *prometheus.CounterVec
	NotificationsDropped prometheus.Counter
	NotifyQueueDepth     prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
	RequestDuration      *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates all metrics and registers them on a fresh registry together
// with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers on reg and serves from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		BillsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_bills_opened_total",
			Help: "Bills created in draft",
		}),
		BillsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_bills_finalized_total",
			Help: "Bills finalized",
		}),
		BillsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_bills_cancelled_total",
			Help: "Bills cancelled",
		}),
		PaymentsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_payments_total",
			Help: "Payments applied to bills by mode",
		}, []string{"mode"}),
		PaymentAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_payment_amount_total",
			Help: "Sum of payment amounts by mode",
		}, []string{"mode"}),
		ClaimTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_claim_transitions_total",
			Help: "Claims entering each status",
		}, []string{"status"}),
		PreAuthDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_preauth_decisions_total",
			Help: "Pre-authorization decisions by outcome",
		}, []string{"status"}),
		TxRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_tx_retries_total",
			Help: "Transactions retried after a concurrent modification",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_notifications_total",
			Help: "Notification deliveries by sink and result",
		}, []string{"sink", "result"}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_notifications_dropped_total",
			Help: "Notifications dropped because the queue was full",
		}),
		NotifyQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "billing_notification_queue_depth",
			Help: "Notifications waiting for delivery",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route", "status"}),
		gatherer: g,
	}

	reg.MustRegister(
		m.BillsOpened,
		m.BillsFinalized,
		m.BillsCancelled,
		m.PaymentsRecorded,
		m.PaymentAmount,
		m.ClaimTransitions,
		m.PreAuthDecisions,
		m.TxRetries,
		m.NotificationsSent,
		m.NotificationsDropped,
		m.NotifyQueueDepth,
		m.CircuitBreakerState,
		m.RequestDuration,
	)
	return m
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) BillOpened() {
	if m != nil {
		m.BillsOpened.Inc()
	}
}

func (m *Metrics) BillFinalized() {
	if m != nil {
		m.BillsFinalized.Inc()
	}
}

func (m *Metrics) BillCancelled() {
	if m != nil {
		m.BillsCancelled.Inc()
	}
}

func (m *Metrics) PaymentRecorded(mode string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.PaymentsRecorded.WithLabelValues(mode).Inc()
	m.PaymentAmount.WithLabelValues(mode).Add(amount.InexactFloat64())
}

func (m *Metrics) ClaimTransition(status string) {
	if m != nil {
		m.ClaimTransitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) PreAuthDecided(status string) {
	if m != nil {
		m.PreAuthDecisions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) TxRetried() {
	if m != nil {
		m.TxRetries.Inc()
	}
}

func (m *Metrics) NotificationDelivered(sink string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.NotificationsSent.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) NotificationDropped() {
	if m != nil {
		m.NotificationsDropped.Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.NotifyQueueDepth.Set(float64(n))
	}
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m != nil {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	}
}

// Middleware observes request latency labelled by the matched route so
// that path parameters do not explode cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			m.RequestDuration.
				WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}
