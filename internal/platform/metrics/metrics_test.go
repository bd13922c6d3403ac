package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func newTestMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.BillOpened()
	m.BillFinalized()
	m.BillCancelled()
	m.PaymentRecorded("cash", decimal.NewFromInt(10))
	m.ClaimTransition("settled")
	m.PreAuthDecided("approved")
	m.TxRetried()
	m.NotificationDelivered("log", true)
	m.NotificationDropped()
	m.SetQueueDepth(3)
	m.SetBreakerState("webhook", 1)
}

func TestPaymentRecorded(t *testing.T) {
	m := newTestMetrics()
	m.PaymentRecorded("upi", decimal.RequireFromString("250.50"))
	m.PaymentRecorded("upi", decimal.RequireFromString("100"))

	if got := testutil.ToFloat64(m.PaymentsRecorded.WithLabelValues("upi")); got != 2 {
		t.Errorf("expected 2 payments, got %v", got)
	}
	if got := testutil.ToFloat64(m.PaymentAmount.WithLabelValues("upi")); got != 350.5 {
		t.Errorf("expected 350.5, got %v", got)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	m := newTestMetrics()
	m.BillOpened()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "billing_bills_opened_total 1") {
		t.Errorf("expected counter in output, got:\n%s", rec.Body.String())
	}
}

func TestMiddlewareObservesRoute(t *testing.T) {
	m := newTestMetrics()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/bills/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/bills/abc", nil))

	if n := testutil.CollectAndCount(m.RequestDuration); n != 1 {
		t.Fatalf("expected one series, got %d", n)
	}
}
