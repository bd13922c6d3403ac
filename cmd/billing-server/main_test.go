package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/medflow/billing/internal/config"
	"github.com/medflow/billing/internal/domain/revenue"
	"github.com/medflow/billing/internal/platform/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:            "development",
		LogLevel:       "info",
		CORSOrigins:    []string{"http://localhost:3000"},
		TaxLabels:      []string{"CGST", "SGST"},
		RequestTimeout: time.Second,
		TxMaxRetries:   3,
		StaleAfter:     72 * time.Hour,
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.LogLevel = "WARN"
	if got := newLogger(cfg).GetLevel(); got != zerolog.WarnLevel {
		t.Errorf("expected warn level, got %s", got)
	}

	cfg.LogLevel = "chatty"
	if got := newLogger(cfg).GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("unknown level should fall back to info, got %s", got)
	}
}

func TestExportRange(t *testing.T) {
	def := revenue.Range{
		From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC),
	}

	r, err := exportRange(def, "", "")
	if err != nil || r != def {
		t.Fatalf("no flags should keep the default range, got %+v %v", r, err)
	}

	r, err = exportRange(def, "2026-01-01", "2026-01-31")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.To.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("to date should be inclusive, got %s", r.To)
	}

	if _, err := exportRange(def, "01/01/2026", ""); err == nil {
		t.Error("expected error for malformed --from")
	}
	if _, err := exportRange(def, "2026-04-01", ""); !errors.Is(err, revenue.ErrInvalidRange) {
		t.Errorf("from after default to should be invalid, got %v", err)
	}
}

func TestBuildSinks(t *testing.T) {
	cfg := testConfig()
	sinks, kafka, err := buildSinks(cfg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sinks) != 1 || sinks[0].Name() != "log" || kafka != nil {
		t.Fatalf("expected only the log sink, got %d sinks", len(sinks))
	}

	cfg.WebhookURL = "http://tpa.example/hook"
	cfg.WebhookSecret = "s3cret"
	sinks, _, err = buildSinks(cfg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sinks) != 2 || sinks[1].Name() != "webhook" {
		t.Fatalf("expected log and webhook sinks, got %d", len(sinks))
	}
}

func testMetrics() *metrics.Metrics {
	reg := prometheus.NewRegistry()
	return metrics.NewWithRegistry(reg, reg)
}

func newTestServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	a, err := newApp(nil, cfg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.close)
	e, api := newEcho(cfg, zerolog.Nop(), testMetrics(), nil)
	a.registerRoutes(api)
	return e
}

func TestRoutesRegistered(t *testing.T) {
	cfg := testConfig()
	a, err := newApp(nil, cfg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()
	e, api := newEcho(cfg, zerolog.Nop(), testMetrics(), nil)
	a.registerRoutes(api)

	have := map[string]bool{}
	for _, r := range e.Routes() {
		have[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /health",
		"GET /metrics",
		"POST /api/v1/bills",
		"POST /api/v1/bills/:id/payments",
		"POST /api/v1/claims",
		"POST /api/v1/claims/:id/settle",
		"POST /api/v1/preauths/:id/decision",
		"GET /api/v1/revenue/summary",
		"GET /api/v1/revenue/trend",
	} {
		if !have[want] {
			t.Errorf("route %q not registered", want)
		}
	}
}

func TestServer_HealthAndRoles(t *testing.T) {
	h := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), version) {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/revenue/summary", nil)
	req.Header.Set("X-User-Roles", "cashier")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier on revenue: expected 403, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id on the response")
	}
}

func TestServer_RequiresBearerOutsideDev(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = strings.Repeat("k", 32)
	h := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/claims", bytes.NewReader(nil)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health must not need a token, got %d", rec.Code)
	}
}
