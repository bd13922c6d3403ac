package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medflow/billing/internal/platform/auth"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := RequestID()(func(c echo.Context) error {
		if rid, _ := c.Get("request_id").(string); rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	})(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = RequestID()(func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return nil
	})(c)

	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_ReplacesUnsafeValue(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\nwith newline")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = RequestID()(func(c echo.Context) error { return nil })(c)

	if got := rec.Header().Get(RequestIDHeader); strings.Contains(got, " ") || got == "" {
		t.Errorf("expected a freshly minted id, got %q", got)
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic("ledger exploded")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if !strings.Contains(buf.String(), "ledger exploded") {
		t.Errorf("expected panic to be logged, got %s", buf.String())
	}
}

func TestLogger_WritesStatusAndUser(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills", nil)
	req = req.WithContext(auth.WithUser(req.Context(), "cashier-1", auth.RoleCashier))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := Logger(zerolog.New(&buf))(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "bill not editable")
	})(c)
	if err != nil {
		t.Fatalf("logger must swallow handled errors, got %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 written, got %d", rec.Code)
	}
	out := buf.String()
	if !strings.Contains(out, `"status":409`) || !strings.Contains(out, `"user":"cashier-1"`) {
		t.Errorf("unexpected log line: %s", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn level for 4xx, got %s", out)
	}
}

func TestRequestTimeout_SetsDeadline(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := RequestTimeout(50*time.Millisecond)(func(c echo.Context) error {
		deadline, ok := c.Request().Context().Deadline()
		if !ok {
			t.Fatal("expected a deadline")
		}
		if time.Until(deadline) > 50*time.Millisecond {
			t.Error("deadline later than configured timeout")
		}
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	})(c)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestRequestTimeout_Disabled(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	_ = RequestTimeout(0)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("expected no deadline when timeout is zero")
		}
		return nil
	})(c)
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 2; i++ {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		if err := h(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimit_SeparateTenants(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})(func(c echo.Context) error {
		return nil
	})

	for _, tenant := range []string{"north", "south"} {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		c.Set("jwt_tenant_id", tenant)
		if err := h(c); err != nil {
			t.Fatalf("tenant %s: expected first request to pass, got %v", tenant, err)
		}
	}
}

func TestLimiterStore_EvictsIdle(t *testing.T) {
	s := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	now := time.Now()
	s.now = func() time.Time { return now }
	s.get("a")
	now = now.Add(2 * time.Minute)
	s.get("b")
	if _, ok := s.clients["a"]; ok {
		t.Error("expected idle limiter to be evicted")
	}
}

func TestAudit_RecordsMutations(t *testing.T) {
	var got []AuditEntry
	rec := AuditRecorderFunc(func(_ context.Context, e AuditEntry) error {
		got = append(got, e)
		return nil
	})

	e := echo.New()
	h := Audit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	})

	billID := "6f1c1f5e-8a43-4d1e-9d55-7a0cf3c0a001"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills/"+billID+"/payments", nil)
	req = req.WithContext(auth.WithUser(req.Context(), "cashier-2", auth.RoleCashier))
	c := e.NewContext(req, httptest.NewRecorder())
	if err := h(c); err != nil {
		t.Fatal(err)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/bills/"+billID, nil)
	_ = h(e.NewContext(getReq, httptest.NewRecorder()))

	if len(got) != 1 {
		t.Fatalf("expected only the POST to be audited, got %d entries", len(got))
	}
	entry := got[0]
	if entry.Resource != "bills" || entry.ResourceID != billID || entry.Action != "payments" {
		t.Errorf("unexpected route breakdown %+v", entry)
	}
	if entry.UserID != "cashier-2" || entry.StatusCode != http.StatusCreated {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestAudit_RecorderOutlivesRequestDeadline(t *testing.T) {
	var recErr error
	rec := AuditRecorderFunc(func(ctx context.Context, e AuditEntry) error {
		recErr = ctx.Err()
		return errors.New("audit table unavailable")
	})

	e := echo.New()
	h := Audit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "bill already finalized")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills/6f1c1f5e-8a43-4d1e-9d55-7a0cf3c0a001/finalize", nil).WithContext(ctx)
	err := h(e.NewContext(req, httptest.NewRecorder()))

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusConflict {
		t.Fatalf("handler error should pass through unchanged, got %v", err)
	}
	if recErr != nil {
		t.Errorf("recorder context should not be cancelled, got %v", recErr)
	}
}

func TestDescribeRoute(t *testing.T) {
	tests := []struct {
		path, resource, id, action string
	}{
		{"/api/v1/bills", "bills", "", "create"},
		{"/api/v1/claims/6f1c1f5e-8a43-4d1e-9d55-7a0cf3c0a001/settle", "claims", "6f1c1f5e-8a43-4d1e-9d55-7a0cf3c0a001", "settle"},
		{"/api/v1/tariffs/seed", "tariffs", "", "seed"},
	}
	for _, tt := range tests {
		r, id, a := describeRoute(tt.path)
		if r != tt.resource || id != tt.id || a != tt.action {
			t.Errorf("describeRoute(%s) = %s,%s,%s", tt.path, r, id, a)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	_ = SecurityHeaders()(func(c echo.Context) error { return nil })(c)
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected no-store")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected nosniff")
	}
}
