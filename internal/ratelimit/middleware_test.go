package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/af-corp/relay-gateway/internal/auth"
	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/httputil"
	"github.com/af-corp/relay-gateway/internal/telemetry"
)

func intPtr(v int) *int { return &v }

func testConfig(rpm int) func() *config.Config {
	cfg := config.DefaultConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.DefaultRPM = rpm
	cfg.RateLimit.Window = time.Minute
	return func() *config.Config { return cfg }
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_AuthenticatedKeyLimit(t *testing.T) {
	handler := Middleware(NewLimiter(nil), testConfig(60), nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req = req.WithContext(auth.ContextWithAuth(req.Context(), &auth.AuthInfo{KeyID: "key-1", RPMLimit: intPtr(100)}))
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-1")
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if h := rec.Header().Get(headerRateLimitRequests); h != "100" {
		t.Errorf("expected X-RateLimit-Limit-Requests=100, got %s", h)
	}
	if h := rec.Header().Get(headerRateLimitRemainingRequests); h != "99" {
		t.Errorf("expected remaining 99, got %s", h)
	}
	if h := rec.Header().Get(headerRateLimitReset); h == "" {
		t.Error("expected X-RateLimit-Reset-Requests header")
	}
}

func TestMiddleware_UpstreamTokenUsesDefaultRPM(t *testing.T) {
	handler := Middleware(NewLimiter(nil), testConfig(60), nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.Header.Set("X-Anthropic-API-Token", "sk-ant-test")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if h := rec.Header().Get(headerRateLimitRequests); h != "60" {
		t.Errorf("expected default RPM=60, got %s", h)
	}
}

func TestMiddleware_NoIdentityPassesThrough(t *testing.T) {
	handler := Middleware(NewLimiter(nil), testConfig(60), nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if h := rec.Header().Get(headerRateLimitRequests); h != "" {
		t.Errorf("expected no rate limit headers, got %s", h)
	}
}

func TestMiddleware_Exceeded(t *testing.T) {
	l, _ := newRedisLimiter(t)
	metrics := telemetry.NewMetricsWith(prometheus.NewRegistry())
	handler := Middleware(l, testConfig(1), metrics)(okHandler())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		req.Header.Set("X-Anthropic-API-Token", "sk-ant-test")
		rec := httptest.NewRecorder()
		rec.Header().Set("X-Request-ID", "req-x")
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("expected first request 200, got %d", rec.Code)
	}

	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get(headerRetryAfter) == "" {
		t.Error("expected Retry-After header")
	}

	var body httputil.APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "rate_limit_exceeded" {
		t.Errorf("expected rate_limit_exceeded, got %q", body.Error.Code)
	}

	counter, _ := metrics.RateLimitHits.GetMetricWithLabelValues("rpm")
	var m dto.Metric
	counter.Write(&m)
	if m.GetCounter().GetValue() != 1 {
		t.Errorf("expected 1 rate limit hit, got %v", m.GetCounter().GetValue())
	}
}
