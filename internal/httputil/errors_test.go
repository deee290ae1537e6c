package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, "req_123", http.StatusBadRequest, "invalid_request_error", "bad_request", "test message")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
	if rid := w.Header().Get("X-Request-ID"); rid != "req_123" {
		t.Errorf("expected X-Request-ID req_123, got %s", rid)
	}

	var resp APIError
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Error.Message != "test message" {
		t.Errorf("expected message 'test message', got %q", resp.Error.Message)
	}
	if resp.Error.Type != "invalid_request_error" {
		t.Errorf("expected type 'invalid_request_error', got %q", resp.Error.Type)
	}
	if resp.Error.RequestID != "req_123" {
		t.Errorf("expected request_id 'req_123', got %q", resp.Error.RequestID)
	}
}

func TestWriteHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		code   string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequestError(w, "r", "m") }, 400, "invalid_request"},
		{"missing header", func(w http.ResponseWriter) { WriteMissingHeaderError(w, "r", "m") }, 400, "missing_header"},
		{"auth", func(w http.ResponseWriter) { WriteAuthError(w, "r", "m") }, 401, "invalid_api_key"},
		{"policy", func(w http.ResponseWriter) { WritePolicyDeniedError(w, "r", "m") }, 403, "policy_denied"},
		{"rate limit", func(w http.ResponseWriter) { WriteRateLimitError(w, "r", "m") }, 429, "rate_limit_exceeded"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w, "r", "m") }, 500, "internal_error"},
		{"upstream", func(w http.ResponseWriter) { WriteUpstreamError(w, "r", "m") }, 502, "upstream_failed"},
		{"unavailable", func(w http.ResponseWriter) { WriteServiceUnavailableError(w, "r", "m") }, 503, "service_unavailable"},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		tt.write(w)
		if w.Code != tt.status {
			t.Errorf("%s: expected status %d, got %d", tt.name, tt.status, w.Code)
		}
		var resp APIError
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Error.Code != tt.code {
			t.Errorf("%s: expected code %q, got %q", tt.name, tt.code, resp.Error.Code)
		}
	}
}

func TestWriteError_NoRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalError(w, "", "boom")

	if _, ok := w.Header()["X-Request-Id"]; ok {
		t.Error("expected no X-Request-ID header when id is empty")
	}
	var raw map[string]map[string]any
	json.Unmarshal(w.Body.Bytes(), &raw)
	if _, ok := raw["error"]["request_id"]; ok {
		t.Error("expected request_id to be omitted")
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	if err := WriteJSON(w, "req_1", map[string]int{"a": 1}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "{\"a\":1}\n" {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}
