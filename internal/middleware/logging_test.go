package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"log/slog"

	"github.com/beastfood/server/internal/auth"
)

func captureLog(t *testing.T, h http.Handler, req *http.Request) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	wrapped := NewLoggingMiddleware(logger)(h)

	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v (%q)", err, buf.String())
	}
	return entry, rr
}

func TestLoggingMiddleware_RecordsRequestFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/restaurants", nil)
	entry, _ := captureLog(t, statusHandler(http.StatusOK), req)

	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %v, want GET", entry["method"])
	}
	if entry["path"] != "/api/restaurants" {
		t.Errorf("path = %v, want /api/restaurants", entry["path"])
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if id, ok := entry["request_id"].(string); !ok || id == "" {
		t.Error("expected non-empty request_id")
	}
	if _, ok := entry["duration_ms"].(float64); !ok {
		t.Error("expected numeric duration_ms")
	}
}

func TestLoggingMiddleware_IncludesSubjectWhenAuthenticated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req = req.WithContext(ContextWithPrincipal(req.Context(), &auth.Principal{Subject: "42"}))

	entry, _ := captureLog(t, statusHandler(http.StatusOK), req)
	if entry["subject"] != "42" {
		t.Errorf("subject = %v, want 42", entry["subject"])
	}
}

func TestLoggingMiddleware_LevelFollowsStatusClass(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/restaurants", nil)
		entry, _ := captureLog(t, statusHandler(tt.status), req)
		if entry["level"] != tt.level {
			t.Errorf("status %d: level = %v, want %s", tt.status, entry["level"], tt.level)
		}
	}
}

func TestStatusRecorder_DefaultsTo200OnWrite(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok")) // WriteHeaderを明示的に呼ばない
	})

	req := httptest.NewRequest(http.MethodGet, "/api/restaurants", nil)
	entry, _ := captureLog(t, h, req)
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v, want 200 for implicit WriteHeader", entry["status"])
	}
}
