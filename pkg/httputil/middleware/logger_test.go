package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWithOptions(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	handler := LoggerWithOptions(&LoggerOptions{Logger: logger})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	req := httptest.NewRequest(http.MethodGet, "/items/abc", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}

	fields := entries[0].ContextMap()
	if got := fields["status"]; got != int64(http.StatusTeapot) {
		t.Errorf("logged status = %v, want %d", got, http.StatusTeapot)
	}
	if got := fields["method"]; got != http.MethodGet {
		t.Errorf("logged method = %v, want GET", got)
	}
	if got := fields["url"]; got != "/items/abc" {
		t.Errorf("logged url = %v, want /items/abc", got)
	}
}
