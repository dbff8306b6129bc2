package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMiddlewareTagsRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	defer Replace(zap.New(core))()

	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "req-1" {
		t.Errorf("request id in context = %q", seen)
	}
	if rec.Header().Get("X-Request-ID") != "req-1" {
		t.Errorf("response header = %q", rec.Header().Get("X-Request-ID"))
	}
	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["status"] != int64(http.StatusTeapot) {
		t.Errorf("fields = %v", fields)
	}
}

func TestWithContextFallsBackToGlobal(t *testing.T) {
	if WithContext(context.Background()) != L() {
		t.Error("expected global logger for bare context")
	}
	if GetRequestID(context.Background()) != "" {
		t.Error("expected empty request id")
	}
}

func TestGlobalLoggerConcurrentUse(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := Replace(zap.New(core))
	defer restore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			L().Info("concurrent")
			_ = WithContext(context.Background())
		}()
	}
	wg.Wait()

	if logs.Len() != 16 {
		t.Errorf("entries = %d, want 16", logs.Len())
	}
	if L() == nil {
		t.Fatal("global logger is nil")
	}
}
