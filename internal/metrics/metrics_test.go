package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordStorageOperation(t *testing.T) {
	before := testutil.ToFloat64(storageOperationsTotal.WithLabelValues("LOCAL", "create_folder", "error"))
	RecordStorageOperation("LOCAL", "create_folder", 5*time.Millisecond, false)
	after := testutil.ToFloat64(storageOperationsTotal.WithLabelValues("LOCAL", "create_folder", "error"))
	if after-before != 1 {
		t.Errorf("error counter delta = %v, want 1", after-before)
	}
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Middleware)
	r.HandleFunc("/api/v1/storage-locations/{id}/folders", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/storage-locations/{id}/folders", "404")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/storage-locations/7/folders", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("route counter delta = %v, want 1", got)
	}
}
