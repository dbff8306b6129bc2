// Package metrics provides Prometheus metrics for the study folder service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyfolders_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyfolders_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyfolders_storage_operation_duration_seconds",
			Help:    "Storage adapter operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyfolders_storage_operations_total",
			Help: "Total storage adapter operations",
		},
		[]string{"backend", "operation", "status"},
	)

	codesIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyfolders_codes_issued_total",
			Help: "Total entity codes issued",
		},
		[]string{"scope"},
	)

	codeConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyfolders_code_conflicts_total",
			Help: "Code collisions rejected by the database and retried",
		},
		[]string{"scope"},
	)

	folderOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyfolders_folder_operations_total",
			Help: "Folder provision and repair outcomes",
		},
		[]string{"operation", "kind", "outcome"},
	)

	clientCacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyfolders_client_cache_evictions_total",
			Help: "Backend client handles evicted from the per-location cache",
		},
		[]string{"backend"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStorageOperation records one adapter call against a backend.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordCodeIssued counts a generated code.
func RecordCodeIssued(scope string) {
	codesIssuedTotal.WithLabelValues(scope).Inc()
}

// RecordCodeConflict counts a duplicate-code retry.
func RecordCodeConflict(scope string) {
	codeConflictsTotal.WithLabelValues(scope).Inc()
}

// RecordFolderOperation records the outcome ("created", "updated", "unchanged", "error") of a provision or repair.
func RecordFolderOperation(operation, kind, outcome string) {
	folderOperationsTotal.WithLabelValues(operation, kind, outcome).Inc()
}

// RecordClientEviction counts an evicted backend client.
func RecordClientEviction(backend string) {
	clientCacheEvictions.WithLabelValues(backend).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency labelled by route template.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		RecordHTTPRequest(r.Method, route, sw.status, time.Since(start))
	})
}
