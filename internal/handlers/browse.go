package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/maneesh/studyfolders/internal/logging"
	"github.com/maneesh/studyfolders/internal/models"
	"github.com/maneesh/studyfolders/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("studyfolders-handlers")

// Browser lists one level of a location's folder tree; *folders.Service implements it.
type Browser interface {
	Browse(ctx context.Context, locationID int64, path string) (*models.StorageFolder, error)
}

// LocationSource lists the active locations; *storage.Registry implements it.
type LocationSource interface {
	All() []*models.FileStorageLocation
}

// BrowseHandler serves read-only folder listings
type BrowseHandler struct {
	browser Browser
}

// NewBrowseHandler creates a new browse handler
func NewBrowseHandler(browser Browser) *BrowseHandler {
	return &BrowseHandler{browser: browser}
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeHTTP handles GET /api/v1/storage-locations/{id}/folders?path=...
func (h *BrowseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "browse_folder",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid storage location id"})
		return
	}
	path := r.URL.Query().Get("path")
	span.SetAttributes(attribute.Int64("location_id", id), attribute.String("path", path))

	folder, err := h.browser.Browse(ctx, id, path)
	if err != nil {
		span.RecordError(err)
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logging.WithContext(ctx).Error("browse failed",
				zap.Int64("location_id", id), zap.String("path", path), zap.Error(err))
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int("file_count", len(folder.Files)),
		attribute.Int("subfolder_count", len(folder.Subfolders)),
	)
	writeJSON(w, http.StatusOK, folder)
}

// LocationsHandler serves GET /api/v1/storage-locations.
func LocationsHandler(source LocationSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locations := source.All()
		if locations == nil {
			locations = []*models.FileStorageLocation{}
		}
		writeJSON(w, http.StatusOK, locations)
	}
}

// Health serves GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps the storage error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrUnsupportedType):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrStorage):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.L().Warn("failed to encode response", zap.Error(err))
	}
}
