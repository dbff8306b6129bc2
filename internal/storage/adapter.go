package storage

import (
	"context"
	"errors"
	"time"

	"github.com/maneesh/studyfolders/internal/metrics"
	"github.com/maneesh/studyfolders/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("studyfolders-storage")

// Adapter performs folder I/O against one backend type. Implementations hold
// only immutable configuration and cached client handles and are safe for
// concurrent use.
type Adapter interface {
	Type() models.LocationType
	// CreateFolder creates the owner's folder under the location root, including
	// missing ancestors. It fails with ErrStorage when the root is unreachable or
	// a non-folder object occupies the path.
	CreateFolder(ctx context.Context, loc *models.FileStorageLocation, owner models.FolderOwner) (*models.StorageFolder, error)
	// FindFolder returns the owner's folder or ErrNotFound. It never creates.
	FindFolder(ctx context.Context, loc *models.FileStorageLocation, owner models.FolderOwner) (*models.StorageFolder, error)
	// ListFolder returns the folder at path with one level of children.
	ListFolder(ctx context.Context, loc *models.FileStorageLocation, path string) (*models.StorageFolder, error)
	// SaveFile copies localFile into folderPath without exposing a partial object.
	SaveFile(ctx context.Context, loc *models.FileStorageLocation, folderPath, localFile string) (*models.StorageFile, error)
	Delete(ctx context.Context, loc *models.FileStorageLocation, path string) error
}

// CredentialSource resolves a location's credential reference.
type CredentialSource interface {
	Resolve(ref string) (models.Credentials, error)
}

// operation ties a span and the operation metrics to one adapter call.
type operation struct {
	span    trace.Span
	backend models.LocationType
	name    string
	start   time.Time
}

func begin(ctx context.Context, backend models.LocationType, name string, attrs ...attribute.KeyValue) (context.Context, *operation) {
	attrs = append(attrs, attribute.String("backend", string(backend)))
	ctx, span := tracer.Start(ctx, "storage."+name, trace.WithAttributes(attrs...))
	return ctx, &operation{span: span, backend: backend, name: name, start: time.Now()}
}

// end is deferred with a pointer to the caller's named error.
func (o *operation) end(errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	switch {
	case err == nil:
		o.span.SetAttributes(attribute.Bool("success", true))
	case errors.Is(err, ErrNotFound):
		o.span.SetAttributes(attribute.Bool("found", false))
	default:
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	}
	metrics.RecordStorageOperation(string(o.backend), o.name, time.Since(o.start), err == nil || errors.Is(err, ErrNotFound))
	o.span.End()
}

func locationAttrs(loc *models.FileStorageLocation) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64("location_id", loc.ID),
		attribute.String("location_name", loc.Name),
	}
}

// withTimeout bounds a call by the location's request_timeout, falling back to def.
func withTimeout(ctx context.Context, loc *models.FileStorageLocation, def time.Duration) (context.Context, context.CancelFunc, error) {
	settings, err := loc.Settings()
	if err != nil {
		return ctx, func() {}, err
	}
	timeout := settings.Timeout(def)
	if timeout <= 0 {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}
