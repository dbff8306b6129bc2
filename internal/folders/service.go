// Package folders keeps each program, study and assay paired with a remote
// folder and a local reference record.
package folders

import (
	"context"
	"errors"
	"fmt"

	"github.com/maneesh/studyfolders/internal/logging"
	"github.com/maneesh/studyfolders/internal/metrics"
	"github.com/maneesh/studyfolders/internal/models"
	"github.com/maneesh/studyfolders/internal/naming"
	"github.com/maneesh/studyfolders/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("studyfolders-folders")

// FolderStore persists reference records. FindByOwner fails with storage.ErrNotFound.
type FolderStore interface {
	FindByOwner(ctx context.Context, kind models.OwnerKind, ownerID int64) (*models.FileStoreFolder, error)
	Insert(ctx context.Context, f *models.FileStoreFolder) error
	Update(ctx context.Context, f *models.FileStoreFolder) error
	Deactivate(ctx context.Context, kind models.OwnerKind, ownerID int64) error
}

// TxRunner is the owning entity's transaction boundary.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locations resolves storage locations; *storage.Registry implements it.
type Locations interface {
	Get(id int64) (*models.FileStorageLocation, error)
	DefaultStudyLocation() (*models.FileStorageLocation, error)
}

// Adapters resolves a location's adapter; *storage.Lookup implements it.
type Adapters interface {
	ForLocation(loc *models.FileStorageLocation) (storage.Adapter, error)
}

// Service provisions and repairs entity folders.
type Service struct {
	locations Locations
	adapters  Adapters
	store     FolderStore
	tx        TxRunner
}

func NewService(locations Locations, adapters Adapters, store FolderStore, tx TxRunner) *Service {
	return &Service{locations: locations, adapters: adapters, store: store, tx: tx}
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Provision creates the entity's folder on the default study location and
// persists its reference. An entity with an active reference gets that record
// back without any remote call; an inactive one is reactivated in place.
// Nothing is persisted when the remote call fails; a folder created before a
// failed insert is left for Repair to adopt.
func (s *Service) Provision(ctx context.Context, entity any) (_ *models.FileStoreFolder, err error) {
	owner, err := naming.FolderOwner(entity)
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "folders.provision", trace.WithAttributes(
		attribute.String("owner_kind", string(owner.Kind)),
		attribute.Int64("owner_id", owner.ID),
	))
	defer func() { finish(span, err) }()

	log := logging.WithContext(ctx).With(zap.String("owner_kind", string(owner.Kind)), zap.Int64("owner_id", owner.ID))

	existing, err := s.store.FindByOwner(ctx, owner.Kind, owner.ID)
	switch {
	case err == nil && existing.Active:
		span.SetAttributes(attribute.Bool("existing", true))
		metrics.RecordFolderOperation("provision", string(owner.Kind), "existing")
		return existing, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("provision %s %d: %w", owner.Kind, owner.ID, err)
	}

	loc, err := s.locations.DefaultStudyLocation()
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapters.ForLocation(loc)
	if err != nil {
		return nil, err
	}

	var ref *models.FileStoreFolder
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		folder, err := adapter.CreateFolder(ctx, loc, owner)
		if err != nil {
			return err
		}
		ref = models.FileStoreFolderFrom(loc, owner, folder)
		if existing != nil {
			ref.ID, ref.CreatedAt = existing.ID, existing.CreatedAt
			return s.store.Update(ctx, ref)
		}
		return s.store.Insert(ctx, ref)
	})
	if err != nil {
		metrics.RecordFolderOperation("provision", string(owner.Kind), "error")
		log.Error("folder provisioning failed", zap.Int64("location_id", loc.ID), zap.Error(err))
		return nil, fmt.Errorf("provision %s %d: %w", owner.Kind, owner.ID, err)
	}

	metrics.RecordFolderOperation("provision", string(owner.Kind), "created")
	log.Info("folder provisioned", zap.Int64("location_id", loc.ID), zap.String("path", ref.Path))
	return ref, nil
}

// Repair reconciles the entity's reference with the remote folder, recreating
// the folder when it is gone. Only the top-level reference fields are
// reconciled. A failure leaves the prior reference untouched.
func (s *Service) Repair(ctx context.Context, entity any) (_ *models.FileStoreFolder, err error) {
	owner, err := naming.FolderOwner(entity)
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "folders.repair", trace.WithAttributes(
		attribute.String("owner_kind", string(owner.Kind)),
		attribute.Int64("owner_id", owner.ID),
	))
	defer func() { finish(span, err) }()

	log := logging.WithContext(ctx).With(zap.String("owner_kind", string(owner.Kind)), zap.Int64("owner_id", owner.ID))

	existing, err := s.store.FindByOwner(ctx, owner.Kind, owner.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	loc, err := s.repairLocation(existing, log)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapters.ForLocation(loc)
	if err != nil {
		return nil, err
	}

	folder, err := adapter.FindFolder(ctx, loc, owner)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("remote folder missing, recreating", zap.Int64("location_id", loc.ID))
		folder, err = adapter.CreateFolder(ctx, loc, owner)
	}
	if err != nil {
		metrics.RecordFolderOperation("repair", string(owner.Kind), "error")
		return nil, fmt.Errorf("repair %s %d: %w", owner.Kind, owner.ID, err)
	}

	outcome := "unchanged"
	ref := existing
	switch {
	case existing == nil:
		outcome = "created"
		ref = models.FileStoreFolderFrom(loc, owner, folder)
		err = s.tx.InTx(ctx, func(ctx context.Context) error { return s.store.Insert(ctx, ref) })
	case existing.LocationID != loc.ID || !existing.Matches(folder):
		outcome = "updated"
		updated := *existing
		updated.LocationID = loc.ID
		updated.Name = folder.Name
		updated.Path = folder.Path
		updated.URL = folder.URL
		updated.FolderID = folder.FolderID
		ref = &updated
		err = s.tx.InTx(ctx, func(ctx context.Context) error { return s.store.Update(ctx, ref) })
	}
	if err != nil {
		metrics.RecordFolderOperation("repair", string(owner.Kind), "error")
		return nil, fmt.Errorf("repair %s %d: %w", owner.Kind, owner.ID, err)
	}

	metrics.RecordFolderOperation("repair", string(owner.Kind), outcome)
	span.SetAttributes(attribute.String("outcome", outcome))
	log.Info("folder repaired", zap.String("outcome", outcome), zap.String("path", ref.Path))
	return ref, nil
}

// repairLocation prefers the location of the existing reference and falls back
// to the default study location when there is none or it is no longer active.
func (s *Service) repairLocation(existing *models.FileStoreFolder, log *zap.Logger) (*models.FileStorageLocation, error) {
	if existing != nil {
		loc, err := s.locations.Get(existing.LocationID)
		if err == nil {
			return loc, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		log.Warn("referenced location is inactive, using default", zap.Int64("location_id", existing.LocationID))
	}
	return s.locations.DefaultStudyLocation()
}

// Browse lists one level of a location's folder tree.
func (s *Service) Browse(ctx context.Context, locationID int64, path string) (*models.StorageFolder, error) {
	loc, err := s.locations.Get(locationID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapters.ForLocation(loc)
	if err != nil {
		return nil, err
	}
	return adapter.ListFolder(ctx, loc, path)
}

// Deactivate marks the entity's reference inactive, mirroring the entity's soft delete.
func (s *Service) Deactivate(ctx context.Context, entity any) error {
	owner, err := naming.FolderOwner(entity)
	if err != nil {
		return err
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.store.Deactivate(ctx, owner.Kind, owner.ID)
	})
}
