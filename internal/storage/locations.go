package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maneesh/studyfolders/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LocationStore provides CRUD operations for file_storage_locations.
type LocationStore struct {
	db *sql.DB
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(db *sql.DB) *LocationStore {
	return &LocationStore{db: db}
}

const locationColumns = `id, name, type, root_address, credential_ref, default_for_studies, active, config, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(row rowScanner) (*models.FileStorageLocation, error) {
	var loc models.FileStorageLocation
	var credRef sql.NullString
	var cfg []byte
	if err := row.Scan(&loc.ID, &loc.Name, &loc.Type, &loc.RootAddress, &credRef,
		&loc.DefaultForStudies, &loc.Active, &cfg, &loc.CreatedAt, &loc.UpdatedAt); err != nil {
		return nil, err
	}
	loc.CredentialRef = credRef.String
	if len(cfg) > 0 {
		loc.Config = json.RawMessage(cfg)
	}
	return &loc, nil
}

// List returns all active storage locations.
func (s *LocationStore) List(ctx context.Context) ([]*models.FileStorageLocation, error) {
	ctx, span := tracer.Start(ctx, "mysql.list_locations")
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+locationColumns+` FROM file_storage_locations WHERE active = TRUE ORDER BY id`)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list storage locations: %w", err)
	}
	defer rows.Close()

	var locs []*models.FileStorageLocation
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan storage location: %w", err)
		}
		locs = append(locs, loc)
	}
	span.SetAttributes(attribute.Int("count", len(locs)))
	return locs, rows.Err()
}

// Get returns a storage location by ID, or ErrNotFound.
func (s *LocationStore) Get(ctx context.Context, id int64) (*models.FileStorageLocation, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_location",
		trace.WithAttributes(attribute.Int64("location_id", id)),
	)
	defer span.End()

	loc, err := scanLocation(s.db.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM file_storage_locations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage location %d: %w", id, ErrNotFound)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get storage location: %w", err)
	}
	return loc, nil
}

// Create inserts a new storage location and sets its generated ID. A location
// created as default clears every other default in the same transaction.
func (s *LocationStore) Create(ctx context.Context, loc *models.FileStorageLocation) (err error) {
	ctx, span := tracer.Start(ctx, "mysql.create_location",
		trace.WithAttributes(
			attribute.String("name", loc.Name),
			attribute.String("type", string(loc.Type)),
			attribute.Bool("default_for_studies", loc.DefaultForStudies),
		),
	)
	defer endSpan(span, &err)

	if _, err := models.ParseLocationType(string(loc.Type)); err != nil {
		return err
	}
	if _, err := loc.Settings(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if loc.DefaultForStudies {
		if _, err := tx.ExecContext(ctx,
			`UPDATE file_storage_locations SET default_for_studies = FALSE WHERE default_for_studies = TRUE`); err != nil {
			return fmt.Errorf("clear default: %w", err)
		}
	}

	now := time.Now().UTC()
	var cfg any
	if len(loc.Config) > 0 {
		cfg = []byte(loc.Config)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO file_storage_locations
		 (name, type, root_address, credential_ref, default_for_studies, active, config, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loc.Name, string(loc.Type), loc.RootAddress, nullString(loc.CredentialRef),
		loc.DefaultForStudies, true, cfg, now, now)
	if err != nil {
		return fmt.Errorf("create storage location: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create storage location: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	loc.ID, loc.Active, loc.CreatedAt, loc.UpdatedAt = id, true, now, now
	return nil
}

// SetDefault makes a location the default for studies, clearing every other
// default regardless of type.
func (s *LocationStore) SetDefault(ctx context.Context, id int64) (err error) {
	ctx, span := tracer.Start(ctx, "mysql.set_default_location",
		trace.WithAttributes(attribute.Int64("location_id", id)),
	)
	defer endSpan(span, &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE file_storage_locations SET default_for_studies = FALSE WHERE default_for_studies = TRUE`)
	if err != nil {
		return fmt.Errorf("clear default: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE file_storage_locations SET default_for_studies = TRUE, updated_at = ? WHERE id = ? AND active = TRUE`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set default: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("storage location %d: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// Deactivate hides a location from the registry without removing it.
func (s *LocationStore) Deactivate(ctx context.Context, id int64) (err error) {
	ctx, span := tracer.Start(ctx, "mysql.deactivate_location",
		trace.WithAttributes(attribute.Int64("location_id", id)),
	)
	defer endSpan(span, &err)

	res, err := s.db.ExecContext(ctx,
		`UPDATE file_storage_locations SET active = FALSE, default_for_studies = FALSE, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("deactivate storage location: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("storage location %d: %w", id, ErrNotFound)
	}
	return nil
}

func endSpan(span trace.Span, errp *error) {
	if *errp != nil && !errors.Is(*errp, ErrNotFound) {
		span.RecordError(*errp)
	}
	span.End()
}
