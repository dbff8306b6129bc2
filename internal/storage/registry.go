package storage

import (
	"context"
	"fmt"

	"github.com/maneesh/studyfolders/internal/models"
)

// Registry is an immutable snapshot of the active storage locations.
type Registry struct {
	locations []*models.FileStorageLocation
	byID      map[int64]*models.FileStorageLocation
}

// NewRegistry indexes the active locations. Two defaults of the same type are rejected.
func NewRegistry(locations []*models.FileStorageLocation) (*Registry, error) {
	r := &Registry{byID: make(map[int64]*models.FileStorageLocation, len(locations))}
	defaults := make(map[models.LocationType]int64)
	for _, loc := range locations {
		if !loc.Active {
			continue
		}
		if _, dup := r.byID[loc.ID]; dup {
			return nil, fmt.Errorf("location %d listed twice", loc.ID)
		}
		if loc.DefaultForStudies {
			if other, ok := defaults[loc.Type]; ok {
				return nil, fmt.Errorf("%w: locations %d and %d are both default for %s",
					ErrNoDefaultLocation, other, loc.ID, loc.Type)
			}
			defaults[loc.Type] = loc.ID
		}
		r.locations = append(r.locations, loc)
		r.byID[loc.ID] = loc
	}
	return r, nil
}

// LocationLister is the read side of LocationStore.
type LocationLister interface {
	List(ctx context.Context) ([]*models.FileStorageLocation, error)
}

// LoadRegistry builds a registry from the persisted locations.
func LoadRegistry(ctx context.Context, store LocationLister) (*Registry, error) {
	locations, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load storage locations: %w", err)
	}
	return NewRegistry(locations)
}

// All returns the active locations in load order.
func (r *Registry) All() []*models.FileStorageLocation {
	return r.locations
}

// Get returns the active location with id.
func (r *Registry) Get(id int64) (*models.FileStorageLocation, error) {
	loc, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("storage location %d: %w", id, ErrNotFound)
	}
	return loc, nil
}

// DefaultStudyLocation returns the single location marked default for studies.
func (r *Registry) DefaultStudyLocation() (*models.FileStorageLocation, error) {
	var found *models.FileStorageLocation
	for _, loc := range r.locations {
		if !loc.DefaultForStudies {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: locations %d and %d are both default", ErrNoDefaultLocation, found.ID, loc.ID)
		}
		found = loc
	}
	if found == nil {
		return nil, ErrNoDefaultLocation
	}
	return found, nil
}
