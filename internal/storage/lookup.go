package storage

import (
	"fmt"

	"github.com/maneesh/studyfolders/internal/models"
)

// Lookup resolves a location's declared type to its adapter. It is read-only
// after construction and safe for concurrent use.
type Lookup struct {
	adapters map[models.LocationType]Adapter
}

// NewLookup registers one adapter per backend type. A second adapter for the
// same type is a configuration error.
func NewLookup(adapters ...Adapter) (*Lookup, error) {
	l := &Lookup{adapters: make(map[models.LocationType]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := l.adapters[a.Type()]; dup {
			return nil, fmt.Errorf("adapter for %s registered twice", a.Type())
		}
		l.adapters[a.Type()] = a
	}
	return l, nil
}

// Lookup returns the adapter for t or ErrUnsupportedType.
func (l *Lookup) Lookup(t models.LocationType) (Adapter, error) {
	if t == "" {
		return nil, fmt.Errorf("%w: location has no type", ErrUnsupportedType)
	}
	a, ok := l.adapters[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return a, nil
}

// ForLocation returns the adapter for the location's declared type.
func (l *Lookup) ForLocation(loc *models.FileStorageLocation) (Adapter, error) {
	if loc == nil {
		return nil, fmt.Errorf("%w: nil location", ErrUnsupportedType)
	}
	return l.Lookup(loc.Type)
}

// Types lists the registered backend types.
func (l *Lookup) Types() []models.LocationType {
	types := make([]models.LocationType, 0, len(l.adapters))
	for t := range l.adapters {
		types = append(types, t)
	}
	return types
}

// Validate fails if any location in r has no adapter.
func (l *Lookup) Validate(r *Registry) error {
	for _, loc := range r.All() {
		if _, err := l.ForLocation(loc); err != nil {
			return fmt.Errorf("location %d (%s): %w", loc.ID, loc.Name, err)
		}
	}
	return nil
}
