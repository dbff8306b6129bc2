package storage

import (
	"errors"
	"fmt"

	"github.com/maneesh/studyfolders/internal/models"
)

var (
	// ErrNotFound reports an expected remote folder or object that is absent.
	ErrNotFound = errors.New("storage: not found")
	// ErrStorage reports a transport or backend failure.
	ErrStorage = errors.New("storage: backend failure")
	// ErrUnsupportedType reports a location whose declared type has no adapter.
	ErrUnsupportedType = errors.New("storage: unsupported location type")
	// ErrNoDefaultLocation reports zero or several default study locations.
	ErrNoDefaultLocation = errors.New("storage: no unique default study location")
)

// Error is a backend failure annotated with the operation that produced it.
// It matches ErrStorage unless it wraps ErrNotFound.
type Error struct {
	Backend models.LocationType
	Op      string
	Path    string
	Err     error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %q: %v", e.Backend, e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrStorage && !errors.Is(e.Err, ErrNotFound)
}

func storageErr(backend models.LocationType, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Backend: backend, Op: op, Path: path, Err: err}
}

func notFound(backend models.LocationType, op, path string) error {
	return &Error{Backend: backend, Op: op, Path: path, Err: ErrNotFound}
}
