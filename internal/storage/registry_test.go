package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/maneesh/studyfolders/internal/models"
)

func loc(id int64, typ models.LocationType, def, active bool) *models.FileStorageLocation {
	return &models.FileStorageLocation{ID: id, Name: "loc", Type: typ, RootAddress: "/tmp", DefaultForStudies: def, Active: active}
}

func TestRegistryDefaultStudyLocation(t *testing.T) {
	r, err := NewRegistry([]*models.FileStorageLocation{
		loc(1, models.LocationLocal, false, true),
		loc(2, models.LocationAWSS3, true, true),
		loc(3, models.LocationLocal, true, false),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	def, err := r.DefaultStudyLocation()
	if err != nil || def.ID != 2 {
		t.Fatalf("default = %v, %v", def, err)
	}
	if len(r.All()) != 2 {
		t.Errorf("active locations = %d, want 2", len(r.All()))
	}
	if _, err := r.Get(3); !errors.Is(err, ErrNotFound) {
		t.Errorf("inactive location lookup err = %v", err)
	}
}

func TestRegistryNoDefault(t *testing.T) {
	r, err := NewRegistry([]*models.FileStorageLocation{loc(1, models.LocationLocal, false, true)})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := r.DefaultStudyLocation(); !errors.Is(err, ErrNoDefaultLocation) {
		t.Errorf("err = %v, want ErrNoDefaultLocation", err)
	}
}

func TestRegistryAmbiguousDefault(t *testing.T) {
	_, err := NewRegistry([]*models.FileStorageLocation{
		loc(1, models.LocationLocal, true, true),
		loc(2, models.LocationLocal, true, true),
	})
	if !errors.Is(err, ErrNoDefaultLocation) {
		t.Errorf("same-type defaults err = %v", err)
	}

	r, err := NewRegistry([]*models.FileStorageLocation{
		loc(1, models.LocationLocal, true, true),
		loc(2, models.LocationEnterpriseSync, true, true),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := r.DefaultStudyLocation(); !errors.Is(err, ErrNoDefaultLocation) {
		t.Errorf("cross-type defaults err = %v", err)
	}
}

func TestRegistryRejectsDuplicateIDs(t *testing.T) {
	_, err := NewRegistry([]*models.FileStorageLocation{
		loc(1, models.LocationLocal, false, true),
		loc(1, models.LocationAWSS3, false, true),
	})
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
}

type staticLister []*models.FileStorageLocation

func (s staticLister) List(context.Context) ([]*models.FileStorageLocation, error) { return s, nil }

type failingLister struct{}

func (failingLister) List(context.Context) ([]*models.FileStorageLocation, error) {
	return nil, errors.New("connection refused")
}

func TestLoadRegistry(t *testing.T) {
	r, err := LoadRegistry(context.Background(), staticLister{loc(4, models.LocationObjectStore, true, true)})
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if got, _ := r.Get(4); got == nil || got.Type != models.LocationObjectStore {
		t.Errorf("Get(4) = %+v", got)
	}
	if _, err := LoadRegistry(context.Background(), failingLister{}); err == nil {
		t.Error("expected lister error")
	}
}

func TestLookup(t *testing.T) {
	local := NewLocalAdapter()
	enterprise := NewEnterpriseAdapter(EnterpriseOptions{})
	l, err := NewLookup(local, enterprise)
	if err != nil {
		t.Fatalf("NewLookup: %v", err)
	}

	a, err := l.ForLocation(loc(1, models.LocationEnterpriseSync, false, true))
	if err != nil || a.Type() != models.LocationEnterpriseSync {
		t.Errorf("ForLocation = %v, %v", a, err)
	}
	if _, err := l.Lookup(models.LocationAWSS3); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("unregistered type err = %v", err)
	}
	if _, err := l.Lookup(""); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("empty type err = %v", err)
	}
	if _, err := l.ForLocation(nil); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("nil location err = %v", err)
	}
	if len(l.Types()) != 2 {
		t.Errorf("types = %v", l.Types())
	}

	if _, err := NewLookup(local, NewLocalAdapter()); err == nil {
		t.Error("expected duplicate adapter error")
	}
}

func TestLookupValidate(t *testing.T) {
	l, _ := NewLookup(NewLocalAdapter())
	ok, _ := NewRegistry([]*models.FileStorageLocation{loc(1, models.LocationLocal, true, true)})
	if err := l.Validate(ok); err != nil {
		t.Errorf("Validate: %v", err)
	}
	bad, _ := NewRegistry([]*models.FileStorageLocation{loc(2, models.LocationAWSS3, true, true)})
	if err := l.Validate(bad); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Validate err = %v", err)
	}
}
