package folders

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/maneesh/studyfolders/internal/models"
	"github.com/maneesh/studyfolders/internal/storage"
)

// errDuplicateOwner mirrors the unique key on (owner_kind, owner_id).
var errDuplicateOwner = errors.New("duplicate entry for key 'uq_folder_owner'")

// memStore is an in-memory FolderStore and TxRunner. Writes made inside a
// failed transaction are discarded.
type memStore struct {
	mu      sync.Mutex
	records map[models.OwnerKind]map[int64]models.FileStoreFolder
	staged  []models.FileStoreFolder
	inTx    bool
	updates int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[models.OwnerKind]map[int64]models.FileStoreFolder)}
}

func (m *memStore) InTx(ctx context.Context, fn func(context.Context) error) error {
	m.mu.Lock()
	m.inTx, m.staged = true, nil
	m.mu.Unlock()

	err := fn(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inTx = false
	if err != nil {
		m.staged = nil
		return err
	}
	for _, f := range m.staged {
		m.put(f)
	}
	m.staged = nil
	return nil
}

func (m *memStore) put(f models.FileStoreFolder) {
	if m.records[f.OwnerKind] == nil {
		m.records[f.OwnerKind] = make(map[int64]models.FileStoreFolder)
	}
	m.records[f.OwnerKind][f.OwnerID] = f
}

func (m *memStore) write(f models.FileStoreFolder) {
	if m.inTx {
		m.staged = append(m.staged, f)
		return
	}
	m.put(f)
}

func (m *memStore) FindByOwner(_ context.Context, kind models.OwnerKind, id int64) (*models.FileStoreFolder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.records[kind][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &f, nil
}

func (m *memStore) Insert(_ context.Context, f *models.FileStoreFolder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[f.OwnerKind][f.OwnerID]; ok {
		return errDuplicateOwner
	}
	for _, staged := range m.staged {
		if staged.OwnerKind == f.OwnerKind && staged.OwnerID == f.OwnerID {
			return errDuplicateOwner
		}
	}
	if f.ID == "" {
		f.ID = "ref-" + string(f.OwnerKind)
	}
	m.write(*f)
	return nil
}

func (m *memStore) Update(_ context.Context, f *models.FileStoreFolder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.write(*f)
	return nil
}

func (m *memStore) Deactivate(_ context.Context, kind models.OwnerKind, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.records[kind][id]
	if !ok {
		return storage.ErrNotFound
	}
	f.Active = false
	m.write(f)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, byID := range m.records {
		n += len(byID)
	}
	return n
}

// downAdapter simulates a backend outage.
type downAdapter struct{}

func (downAdapter) Type() models.LocationType { return models.LocationEnterpriseSync }

func (downAdapter) outage(op string) error {
	return &storage.Error{Backend: models.LocationEnterpriseSync, Op: op, Err: errors.New("connection refused")}
}

func (a downAdapter) CreateFolder(context.Context, *models.FileStorageLocation, models.FolderOwner) (*models.StorageFolder, error) {
	return nil, a.outage("create_folder")
}

func (a downAdapter) FindFolder(context.Context, *models.FileStorageLocation, models.FolderOwner) (*models.StorageFolder, error) {
	return nil, a.outage("find_folder")
}

func (a downAdapter) ListFolder(context.Context, *models.FileStorageLocation, string) (*models.StorageFolder, error) {
	return nil, a.outage("list_folder")
}

func (a downAdapter) SaveFile(context.Context, *models.FileStorageLocation, string, string) (*models.StorageFile, error) {
	return nil, a.outage("save_file")
}

func (a downAdapter) Delete(context.Context, *models.FileStorageLocation, string) error {
	return a.outage("delete")
}

func fixtures() (*models.Program, *models.Study) {
	program := &models.Program{ID: 1, Code: "PROG", Name: "Target Discovery", Active: true}
	study := &models.Study{ID: 7, Code: "PROG-10001", Name: "Lipid Study #2 (v1)", Program: program, Active: true}
	return program, study
}

func newLocalService(t *testing.T) (*Service, *memStore, string) {
	t.Helper()
	root := t.TempDir()
	registry, err := storage.NewRegistry([]*models.FileStorageLocation{
		{ID: 1, Name: "local", Type: models.LocationLocal, RootAddress: root, DefaultForStudies: true, Active: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	lookup, err := storage.NewLookup(storage.NewLocalAdapter())
	if err != nil {
		t.Fatalf("NewLookup: %v", err)
	}
	store := newMemStore()
	return NewService(registry, lookup, store, store), store, root
}

func TestProvisionCreatesNestedFolder(t *testing.T) {
	svc, store, root := newLocalService(t)
	_, study := fixtures()

	ref, err := svc.Provision(context.Background(), study)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	wantPath := "Target_Discovery/PROG-10001 - Lipid_Study__2__v1_"
	if ref.Path != wantPath || ref.Name != "PROG-10001 - Lipid_Study__2__v1_" {
		t.Errorf("ref = %+v", ref)
	}
	if ref.OwnerKind != models.OwnerStudy || ref.OwnerID != 7 || ref.LocationID != 1 || !ref.Active {
		t.Errorf("ref owner = %+v", ref)
	}
	if info, err := os.Stat(filepath.Join(root, filepath.FromSlash(wantPath))); err != nil || !info.IsDir() {
		t.Errorf("remote folder missing: %v", err)
	}
	if store.count() != 1 {
		t.Errorf("records = %d, want 1", store.count())
	}
}

func TestProvisionReturnsExistingReference(t *testing.T) {
	svc, store, root := newLocalService(t)
	_, study := fixtures()
	ctx := context.Background()

	first, err := svc.Provision(ctx, study)
	if err != nil {
		t.Fatalf("first Provision: %v", err)
	}
	dir := filepath.Join(root, filepath.FromSlash(first.Path))
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	second, err := svc.Provision(ctx, study)
	if err != nil {
		t.Fatalf("second Provision: %v", err)
	}
	if *second != *first {
		t.Errorf("second = %+v, want %+v", second, first)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("existing reference should skip remote calls, stat err = %v", err)
	}
	if store.count() != 1 || store.updates != 0 {
		t.Errorf("records = %d, updates = %d", store.count(), store.updates)
	}
}

func TestProvisionReactivatesInactiveReference(t *testing.T) {
	svc, store, _ := newLocalService(t)
	program, _ := fixtures()
	ctx := context.Background()

	first, err := svc.Provision(ctx, program)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := svc.Deactivate(ctx, program); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	again, err := svc.Provision(ctx, program)
	if err != nil {
		t.Fatalf("Provision after deactivate: %v", err)
	}
	if again.ID != first.ID || !again.Active || again.Path != "Target_Discovery" {
		t.Errorf("again = %+v", again)
	}
	if store.count() != 1 || store.updates != 1 {
		t.Errorf("records = %d, updates = %d", store.count(), store.updates)
	}
}

func TestMemStoreRejectsDuplicateOwner(t *testing.T) {
	store := newMemStore()
	ref := &models.FileStoreFolder{OwnerKind: models.OwnerStudy, OwnerID: 7, Path: "a", Name: "a", Active: true}
	if err := store.Insert(context.Background(), ref); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	dup := *ref
	dup.ID = ""
	if err := store.Insert(context.Background(), &dup); !errors.Is(err, errDuplicateOwner) {
		t.Errorf("err = %v, want duplicate", err)
	}
}

func TestProvisionFailureLeavesNoRecord(t *testing.T) {
	registry, err := storage.NewRegistry([]*models.FileStorageLocation{
		{ID: 2, Name: "tenant", Type: models.LocationEnterpriseSync, RootAddress: "https://acme.example.com", DefaultForStudies: true, Active: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	lookup, err := storage.NewLookup(downAdapter{})
	if err != nil {
		t.Fatalf("NewLookup: %v", err)
	}
	store := newMemStore()
	svc := NewService(registry, lookup, store, store)
	_, study := fixtures()

	_, err = svc.Provision(context.Background(), study)
	if !errors.Is(err, storage.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	if store.count() != 0 {
		t.Errorf("records = %d, want 0", store.count())
	}
}

func TestProvisionWithoutDefaultLocation(t *testing.T) {
	registry, _ := storage.NewRegistry(nil)
	lookup, _ := storage.NewLookup(storage.NewLocalAdapter())
	store := newMemStore()
	svc := NewService(registry, lookup, store, store)
	program, _ := fixtures()

	if _, err := svc.Provision(context.Background(), program); !errors.Is(err, storage.ErrNoDefaultLocation) {
		t.Fatalf("err = %v, want ErrNoDefaultLocation", err)
	}
}

func TestRepairIsIdempotent(t *testing.T) {
	svc, store, _ := newLocalService(t)
	_, study := fixtures()
	ctx := context.Background()

	if _, err := svc.Provision(ctx, study); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	first, err := svc.Repair(ctx, study)
	if err != nil {
		t.Fatalf("first Repair: %v", err)
	}
	second, err := svc.Repair(ctx, study)
	if err != nil {
		t.Fatalf("second Repair: %v", err)
	}
	if *first != *second {
		t.Errorf("repair changed state:\n%+v\n%+v", first, second)
	}
	if store.updates != 0 {
		t.Errorf("updates = %d, want 0", store.updates)
	}
}

func TestRepairRecreatesMissingFolder(t *testing.T) {
	svc, _, root := newLocalService(t)
	_, study := fixtures()
	ctx := context.Background()

	ref, err := svc.Provision(ctx, study)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	dir := filepath.Join(root, filepath.FromSlash(ref.Path))
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	repaired, err := svc.Repair(ctx, study)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if repaired.Path != ref.Path {
		t.Errorf("path = %q, want %q", repaired.Path, ref.Path)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("folder not recreated: %v", err)
	}
}

func TestRepairOverwritesStaleReference(t *testing.T) {
	svc, store, _ := newLocalService(t)
	program, _ := fixtures()
	ctx := context.Background()

	if _, err := svc.Provision(ctx, program); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	stale, _ := store.FindByOwner(ctx, models.OwnerProgram, program.ID)
	stale.Path, stale.Name = "Old_Name", "Old_Name"
	store.put(*stale)

	repaired, err := svc.Repair(ctx, program)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if repaired.Path != "Target_Discovery" || repaired.Name != "Target_Discovery" || repaired.ID != stale.ID {
		t.Errorf("repaired = %+v", repaired)
	}
	if store.updates != 1 {
		t.Errorf("updates = %d, want 1", store.updates)
	}
}

func TestRepairWithoutRecordInserts(t *testing.T) {
	svc, store, _ := newLocalService(t)
	program, _ := fixtures()

	ref, err := svc.Repair(context.Background(), program)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if ref.Path != "Target_Discovery" || store.count() != 1 {
		t.Errorf("ref = %+v, records = %d", ref, store.count())
	}
}

func TestRepairFailureKeepsPriorReference(t *testing.T) {
	registry, _ := storage.NewRegistry([]*models.FileStorageLocation{
		{ID: 2, Name: "tenant", Type: models.LocationEnterpriseSync, RootAddress: "https://acme.example.com", DefaultForStudies: true, Active: true},
	})
	lookup, _ := storage.NewLookup(downAdapter{})
	store := newMemStore()
	program, _ := fixtures()
	prior := models.FileStoreFolder{ID: "ref-1", LocationID: 2, OwnerKind: models.OwnerProgram, OwnerID: program.ID,
		Path: "/Shared/Target_Discovery", Name: "Target_Discovery", Active: true}
	store.put(prior)

	svc := NewService(registry, lookup, store, store)
	if _, err := svc.Repair(context.Background(), program); !errors.Is(err, storage.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	got, _ := store.FindByOwner(context.Background(), models.OwnerProgram, program.ID)
	if *got != prior {
		t.Errorf("reference changed: %+v", got)
	}
}

func TestBrowseAndDeactivate(t *testing.T) {
	svc, store, _ := newLocalService(t)
	program, study := fixtures()
	ctx := context.Background()

	if _, err := svc.Provision(ctx, study); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	root, err := svc.Browse(ctx, 1, "")
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	if len(root.Subfolders) != 1 || root.Subfolders[0].Name != "Target_Discovery" {
		t.Errorf("root = %+v", root)
	}
	if _, err := svc.Browse(ctx, 99, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown location err = %v", err)
	}

	if err := svc.Deactivate(ctx, study); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	ref, _ := store.FindByOwner(ctx, models.OwnerStudy, study.ID)
	if ref.Active {
		t.Error("reference still active")
	}
	if err := svc.Deactivate(ctx, program); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deactivate unprovisioned program err = %v", err)
	}
}
