package naming

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/maneesh/studyfolders/internal/config"
	"github.com/maneesh/studyfolders/internal/models"
)

// fakeCounter returns fixed counts and records the scopes it was asked about.
type fakeCounter struct {
	mu       sync.Mutex
	studies  int
	external int
	assays   int
	scopes   []string
}

func (c *fakeCounter) record(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopes = append(c.scopes, scope)
}

func (c *fakeCounter) CountActiveStudies(_ context.Context, code string) (int, error) {
	c.record(code)
	return c.studies, nil
}

func (c *fakeCounter) CountExternalCodes(_ context.Context, prefix string) (int, error) {
	c.record(prefix)
	return c.external, nil
}

func (c *fakeCounter) CountAssays(_ context.Context, prefix string) (int, error) {
	c.record(prefix)
	return c.assays, nil
}

func testOptions() config.NamingOptions {
	opts := config.DefaultNamingOptions()
	opts.StudyCodeCounterStart = 1000
	opts.StudyCodeMinimumDigits = 4
	return opts
}

func TestConcurrentStudyCodesAreContiguous(t *testing.T) {
	svc := NewService(testOptions(), &fakeCounter{}, NewMemoryReserver())
	program := &models.Program{ID: 1, Code: "PROG", Name: "Program"}

	const n = 5
	codes := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			codes[i], errs[i] = svc.StudyCode(context.Background(), &models.Study{Name: fmt.Sprint(i), Program: program})
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}
	sort.Strings(codes)
	want := []string{"PROG-1000", "PROG-1001", "PROG-1002", "PROG-1003", "PROG-1004"}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}
}

func TestStudyCodeFollowsPersistedCount(t *testing.T) {
	counter := &fakeCounter{studies: 3}
	svc := NewService(testOptions(), counter, nil)
	study := &models.Study{Program: &models.Program{Code: "PROG"}}

	code, err := svc.StudyCode(context.Background(), study)
	if err != nil {
		t.Fatalf("StudyCode: %v", err)
	}
	if code != "PROG-1003" {
		t.Errorf("code = %q, want PROG-1003", code)
	}

	// The reservation stays ahead of a count that has not caught up yet.
	code, err = svc.StudyCode(context.Background(), study)
	if err != nil {
		t.Fatalf("StudyCode: %v", err)
	}
	if code != "PROG-1004" {
		t.Errorf("code = %q, want PROG-1004", code)
	}
}

func TestStudyCodeRejectsLegacy(t *testing.T) {
	svc := NewService(testOptions(), &fakeCounter{}, nil)
	_, err := svc.StudyCode(context.Background(), &models.Study{Legacy: true, Program: &models.Program{Code: "PROG"}})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestExternalStudyCode(t *testing.T) {
	counter := &fakeCounter{external: 2}
	svc := NewService(config.DefaultNamingOptions(), counter, nil)

	code, err := svc.ExternalStudyCode(context.Background(), &models.Study{Collaborator: &models.Collaborator{Code: "CPA"}})
	if err != nil {
		t.Fatalf("ExternalStudyCode: %v", err)
	}
	if code != "CPA-00003" {
		t.Errorf("code = %q, want CPA-00003", code)
	}
	if counter.scopes[0] != "CPA-" {
		t.Errorf("counted prefix %q, want CPA-", counter.scopes[0])
	}

	if _, err := svc.ExternalStudyCode(context.Background(), &models.Study{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("missing collaborator err = %v, want ErrInvalidState", err)
	}
}

func TestAssayCodeCountsProgramPrefix(t *testing.T) {
	counter := &fakeCounter{assays: 4}
	svc := NewService(config.DefaultNamingOptions(), counter, nil)

	code, err := svc.AssayCode(context.Background(), &models.Assay{Study: &models.Study{Code: "PROG-10001"}})
	if err != nil {
		t.Fatalf("AssayCode: %v", err)
	}
	if code != "PROG-10001-005" {
		t.Errorf("code = %q, want PROG-10001-005", code)
	}
	if counter.scopes[0] != "PROG-" {
		t.Errorf("counted prefix %q, want PROG-", counter.scopes[0])
	}

	if _, err := svc.AssayCode(context.Background(), &models.Assay{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("missing study err = %v, want ErrInvalidState", err)
	}
}

func TestAssignStudyCodeRetriesDuplicate(t *testing.T) {
	svc := NewService(testOptions(), &fakeCounter{}, nil)
	study := &models.Study{Program: &models.Program{Code: "PROG"}}

	var tried []string
	err := svc.AssignStudyCode(context.Background(), study, func(_ context.Context, s *models.Study) error {
		tried = append(tried, s.Code)
		if len(tried) == 1 {
			return fmt.Errorf("insert: %w", ErrDuplicateCode)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AssignStudyCode: %v", err)
	}
	if len(tried) != 2 || tried[0] != "PROG-1000" || tried[1] != "PROG-1001" {
		t.Errorf("tried = %v", tried)
	}
	if study.Code != "PROG-1001" {
		t.Errorf("study code = %q", study.Code)
	}
}

func TestWithCodeRetryGivesUp(t *testing.T) {
	calls := 0
	err := WithCodeRetry(context.Background(), "study", 2, func(context.Context) error {
		calls++
		return ErrDuplicateCode
	})
	if !errors.Is(err, ErrDuplicateCode) || calls != 2 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}

	boom := errors.New("boom")
	calls = 0
	err = WithCodeRetry(context.Background(), "study", 3, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("non-duplicate error retried: err = %v, calls = %d", err, calls)
	}
}

func TestMemoryReserverScopesAreIndependent(t *testing.T) {
	r := NewMemoryReserver()
	ctx := context.Background()
	a, _ := r.Reserve(ctx, "study:A", 10)
	b, _ := r.Reserve(ctx, "study:B", 10)
	a2, _ := r.Reserve(ctx, "study:A", 10)
	a3, _ := r.Reserve(ctx, "study:A", 50)
	if a != 10 || b != 10 || a2 != 11 || a3 != 50 {
		t.Errorf("got %d %d %d %d", a, b, a2, a3)
	}
}
