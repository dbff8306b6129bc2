package naming

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/maneesh/studyfolders/internal/config"
	"github.com/maneesh/studyfolders/internal/logging"
	"github.com/maneesh/studyfolders/internal/metrics"
	"github.com/maneesh/studyfolders/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrInvalidState reports a naming precondition the caller violated.
	ErrInvalidState = errors.New("naming: invalid state")
	// ErrDuplicateCode reports a code another creation already persisted.
	ErrDuplicateCode = errors.New("naming: duplicate code")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// DefaultCodeAttempts bounds WithCodeRetry.
const DefaultCodeAttempts = 3

// Counter reports live counts of existing entities per code scope.
type Counter interface {
	// CountActiveStudies counts active studies of every program with programCode.
	CountActiveStudies(ctx context.Context, programCode string) (int, error)
	CountExternalCodes(ctx context.Context, prefix string) (int, error)
	CountAssays(ctx context.Context, prefix string) (int, error)
}

// Reserver turns an observed next number into an issued one. It returns
// max(observed, last issued + 1) for the scope and records the result, atomically.
type Reserver interface {
	Reserve(ctx context.Context, scope string, observed int) (int, error)
}

// Service issues sequential codes.
type Service struct {
	opts     config.NamingOptions
	counter  Counter
	reserver Reserver
}

// NewService creates a code service. A nil reserver serializes in-process only.
func NewService(opts config.NamingOptions, counter Counter, reserver Reserver) *Service {
	if reserver == nil {
		reserver = NewMemoryReserver()
	}
	return &Service{opts: opts, counter: counter, reserver: reserver}
}

func format(prefix string, n, digits int) string {
	return fmt.Sprintf("%s-%0*d", prefix, digits, n)
}

func (s *Service) issue(ctx context.Context, scope string, observed int) (int, error) {
	n, err := s.reserver.Reserve(ctx, scope, observed)
	if err != nil {
		return 0, fmt.Errorf("reserve %s: %w", scope, err)
	}
	metrics.RecordCodeIssued(strings.SplitN(scope, ":", 2)[0])
	return n, nil
}

// StudyCode returns "<program code>-<start + active studies>", zero padded.
func (s *Service) StudyCode(ctx context.Context, study *models.Study) (string, error) {
	if study.Legacy {
		return "", invalid("legacy studies do not receive new study codes")
	}
	if study.Program == nil || study.Program.Code == "" {
		return "", invalid("study has no program code")
	}
	code := study.Program.Code
	count, err := s.counter.CountActiveStudies(ctx, code)
	if err != nil {
		return "", err
	}
	n, err := s.issue(ctx, "study:"+code, s.opts.StudyCodeCounterStart+count)
	if err != nil {
		return "", err
	}
	return format(code, n, s.opts.StudyCodeMinimumDigits), nil
}

// ExternalStudyCode returns "<collaborator code>-<start + existing external codes>".
func (s *Service) ExternalStudyCode(ctx context.Context, study *models.Study) (string, error) {
	if study.Collaborator == nil || study.Collaborator.Code == "" {
		return "", invalid("external studies require a collaborator")
	}
	code := study.Collaborator.Code
	count, err := s.counter.CountExternalCodes(ctx, code+"-")
	if err != nil {
		return "", err
	}
	n, err := s.issue(ctx, "external:"+code, s.opts.ExternalStudyCodeCounterStart+count)
	if err != nil {
		return "", err
	}
	return format(code, n, s.opts.ExternalStudyCodeMinimumDigits), nil
}

// AssayCode returns "<study code>-<start + assays under the program prefix>". The
// counter spans every study sharing the study code's leading segment.
func (s *Service) AssayCode(ctx context.Context, assay *models.Assay) (string, error) {
	if assay.Study == nil || assay.Study.Code == "" {
		return "", invalid("assay has no coded study")
	}
	prefix := strings.SplitN(assay.Study.Code, "-", 2)[0] + "-"
	count, err := s.counter.CountAssays(ctx, prefix)
	if err != nil {
		return "", err
	}
	n, err := s.issue(ctx, "assay:"+prefix, s.opts.AssayCodeCounterStart+count)
	if err != nil {
		return "", err
	}
	return format(assay.Study.Code, n, s.opts.AssayCodeMinimumDigits), nil
}

// WithCodeRetry runs fn until it succeeds, fails with an error other than
// ErrDuplicateCode, or attempts run out. fn must issue a fresh code each call.
func WithCodeRetry(ctx context.Context, scope string, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultCodeAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); !errors.Is(err, ErrDuplicateCode) {
			return err
		}
		metrics.RecordCodeConflict(scope)
		logging.WithContext(ctx).Warn("code collision, retrying",
			zap.String("scope", scope), zap.Int("attempt", i+1), zap.Error(err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}

// AssignStudyCode sets study.Code and persists it, retrying on a duplicate code.
// persist should report a unique-key violation as ErrDuplicateCode.
func (s *Service) AssignStudyCode(ctx context.Context, study *models.Study, persist func(context.Context, *models.Study) error) error {
	return WithCodeRetry(ctx, "study", DefaultCodeAttempts, func(ctx context.Context) error {
		code, err := s.StudyCode(ctx, study)
		if err != nil {
			return err
		}
		study.Code = code
		return persist(ctx, study)
	})
}

// AssignExternalStudyCode sets study.ExternalCode and persists it, retrying on a duplicate code.
func (s *Service) AssignExternalStudyCode(ctx context.Context, study *models.Study, persist func(context.Context, *models.Study) error) error {
	return WithCodeRetry(ctx, "external", DefaultCodeAttempts, func(ctx context.Context) error {
		code, err := s.ExternalStudyCode(ctx, study)
		if err != nil {
			return err
		}
		study.ExternalCode = code
		return persist(ctx, study)
	})
}

// AssignAssayCode sets assay.Code and persists it, retrying on a duplicate code.
func (s *Service) AssignAssayCode(ctx context.Context, assay *models.Assay, persist func(context.Context, *models.Assay) error) error {
	return WithCodeRetry(ctx, "assay", DefaultCodeAttempts, func(ctx context.Context) error {
		code, err := s.AssayCode(ctx, assay)
		if err != nil {
			return err
		}
		assay.Code = code
		return persist(ctx, assay)
	})
}
