// Package naming derives folder and notebook names and issues sequential entity codes.
package naming

import (
	"regexp"

	"github.com/maneesh/studyfolders/internal/models"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.\-]`)

// Sanitize replaces every character outside [A-Za-z0-9.-] with "_".
func Sanitize(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

func ProgramFolderName(p *models.Program) string {
	return Sanitize(p.Name)
}

// StudyFolderName is "<code> - <sanitized name>".
func StudyFolderName(s *models.Study) string {
	return s.Code + " - " + Sanitize(s.Name)
}

func AssayFolderName(a *models.Assay) string {
	return a.Code + " - " + Sanitize(a.Name)
}

func ProgramNotebookName(p *models.Program) string {
	return p.Name
}

// StudyNotebookName is "<code>: <name>", unsanitized.
func StudyNotebookName(s *models.Study) string {
	return s.Code + ": " + s.Name
}

func AssayNotebookName(a *models.Assay) string {
	return a.Code + ": " + a.Name
}

// FolderOwner derives the nested folder address of a program, study or assay:
// studies live in their program's folder and assays in their study's folder.
func FolderOwner(entity any) (models.FolderOwner, error) {
	switch e := entity.(type) {
	case *models.Program:
		if e == nil || e.Name == "" {
			return models.FolderOwner{}, invalid("program has no name")
		}
		return models.FolderOwner{
			Kind:     models.OwnerProgram,
			ID:       e.ID,
			Segments: []string{ProgramFolderName(e)},
		}, nil
	case *models.Study:
		if e == nil || e.Code == "" {
			return models.FolderOwner{}, invalid("study has no code")
		}
		if e.Program == nil {
			return models.FolderOwner{}, invalid("study %s has no program", e.Code)
		}
		parent, err := FolderOwner(e.Program)
		if err != nil {
			return models.FolderOwner{}, err
		}
		return models.FolderOwner{
			Kind:     models.OwnerStudy,
			ID:       e.ID,
			Segments: append(parent.Segments, StudyFolderName(e)),
		}, nil
	case *models.Assay:
		if e == nil || e.Code == "" {
			return models.FolderOwner{}, invalid("assay has no code")
		}
		if e.Study == nil {
			return models.FolderOwner{}, invalid("assay %s has no study", e.Code)
		}
		parent, err := FolderOwner(e.Study)
		if err != nil {
			return models.FolderOwner{}, err
		}
		return models.FolderOwner{
			Kind:     models.OwnerAssay,
			ID:       e.ID,
			Segments: append(parent.Segments, AssayFolderName(e)),
		}, nil
	}
	return models.FolderOwner{}, invalid("cannot derive a folder for %T", entity)
}
