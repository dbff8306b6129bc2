package models

import "time"

// FolderRef is a lookup-only reference to a folder. It never owns the folder it names.
type FolderRef struct {
	FolderID string `json:"id,omitempty"`
	Path     string `json:"path"`
	Name     string `json:"name"`
}

// StorageFolder is a remote directory node in backend-independent form
type StorageFolder struct {
	FolderID     string           `json:"id,omitempty"`
	Path         string           `json:"path"`
	Name         string           `json:"name"`
	URL          string           `json:"url,omitempty"`
	LastModified *time.Time       `json:"last_modified,omitempty"`
	Files        []*StorageFile   `json:"files"`
	Subfolders   []*StorageFolder `json:"subfolders"`
	Parent       *FolderRef       `json:"parent_folder,omitempty"`
}

// StorageFile is a leaf node
type StorageFile struct {
	FileID       string     `json:"id,omitempty"`
	Path         string     `json:"path"`
	Name         string     `json:"name"`
	URL          string     `json:"url,omitempty"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	Downloadable bool       `json:"downloadable"`
}

// NewStorageFolder returns an empty folder at path with its derived name.
func NewStorageFolder(path string) *StorageFolder {
	return &StorageFolder{
		Path:       path,
		Name:       DeriveName(path),
		Files:      []*StorageFile{},
		Subfolders: []*StorageFolder{},
	}
}

// AddFile appends f unless a file with the same path is already present.
func (f *StorageFolder) AddFile(file *StorageFile) {
	for _, existing := range f.Files {
		if existing.Path == file.Path {
			return
		}
	}
	f.Files = append(f.Files, file)
}

// AddSubfolder appends sub unless a folder with the same normalized path is already present.
func (f *StorageFolder) AddSubfolder(sub *StorageFolder) {
	for _, existing := range f.Subfolders {
		if ComparePaths(existing.Path, sub.Path) {
			return
		}
	}
	f.Subfolders = append(f.Subfolders, sub)
}

// Ref returns a lookup reference to this folder.
func (f *StorageFolder) Ref() *FolderRef {
	return &FolderRef{FolderID: f.FolderID, Path: f.Path, Name: f.Name}
}

// TimePtr is a small helper for the optional LastModified fields.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
