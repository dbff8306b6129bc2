package models

import (
	"strings"
	"time"
)

// ObjectEntry is one object returned by a flat-namespace listing
type ObjectEntry struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
}

// FileFromObject converts a listed object into a file node named after the key's last segment.
func FileFromObject(obj ObjectEntry) *StorageFile {
	return &StorageFile{
		FileID:       strings.Trim(obj.ETag, `"`),
		Path:         obj.Key,
		Name:         DeriveName(obj.Key),
		Size:         obj.Size,
		LastModified: TimePtr(obj.LastModified),
		Downloadable: true,
	}
}

// FolderFromObject converts a zero-byte folder placeholder ("a/b/") into a folder node.
// The trailing separator is stripped before naming, so "a/b/" is named "b". Placeholder
// ETags are identical for every empty object, so the folder carries no id.
func FolderFromObject(obj ObjectEntry) *StorageFolder {
	folder := NewStorageFolder(obj.Key)
	folder.LastModified = TimePtr(obj.LastModified)
	return folder
}

// FolderFromPrefix converts a common prefix ("programs/ACME/") into a folder node named "ACME".
func FolderFromPrefix(prefix string) *StorageFolder {
	return NewStorageFolder(prefix)
}

// BuildFolderWithContents merges a flat listing of objects and common prefixes into
// a single folder at path. The folder's own key is skipped, keys ending in a separator
// are placeholders and never become files, and a bare separator prefix (the bucket
// root marker) is discarded.
func BuildFolderWithContents(path string, objects []ObjectEntry, prefixes []string) *StorageFolder {
	folder := NewStorageFolder(path)
	folder.Parent = DeriveParent(path)
	for _, obj := range objects {
		if ComparePaths(obj.Key, path) {
			folder.LastModified = TimePtr(obj.LastModified)
			continue
		}
		if strings.HasSuffix(obj.Key, Separator) {
			continue
		}
		folder.AddFile(FileFromObject(obj))
	}
	for _, prefix := range prefixes {
		if strings.TrimSpace(prefix) == Separator || strings.TrimSpace(prefix) == "" {
			continue
		}
		if ComparePaths(prefix, path) {
			continue
		}
		sub := FolderFromPrefix(prefix)
		sub.Parent = folder.Ref()
		folder.AddSubfolder(sub)
	}
	return folder
}
