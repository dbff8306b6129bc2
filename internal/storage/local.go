package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/maneesh/studyfolders/internal/models"
	"go.opentelemetry.io/otel/attribute"
)

// LocalAdapter maps folders onto directories under the location's root path.
// Folder paths are root-relative and slash separated.
type LocalAdapter struct{}

// NewLocalAdapter creates the LOCAL adapter.
func NewLocalAdapter() *LocalAdapter {
	return &LocalAdapter{}
}

func (a *LocalAdapter) Type() models.LocationType { return models.LocationLocal }

// root returns the location root, which must be an existing directory.
func (a *LocalAdapter) root(loc *models.FileStorageLocation) (string, error) {
	root := filepath.Clean(loc.RootAddress)
	if loc.RootAddress == "" || !filepath.IsAbs(root) {
		return "", fmt.Errorf("root %q is not an absolute path", loc.RootAddress)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("root unreachable: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("root %q is not a directory", root)
	}
	return root, nil
}

// resolve maps a root-relative slash path to a filesystem path inside root.
func resolve(root, p string) (string, error) {
	for _, seg := range models.SplitPath(p) {
		if seg == "." || seg == ".." {
			return "", fmt.Errorf("path %q escapes the location root", p)
		}
	}
	return filepath.Join(root, filepath.FromSlash(models.NormalizePath(p))), nil
}

func localFolder(p string, info fs.FileInfo) *models.StorageFolder {
	folder := models.NewStorageFolder(p)
	folder.Parent = models.DeriveParent(p)
	if info != nil {
		folder.LastModified = models.TimePtr(info.ModTime().UTC())
	}
	return folder
}

func localFile(p string, info fs.FileInfo) *models.StorageFile {
	return &models.StorageFile{
		Path:         p,
		Name:         models.DeriveName(p),
		Size:         info.Size(),
		LastModified: models.TimePtr(info.ModTime().UTC()),
		Downloadable: true,
	}
}

func (a *LocalAdapter) CreateFolder(ctx context.Context, loc *models.FileStorageLocation, owner models.FolderOwner) (_ *models.StorageFolder, err error) {
	p := models.JoinPath(owner.Segments...)
	_, op := begin(ctx, a.Type(), "create_folder", append(locationAttrs(loc), attribute.String("path", p))...)
	defer op.end(&err)

	if p == "" {
		return nil, storageErr(a.Type(), "create_folder", p, errors.New("owner has no folder name"))
	}
	root, err := a.root(loc)
	if err != nil {
		return nil, storageErr(a.Type(), "create_folder", p, err)
	}
	target, err := resolve(root, p)
	if err != nil {
		return nil, storageErr(a.Type(), "create_folder", p, err)
	}
	if info, statErr := os.Stat(target); statErr == nil && !info.IsDir() {
		return nil, storageErr(a.Type(), "create_folder", p, errors.New("a file occupies the folder path"))
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, storageErr(a.Type(), "create_folder", p, err)
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, storageErr(a.Type(), "create_folder", p, err)
	}
	return localFolder(p, info), nil
}

func (a *LocalAdapter) FindFolder(ctx context.Context, loc *models.FileStorageLocation, owner models.FolderOwner) (_ *models.StorageFolder, err error) {
	p := models.JoinPath(owner.Segments...)
	_, op := begin(ctx, a.Type(), "find_folder", append(locationAttrs(loc), attribute.String("path", p))...)
	defer op.end(&err)

	root, err := a.root(loc)
	if err != nil {
		return nil, storageErr(a.Type(), "find_folder", p, err)
	}
	target, err := resolve(root, p)
	if err != nil {
		return nil, storageErr(a.Type(), "find_folder", p, err)
	}
	info, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, notFound(a.Type(), "find_folder", p)
	}
	if err != nil {
		return nil, storageErr(a.Type(), "find_folder", p, err)
	}
	return localFolder(p, info), nil
}

func (a *LocalAdapter) ListFolder(ctx context.Context, loc *models.FileStorageLocation, p string) (_ *models.StorageFolder, err error) {
	p = models.NormalizePath(p)
	_, op := begin(ctx, a.Type(), "list_folder", append(locationAttrs(loc), attribute.String("path", p))...)
	defer op.end(&err)

	root, err := a.root(loc)
	if err != nil {
		return nil, storageErr(a.Type(), "list_folder", p, err)
	}
	target, err := resolve(root, p)
	if err != nil {
		return nil, storageErr(a.Type(), "list_folder", p, err)
	}
	info, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, notFound(a.Type(), "list_folder", p)
	}
	if err != nil {
		return nil, storageErr(a.Type(), "list_folder", p, err)
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, storageErr(a.Type(), "list_folder", p, err)
	}

	folder := localFolder(p, info)
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		childInfo, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		childPath := models.JoinPath(p, entry.Name())
		if entry.IsDir() {
			sub := localFolder(childPath, childInfo)
			sub.Parent = folder.Ref()
			folder.AddSubfolder(sub)
			continue
		}
		folder.AddFile(localFile(childPath, childInfo))
	}
	return folder, nil
}

const tempPrefix = ".upload-"

func (a *LocalAdapter) SaveFile(ctx context.Context, loc *models.FileStorageLocation, folderPath, src string) (_ *models.StorageFile, err error) {
	name := filepath.Base(src)
	p := models.JoinPath(folderPath, name)
	_, op := begin(ctx, a.Type(), "save_file", append(locationAttrs(loc), attribute.String("path", p))...)
	defer op.end(&err)

	root, err := a.root(loc)
	if err != nil {
		return nil, storageErr(a.Type(), "save_file", p, err)
	}
	dir, err := resolve(root, folderPath)
	if err != nil {
		return nil, storageErr(a.Type(), "save_file", p, err)
	}
	if info, statErr := os.Stat(dir); statErr != nil || !info.IsDir() {
		return nil, notFound(a.Type(), "save_file", folderPath)
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, storageErr(a.Type(), "save_file", p, err)
	}
	defer in.Close()

	dest := filepath.Join(dir, name)
	if err := writeAtomic(dest, in); err != nil {
		return nil, storageErr(a.Type(), "save_file", p, err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return nil, storageErr(a.Type(), "save_file", p, err)
	}
	return localFile(p, info), nil
}

// writeAtomic writes r to a temp file next to dest, syncs it and renames it over dest.
func writeAtomic(dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	committed = true
	return nil
}

func (a *LocalAdapter) Delete(ctx context.Context, loc *models.FileStorageLocation, p string) (err error) {
	p = models.NormalizePath(p)
	_, op := begin(ctx, a.Type(), "delete", append(locationAttrs(loc), attribute.String("path", p))...)
	defer op.end(&err)

	if p == "" {
		return storageErr(a.Type(), "delete", p, errors.New("refusing to delete the location root"))
	}
	root, err := a.root(loc)
	if err != nil {
		return storageErr(a.Type(), "delete", p, err)
	}
	target, err := resolve(root, p)
	if err != nil {
		return storageErr(a.Type(), "delete", p, err)
	}
	if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
		return notFound(a.Type(), "delete", p)
	}
	if err := os.RemoveAll(target); err != nil {
		return storageErr(a.Type(), "delete", p, err)
	}
	return nil
}
