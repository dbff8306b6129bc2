package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maneesh/studyfolders/internal/metrics"
	"github.com/maneesh/studyfolders/internal/models"
	"go.opentelemetry.io/otel/attribute"
)

const folderContentType = "application/x-directory"

// objectClient is the flat-namespace surface shared by the object store SDKs.
type objectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	// Stat returns an error wrapping ErrNotFound when key is absent.
	Stat(ctx context.Context, bucket, key string) (models.ObjectEntry, error)
	// List returns objects and, when not recursive, the common prefixes under
	// prefix. A positive limit stops the listing early.
	List(ctx context.Context, bucket, prefix string, recursive bool, limit int) ([]models.ObjectEntry, []string, error)
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (models.ObjectEntry, error)
	Remove(ctx context.Context, bucket string, keys []string) error
}

type dialFunc func(ctx context.Context, settings models.Settings, creds models.Credentials) (objectClient, error)

// ObjectOptions configures the object store adapters.
type ObjectOptions struct {
	Credentials CredentialSource
	Timeout     time.Duration
	CacheSize   int
}

// objectAdapter implements Adapter over any objectClient. Folders are common key
// prefixes, materialized as zero-byte "prefix/" placeholder objects.
type objectAdapter struct {
	backend models.LocationType
	creds   CredentialSource
	timeout time.Duration
	clients *lru.Cache[string, objectClient]
	dial    dialFunc
}

func newObjectAdapter(backend models.LocationType, opts ObjectOptions, dial dialFunc) (*objectAdapter, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = 32
	}
	clients, err := lru.NewWithEvict[string, objectClient](size, func(string, objectClient) {
		metrics.RecordClientEviction(string(backend))
	})
	if err != nil {
		return nil, fmt.Errorf("create client cache: %w", err)
	}
	return &objectAdapter{
		backend: backend,
		creds:   opts.Credentials,
		timeout: opts.Timeout,
		clients: clients,
		dial:    dial,
	}, nil
}

func (a *objectAdapter) Type() models.LocationType { return a.backend }

// ParseObjectRoot splits "bucket", "bucket/base" or "s3://bucket/base" into its
// bucket and base prefix.
func ParseObjectRoot(root string) (bucket, base string, err error) {
	r := strings.TrimSpace(root)
	r = strings.TrimPrefix(r, "s3://")
	segments := models.SplitPath(r)
	if len(segments) == 0 {
		return "", "", fmt.Errorf("root address %q names no bucket", root)
	}
	return segments[0], models.JoinPath(segments[1:]...), nil
}

type objectTarget struct {
	client objectClient
	bucket string
	base   string
}

// target resolves the cached client and addressing for loc. Clients are keyed by
// location id and update time so an edited location gets a fresh handle.
func (a *objectAdapter) target(ctx context.Context, loc *models.FileStorageLocation) (*objectTarget, error) {
	bucket, base, err := ParseObjectRoot(loc.RootAddress)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%d/%d", loc.ID, loc.UpdatedAt.UnixNano())
	if client, ok := a.clients.Get(key); ok {
		return &objectTarget{client: client, bucket: bucket, base: base}, nil
	}

	settings, err := loc.Settings()
	if err != nil {
		return nil, err
	}
	var creds models.Credentials
	if a.creds != nil {
		if creds, err = a.creds.Resolve(loc.CredentialRef); err != nil {
			return nil, err
		}
	}
	client, err := a.dial(ctx, settings, creds)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	a.clients.Add(key, client)
	return &objectTarget{client: client, bucket: bucket, base: base}, nil
}

// within rejects keys outside the location's base prefix.
func (t *objectTarget) within(p string) error {
	if t.base == "" || strings.HasPrefix(models.AsPrefix(p), models.AsPrefix(t.base)) {
		return nil
	}
	return fmt.Errorf("path %q is outside the location root %q", p, t.base)
}

func (a *objectAdapter) prepare(ctx context.Context, loc *models.FileStorageLocation) (context.Context, context.CancelFunc, *objectTarget, error) {
	ctx, cancel, err := withTimeout(ctx, loc, a.timeout)
	if err != nil {
		return ctx, cancel, nil, err
	}
	t, err := a.target(ctx, loc)
	if err != nil {
		return ctx, cancel, nil, err
	}
	return ctx, cancel, t, nil
}

func (a *objectAdapter) CreateFolder(ctx context.Context, loc *models.FileStorageLocation, owner models.FolderOwner) (_ *models.StorageFolder, err error) {
	ctx, op := begin(ctx, a.backend, "create_folder", locationAttrs(loc)...)
	defer op.end(&err)

	ctx, cancel, t, err := a.prepare(ctx, loc)
	defer cancel()
	if err != nil {
		return nil, storageErr(a.backend, "create_folder", "", err)
	}
	folderPath := models.JoinPath(owner.Segments...)
	if folderPath == "" {
		return nil, storageErr(a.backend, "create_folder", "", errors.New("owner has no folder name"))
	}
	prefix := models.AsPrefix(models.JoinPath(t.base, folderPath))
	op.span.SetAttributes(attribute.String("bucket", t.bucket), attribute.String("prefix", prefix))

	exists, err := t.client.BucketExists(ctx, t.bucket)
	if err != nil {
		return nil, storageErr(a.backend, "create_folder", prefix, err)
	}
	if !exists {
		return nil, storageErr(a.backend, "create_folder", prefix, fmt.Errorf("bucket %q does not exist", t.bucket))
	}

	// A plain object at the folder key or any ancestor key would shadow the prefix.
	var walk []string
	for _, seg := range models.SplitPath(folderPath) {
		walk = append(walk, seg)
		key := models.JoinPath(t.base, models.JoinPath(walk...))
		_, statErr := t.client.Stat(ctx, t.bucket, key)
		if statErr == nil {
			return nil, storageErr(a.backend, "create_folder", prefix, fmt.Errorf("object %q collides with folder", key))
		}
		if !errors.Is(statErr, ErrNotFound) {
			return nil, storageErr(a.backend, "create_folder", prefix, statErr)
		}
	}

	entry, err := t.client.Put(ctx, t.bucket, prefix, bytes.NewReader(nil), 0, folderContentType)
	if err != nil {
		return nil, storageErr(a.backend, "create_folder", prefix, err)
	}
	if entry.Key == "" {
		entry.Key = prefix
	}
	folder := models.FolderFromObject(entry)
	folder.Parent = a.parent(t, prefix)
	return folder, nil
}

func (a *objectAdapter) FindFolder(ctx context.Context, loc *models.FileStorageLocation, owner models.FolderOwner) (_ *models.StorageFolder, err error) {
	ctx, op := begin(ctx, a.backend, "find_folder", locationAttrs(loc)...)
	defer op.end(&err)

	ctx, cancel, t, err := a.prepare(ctx, loc)
	defer cancel()
	if err != nil {
		return nil, storageErr(a.backend, "find_folder", "", err)
	}
	prefix := models.AsPrefix(models.JoinPath(t.base, models.JoinPath(owner.Segments...)))
	op.span.SetAttributes(attribute.String("bucket", t.bucket), attribute.String("prefix", prefix))

	objects, prefixes, err := t.client.List(ctx, t.bucket, prefix, true, 1)
	if err != nil {
		return nil, storageErr(a.backend, "find_folder", prefix, err)
	}
	if len(objects) == 0 && len(prefixes) == 0 {
		return nil, notFound(a.backend, "find_folder", prefix)
	}
	folder := models.NewStorageFolder(prefix)
	folder.Parent = a.parent(t, prefix)
	if len(objects) > 0 && objects[0].Key == prefix {
		folder.LastModified = models.TimePtr(objects[0].LastModified)
	}
	return folder, nil
}

// ListFolder lists one level under the bucket key path. An empty path lists the
// location's base prefix; paths outside it are rejected.
func (a *objectAdapter) ListFolder(ctx context.Context, loc *models.FileStorageLocation, path string) (_ *models.StorageFolder, err error) {
	ctx, op := begin(ctx, a.backend, "list_folder", locationAttrs(loc)...)
	defer op.end(&err)

	ctx, cancel, t, err := a.prepare(ctx, loc)
	defer cancel()
	if err != nil {
		return nil, storageErr(a.backend, "list_folder", path, err)
	}
	prefix := models.AsPrefix(path)
	if prefix == "" {
		prefix = models.AsPrefix(t.base)
	}
	if err := t.within(prefix); err != nil {
		return nil, storageErr(a.backend, "list_folder", path, err)
	}
	op.span.SetAttributes(attribute.String("bucket", t.bucket), attribute.String("prefix", prefix))

	objects, prefixes, err := t.client.List(ctx, t.bucket, prefix, false, 0)
	if err != nil {
		return nil, storageErr(a.backend, "list_folder", prefix, err)
	}
	if prefix != "" && len(objects) == 0 && len(prefixes) == 0 {
		return nil, notFound(a.backend, "list_folder", prefix)
	}
	op.span.SetAttributes(attribute.Int("object_count", len(objects)), attribute.Int("prefix_count", len(prefixes)))

	folder := models.BuildFolderWithContents(prefix, objects, prefixes)
	folder.Parent = a.parent(t, prefix)
	return folder, nil
}

// parent hides the parent of the location's base folder.
func (a *objectAdapter) parent(t *objectTarget, prefix string) *models.FolderRef {
	if models.ComparePaths(prefix, t.base) {
		return nil
	}
	return models.DeriveParent(prefix)
}

func (a *objectAdapter) SaveFile(ctx context.Context, loc *models.FileStorageLocation, folderPath, localFile string) (_ *models.StorageFile, err error) {
	ctx, op := begin(ctx, a.backend, "save_file", locationAttrs(loc)...)
	defer op.end(&err)

	ctx, cancel, t, err := a.prepare(ctx, loc)
	defer cancel()
	if err != nil {
		return nil, storageErr(a.backend, "save_file", folderPath, err)
	}
	prefix := models.AsPrefix(folderPath)
	if prefix == "" {
		prefix = models.AsPrefix(t.base)
	}
	if err := t.within(prefix); err != nil {
		return nil, storageErr(a.backend, "save_file", folderPath, err)
	}
	key := prefix + filepath.Base(localFile)
	op.span.SetAttributes(attribute.String("bucket", t.bucket), attribute.String("key", key))

	f, err := os.Open(localFile)
	if err != nil {
		return nil, storageErr(a.backend, "save_file", key, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, storageErr(a.backend, "save_file", key, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(localFile))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	// A single PUT is atomic: readers see the old object or the complete new one.
	entry, err := t.client.Put(ctx, t.bucket, key, f, info.Size(), contentType)
	if err != nil {
		return nil, storageErr(a.backend, "save_file", key, err)
	}
	if entry.Key == "" {
		entry.Key = key
	}
	if entry.Size == 0 {
		entry.Size = info.Size()
	}
	op.span.SetAttributes(attribute.Int64("size_bytes", entry.Size))
	return models.FileFromObject(entry), nil
}

// Delete removes the object at path, or every object under it when path names a folder.
func (a *objectAdapter) Delete(ctx context.Context, loc *models.FileStorageLocation, path string) (err error) {
	ctx, op := begin(ctx, a.backend, "delete", locationAttrs(loc)...)
	defer op.end(&err)

	ctx, cancel, t, err := a.prepare(ctx, loc)
	defer cancel()
	if err != nil {
		return storageErr(a.backend, "delete", path, err)
	}
	key := models.NormalizePath(path)
	if key == "" || models.ComparePaths(key, t.base) {
		return storageErr(a.backend, "delete", path, errors.New("refusing to delete the location root"))
	}
	if err := t.within(key); err != nil {
		return storageErr(a.backend, "delete", path, err)
	}
	op.span.SetAttributes(attribute.String("bucket", t.bucket), attribute.String("key", key))

	if !strings.HasSuffix(path, models.Separator) {
		_, statErr := t.client.Stat(ctx, t.bucket, key)
		if statErr == nil {
			if err := t.client.Remove(ctx, t.bucket, []string{key}); err != nil {
				return storageErr(a.backend, "delete", key, err)
			}
			return nil
		}
		if !errors.Is(statErr, ErrNotFound) {
			return storageErr(a.backend, "delete", key, statErr)
		}
	}

	objects, _, err := t.client.List(ctx, t.bucket, models.AsPrefix(key), true, 0)
	if err != nil {
		return storageErr(a.backend, "delete", key, err)
	}
	if len(objects) == 0 {
		return notFound(a.backend, "delete", key)
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	op.span.SetAttributes(attribute.Int("object_count", len(keys)))
	if err := t.client.Remove(ctx, t.bucket, keys); err != nil {
		return storageErr(a.backend, "delete", key, err)
	}
	return nil
}
