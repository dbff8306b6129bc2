package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/maneesh/studyfolders/internal/chunker"
	"github.com/maneesh/studyfolders/internal/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultRootFolder = "/Shared"
	defaultPageSize   = 100

	fsEndpoint      = "/pubapi/v1/fs"
	contentEndpoint = "/pubapi/v1/fs-content"
	chunkedEndpoint = "/pubapi/v1/fs-content-chunked"

	headerUploadID  = "X-Egnyte-Upload-Id"
	headerChunkNum  = "X-Egnyte-Chunk-Num"
	headerChunkHash = "X-Egnyte-Chunk-Sha256-Checksum"
	headerLastChunk = "X-Egnyte-Last-Chunk"
)

// EnterpriseOptions configures the ENTERPRISE_SYNC adapter.
type EnterpriseOptions struct {
	Credentials CredentialSource
	Timeout     time.Duration
	// HTTPClient defaults to a client with an OpenTelemetry transport.
	HTTPClient *http.Client
}

// EnterpriseAdapter talks to a file-sync tenant's public REST API. The location
// root address is the tenant URL; folders live under the configured root folder.
type EnterpriseAdapter struct {
	creds   CredentialSource
	timeout time.Duration
	client  *http.Client
}

// NewEnterpriseAdapter creates the ENTERPRISE_SYNC adapter.
func NewEnterpriseAdapter(opts EnterpriseOptions) *EnterpriseAdapter {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &EnterpriseAdapter{creds: opts.Credentials, timeout: opts.Timeout, client: client}
}

func (a *EnterpriseAdapter) Type() models.LocationType { return models.LocationEnterpriseSync }

// entEntry is a file or folder as returned by the fs endpoint.
type entEntry struct {
	IsFolder     bool       `json:"is_folder"`
	Name         string     `json:"name"`
	Path         string     `json:"path"`
	FolderID     string     `json:"folder_id"`
	ParentID     string     `json:"parent_id"`
	EntryID      string     `json:"entry_id"`
	URL          string     `json:"url"`
	Size         int64      `json:"size"`
	LastModified string     `json:"last_modified"`
	Folders      []entEntry `json:"folders"`
	Files        []entEntry `json:"files"`
	TotalCount   int        `json:"total_count"`
}

type entUploadResult struct {
	EntryID  string `json:"entry_id"`
	Checksum string `json:"checksum"`
}

// tenant is the per-call view of a location.
type tenant struct {
	root       string
	rootFolder string
	pageSize   int
	chunkSize  int64
	token      string
}

func (a *EnterpriseAdapter) tenant(loc *models.FileStorageLocation) (*tenant, error) {
	u, err := url.Parse(strings.TrimSpace(loc.RootAddress))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("root address %q is not a tenant URL", loc.RootAddress)
	}
	settings, err := loc.Settings()
	if err != nil {
		return nil, err
	}
	t := &tenant{
		root:       strings.TrimSuffix(u.String(), "/"),
		rootFolder: rooted(settings.RootFolder),
		pageSize:   settings.PageSize,
		chunkSize:  int64(settings.ChunkSizeMB) << 20,
	}
	if t.rootFolder == "/" {
		t.rootFolder = defaultRootFolder
	}
	if t.pageSize <= 0 {
		t.pageSize = defaultPageSize
	}
	if t.chunkSize <= 0 {
		t.chunkSize = chunker.DefaultChunkSize
	}
	if a.creds != nil {
		creds, err := a.creds.Resolve(loc.CredentialRef)
		if err != nil {
			return nil, err
		}
		t.token = creds.Token
	}
	return t, nil
}

// rooted normalizes p to the tenant's absolute path form "/a/b".
func rooted(p string) string {
	return models.Separator + models.NormalizePath(p)
}

func escapePath(p string) string {
	segments := strings.Split(p, models.Separator)
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, models.Separator)
}

// folderURL links to a folder view; empty when the folder has no id.
func folderURL(root, folderID string) string {
	if folderID == "" {
		return ""
	}
	return strings.TrimSuffix(root, "/") + "/app/index.do#storage/folder/" + folderID
}

// fileURL links to the view of the folder containing the file.
func fileURL(root, filePath, name string) string {
	dir := strings.TrimSuffix(filePath, models.Separator)
	if name != "" {
		dir = strings.TrimSuffix(dir, models.Separator+name)
	}
	encoded := strings.ReplaceAll(escapePath(dir), "&", "%26")
	return strings.TrimSuffix(root, "/") + "/app/index.do#storage/files/1" + encoded
}

func parseEntTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := http.ParseTime(s); err == nil {
		return models.TimePtr(t.UTC())
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return models.TimePtr(t.UTC())
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return models.TimePtr(time.UnixMilli(ms).UTC())
	}
	return nil
}

func (t *tenant) convertFile(e entEntry) *models.StorageFile {
	name := e.Name
	if name == "" {
		name = models.DeriveName(e.Path)
	}
	f := &models.StorageFile{
		FileID:       e.EntryID,
		Path:         e.Path,
		Name:         name,
		URL:          e.URL,
		Size:         e.Size,
		LastModified: parseEntTime(e.LastModified),
		Downloadable: true,
	}
	if f.URL == "" {
		f.URL = fileURL(t.root, e.Path, name)
	}
	return f
}

func (t *tenant) convertFolder(e entEntry) *models.StorageFolder {
	f := models.NewStorageFolder(e.Path)
	if e.Name != "" {
		f.Name = e.Name
	}
	f.FolderID = e.FolderID
	f.URL = e.URL
	if f.URL == "" {
		f.URL = folderURL(t.root, e.FolderID)
	}
	f.LastModified = parseEntTime(e.LastModified)
	if !models.ComparePaths(e.Path, t.rootFolder) {
		f.Parent = models.DeriveParent(e.Path)
		if f.Parent != nil {
			f.Parent.FolderID = e.ParentID
		}
	}
	return f
}

func (a *EnterpriseAdapter) newRequest(ctx context.Context, t *tenant, method, endpoint, p string, query url.Values, body io.Reader) (*http.Request, error) {
	target := t.root + endpoint + escapePath(rooted(p))
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out. 404 maps to ErrNotFound.
func (a *EnterpriseAdapter) do(req *http.Request, out any) (*http.Response, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp, fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

func (a *EnterpriseAdapter) metadata(ctx context.Context, t *tenant, p string, offset, count int) (*entEntry, error) {
	query := url.Values{}
	query.Set("list_content", strconv.FormatBool(count > 0))
	if count > 0 {
		query.Set("offset", strconv.Itoa(offset))
		query.Set("count", strconv.Itoa(count))
	}
	req, err := a.newRequest(ctx, t, http.MethodGet, fsEndpoint, p, query, nil)
	if err != nil {
		return nil, err
	}
	var entry entEntry
	if _, err := a.do(req, &entry); err != nil {
		return nil, err
	}
	if entry.Path == "" {
		entry.Path = rooted(p)
	}
	return &entry, nil
}

// ensureFolder creates p, accepting an existing folder and rejecting an existing file.
func (a *EnterpriseAdapter) ensureFolder(ctx context.Context, t *tenant, p string) (*entEntry, error) {
	body := bytes.NewBufferString(`{"action":"add_folder"}`)
	req, err := a.newRequest(ctx, t, http.MethodPost, fsEndpoint, p, nil, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var created entEntry
	resp, err := a.do(req, &created)
	if err == nil {
		created.IsFolder = true
		if created.Path == "" {
			created.Path = rooted(p)
		}
		return &created, nil
	}
	if resp == nil || (resp.StatusCode != http.StatusConflict && resp.StatusCode != http.StatusForbidden) {
		return nil, err
	}

	existing, metaErr := a.metadata(ctx, t, p, 0, 0)
	if metaErr != nil {
		return nil, fmt.Errorf("folder create conflict: %w", err)
	}
	if !existing.IsFolder {
		return nil, fmt.Errorf("file %q collides with folder", existing.Path)
	}
	return existing, nil
}

func (a *EnterpriseAdapter) CreateFolder(ctx context.Context, loc *models.FileStorageLocation, owner models.FolderOwner) (_ *models.StorageFolder, err error) {
	ctx, op := begin(ctx, a.Type(), "create_folder", locationAttrs(loc)...)
	defer op.end(&err)

	ctx, cancel, err := withTimeout(ctx, loc, a.timeout)
	defer cancel()
	if err != nil {
		return nil, storageErr(a.Type(), "create_folder", "", err)
	}
	t, err := a.tenant(loc)
	if err != nil {
		return nil, storageErr(a.Type(), "create_folder", "", err)
	}
	if len(models.SplitPath(models.JoinPath(owner.Segments...))) == 0 {
		return nil, storageErr(a.Type(), "create_folder", "", errors.New("owner has no folder name"))
	}
	target := rooted(models.JoinPath(t.rootFolder, models.JoinPath(owner.Segments...)))
	op.span.SetAttributes(attribute.String("path", target))

	if _, err := a.metadata(ctx, t, t.rootFolder, 0, 0); err != nil {
		return nil, storageErr(a.Type(), "create_folder", target, fmt.Errorf("root folder %s unreachable: %v", t.rootFolder, err))
	}

	var entry *entEntry
	walk := t.rootFolder
	for _, seg := range models.SplitPath(models.JoinPath(owner.Segments...)) {
		walk = rooted(models.JoinPath(walk, seg))
		if entry, err = a.ensureFolder(ctx, t, walk); err != nil {
			return nil, storageErr(a.Type(), "create_folder", walk, err)
		}
	}
	return t.convertFolder(*entry), nil
}

func (a *EnterpriseAdapter) FindFolder(ctx context.Context, loc *models.FileStorageLocation, owner models.FolderOwner) (_ *models.StorageFolder, err error) {
	ctx, op := begin(ctx, a.Type(), "find_folder", locationAttrs(loc)...)
	defer op.end(&err)

	ctx, cancel, err := withTimeout(ctx, loc, a.timeout)
	defer cancel()
	if err != nil {
		return nil, storageErr(a.Type(), "find_folder", "", err)
	}
	t, err := a.tenant(loc)
	if err != nil {
		return nil, storageErr(a.Type(), "find_folder", "", err)
	}
	target := rooted(models.JoinPath(t.rootFolder, models.JoinPath(owner.Segments...)))
	op.span.SetAttributes(attribute.String("path", target))

	entry, err := a.metadata(ctx, t, target, 0, 0)
	if errors.Is(err, ErrNotFound) || (err == nil && !entry.IsFolder) {
		return nil, notFound(a.Type(), "find_folder", target)
	}
	if err != nil {
		return nil, storageErr(a.Type(), "find_folder", target, err)
	}
	return t.convertFolder(*entry), nil
}

// ListFolder lists one level of the tenant path, paging through offset/count.
// An empty path lists the root folder.
func (a *EnterpriseAdapter) ListFolder(ctx context.Context, loc *models.FileStorageLocation, path string) (_ *models.StorageFolder, err error) {
	ctx, op := begin(ctx, a.Type(), "list_folder", locationAttrs(loc)...)
	defer op.end(&err)

	ctx, cancel, err := withTimeout(ctx, loc, a.timeout)
	defer cancel()
	if err != nil {
		return nil, storageErr(a.Type(), "list_folder", path, err)
	}
	t, err := a.tenant(loc)
	if err != nil {
		return nil, storageErr(a.Type(), "list_folder", path, err)
	}
	target := rooted(path)
	if target == models.Separator {
		target = t.rootFolder
	}
	op.span.SetAttributes(attribute.String("path", target))

	var folder *models.StorageFolder
	pages := 0
	for offset := 0; ; {
		entry, err := a.metadata(ctx, t, target, offset, t.pageSize)
		if errors.Is(err, ErrNotFound) || (err == nil && !entry.IsFolder) {
			return nil, notFound(a.Type(), "list_folder", target)
		}
		if err != nil {
			return nil, storageErr(a.Type(), "list_folder", target, err)
		}
		pages++
		if folder == nil {
			folder = t.convertFolder(*entry)
		}
		for _, sub := range entry.Folders {
			child := t.convertFolder(sub)
			child.Parent = folder.Ref()
			folder.AddSubfolder(child)
		}
		for _, file := range entry.Files {
			folder.AddFile(t.convertFile(file))
		}
		got := len(entry.Folders) + len(entry.Files)
		offset += got
		if got == 0 || got < t.pageSize || (entry.TotalCount > 0 && offset >= entry.TotalCount) {
			break
		}
	}
	op.span.SetAttributes(attribute.Int("pages", pages))
	return folder, nil
}

func (a *EnterpriseAdapter) SaveFile(ctx context.Context, loc *models.FileStorageLocation, folderPath, localFile string) (_ *models.StorageFile, err error) {
	ctx, op := begin(ctx, a.Type(), "save_file", locationAttrs(loc)...)
	defer op.end(&err)

	ctx, cancel, err := withTimeout(ctx, loc, a.timeout)
	defer cancel()
	if err != nil {
		return nil, storageErr(a.Type(), "save_file", folderPath, err)
	}
	t, err := a.tenant(loc)
	if err != nil {
		return nil, storageErr(a.Type(), "save_file", folderPath, err)
	}
	name := filepath.Base(localFile)
	dest := rooted(models.JoinPath(folderPath, name))
	op.span.SetAttributes(attribute.String("path", dest))

	f, err := os.Open(localFile)
	if err != nil {
		return nil, storageErr(a.Type(), "save_file", dest, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, storageErr(a.Type(), "save_file", dest, err)
	}

	var result *entUploadResult
	if info.Size() > t.chunkSize {
		result, err = a.uploadChunked(ctx, t, dest, f)
	} else {
		result, err = a.upload(ctx, t, dest, f, info.Size())
	}
	if err != nil {
		return nil, storageErr(a.Type(), "save_file", dest, err)
	}
	op.span.SetAttributes(attribute.Int64("size_bytes", info.Size()), attribute.Bool("chunked", info.Size() > t.chunkSize))

	return t.convertFile(entEntry{
		Name:         name,
		Path:         dest,
		EntryID:      result.EntryID,
		Size:         info.Size(),
		LastModified: time.Now().UTC().Format(time.RFC3339),
	}), nil
}

// upload sends the whole file in one request; the tenant commits it atomically.
func (a *EnterpriseAdapter) upload(ctx context.Context, t *tenant, dest string, body io.Reader, size int64) (*entUploadResult, error) {
	req, err := a.newRequest(ctx, t, http.MethodPost, contentEndpoint, dest, nil, body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	var result entUploadResult
	if _, err := a.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// uploadChunked streams the file through the chunked-upload session. The file
// becomes visible only after the last chunk is accepted.
func (a *EnterpriseAdapter) uploadChunked(ctx context.Context, t *tenant, dest string, body io.Reader) (*entUploadResult, error) {
	var uploadID string
	var result entUploadResult
	_, err := chunker.NewChunker(t.chunkSize).Split(body, func(cd *models.ChunkData) error {
		req, err := a.newRequest(ctx, t, http.MethodPost, chunkedEndpoint, dest, nil, bytes.NewReader(cd.Data))
		if err != nil {
			return err
		}
		req.ContentLength = cd.Size
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set(headerChunkNum, strconv.Itoa(cd.OrderIndex+1))
		req.Header.Set(headerChunkHash, cd.Hash)
		if uploadID != "" {
			req.Header.Set(headerUploadID, uploadID)
		}
		var out any
		if cd.Last {
			req.Header.Set(headerLastChunk, "true")
			out = &result
		}
		resp, err := a.do(req, out)
		if err != nil {
			return err
		}
		if uploadID == "" {
			uploadID = resp.Header.Get(headerUploadID)
			if uploadID == "" && !cd.Last {
				return errors.New("chunked upload started without an upload id")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *EnterpriseAdapter) Delete(ctx context.Context, loc *models.FileStorageLocation, path string) (err error) {
	ctx, op := begin(ctx, a.Type(), "delete", locationAttrs(loc)...)
	defer op.end(&err)

	ctx, cancel, err := withTimeout(ctx, loc, a.timeout)
	defer cancel()
	if err != nil {
		return storageErr(a.Type(), "delete", path, err)
	}
	t, err := a.tenant(loc)
	if err != nil {
		return storageErr(a.Type(), "delete", path, err)
	}
	target := rooted(path)
	if target == models.Separator || models.ComparePaths(target, t.rootFolder) {
		return storageErr(a.Type(), "delete", target, errors.New("refusing to delete the root folder"))
	}
	op.span.SetAttributes(attribute.String("path", target))

	req, err := a.newRequest(ctx, t, http.MethodDelete, fsEndpoint, target, nil, nil)
	if err != nil {
		return storageErr(a.Type(), "delete", target, err)
	}
	if _, err := a.do(req, nil); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound(a.Type(), "delete", target)
		}
		return storageErr(a.Type(), "delete", target, err)
	}
	return nil
}
