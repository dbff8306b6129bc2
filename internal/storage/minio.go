package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maneesh/studyfolders/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// MinioAdapter serves OBJECT_STORE locations on any S3-compatible endpoint.
// The location config must carry the endpoint host.
type MinioAdapter struct {
	*objectAdapter
}

// NewMinioAdapter creates the OBJECT_STORE adapter.
func NewMinioAdapter(opts ObjectOptions) (*MinioAdapter, error) {
	a, err := newObjectAdapter(models.LocationObjectStore, opts, dialMinio)
	if err != nil {
		return nil, err
	}
	return &MinioAdapter{objectAdapter: a}, nil
}

// minioClient wraps minio-go calls
type minioClient struct {
	client *minio.Client
}

func dialMinio(_ context.Context, settings models.Settings, creds models.Credentials) (objectClient, error) {
	if settings.Endpoint == "" {
		return nil, fmt.Errorf("object store location has no endpoint")
	}
	client, err := minio.New(settings.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(creds.AccessKey, creds.SecretKey, creds.Token),
		Secure:    settings.UseSSL,
		Region:    settings.Region,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &minioClient{client: client}, nil
}

func (mc *minioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return mc.client.BucketExists(ctx, bucket)
}

func (mc *minioClient) Stat(ctx context.Context, bucket, key string) (models.ObjectEntry, error) {
	info, err := mc.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return models.ObjectEntry{}, fmt.Errorf("stat %s: %w", key, ErrNotFound)
		}
		return models.ObjectEntry{}, fmt.Errorf("failed to stat object: %w", err)
	}
	return models.ObjectEntry{Key: info.Key, ETag: info.ETag, Size: info.Size, LastModified: info.LastModified}, nil
}

func (mc *minioClient) List(ctx context.Context, bucket, prefix string, recursive bool, limit int) ([]models.ObjectEntry, []string, error) {
	// Cancelling stops the listing goroutine when we break early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []models.ObjectEntry
	var prefixes []string
	for obj := range mc.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: recursive}) {
		if obj.Err != nil {
			return nil, nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		// Non-recursive listings report common prefixes as bare keys ending in "/".
		if !recursive && strings.HasSuffix(obj.Key, models.Separator) && obj.Key != prefix {
			prefixes = append(prefixes, obj.Key)
		} else {
			objects = append(objects, models.ObjectEntry{
				Key:          obj.Key,
				ETag:         obj.ETag,
				Size:         obj.Size,
				LastModified: obj.LastModified,
			})
		}
		if limit > 0 && len(objects)+len(prefixes) >= limit {
			break
		}
	}
	return objects, prefixes, nil
}

func (mc *minioClient) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (models.ObjectEntry, error) {
	info, err := mc.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return models.ObjectEntry{}, fmt.Errorf("failed to put object: %w", err)
	}
	modified := info.LastModified
	if modified.IsZero() {
		modified = time.Now().UTC()
	}
	return models.ObjectEntry{Key: info.Key, ETag: info.ETag, Size: info.Size, LastModified: modified}, nil
}

func (mc *minioClient) Remove(ctx context.Context, bucket string, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)

	for rerr := range mc.client.RemoveObjects(ctx, bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			return fmt.Errorf("failed to remove %s: %w", rerr.ObjectName, rerr.Err)
		}
	}
	return nil
}
