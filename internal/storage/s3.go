package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/maneesh/studyfolders/internal/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// deleteBatch is the DeleteObjects per-request key limit.
const deleteBatch = 1000

// S3Adapter serves AWS_S3 locations through the AWS SDK. Without a credential
// reference the default AWS credential chain is used.
type S3Adapter struct {
	*objectAdapter
}

// NewS3Adapter creates the AWS_S3 adapter.
func NewS3Adapter(opts ObjectOptions) (*S3Adapter, error) {
	a, err := newObjectAdapter(models.LocationAWSS3, opts, dialS3)
	if err != nil {
		return nil, err
	}
	return &S3Adapter{objectAdapter: a}, nil
}

type s3Client struct {
	client *s3.Client
}

func dialS3(ctx context.Context, settings models.Settings, creds models.Credentials) (objectClient, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
	}
	if settings.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(settings.Region))
	}
	if creds.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, creds.Token),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Client{client: client}, nil
}

func isS3NotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

func (c *s3Client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head bucket %s: %w", bucket, err)
}

func (c *s3Client) Stat(ctx context.Context, bucket, key string) (models.ObjectEntry, error) {
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return models.ObjectEntry{}, fmt.Errorf("head object %s: %w", key, ErrNotFound)
		}
		return models.ObjectEntry{}, fmt.Errorf("head object %s: %w", key, err)
	}
	return models.ObjectEntry{
		Key:          key,
		ETag:         aws.ToString(out.ETag),
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (c *s3Client) List(ctx context.Context, bucket, prefix string, recursive bool, limit int) ([]models.ObjectEntry, []string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if !recursive {
		input.Delimiter = aws.String(models.Separator)
	}

	var objects []models.ObjectEntry
	var prefixes []string
	paginator := s3.NewListObjectsV2Paginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, models.ObjectEntry{
				Key:          aws.ToString(obj.Key),
				ETag:         aws.ToString(obj.ETag),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		for _, cp := range page.CommonPrefixes {
			prefixes = append(prefixes, aws.ToString(cp.Prefix))
		}
		if limit > 0 && len(objects)+len(prefixes) >= limit {
			break
		}
	}
	return objects, prefixes, nil
}

func (c *s3Client) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (models.ObjectEntry, error) {
	out, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return models.ObjectEntry{}, fmt.Errorf("put object %s: %w", key, err)
	}
	return models.ObjectEntry{
		Key:          key,
		ETag:         aws.ToString(out.ETag),
		Size:         size,
		LastModified: time.Now().UTC(),
	}, nil
}

func (c *s3Client) Remove(ctx context.Context, bucket string, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
		}
		out, err := c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			return fmt.Errorf("delete %s: %s", aws.ToString(out.Errors[0].Key), aws.ToString(out.Errors[0].Message))
		}
	}
	return nil
}
