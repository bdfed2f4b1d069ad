package s3

import (
	"bytes"
	"context"
	stderr "errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/objectfs/clouddrive/pkg/errors"
	"github.com/objectfs/clouddrive/pkg/types"
)

const delimiter = "/"

// Backend implements types.ObjectStore on S3 compatible storage
type Backend struct {
	client API
	bucket string
	config *Config

	logger    *slog.Logger
	collector types.MetricsCollector
	stats     requestStats
}

var _ types.ObjectStore = (*Backend)(nil)

// Option customizes a Backend
type Option func(*Backend)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithMetrics records every store call on collector
func WithMetrics(collector types.MetricsCollector) Option {
	return func(b *Backend) {
		b.collector = collector
	}
}

// WithAPI replaces the S3 client built from Config
func WithAPI(api API) Option {
	return func(b *Backend) {
		b.client = api
	}
}

// NewBackend creates a new S3 backend instance
func NewBackend(ctx context.Context, bucket string, cfg *Config, opts ...Option) (*Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	backend := &Backend{
		bucket: bucket,
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(backend)
	}
	backend.logger = backend.logger.With("component", "s3-backend", "bucket", bucket)

	if backend.client == nil {
		client, err := NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		backend.client = client
	}

	if !cfg.SkipHealthCheck {
		if err := backend.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("S3 backend health check failed: %w", err)
		}
	}

	backend.logger.Info("S3 backend ready",
		"endpoint", cfg.Endpoint,
		"region", cfg.Region,
		"path_style", cfg.ForcePathStyle)

	return backend, nil
}

// Put stores an object. Unseekable bodies are buffered so the request can be signed and retried.
func (b *Backend) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (err error) {
	start := time.Now()
	defer func() { b.record("put", start, size, err) }()

	if body == nil {
		body = bytes.NewReader(nil)
	}
	if _, seekable := body.(io.ReadSeeker); !seekable {
		data, readErr := io.ReadAll(body)
		if readErr != nil {
			return errors.StorageFailed(readErr, "failed to read upload body for %s", key)
		}
		body = bytes.NewReader(data)
		size = int64(len(data))
	}
	if contentType == "" {
		contentType = detectContentType(key)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	ctx, cancel := b.requestContext(ctx)
	defer cancel()

	if _, err = b.client.PutObject(ctx, input); err != nil {
		return b.translateError(err, "PutObject", key)
	}

	b.stats.addUploaded(size)
	b.logger.Debug("object stored", "key", key, "size", size)
	return nil
}

// Get opens an object for reading. The caller closes the returned body.
func (b *Backend) Get(ctx context.Context, key string) (body io.ReadCloser, err error) {
	start := time.Now()
	var size int64
	defer func() { b.record("get", start, size, err) }()

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, b.translateError(err, "GetObject", key)
	}

	size = aws.ToInt64(result.ContentLength)
	b.stats.addDownloaded(size)
	return result.Body, nil
}

// Stat returns object metadata, or (nil, nil) when the key does not exist
func (b *Backend) Stat(ctx context.Context, key string) (info *types.ObjectInfo, err error) {
	start := time.Now()
	defer func() { b.record("stat", start, 0, err) }()

	ctx, cancel := b.requestContext(ctx)
	defer cancel()

	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, b.translateError(err, "HeadObject", key)
	}

	info = &types.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(result.ContentLength),
		LastModified: aws.ToTime(result.LastModified),
		ETag:         aws.ToString(result.ETag),
		ContentType:  aws.ToString(result.ContentType),
		Metadata:     make(map[string]string, len(result.Metadata)),
	}
	for k, v := range result.Metadata {
		info.Metadata[k] = v
	}

	return info, nil
}

// List returns every key under prefix. Non-recursive listings use the "/" delimiter and
// report each immediate sub-prefix as a zero-size entry.
func (b *Backend) List(ctx context.Context, prefix string, recursive bool) (entries []types.ListingEntry, err error) {
	start := time.Now()
	defer func() { b.record("list", start, 0, err) }()

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}
	if !recursive {
		input.Delimiter = aws.String(delimiter)
	}

	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.translateError(err, "ListObjectsV2", prefix)
		}
		for _, obj := range page.Contents {
			entries = append(entries, types.ListingEntry{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
		for _, cp := range page.CommonPrefixes {
			entries = append(entries, types.ListingEntry{Key: aws.ToString(cp.Prefix)})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Exists asks for a single key under prefix, so its cost does not grow with the size of
// the folder.
func (b *Backend) Exists(ctx context.Context, prefix string) (found bool, err error) {
	start := time.Now()
	defer func() { b.record("exists", start, 0, err) }()

	ctx, cancel := b.requestContext(ctx)
	defer cancel()

	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, b.translateError(err, "ListObjectsV2", prefix)
	}
	return len(out.Contents) > 0, nil
}

// Copy duplicates srcKey to dstKey within the bucket
func (b *Backend) Copy(ctx context.Context, srcKey, dstKey string) (err error) {
	start := time.Now()
	defer func() { b.record("copy", start, 0, err) }()

	ctx, cancel := b.requestContext(ctx)
	defer cancel()

	_, err = b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(b.bucket, srcKey)),
	})
	if err != nil {
		return b.translateError(err, "CopyObject", srcKey)
	}

	b.logger.Debug("object copied", "from", srcKey, "to", dstKey)
	return nil
}

// Remove deletes an object. Removing a missing key succeeds.
func (b *Backend) Remove(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { b.record("remove", start, 0, err) }()

	ctx, cancel := b.requestContext(ctx)
	defer cancel()

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return b.translateError(err, "DeleteObject", key)
	}

	return nil
}

// HealthCheck verifies the backend connection
func (b *Backend) HealthCheck(ctx context.Context) error {
	ctx, cancel := b.requestContext(ctx)
	defer cancel()

	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		return b.translateError(err, "HeadBucket", b.bucket)
	}

	return nil
}

// GetMetrics returns current backend metrics
func (b *Backend) GetMetrics() BackendMetrics {
	return b.stats.snapshot()
}

// Helper methods

func (b *Backend) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, b.config.RequestTimeout)
	}
	return ctx, func() {}
}

func (b *Backend) record(operation string, start time.Time, size int64, err error) {
	duration := time.Since(start)
	b.stats.record(duration, err)

	if b.collector != nil {
		b.collector.RecordOperation("s3_"+operation, duration, size, err == nil)
		if err != nil {
			b.collector.RecordError("s3_"+operation, err)
		}
	}
	if err != nil {
		b.logger.Warn("S3 request failed", "operation", operation, "error", err)
	}
}

func (b *Backend) translateError(err error, operation, key string) error {
	var cause error = err
	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		cause = fmt.Errorf("object not found: %w", err)
	case isErrorType[*s3types.NoSuchBucket](err):
		cause = fmt.Errorf("bucket not found: %s: %w", b.bucket, err)
	}
	return errors.StorageFailed(cause, "%s failed for %s", operation, key).
		WithComponent("s3-backend").
		WithOperation(operation).
		WithContext("bucket", b.bucket).
		WithContext("key", key)
}

// isNotFound recognizes the absent-key responses of HeadObject
func isNotFound(err error) bool {
	if isErrorType[*s3types.NotFound](err) || isErrorType[*s3types.NoSuchKey](err) {
		return true
	}
	var apiErr smithy.APIError
	if stderr.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// copySource builds the x-amz-copy-source value, escaping every key segment
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func detectContentType(key string) string {
	switch {
	case strings.HasSuffix(key, "/"):
		return "application/x-directory"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".xml"):
		return "application/xml"
	case strings.HasSuffix(key, ".html"):
		return "text/html"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain"
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".pdf"):
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderr.As(err, &target)
}
