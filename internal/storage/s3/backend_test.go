package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/clouddrive/pkg/errors"
	"github.com/objectfs/clouddrive/pkg/types"
)

// fakeS3 is an in-memory API with S3 listing semantics and small pages
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	failOn   map[string]error
	copies   []string
	listed   []int32
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), pageSize: 2, failOn: make(map[string]error)}
}

func (f *fakeS3) fail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failOn[op]
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := f.fail("put"); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	data, ok := f.objects[aws.ToString(in.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := f.fail("head"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	data, ok := f.objects[aws.ToString(in.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		ETag:          aws.String(`"etag"`),
		Metadata:      map[string]string{"origin": "test"},
	}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	source := aws.ToString(in.CopySource)
	bucketAndKey := strings.SplitN(source, "/", 2)
	srcKey, err := url.PathUnescape(bucketAndKey[1])
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, source)
	data, ok := f.objects[srcKey]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = append([]byte(nil), data...)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 pages over a sorted stream of contents and common prefixes
func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := f.fail("list"); err != nil {
		return nil, err
	}
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	pageSize := f.pageSize
	if in.MaxKeys != nil && int(*in.MaxKeys) < pageSize {
		pageSize = int(*in.MaxKeys)
	}

	type item struct {
		key      string
		size     int64
		isPrefix bool
	}
	seen := make(map[string]bool)
	var items []item

	f.mu.Lock()
	f.listed = append(f.listed, aws.ToInt32(in.MaxKeys))
	for key, data := range f.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if delim != "" {
			if idx := strings.Index(rest, delim); idx >= 0 {
				cp := prefix + rest[:idx+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					items = append(items, item{key: cp, isPrefix: true})
				}
				continue
			}
		}
		items = append(items, item{key: key, size: int64(len(data))})
	}
	f.mu.Unlock()
	sort.Slice(items, func(i, j int) bool { return items[i].key < items[j].key })

	startAt := 0
	if token := aws.ToString(in.ContinuationToken); token != "" {
		startAt, _ = strconv.Atoi(token)
	}
	end := startAt + pageSize
	if end > len(items) {
		end = len(items)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(items))}
	if end < len(items) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	for _, it := range items[startAt:end] {
		if it.isPrefix {
			out.CommonPrefixes = append(out.CommonPrefixes, s3types.CommonPrefix{Prefix: aws.String(it.key)})
		} else {
			out.Contents = append(out.Contents, s3types.Object{Key: aws.String(it.key), Size: aws.Int64(it.size)})
		}
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if err := f.fail("head_bucket"); err != nil {
		return nil, err
	}
	return &s3.HeadBucketOutput{}, nil
}

func newTestBackend(t *testing.T) (*Backend, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	backend, err := NewBackend(context.Background(), "drive", &Config{Region: "us-east-1"}, WithAPI(fake))
	require.NoError(t, err)
	return backend, fake
}

func seed(t *testing.T, b *Backend, keys ...string) {
	t.Helper()
	for _, key := range keys {
		body := []byte("content of " + key)
		if strings.HasSuffix(key, "/") {
			body = nil
		}
		require.NoError(t, b.Put(context.Background(), key, bytes.NewReader(body), int64(len(body)), ""))
	}
}

func TestNewBackend_EmptyBucket(t *testing.T) {
	backend, err := NewBackend(context.Background(), "", &Config{Region: "us-east-1"})
	assert.Error(t, err)
	assert.Nil(t, backend)
	assert.Contains(t, err.Error(), "bucket name cannot be empty")
}

func TestNewBackend_HealthCheckFailure(t *testing.T) {
	fake := newFakeS3()
	fake.failOn["head_bucket"] = &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "missing"}

	_, err := NewBackend(context.Background(), "drive", nil, WithAPI(fake))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")

	_, err = NewBackend(context.Background(), "drive", &Config{SkipHealthCheck: true}, WithAPI(fake))
	assert.NoError(t, err)
}

func TestBackend_PutGetStat(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)

	require.NoError(t, b.Put(ctx, "tenant-1-files/a.txt", strings.NewReader("hello"), 5, "text/plain"))

	info, err := b.Stat(ctx, "tenant-1-files/a.txt")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "test", info.Metadata["origin"])

	rc, err := b.Get(ctx, "tenant-1-files/a.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	metrics := b.GetMetrics()
	assert.Equal(t, int64(5), metrics.BytesUploaded)
	assert.Equal(t, int64(5), metrics.BytesDownloaded)
	assert.Equal(t, int64(3), metrics.Requests)
}

func TestBackend_PutUnseekableBody(t *testing.T) {
	ctx := context.Background()
	b, fake := newTestBackend(t)

	body := io.MultiReader(strings.NewReader("ab"), strings.NewReader("cd"))
	require.NoError(t, b.Put(ctx, "k", body, -1, ""))
	assert.Equal(t, "abcd", string(fake.objects["k"]))
}

func TestBackend_StatMissing(t *testing.T) {
	ctx := context.Background()
	b, fake := newTestBackend(t)

	info, err := b.Stat(ctx, "tenant-1-files/missing.txt")
	assert.NoError(t, err)
	assert.Nil(t, info)

	fake.failOn["head"] = &smithy.GenericAPIError{Code: "NoSuchKey"}
	info, err = b.Stat(ctx, "tenant-1-files/missing.txt")
	assert.NoError(t, err)
	assert.Nil(t, info)

	fake.failOn["head"] = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	_, err = b.Stat(ctx, "tenant-1-files/missing.txt")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeStorageOperation))
}

func TestBackend_List(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)
	seed(t, b,
		"tenant-1-files/",
		"tenant-1-files/a.txt",
		"tenant-1-files/docs/",
		"tenant-1-files/docs/x.txt",
		"tenant-1-files/docs/images/",
		"tenant-1-files/docs/images/y.jpg",
		"tenant-2-files/other.txt",
	)

	keys := func(entries []types.ListingEntry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Key)
		}
		return out
	}

	t.Run("non recursive", func(t *testing.T) {
		entries, err := b.List(ctx, "tenant-1-files/", false)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"tenant-1-files/",
			"tenant-1-files/a.txt",
			"tenant-1-files/docs/",
		}, keys(entries))
	})

	t.Run("recursive across pages", func(t *testing.T) {
		entries, err := b.List(ctx, "tenant-1-files/docs/", true)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"tenant-1-files/docs/",
			"tenant-1-files/docs/images/",
			"tenant-1-files/docs/images/y.jpg",
			"tenant-1-files/docs/x.txt",
		}, keys(entries))
	})

	t.Run("sizes", func(t *testing.T) {
		entries, err := b.List(ctx, "tenant-1-files/a.txt", false)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(len("content of tenant-1-files/a.txt")), entries[0].Size)
	})

	t.Run("empty", func(t *testing.T) {
		entries, err := b.List(ctx, "tenant-3-files/", true)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestBackend_Exists(t *testing.T) {
	ctx := context.Background()
	b, fake := newTestBackend(t)
	seed(t, b,
		"tenant-1-files/",
		"tenant-1-files/docs/a.txt",
		"tenant-1-files/docs/b.txt",
		"tenant-1-files/docs/c.txt",
		"tenant-1-files/docs/d.txt",
		"tenant-1-files/docs/e.txt",
	)
	fake.mu.Lock()
	fake.listed = nil
	fake.mu.Unlock()

	found, err := b.Exists(ctx, "tenant-1-files/docs/")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = b.Exists(ctx, "tenant-3-files/")
	require.NoError(t, err)
	assert.False(t, found)

	// one single-key request per check, however many objects live under the prefix
	assert.Equal(t, []int32{1, 1}, fake.listed)

	fake.failOn["list"] = fmt.Errorf("connection reset")
	_, err = b.Exists(ctx, "tenant-1-files/")
	assert.True(t, errors.HasCode(err, errors.ErrCodeStorageOperation))
}

func TestBackend_ListFailure(t *testing.T) {
	b, fake := newTestBackend(t)
	fake.failOn["list"] = fmt.Errorf("connection reset")

	_, err := b.List(context.Background(), "tenant-1-files/", true)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeStorageOperation))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, int64(1), b.GetMetrics().Errors)
}

func TestBackend_CopyAndRemove(t *testing.T) {
	ctx := context.Background()
	b, fake := newTestBackend(t)
	seed(t, b, "tenant-1-files/my docs/a b+c.txt")

	require.NoError(t, b.Copy(ctx, "tenant-1-files/my docs/a b+c.txt", "tenant-1-files/b.txt"))
	assert.Equal(t, []string{"drive/tenant-1-files/my%20docs/a%20b+c.txt"}, fake.copies)

	info, err := b.Stat(ctx, "tenant-1-files/b.txt")
	require.NoError(t, err)
	require.NotNil(t, info)

	require.NoError(t, b.Remove(ctx, "tenant-1-files/b.txt"))
	require.NoError(t, b.Remove(ctx, "tenant-1-files/b.txt"))
	info, err = b.Stat(ctx, "tenant-1-files/b.txt")
	require.NoError(t, err)
	assert.Nil(t, info)

	err = b.Copy(ctx, "tenant-1-files/none", "tenant-1-files/b.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object not found")
}

func TestCopySource(t *testing.T) {
	assert.Equal(t, "bucket/a/b.txt", copySource("bucket", "a/b.txt"))
	assert.Equal(t, "bucket/dir/", copySource("bucket", "dir/"))
	assert.Equal(t, "bucket/%C3%A9t%C3%A9/r%C3%A9sum%C3%A9.pdf", copySource("bucket", "été/résumé.pdf"))
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"file.json", "application/json"},
		{"file.txt", "text/plain"},
		{"file.jpg", "image/jpeg"},
		{"file.png", "image/png"},
		{"file.pdf", "application/pdf"},
		{"folder/", "application/x-directory"},
		{"file", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.expected, detectContentType(tt.key))
		})
	}
}
