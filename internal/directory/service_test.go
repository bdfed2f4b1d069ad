package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/clouddrive/internal/storage/memory"
	"github.com/objectfs/clouddrive/pkg/errors"
	"github.com/objectfs/clouddrive/pkg/types"
	"github.com/objectfs/clouddrive/pkg/utils"
)

const user = int64(7)

type recordingLocker struct {
	mu   sync.Mutex
	keys [][]string
}

func (l *recordingLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, keys)
	return func() {}, nil
}

type recordingCollector struct {
	mu     sync.Mutex
	ops    map[string]int
	failed map[string]int
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{ops: map[string]int{}, failed: map[string]int{}}
}

func (c *recordingCollector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops[operation]++
}

func (c *recordingCollector) RecordError(operation string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed[operation]++
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := NewService(store, utils.NewNamespace(""), opts...)
	require.NoError(t, svc.CreateRoot(context.Background(), user))
	return svc, store
}

func seed(t *testing.T, store *memory.Store, rel ...string) {
	t.Helper()
	for _, p := range rel {
		body := "content of " + p
		if strings.HasSuffix(p, "/") {
			body = ""
		}
		key := utils.NewNamespace("").ToStorageKey(user, p)
		require.NoError(t, store.Put(context.Background(), key, strings.NewReader(body), int64(len(body)), ""))
	}
}

func names(resources []types.Resource) []string {
	out := make([]string, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.FullPath())
	}
	return out
}

func TestService_CreateRoot(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	assert.Equal(t, []string{"tenant-7-files/"}, store.Keys())

	// idempotent
	require.NoError(t, svc.CreateRoot(context.Background(), user))
	assert.Equal(t, 1, store.Len())

	listing, err := svc.List(context.Background(), user, "", types.NonRecursive)
	require.NoError(t, err)
	assert.Empty(t, listing)
}

func TestService_Create(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, WithMaxNameLength(10))
	seed(t, store, "docs/", "report")

	tests := []struct {
		name    string
		path    string
		code    errors.ErrorCode
		wantErr bool
	}{
		{name: "root level", path: "photos/"},
		{name: "nested", path: "docs/2024/"},
		{name: "empty", path: "", code: errors.ErrCodeInvalidPath, wantErr: true},
		{name: "file shaped", path: "notes", code: errors.ErrCodeInvalidPath, wantErr: true},
		{name: "leading slash", path: "/abs/", code: errors.ErrCodeInvalidPath, wantErr: true},
		{name: "double slash", path: "docs//x/", code: errors.ErrCodeInvalidPath, wantErr: true},
		{name: "name too long", path: "docs/abcdefghijk/", code: errors.ErrCodeInvalidPath, wantErr: true},
		{name: "syntax before parent", path: "missing//x/", code: errors.ErrCodeInvalidPath, wantErr: true},
		{name: "missing parent", path: "missing/child/", code: errors.ErrCodeParentNotFound, wantErr: true},
		{name: "existing folder", path: "docs/", code: errors.ErrCodeResourceExists, wantErr: true},
		{name: "file with same stem", path: "report/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := store.Len()
			res, err := svc.Create(context.Background(), user, tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.code, errors.CodeOf(err))
				assert.Equal(t, before, store.Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, types.ResourceDirectory, res.Type)
			assert.Equal(t, tt.path, res.FullPath())

			info, err := store.Stat(context.Background(), svc.Namespace().ToStorageKey(user, tt.path))
			require.NoError(t, err)
			require.NotNil(t, info)
			assert.Equal(t, int64(0), info.Size)
		})
	}
}

func TestService_CreateUsesLock(t *testing.T) {
	t.Parallel()

	locker := &recordingLocker{}
	svc, _ := newTestService(t, WithLocker(locker))

	_, err := svc.Create(context.Background(), user, "docs/")
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), user, "docs/sub/")
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"tenant-7-files/docs/"},
		{"tenant-7-files/docs/", "tenant-7-files/docs/sub/"},
	}, locker.keys)
}

func TestService_ListFiltersOwnMarker(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	seed(t, store, "docs/", "docs/x.txt", "docs/images/", "docs/images/y.jpg", "docsx.txt")

	tests := []struct {
		name string
		path string
		mode types.TraversalMode
		want []string
	}{
		{name: "root", path: "", mode: types.NonRecursive, want: []string{"docs/", "docsx.txt"}},
		{name: "folder", path: "docs/", mode: types.NonRecursive, want: []string{"docs/images/", "docs/x.txt"}},
		{name: "recursive", path: "docs/", mode: types.Recursive, want: []string{"docs/images/", "docs/images/y.jpg", "docs/x.txt"}},
		{name: "leaf", path: "docs/images/", mode: types.NonRecursive, want: []string{"docs/images/y.jpg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing, err := svc.List(context.Background(), user, tt.path, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(listing))
			for _, r := range listing {
				assert.NotEqual(t, tt.path, r.FullPath())
			}
		})
	}
}

func TestService_ListDescriptors(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	seed(t, store, "docs/", "docs/x.txt", "docs/images/y.jpg")

	listing, err := svc.List(context.Background(), user, "docs/", types.NonRecursive)
	require.NoError(t, err)
	require.Len(t, listing, 2)

	// implicit folder without marker shows up through its common prefix
	assert.Equal(t, types.Resource{Path: "docs/", Name: "images/", Type: types.ResourceDirectory}, listing[0])
	assert.Equal(t, types.Resource{Path: "docs/", Name: "x.txt", Size: int64(len("content of docs/x.txt")), Type: types.ResourceFile}, listing[1])
}

func TestService_ListErrors(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)

	_, err := svc.List(context.Background(), user, "docs", types.NonRecursive)
	assert.Equal(t, errors.ErrCodeInvalidPath, errors.CodeOf(err))

	_, err = svc.List(context.Background(), user, "/docs/", types.NonRecursive)
	assert.Equal(t, errors.ErrCodeInvalidPath, errors.CodeOf(err))

	_, err = svc.List(context.Background(), user, "nothing/", types.NonRecursive)
	assert.Equal(t, errors.ErrCodeDirectoryNotFound, errors.CodeOf(err))

	store.SetFault(func(op, key string) error {
		if op == "list" {
			return fmt.Errorf("connection reset")
		}
		return nil
	})
	_, err = svc.List(context.Background(), user, "", types.NonRecursive)
	assert.Equal(t, errors.ErrCodeStorageOperation, errors.CodeOf(err))
}

func TestService_TenantIsolation(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	seed(t, store, "shared/")
	require.NoError(t, svc.CreateRoot(context.Background(), 8))

	exists, err := svc.PathExists(context.Background(), 8, "shared/")
	require.NoError(t, err)
	assert.False(t, exists)

	listing, err := svc.List(context.Background(), 8, "", types.Recursive)
	require.NoError(t, err)
	assert.Empty(t, listing)
}

func TestService_ResourceExists(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	seed(t, store, "docs/", "docs/a", "docs/b/")

	tests := []struct {
		candidate string
		want      bool
	}{
		{candidate: "docs/a", want: true},
		{candidate: "docs/a/", want: false},
		{candidate: "docs/b/", want: true},
		{candidate: "elsewhere/b/", want: true},
		{candidate: "docs/c", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.candidate, func(t *testing.T) {
			got, err := svc.ResourceExists(context.Background(), user, "docs/", tt.candidate)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_Ensure(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	seed(t, store, "a/b.txt")

	created, err := svc.Ensure(context.Background(), user, "a/")
	require.NoError(t, err)
	assert.False(t, created)

	created, err = svc.Ensure(context.Background(), user, "c/")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, store.Keys(), "tenant-7-files/c/")
}

func TestService_Metrics(t *testing.T) {
	t.Parallel()

	collector := newRecordingCollector()
	svc, _ := newTestService(t, WithMetrics(collector))

	_, err := svc.Create(context.Background(), user, "docs/")
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), user, "docs/")
	require.Error(t, err)

	assert.Equal(t, 1, collector.ops["directory_create_root"])
	assert.Equal(t, 2, collector.ops["directory_create"])
	assert.Equal(t, 1, collector.failed["directory_create"])
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rel  string
		size int64
		want types.Resource
	}{
		{rel: "a.txt", size: 3, want: types.Resource{Name: "a.txt", Size: 3, Type: types.ResourceFile}},
		{rel: "docs/a.txt", size: 3, want: types.Resource{Path: "docs/", Name: "a.txt", Size: 3, Type: types.ResourceFile}},
		{rel: "docs/sub/", size: 9, want: types.Resource{Path: "docs/", Name: "sub/", Type: types.ResourceDirectory}},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.rel, tt.size))
		})
	}
}
