// Package memory implements an in-process object store with S3 listing semantics.
// It backs tests and the "memory" storage backend used for local development.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/objectfs/clouddrive/pkg/errors"
	"github.com/objectfs/clouddrive/pkg/types"
)

const delimiter = "/"

type object struct {
	data         []byte
	contentType  string
	etag         string
	lastModified time.Time
}

// FaultFunc decides whether a store call fails. Returning nil lets the call proceed.
type FaultFunc func(operation, key string) error

// Store is a thread-safe map of keys to objects
type Store struct {
	mu      sync.RWMutex
	objects map[string]*object
	fault   FaultFunc
}

var _ types.ObjectStore = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{objects: make(map[string]*object)}
}

// SetFault installs a fault injector; nil removes it
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	s.fault = fn
	s.mu.Unlock()
}

func (s *Store) check(operation, key string) error {
	s.mu.RLock()
	fn := s.fault
	s.mu.RUnlock()
	if fn == nil {
		return nil
	}
	if err := fn(operation, key); err != nil {
		return errors.StorageFailed(err, "%s failed for %s", operation, key).WithComponent("memory-store")
	}
	return nil
}

// Put stores the full body under key
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return errors.StorageFailed(err, "put cancelled for %s", key)
	}
	if err := s.check("put", key); err != nil {
		return err
	}

	var data []byte
	if body != nil {
		var err error
		if data, err = io.ReadAll(body); err != nil {
			return errors.StorageFailed(err, "failed to read body for %s", key)
		}
	}
	sum := md5.Sum(data)

	s.mu.Lock()
	s.objects[key] = &object{
		data:         data,
		contentType:  contentType,
		etag:         hex.EncodeToString(sum[:]),
		lastModified: time.Now(),
	}
	s.mu.Unlock()
	return nil
}

// Get returns a reader over a snapshot of the object
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.StorageFailed(err, "get cancelled for %s", key)
	}
	if err := s.check("get", key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.StorageFailed(errors.NotFound("object not found: %s", key), "get failed for %s", key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Stat returns metadata or (nil, nil) when the key is absent
func (s *Store) Stat(ctx context.Context, key string) (*types.ObjectInfo, error) {
	if err := s.check("stat", key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, nil
	}
	return &types.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		LastModified: obj.lastModified,
		ETag:         obj.etag,
		ContentType:  obj.contentType,
		Metadata:     map[string]string{},
	}, nil
}

// List mirrors ListObjectsV2: with recursive unset the "/" delimiter folds deeper keys into
// one zero-size entry per immediate sub-prefix. Results are sorted by key.
func (s *Store) List(ctx context.Context, prefix string, recursive bool) ([]types.ListingEntry, error) {
	if err := s.check("list", prefix); err != nil {
		return nil, err
	}

	s.mu.RLock()
	seen := make(map[string]bool)
	var entries []types.ListingEntry
	for key, obj := range s.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !recursive {
			rest := key[len(prefix):]
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				sub := prefix + rest[:idx+1]
				if !seen[sub] {
					seen[sub] = true
					entries = append(entries, types.ListingEntry{Key: sub})
				}
				continue
			}
		}
		entries = append(entries, types.ListingEntry{Key: key, Size: int64(len(obj.data))})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Exists reports whether any key starts with prefix. Faults installed for "list" apply.
func (s *Store) Exists(ctx context.Context, prefix string) (bool, error) {
	if err := s.check("list", prefix); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			return true, nil
		}
	}
	return false, nil
}

// Copy duplicates srcKey to dstKey
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	if err := s.check("copy", srcKey); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[srcKey]
	if !ok {
		return errors.StorageFailed(errors.NotFound("object not found: %s", srcKey), "copy failed for %s", srcKey)
	}
	copied := *obj
	copied.data = append([]byte(nil), obj.data...)
	copied.lastModified = time.Now()
	s.objects[dstKey] = &copied
	return nil
}

// Remove deletes key; removing a missing key succeeds
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.check("remove", key); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// HealthCheck always succeeds
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.check("health", "")
}

// Keys returns every stored key in sorted order
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored objects
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
