package types

import (
	"context"
	"io"
	"time"
)

// ObjectStore defines the capability set the filesystem layer needs from an object store.
// Keys are opaque strings within a single bucket.
type ObjectStore interface {
	// Object operations
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Stat returns (nil, nil) when the key does not exist.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Remove(ctx context.Context, key string) error

	// List returns every key starting with prefix. When recursive is false only one level is
	// returned: objects directly under prefix plus one entry per immediate sub-prefix.
	List(ctx context.Context, prefix string, recursive bool) ([]ListingEntry, error)
	// Exists reports whether any key starts with prefix, without listing them all.
	Exists(ctx context.Context, prefix string) (bool, error)

	// Health check
	HealthCheck(ctx context.Context) error
}

// MetricsCollector defines the metrics collection interface
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordError(operation string, err error)
}

// PathLocker serializes check-then-act sequences on tenant paths.
type PathLocker interface {
	// Lock blocks until every key is held and returns a function releasing them.
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}
