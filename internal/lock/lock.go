// Package lock provides the advisory path locks that serialize check-then-act sequences
// (create, upload, delete, move) against the same tenant path.
//
// Two implementations exist: Local, an in-process keyed mutex, and Redis, a lease based
// lock shared by every replica of a horizontally scaled deployment. Both acquire multiple
// keys in sorted order so two callers locking overlapping key sets cannot deadlock.
package lock

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/objectfs/clouddrive/pkg/errors"
	"github.com/objectfs/clouddrive/pkg/types"
)

// WaitRecorder receives lock acquisition latencies
type WaitRecorder interface {
	RecordLockWait(backend string, wait time.Duration, acquired bool)
}

// Options tunes lock acquisition
type Options struct {
	// WaitTimeout bounds how long Lock blocks; zero waits until ctx is done.
	WaitTimeout time.Duration
	Logger      *slog.Logger
	Recorder    WaitRecorder
}

type entry struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process keyed mutex. Entries are reference counted and dropped once no
// caller holds or waits on them.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
	opts    Options
	logger  *slog.Logger
}

var _ types.PathLocker = (*Local)(nil)

// NewLocal creates an in-process locker
func NewLocal(opts Options) *Local {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		entries: make(map[string]*entry),
		opts:    opts,
		logger:  logger.With("component", "path-lock", "backend", "local"),
	}
}

// Lock acquires every key and returns a function releasing them all
func (l *Local) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	start := time.Now()

	ctx, cancel := withWaitTimeout(ctx, l.opts.WaitTimeout)
	defer cancel()

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := l.acquire(ctx, key); err != nil {
			l.releaseAll(held)
			recordWait(l.opts.Recorder, "local", start, false)
			l.logger.Warn("lock wait expired", "key", key, "waited", time.Since(start))
			return nil, timeoutError(key, err)
		}
		held = append(held, key)
	}

	recordWait(l.opts.Recorder, "local", start, true)
	var once sync.Once
	return func() { once.Do(func() { l.releaseAll(held) }) }, nil
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key, e)
		return ctx.Err()
	}
}

func (l *Local) releaseAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		e := l.entries[keys[i]]
		l.mu.Unlock()
		<-e.ch
		l.unref(keys[i], e)
	}
}

func (l *Local) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Held returns the number of keys currently tracked
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// normalizeKeys sorts and deduplicates keys
func normalizeKeys(keys []string) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	sort.Strings(out)
	n := 0
	for i, key := range out {
		if i > 0 && key == out[n-1] {
			continue
		}
		out[n] = key
		n++
	}
	return out[:n]
}

func withWaitTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func recordWait(recorder WaitRecorder, backend string, start time.Time, acquired bool) {
	if recorder != nil {
		recorder.RecordLockWait(backend, time.Since(start), acquired)
	}
}

func timeoutError(key string, cause error) error {
	return errors.Newf(errors.ErrCodeLockTimeout, "timed out waiting for lock on %s", key).
		WithComponent("path-lock").
		WithCause(cause)
}
