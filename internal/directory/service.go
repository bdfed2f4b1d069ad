// Package directory synthesizes folders on top of a flat object store.
//
// A folder is a zero-byte marker object at the folder's own key plus, implicitly, every key
// below it. Existence is always re-derived from a live prefix listing; there is no directory
// index. Listings never include the listed folder's own marker.
package directory

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/objectfs/clouddrive/pkg/errors"
	"github.com/objectfs/clouddrive/pkg/types"
	"github.com/objectfs/clouddrive/pkg/utils"
)

const component = "directory"

// Service creates and lists tenant folders
type Service struct {
	store     types.ObjectStore
	ns        utils.Namespace
	locker    types.PathLocker
	collector types.MetricsCollector
	logger    *slog.Logger

	maxNameLength int
}

// Option customizes a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics records every operation on collector
func WithMetrics(collector types.MetricsCollector) Option {
	return func(s *Service) {
		s.collector = collector
	}
}

// WithLocker serializes Create against concurrent mutations of the same path
func WithLocker(locker types.PathLocker) Option {
	return func(s *Service) {
		s.locker = locker
	}
}

// WithMaxNameLength overrides the folder name limit
func WithMaxNameLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxNameLength = n
		}
	}
}

// NewService creates a directory service
func NewService(store types.ObjectStore, ns utils.Namespace, opts ...Option) *Service {
	s := &Service{
		store:         store,
		ns:            ns,
		logger:        slog.Default(),
		maxNameLength: utils.DefaultMaxNameLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", component)
	return s
}

// Namespace returns the key mapping used by the service
func (s *Service) Namespace() utils.Namespace {
	return s.ns
}

// CreateRoot writes the marker of a tenant's root folder. It is called once when the
// account is provisioned and is idempotent.
func (s *Service) CreateRoot(ctx context.Context, userID int64) (err error) {
	defer s.observe("create_root", time.Now(), &err)

	key := s.ns.RootPrefix(userID)
	if err := s.store.Put(ctx, key, bytes.NewReader(nil), 0, ""); err != nil {
		return err
	}

	s.logger.Info("tenant root created", "user_id", userID, "key", key)
	return nil
}

// Create makes a new empty folder. Checks run in order: path syntax and name length
// (INVALID_PATH), parent existence (PARENT_NOT_FOUND), sibling collision
// (RESOURCE_ALREADY_EXISTS).
func (s *Service) Create(ctx context.Context, userID int64, path string) (res types.Resource, err error) {
	defer s.observe("create", time.Now(), &err)

	if path == "" || !utils.IsValidGeneralPath(path) {
		return res, errors.InvalidPath("invalid folder path %q", path)
	}
	if err := utils.ValidateResourceName(path, s.maxNameLength); err != nil {
		return res, errors.InvalidPath("invalid folder name in %q: %v", path, err)
	}

	parent := utils.ParentOf(path)
	exists, err := s.PathExists(ctx, userID, parent)
	if err != nil {
		return res, err
	}
	if !exists {
		return res, errors.Newf(errors.ErrCodeParentNotFound, "parent folder %q does not exist", parent)
	}

	unlock, err := s.lock(ctx, userID, path)
	if err != nil {
		return res, err
	}
	defer unlock()

	taken, err := s.ResourceExists(ctx, userID, parent, path)
	if err != nil {
		return res, err
	}
	if taken {
		return res, errors.AlreadyExists("folder %q already exists", path)
	}

	if err := s.store.Put(ctx, s.ns.ToStorageKey(userID, path), bytes.NewReader(nil), 0, ""); err != nil {
		return res, err
	}

	s.logger.Info("folder created", "user_id", userID, "path", path)
	return Describe(path, 0), nil
}

// List returns the children of a folder, one level deep or the full subtree. The folder's
// own marker is never part of the result.
func (s *Service) List(ctx context.Context, userID int64, path string, mode types.TraversalMode) (out []types.Resource, err error) {
	defer s.observe("list", time.Now(), &err)

	if !utils.IsValidGeneralPath(path) {
		return nil, errors.InvalidPath("invalid folder path %q", path)
	}
	exists, err := s.PathExists(ctx, userID, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Newf(errors.ErrCodeDirectoryNotFound, "folder %q does not exist", path)
	}

	return s.children(ctx, userID, path, mode == types.Recursive)
}

// PathExists reports whether any object lives under the prefix of path
func (s *Service) PathExists(ctx context.Context, userID int64, path string) (bool, error) {
	exists, err := s.store.Exists(ctx, s.ns.ToStorageKey(userID, path))
	if err != nil {
		return false, err
	}
	s.logger.Debug("existence check", "user_id", userID, "path", path, "exists", exists)
	return exists, nil
}

// ResourceExists reports whether parent already holds a child named like candidate.
// File "a" and folder "a/" have different names.
func (s *Service) ResourceExists(ctx context.Context, userID int64, parent, candidate string) (bool, error) {
	children, err := s.children(ctx, userID, parent, false)
	if err != nil {
		return false, err
	}
	name := utils.NameOf(candidate, utils.IsFolder(candidate))
	for _, child := range children {
		if child.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// Ensure writes the marker of folder path unless an object already lives under it.
// Callers hold whatever lock covers path.
func (s *Service) Ensure(ctx context.Context, userID int64, path string) (created bool, err error) {
	exists, err := s.PathExists(ctx, userID, path)
	if err != nil || exists {
		return false, err
	}
	if err := s.store.Put(ctx, s.ns.ToStorageKey(userID, path), bytes.NewReader(nil), 0, ""); err != nil {
		return false, err
	}
	s.logger.Debug("folder marker written", "user_id", userID, "path", path)
	return true, nil
}

// children lists path without an existence check, dropping the marker of path itself
func (s *Service) children(ctx context.Context, userID int64, path string, recursive bool) ([]types.Resource, error) {
	self := s.ns.ToStorageKey(userID, path)
	entries, err := s.store.List(ctx, self, recursive)
	if err != nil {
		return nil, err
	}

	out := make([]types.Resource, 0, len(entries))
	for _, entry := range entries {
		if entry.Key == self {
			continue
		}
		rel, ok := s.ns.FromStorageKey(userID, entry.Key)
		if !ok {
			continue
		}
		out = append(out, Describe(rel, entry.Size))
	}
	return out, nil
}

// lock holds the scope of paths: the paths and every folder above them
func (s *Service) lock(ctx context.Context, userID int64, paths ...string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	scope := utils.LockScope(paths...)
	keys := make([]string, len(scope))
	for i, p := range scope {
		keys[i] = s.ns.ToStorageKey(userID, p)
	}
	return s.locker.Lock(ctx, keys...)
}

func (s *Service) observe(operation string, start time.Time, errp *error) {
	if s.collector == nil {
		return
	}
	op := component + "_" + operation
	s.collector.RecordOperation(op, time.Since(start), 0, *errp == nil)
	if *errp != nil {
		s.collector.RecordError(op, *errp)
	}
}

// Describe builds the descriptor of a tenant-relative key. Size is kept for files only.
func Describe(rel string, size int64) types.Resource {
	if utils.IsFolder(rel) {
		return types.Resource{
			Path: utils.ParentOf(rel),
			Name: utils.NameOf(rel, true),
			Type: types.ResourceDirectory,
		}
	}
	return types.Resource{
		Path: utils.ParentOf(rel),
		Name: utils.NameOf(rel, false),
		Size: size,
		Type: types.ResourceFile,
	}
}
