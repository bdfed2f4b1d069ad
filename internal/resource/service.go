// Package resource orchestrates file and folder operations of a tenant drive: metadata,
// batched upload, recursive delete, streamed download, move and search.
//
// None of the multi-object operations are transactional. Every check runs before the first
// write, but once writing starts a failure leaves the objects already written in place.
package resource

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/objectfs/clouddrive/internal/directory"
	"github.com/objectfs/clouddrive/pkg/errors"
	"github.com/objectfs/clouddrive/pkg/types"
	"github.com/objectfs/clouddrive/pkg/utils"
)

const component = "resource"

// Directories is the folder engine the service builds on
type Directories interface {
	List(ctx context.Context, userID int64, path string, mode types.TraversalMode) ([]types.Resource, error)
	PathExists(ctx context.Context, userID int64, path string) (bool, error)
	Ensure(ctx context.Context, userID int64, path string) (bool, error)
}

// MoveChecker validates a move before anything is written
type MoveChecker interface {
	Validate(ctx context.Context, userID int64, from, to string) error
}

// Config tunes the service
type Config struct {
	MaxUploadNameLength int
	DownloadChunkSize   int
	// DeleteConcurrency bounds parallel object removals and copies within one folder.
	DeleteConcurrency int
}

// DefaultConfig returns the defaults used when a field is zero
func DefaultConfig() Config {
	return Config{
		MaxUploadNameLength: utils.DefaultMaxNameLength,
		DownloadChunkSize:   64 * 1024,
		DeleteConcurrency:   8,
	}
}

// Service implements the resource operations
type Service struct {
	store     types.ObjectStore
	dirs      Directories
	validator MoveChecker
	ns        utils.Namespace
	config    Config

	locker    types.PathLocker
	collector types.MetricsCollector
	logger    *slog.Logger
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

// WithLocker serializes mutations of the same paths
func WithLocker(locker types.PathLocker) Option {
	return func(s *Service) {
		s.locker = locker
	}
}

// NewService creates a resource service
func NewService(store types.ObjectStore, dirs Directories, validator MoveChecker, ns utils.Namespace, cfg Config, opts ...Option) *Service {
	defaults := DefaultConfig()
	if cfg.MaxUploadNameLength <= 0 {
		cfg.MaxUploadNameLength = defaults.MaxUploadNameLength
	}
	if cfg.DownloadChunkSize <= 0 {
		cfg.DownloadChunkSize = defaults.DownloadChunkSize
	}
	if cfg.DeleteConcurrency <= 0 {
		cfg.DeleteConcurrency = defaults.DeleteConcurrency
	}

	s := &Service{
		store:     store,
		dirs:      dirs,
		validator: validator,
		ns:        ns,
		config:    cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", component)
	return s
}

// Info returns the descriptor of a file or marked folder. A missing parent folder is
// reported as INVALID_PATH, a missing object as RESOURCE_NOT_FOUND.
func (s *Service) Info(ctx context.Context, userID int64, path string) (res types.Resource, err error) {
	defer s.observe("info", time.Now(), 0, &err)

	if !utils.IsValidForDeleteOrDownload(path) {
		return res, errors.InvalidPath("invalid path %q", path)
	}
	parent := utils.ParentOf(path)
	exists, err := s.dirs.PathExists(ctx, userID, parent)
	if err != nil {
		return res, err
	}
	if !exists {
		return res, errors.InvalidPath("path %q does not exist", parent)
	}

	info, err := s.store.Stat(ctx, s.key(userID, path))
	if err != nil {
		return res, err
	}
	if info == nil {
		return res, errors.NotFound("resource %q not found", path)
	}
	return directory.Describe(path, info.Size), nil
}

// Upload writes a batch of files below targetDir. File names may contain "/" to upload a
// folder tree; every implied folder gets a marker. All names are validated and checked for
// collisions before the first write.
func (s *Service) Upload(ctx context.Context, userID int64, targetDir string, files []types.UploadFile) (out []types.Resource, err error) {
	var total int64
	start := time.Now()
	defer func() { s.observe("upload", start, total, &err) }()

	if !utils.IsValidGeneralPath(targetDir) {
		return nil, errors.InvalidPath("invalid target folder %q", targetDir)
	}
	if len(files) == 0 {
		return nil, errors.InvalidPath("no files to upload")
	}

	paths := make([]string, len(files))
	seen := make(map[string]bool, len(files))
	for i, f := range files {
		if err := utils.ValidateUploadName(f.Name, s.config.MaxUploadNameLength); err != nil {
			return nil, errors.InvalidPath("invalid file name: %v", err)
		}
		rel := targetDir + f.Name
		if seen[rel] {
			return nil, errors.AlreadyExists("file %q appears twice in the upload", rel)
		}
		seen[rel] = true
		paths[i] = rel
	}

	unlock, err := s.lock(ctx, userID, paths...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, rel := range paths {
		info, err := s.store.Stat(ctx, s.key(userID, rel))
		if err != nil {
			return nil, err
		}
		if info != nil {
			return nil, errors.AlreadyExists("file %q already exists", rel)
		}
	}

	if err := s.ensureFolders(ctx, userID, impliedFolders(paths...)); err != nil {
		return nil, err
	}

	out = make([]types.Resource, 0, len(files))
	for i, f := range files {
		if err := s.store.Put(ctx, s.key(userID, paths[i]), f.Body, f.Size, f.ContentType); err != nil {
			s.logger.Error("upload interrupted", "user_id", userID, "path", paths[i], "written", i, "error", err)
			return nil, err
		}
		total += f.Size
		out = append(out, directory.Describe(paths[i], f.Size))
	}

	s.logger.Info("files uploaded", "user_id", userID, "target", targetDir, "count", len(files), "bytes", total)
	return out, nil
}

// Delete removes a file, or a folder with everything below it. The root cannot be deleted.
func (s *Service) Delete(ctx context.Context, userID int64, path string) (err error) {
	defer s.observe("delete", time.Now(), 0, &err)

	if !utils.IsValidForDeleteOrDownload(path) {
		return errors.InvalidPath("invalid path %q", path)
	}

	unlock, err := s.lock(ctx, userID, path)
	if err != nil {
		return err
	}
	defer unlock()

	if utils.IsFolder(path) {
		exists, err := s.dirs.PathExists(ctx, userID, path)
		if err != nil {
			return err
		}
		if !exists {
			return errors.NotFound("folder %q not found", path)
		}
		if err := s.deleteFolder(ctx, userID, path); err != nil {
			return err
		}
		s.logger.Warn("folder deleted", "user_id", userID, "path", path)
		return nil
	}

	info, err := s.store.Stat(ctx, s.key(userID, path))
	if err != nil {
		return err
	}
	if info == nil {
		return errors.NotFound("file %q not found", path)
	}
	if err := s.store.Remove(ctx, s.key(userID, path)); err != nil {
		return err
	}

	s.logger.Warn("file deleted", "user_id", userID, "path", path)
	return nil
}

// deleteFolder removes a subtree depth first: sub-folders, then files, then the marker
func (s *Service) deleteFolder(ctx context.Context, userID int64, path string) error {
	children, err := s.dirs.List(ctx, userID, path, types.NonRecursive)
	if err != nil {
		return err
	}

	var files []string
	for _, child := range children {
		if child.IsDir() {
			if err := s.deleteFolder(ctx, userID, child.FullPath()); err != nil {
				return err
			}
			continue
		}
		files = append(files, child.FullPath())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.DeleteConcurrency)
	for _, file := range files {
		g.Go(func() error {
			return s.store.Remove(gctx, s.key(userID, file))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return s.store.Remove(ctx, s.key(userID, path))
}

// Search scans the whole tenant namespace for resources whose name contains query,
// ignoring case
func (s *Service) Search(ctx context.Context, userID int64, query string) (out []types.Resource, err error) {
	defer s.observe("search", time.Now(), 0, &err)

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, errors.Newf(errors.ErrCodeInvalidQuery, "search query cannot be blank")
	}

	entries, err := s.store.List(ctx, s.ns.RootPrefix(userID), true)
	if err != nil {
		return nil, err
	}

	out = make([]types.Resource, 0)
	for _, entry := range entries {
		rel, ok := s.ns.FromStorageKey(userID, entry.Key)
		if !ok || rel == "" {
			continue
		}
		if strings.Contains(strings.ToLower(utils.NameOf(rel, false)), needle) {
			out = append(out, directory.Describe(rel, entry.Size))
		}
	}

	s.logger.Debug("search finished", "user_id", userID, "query", query, "scanned", len(entries), "matches", len(out))
	return out, nil
}

// ensureFolders writes the marker of every folder that has no object under it yet
func (s *Service) ensureFolders(ctx context.Context, userID int64, folders []string) error {
	for _, folder := range folders {
		if _, err := s.dirs.Ensure(ctx, userID, folder); err != nil {
			return err
		}
	}
	return nil
}

// impliedFolders returns every folder above the given paths, shallowest first
func impliedFolders(paths ...string) []string {
	set := make(map[string]struct{})
	for _, p := range paths {
		for _, dir := range utils.Ancestors(p) {
			set[dir] = struct{}{}
		}
	}
	folders := make([]string, 0, len(set))
	for dir := range set {
		folders = append(folders, dir)
	}
	sort.Strings(folders)
	return folders
}

func (s *Service) key(userID int64, path string) string {
	return s.ns.ToStorageKey(userID, path)
}

// lock holds the scope of paths: the paths and every folder above them
func (s *Service) lock(ctx context.Context, userID int64, paths ...string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	scope := utils.LockScope(paths...)
	keys := make([]string, len(scope))
	for i, p := range scope {
		keys[i] = s.key(userID, p)
	}
	return s.locker.Lock(ctx, keys...)
}

func (s *Service) observe(operation string, start time.Time, size int64, errp *error) {
	if s.collector == nil {
		return
	}
	op := component + "_" + operation
	s.collector.RecordOperation(op, time.Since(start), size, *errp == nil)
	if *errp != nil {
		s.collector.RecordError(op, *errp)
	}
}
