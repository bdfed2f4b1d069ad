package resource

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/objectfs/clouddrive/internal/directory"
	"github.com/objectfs/clouddrive/pkg/errors"
	"github.com/objectfs/clouddrive/pkg/types"
	"github.com/objectfs/clouddrive/pkg/utils"
)

// Move relocates or renames a file or folder by copying it and deleting the source.
// Folder moves cost one round trip per descendant object and are not atomic.
func (s *Service) Move(ctx context.Context, userID int64, from, to string) (res types.Resource, err error) {
	defer s.observe("move", time.Now(), 0, &err)

	unlock, err := s.lock(ctx, userID, from, to)
	if err != nil {
		return res, err
	}
	defer unlock()

	if err := s.validator.Validate(ctx, userID, from, to); err != nil {
		return res, err
	}

	if utils.IsFolder(from) {
		res, err = s.moveFolder(ctx, userID, from, to)
	} else {
		res, err = s.moveFile(ctx, userID, from, to)
	}
	if err != nil {
		return res, err
	}

	s.logger.Info("resource moved", "user_id", userID, "from", from, "to", to)
	return res, nil
}

func (s *Service) moveFile(ctx context.Context, userID int64, from, to string) (types.Resource, error) {
	info, err := s.store.Stat(ctx, s.key(userID, from))
	if err != nil {
		return types.Resource{}, err
	}
	if info == nil {
		return types.Resource{}, errors.NotFound("file %q not found", from)
	}

	if err := s.store.Copy(ctx, s.key(userID, from), s.key(userID, to)); err != nil {
		return types.Resource{}, err
	}
	if err := s.store.Remove(ctx, s.key(userID, from)); err != nil {
		return types.Resource{}, err
	}
	return directory.Describe(to, info.Size), nil
}

func (s *Service) moveFolder(ctx context.Context, userID int64, from, to string) (types.Resource, error) {
	fromKey := s.key(userID, from)
	entries, err := s.store.List(ctx, fromKey, true)
	if err != nil {
		return types.Resource{}, err
	}
	if len(entries) == 0 {
		return types.Resource{}, errors.NotFound("folder %q not found", from)
	}

	var folders, files []string
	for _, entry := range entries {
		if entry.Key == fromKey {
			continue
		}
		rel, ok := s.ns.FromStorageKey(userID, entry.Key)
		if !ok {
			continue
		}
		if utils.IsFolder(rel) {
			folders = append(folders, rel)
		} else {
			files = append(files, rel)
		}
	}

	if len(folders) == 0 && len(files) == 0 {
		if err := s.store.Copy(ctx, fromKey, s.key(userID, to)); err != nil {
			return types.Resource{}, err
		}
		if err := s.store.Remove(ctx, fromKey); err != nil {
			return types.Resource{}, err
		}
		return directory.Describe(to, 0), nil
	}

	rehomed := func(rel string) string {
		return to + strings.TrimPrefix(rel, from)
	}

	targets := make([]string, 0, len(folders)+len(files))
	for _, rel := range folders {
		targets = append(targets, rehomed(rel))
	}
	for _, rel := range files {
		targets = append(targets, rehomed(rel))
	}
	var created []string
	for _, dir := range impliedFolders(targets...) {
		if strings.HasPrefix(dir, to) {
			created = append(created, dir)
		}
	}
	// empty sub-folders are only represented by their markers
	for _, rel := range folders {
		created = append(created, rehomed(rel))
	}
	if err := s.ensureFolders(ctx, userID, created); err != nil {
		return types.Resource{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.DeleteConcurrency)
	for _, rel := range files {
		g.Go(func() error {
			return s.store.Copy(gctx, s.key(userID, rel), s.key(userID, rehomed(rel)))
		})
	}
	if err := g.Wait(); err != nil {
		return types.Resource{}, err
	}

	if err := s.deleteFolder(ctx, userID, from); err != nil {
		return types.Resource{}, err
	}
	return directory.Describe(to, 0), nil
}
