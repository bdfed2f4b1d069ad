// Package validation holds the precondition chain of the move operation.
package validation

import (
	"context"
	"strings"

	"github.com/objectfs/clouddrive/pkg/errors"
	"github.com/objectfs/clouddrive/pkg/utils"
)

// ExistenceChecker answers the live existence queries the chain needs
type ExistenceChecker interface {
	PathExists(ctx context.Context, userID int64, path string) (bool, error)
	ResourceExists(ctx context.Context, userID int64, parent, candidate string) (bool, error)
}

// MoveValidator checks a move request before anything is written
type MoveValidator struct {
	checker               ExistenceChecker
	maxNameLength         int
	allowRenameOnRelocate bool
}

// MoveOption customizes a MoveValidator
type MoveOption func(*MoveValidator)

// WithMaxNameLength overrides the destination name limit
func WithMaxNameLength(n int) MoveOption {
	return func(v *MoveValidator) {
		if n > 0 {
			v.maxNameLength = n
		}
	}
}

// WithRenameOnRelocate lets one move change both the parent folder and the name
func WithRenameOnRelocate(allow bool) MoveOption {
	return func(v *MoveValidator) {
		v.allowRenameOnRelocate = allow
	}
}

// NewMoveValidator creates a validator
func NewMoveValidator(checker ExistenceChecker, opts ...MoveOption) *MoveValidator {
	v := &MoveValidator{
		checker:       checker,
		maxNameLength: utils.DefaultMaxNameLength,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the checks in order and returns the first violation:
// path format, shape consistency, existence, rename across folders, self-containment,
// destination collision.
func (v *MoveValidator) Validate(ctx context.Context, userID int64, from, to string) error {
	if err := v.validateFormat(from, to); err != nil {
		return err
	}
	if err := v.validateExistence(ctx, userID, from, to); err != nil {
		return err
	}
	if err := v.validateRules(from, to); err != nil {
		return err
	}

	taken, err := v.checker.ResourceExists(ctx, userID, utils.ParentOf(to), to)
	if err != nil {
		return err
	}
	if taken {
		return errors.AlreadyExists("resource %q already exists", to)
	}
	return nil
}

func (v *MoveValidator) validateFormat(from, to string) error {
	if from == "" || !utils.IsValidForMove(from) {
		return errors.InvalidPath("invalid current path %q", from)
	}
	if to == "" || !utils.IsValidForMove(to) {
		return errors.InvalidPath("invalid new path %q", to)
	}
	if err := utils.ValidateResourceName(to, v.maxNameLength); err != nil {
		return errors.InvalidPath("invalid new name in %q: %v", to, err)
	}

	switch {
	case !utils.IsFolder(from) && utils.IsFolder(to):
		return errors.InvalidPath("new path should end with resource name")
	case utils.IsFolder(from) && !utils.IsFolder(to):
		return errors.InvalidPath("new path for folders should end with /")
	}
	return nil
}

func (v *MoveValidator) validateExistence(ctx context.Context, userID int64, from, to string) error {
	fromParent := utils.ParentOf(from)
	toParent := utils.ParentOf(to)

	exists, err := v.checker.PathExists(ctx, userID, fromParent)
	if err != nil {
		return err
	}
	if !exists {
		return errors.NotFound("current folder %q not found", fromParent)
	}

	if exists, err = v.checker.PathExists(ctx, userID, toParent); err != nil {
		return err
	}
	if !exists {
		return errors.NotFound("new folder %q not found", toParent)
	}

	if exists, err = v.checker.ResourceExists(ctx, userID, fromParent, from); err != nil {
		return err
	}
	if !exists {
		return errors.NotFound("resource %q not found", from)
	}
	return nil
}

func (v *MoveValidator) validateRules(from, to string) error {
	if !v.allowRenameOnRelocate && utils.ParentOf(from) != utils.ParentOf(to) {
		if utils.NameOf(from, false) != utils.NameOf(to, false) {
			return errors.InvalidPath("cannot change resource name during move operation")
		}
	}

	if utils.IsFolder(from) && strings.HasPrefix(to, from) && len(to) > len(from) {
		return errors.InvalidPath("cannot move folder into its own subfolder")
	}
	return nil
}
