// Package authz answers permission checks against the user directory.
package authz

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/db"
)

// Authorizer decides whether a user holds any of the given permissions.
type Authorizer interface {
	HasAccess(ctx context.Context, userID int64, perms ...string) (bool, error)
}

// Directory is the user lookup the directory authorizer needs.
type Directory interface {
	GetUser(ctx context.Context, id int64) (*db.User, error)
	UserPermissions(ctx context.Context, id int64) ([]string, error)
}

// DirectoryAuthorizer grants access to active superusers and to active users
// holding at least one requested permission, directly or through a group.
type DirectoryAuthorizer struct {
	dir    Directory
	logger *zap.Logger
}

func NewDirectoryAuthorizer(dir Directory, logger *zap.Logger) *DirectoryAuthorizer {
	return &DirectoryAuthorizer{dir: dir, logger: logger}
}

func (a *DirectoryAuthorizer) HasAccess(ctx context.Context, userID int64, perms ...string) (bool, error) {
	user, err := a.dir.GetUser(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load user %d: %w", userID, err)
	}
	if !user.Active {
		return false, nil
	}
	if user.IsSuperuser {
		return true, nil
	}

	granted, err := a.dir.UserPermissions(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load permissions for user %d: %w", userID, err)
	}

	for _, want := range perms {
		for _, have := range granted {
			if want == have {
				return true, nil
			}
		}
	}

	a.logger.Debug("access denied",
		zap.Int64("user_id", userID),
		zap.Strings("required", perms),
	)
	return false, nil
}
