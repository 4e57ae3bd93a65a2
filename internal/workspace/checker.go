// Package workspace answers workspace membership questions for the hub.
package workspace

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowboard/hub/internal/model"
	"github.com/flowboard/hub/internal/repository"
)

// Checker looks up workspace membership in the document store. It keeps no
// cache; every chatroom join asks the store again.
type Checker struct {
	members *repository.MemberRepository
	logger  *zap.Logger
}

// NewChecker creates a new Checker.
func NewChecker(members *repository.MemberRepository, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{members: members, logger: logger.Named("workspace")}
}

// IsMember reports whether userID belongs to workspaceID.
func (c *Checker) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	return c.members.Exists(ctx, workspaceID, userID)
}

// Add makes userID a member of workspaceID with the given role.
func (c *Checker) Add(ctx context.Context, workspaceID, userID string, role model.MemberRole) (*model.Member, error) {
	if !role.Valid() {
		role = model.MemberRoleMember
	}

	member := &model.Member{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.members.Create(ctx, member); err != nil {
		return nil, err
	}

	c.logger.Info("member added",
		zap.String("workspace_id", workspaceID),
		zap.String("user_id", userID),
		zap.String("role", string(role)),
	)
	return member, nil
}

// Remove deletes the membership of userID in workspaceID.
func (c *Checker) Remove(ctx context.Context, workspaceID, userID string) error {
	return c.members.Delete(ctx, workspaceID, userID)
}

// List returns the members of workspaceID.
func (c *Checker) List(ctx context.Context, workspaceID string) ([]*model.Member, error) {
	return c.members.ListByWorkspace(ctx, workspaceID)
}
