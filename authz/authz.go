// Package authz answers whether a user may post to a workspace channel.
package authz

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/karthikraju391/teamchat-gateway/models"
)

type Authorizer interface {
	CanPost(ctx context.Context, userID, workspaceID, channelID string) (bool, error)
}

// AllowAll grants every request. Used when gateway.authorize is off.
type AllowAll struct{}

func (AllowAll) CanPost(context.Context, string, string, string) (bool, error) { return true, nil }

// GormAuthorizer reads workspace, channel and membership rows.
//
// A user may post when they own or belong to the workspace, the channel
// belongs to that workspace, and, for private channels, they are listed as a
// channel member. Workspace owners and admins may post to any channel.
type GormAuthorizer struct {
	db *gorm.DB
}

func NewGormAuthorizer(db *gorm.DB) *GormAuthorizer {
	return &GormAuthorizer{db: db}
}

func (a *GormAuthorizer) CanPost(ctx context.Context, userID, workspaceID, channelID string) (bool, error) {
	db := a.db.WithContext(ctx)

	var ws models.Workspace
	if err := db.First(&ws, "id = ?", workspaceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to find workspace: %w", err)
	}

	role := ""
	if ws.OwnerID == userID {
		role = models.RoleOwner
	} else {
		var m models.WorkspaceMember
		err := db.First(&m, "workspace_id = ? AND user_id = ?", workspaceID, userID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return false, nil
		case err != nil:
			return false, fmt.Errorf("failed to find workspace member: %w", err)
		}
		role = m.Role
	}

	var ch models.Channel
	if err := db.First(&ch, "id = ? AND workspace_id = ?", channelID, workspaceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to find channel: %w", err)
	}
	if !ch.IsPrivate || role == models.RoleOwner || role == models.RoleAdmin {
		return true, nil
	}

	var n int64
	if err := db.Model(&models.ChannelMember{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to count channel members: %w", err)
	}
	return n > 0, nil
}

// CanRead applies the same rule to reading channel history; the workspace is
// taken from the channel row.
func (a *GormAuthorizer) CanRead(ctx context.Context, userID, channelID string) (bool, error) {
	var ch models.Channel
	if err := a.db.WithContext(ctx).First(&ch, "id = ?", channelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to find channel: %w", err)
	}
	return a.CanPost(ctx, userID, ch.WorkspaceID, channelID)
}
