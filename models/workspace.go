package models

import "time"

// Workspace roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Workspace, channel and membership rows are written by the workspace CRUD
// service; the gateway only reads them to answer authorization questions.
type Workspace struct {
	ID        string    `gorm:"primarykey;size:64" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	OwnerID   string    `gorm:"size:64;not null;index" json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Workspace) TableName() string {
	return "workspaces"
}

type WorkspaceMember struct {
	WorkspaceID string `gorm:"primarykey;size:64" json:"workspaceId"`
	UserID      string `gorm:"primarykey;size:64" json:"userId"`
	Role        string `gorm:"size:16;not null;default:member" json:"role"`
}

func (WorkspaceMember) TableName() string {
	return "workspace_members"
}

type Channel struct {
	ID          string    `gorm:"primarykey;size:64" json:"id"`
	WorkspaceID string    `gorm:"size:64;not null;index" json:"workspaceId"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	CreatedBy   string    `gorm:"size:64" json:"createdBy"`
	IsPrivate   bool      `gorm:"not null;default:false" json:"isPrivate"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Channel) TableName() string {
	return "channels"
}

// ChannelMember lists who may use a private channel.
type ChannelMember struct {
	ChannelID string `gorm:"primarykey;size:64" json:"channelId"`
	UserID    string `gorm:"primarykey;size:64" json:"userId"`
}

func (ChannelMember) TableName() string {
	return "channel_members"
}

// All returns every model the gateway migrates.
func All() []any {
	return []any{&Message{}, &Workspace{}, &WorkspaceMember{}, &Channel{}, &ChannelMember{}}
}
