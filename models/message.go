package models

import (
	"time"
)

// InboundFrame is the chat frame a client sends over the socket. Any sender
// field the client includes is ignored.
type InboundFrame struct {
	WorkspaceID string `json:"workspaceId"`
	ChannelID   string `json:"channelId"`
	Message     string `json:"message"`
}

// OutboundFrame is relayed to every member of the workspace room.
type OutboundFrame struct {
	Sender      string `json:"sender"`
	WorkspaceID string `json:"workspaceId,omitempty"` // only when gateway.include_workspace_id is set
	ChannelID   string `json:"channelId"`
	Message     string `json:"message"`
}

// Message is the persisted record of one chat frame. EncryptedText never
// holds plaintext.
type Message struct {
	ID            string    `gorm:"primarykey;size:36" json:"id"`
	WorkspaceID   string    `gorm:"size:64;not null;index" json:"workspaceId"`
	ChannelID     string    `gorm:"size:64;not null;index:idx_messages_channel_created,priority:1" json:"channelId"`
	Sender        string    `gorm:"size:64;not null" json:"sender"`
	EncryptedText string    `gorm:"not null" json:"encryptedText"`
	CreatedAt     time.Time `gorm:"index:idx_messages_channel_created,priority:2" json:"createdAt"`
}

// TableName returns the table name for Message model.
func (Message) TableName() string {
	return "messages"
}

// HistoryEntry is a decrypted message as returned by the history endpoint.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	ChannelID string    `json:"channelId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
