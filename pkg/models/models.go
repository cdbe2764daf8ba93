package models

import (
	"time"

	"github.com/google/uuid"
)

// Message types stored in messages.type.
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeSystem = "system"
)

// User represents a user record as resolved from the user directory.
type User struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	Username        string     `json:"username" db:"username"`
	DisplayName     string     `json:"display_name" db:"display_name"`
	AvatarURL       *string    `json:"avatar_url,omitempty" db:"avatar_url"`
	PushPlayerID    *string    `json:"-" db:"push_player_id"`
	ModerationOptIn bool       `json:"moderation_opt_in" db:"moderation_opt_in"`
	IsSuspended     bool       `json:"-" db:"is_suspended"`
	SuspendedUntil  *time.Time `json:"-" db:"suspended_until"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// Conversation is a direct (two-party) or group messaging thread.
// LastMessageText and LastMessageTime are denormalized caches for list views
// and are rewritten on every new message.
type Conversation struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	IsGroup         bool       `json:"is_group" db:"is_group"`
	Name            *string    `json:"name,omitempty" db:"name"`
	CreatedBy       *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	LastMessageText *string    `json:"last_message_text,omitempty" db:"last_message_text"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty" db:"last_message_time"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// Participant is a user's membership row within a conversation. One row per
// (conversation, user); leaving a group removes the row, leaving a direct
// conversation only sets IsHidden so history survives.
type Participant struct {
	ConversationID uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	UserID         uuid.UUID  `json:"user_id" db:"user_id"`
	IsAdmin        bool       `json:"is_admin" db:"is_admin"`
	IsHidden       bool       `json:"is_hidden" db:"is_hidden"`
	UnreadCount    int        `json:"unread_count" db:"unread_count"`
	JoinedAt       time.Time  `json:"joined_at" db:"joined_at"`
	LastClearedAt  *time.Time `json:"last_cleared_at,omitempty" db:"last_cleared_at"`
}

// Message is a single chat message. SenderID is nil for system messages.
// IsDeleted is a tombstone: the row stays, readers see a placeholder.
type Message struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ConversationID uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	SenderID       *uuid.UUID `json:"sender_id,omitempty" db:"sender_id"`
	Text           string     `json:"text" db:"text"`
	Type           string     `json:"type" db:"type"`
	AttachmentURL  *string    `json:"attachment_url,omitempty" db:"attachment_url"`
	ReplyToID      *uuid.UUID `json:"reply_to_id,omitempty" db:"reply_to_id"`
	IsDelivered    bool       `json:"is_delivered" db:"is_delivered"`
	IsReadByAll    bool       `json:"is_read_by_all" db:"is_read_by_all"`
	IsDeleted      bool       `json:"is_deleted" db:"is_deleted"`
	SentAt         time.Time  `json:"sent_at" db:"sent_at"`
}

// ReplyPreview is the denormalized snapshot of a parent message included in
// outgoing payloads. It is recomputed on every emit, never stored, so a
// parent deleted after the reply was sent renders as the deleted placeholder.
type ReplyPreview struct {
	ID         uuid.UUID `json:"id"`
	Text       string    `json:"text"`
	SenderName string    `json:"sender_name"`
}

// BlockRelation is a directional (blocker, blocked) pair, unique per pair.
type BlockRelation struct {
	ID        uuid.UUID `json:"id" db:"id"`
	BlockerID uuid.UUID `json:"blocker_id" db:"blocker_id"`
	BlockedID uuid.UUID `json:"blocked_id" db:"blocked_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ToxicCounter counts policy-violating messages between a pair for one UTC
// calendar day. The date rolling over implicitly resets it.
type ToxicCounter struct {
	SenderID   uuid.UUID `json:"sender_id" db:"sender_id"`
	ReceiverID uuid.UUID `json:"receiver_id" db:"receiver_id"`
	Day        time.Time `json:"day" db:"day"`
	Count      int       `json:"count" db:"count"`
}
