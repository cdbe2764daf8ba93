package chat

import (
	"time"
)

// Outbound event names on the transport surface.
const (
	EventNewMessage       = "new_message"
	EventInboxUpdate      = "inbox_update"
	EventUserTyping       = "user_typing"
	EventMessagesRead     = "messages_read"
	EventMessageDelivered = "message_delivered"
	EventMessageDeleted   = "message_deleted"
	EventModWarning       = "moderation_warning"
	EventModAutoBlocked   = "moderation_auto_blocked"
)

// Placeholder text for non-text and tombstoned content.
const (
	ImagePlaceholder   = "📷 Photo"
	DeletedPlaceholder = "This message was deleted"
)

// ReplyPreviewEvent is the denormalized parent snapshot attached to a reply.
// Recomputed on every emit so a later tombstone shows through.
type ReplyPreviewEvent struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	SenderName string `json:"sender_name"`
}

// MessageEvent is the payload of new_message.
type MessageEvent struct {
	ID            string             `json:"id"`
	ChatID        string             `json:"chat_id"`
	Text          string             `json:"text"`
	Type          string             `json:"type"`
	AttachmentURL *string            `json:"attachment_url,omitempty"`
	SenderID      string             `json:"sender_id"`
	SenderName    string             `json:"sender_name"`
	SenderAvatar  string             `json:"sender_avatar,omitempty"`
	SentAt        time.Time          `json:"sent_at"`
	IsDelivered   bool               `json:"is_delivered"`
	IsReadByAll   bool               `json:"is_read_by_all"`
	ReplyTo       *ReplyPreviewEvent `json:"reply_to,omitempty"`
}

// InboxUpdateEvent is the payload of inbox_update, sent to each recipient's
// private room so conversation list views stay current.
type InboxUpdateEvent struct {
	ChatID      string    `json:"chat_id"`
	LastMessage string    `json:"last_message"`
	SenderName  string    `json:"sender_name,omitempty"` // groups only
	Time        time.Time `json:"time"`
	UnreadCount int       `json:"unread_count"`
}

// TypingEvent is the payload of user_typing.
type TypingEvent struct {
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// MessagesReadEvent is the payload of messages_read.
type MessagesReadEvent struct {
	ChatID     string   `json:"chat_id"`
	ReaderID   string   `json:"reader_id"`
	MessageIDs []string `json:"message_ids,omitempty"`
}

// MessageDeliveredEvent is the payload of message_delivered, sent to the
// original sender's private room.
type MessageDeliveredEvent struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}

// MessageDeletedEvent is the payload of message_deleted.
type MessageDeletedEvent struct {
	MessageID string `json:"msg_id"`
	ChatID    string `json:"chat_id"`
}

// ModerationWarningEvent is the payload of moderation_warning, sent to a
// sender whose message was ghosted before the auto-block threshold. It names
// remaining attempts, never the block mechanism.
type ModerationWarningEvent struct {
	ChatID    string `json:"chat_id"`
	Remaining int    `json:"remaining"`
}

// ModerationAutoBlockedEvent is the payload of moderation_auto_blocked, sent
// once to the receiver when the gate trips.
type ModerationAutoBlockedEvent struct {
	ChatID        string `json:"chat_id"`
	BlockedUserID string `json:"blocked_user_id"`
}
