package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kirimchat/kirim/pkg/models"
)

// Sentinel errors. The socket layer maps most of these to silent no-ops; a
// real-time channel has no good UI treatment for a surfaced mid-stream error.
var (
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrNotParticipant       = errors.New("chat: not a participant")
	ErrEmptyMessage         = errors.New("chat: empty message")
	ErrMessageNotFound      = errors.New("chat: message not found")
)

// ConversationStore resolves conversation rows.
type ConversationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
}

// ParticipantStore reads and updates membership rows.
type ParticipantStore interface {
	Get(ctx context.Context, conversationID, userID uuid.UUID) (*models.Participant, error)
	List(ctx context.Context, conversationID uuid.UUID) ([]models.Participant, error)
	ResetUnread(ctx context.Context, conversationID, userID uuid.UUID) error
}

// MessageStore persists messages and their coupled denormalized state.
type MessageStore interface {
	SaveOutbound(ctx context.Context, msg *models.Message, lastMessageText string, recipientIDs []uuid.UUID) (map[uuid.UUID]int, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Message, error)
	MarkDelivered(ctx context.Context, messageID uuid.UUID) (*models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID uuid.UUID) ([]uuid.UUID, error)
	SoftDelete(ctx context.Context, messageID, senderID uuid.UUID) (*models.Message, error)
	ReplyPreview(ctx context.Context, messageID uuid.UUID) (*models.Message, string, error)
}

// BlockStore reads and creates directional block relations.
type BlockStore interface {
	Exists(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
	Create(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
}

// CounterStore increments per-pair daily violation counters atomically.
type CounterStore interface {
	Increment(ctx context.Context, senderID, receiverID uuid.UUID, day time.Time) (int, error)
}

// Directory resolves user snapshots.
type Directory interface {
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Emitter delivers events to room subscribers, locally and across instances.
type Emitter interface {
	Emit(ctx context.Context, room, event string, data interface{})
	EmitExcept(ctx context.Context, room, event string, data interface{}, excludeSessionID string)
}

// Presence reports whether a user has any live connection.
type Presence interface {
	UserOnline(ctx context.Context, userID uuid.UUID) bool
}

// PushSender dispatches an offline push notification, best-effort.
type PushSender interface {
	EnqueueMessagePush(ctx context.Context, playerID, title, body string, conversationID uuid.UUID) error
}
