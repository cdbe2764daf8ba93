package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirimchat/kirim/pkg/models"
)

// MessageStore persists messages and the denormalized state that must move
// with them (conversation last-message cache, per-recipient unread counts).
type MessageStore struct {
	pool *pgxpool.Pool
}

// NewMessageStore creates a message store backed by the given pool.
func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// SaveOutbound persists a new message and, in the same transaction, rewrites
// the conversation's last-message cache and increments the unread counter of
// every id in recipientIDs (suppressed pairs are filtered out by the caller
// before this point). Recipients with a hidden conversation are un-hidden so
// the thread reappears in their inbox. Returns the new unread count per
// recipient for inbox-update payloads.
//
// Any failure rolls the whole operation back; a reader can never observe the
// message without its unread increments or vice versa.
func (s *MessageStore) SaveOutbound(ctx context.Context, msg *models.Message, lastMessageText string, recipientIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_id, text, type, attachment_url, reply_to_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, sent_at
	`, msg.ConversationID, msg.SenderID, msg.Text, msg.Type, msg.AttachmentURL, msg.ReplyToID).
		Scan(&msg.ID, &msg.SentAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET last_message_text = $1, last_message_time = $2
		WHERE id = $3
	`, lastMessageText, msg.SentAt, msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation cache: %w", err)
	}

	unread := make(map[uuid.UUID]int, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		var count int
		err = tx.QueryRow(ctx, `
			UPDATE conversation_participants
			SET unread_count = unread_count + 1, is_hidden = FALSE
			WHERE conversation_id = $1 AND user_id = $2
			RETURNING unread_count
		`, msg.ConversationID, recipientID).Scan(&count)
		if err == pgx.ErrNoRows {
			// Membership changed mid-send; skip rather than fail the message.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to increment unread count: %w", err)
		}
		unread[recipientID] = count
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return unread, nil
}

// Get fetches a message by id.
func (s *MessageStore) Get(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	msg := &models.Message{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, sender_id, text, type, attachment_url,
		       reply_to_id, is_delivered, is_read_by_all, is_deleted, sent_at
		FROM messages WHERE id = $1
	`, id).Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Text, &msg.Type,
		&msg.AttachmentURL, &msg.ReplyToID, &msg.IsDelivered, &msg.IsReadByAll,
		&msg.IsDeleted, &msg.SentAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// MarkDelivered sets the delivered flag the first time any client
// acknowledges receipt. Returns the message when the flag flipped on this
// call, or ErrNotFound when the message does not exist or was already
// delivered (the caller then skips the sender notification).
func (s *MessageStore) MarkDelivered(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	msg := &models.Message{}
	err := s.pool.QueryRow(ctx, `
		UPDATE messages SET is_delivered = TRUE
		WHERE id = $1 AND is_delivered = FALSE
		RETURNING id, conversation_id, sender_id, text, type, attachment_url,
		          reply_to_id, is_delivered, is_read_by_all, is_deleted, sent_at
	`, messageID).Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Text, &msg.Type,
		&msg.AttachmentURL, &msg.ReplyToID, &msg.IsDelivered, &msg.IsReadByAll,
		&msg.IsDeleted, &msg.SentAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark delivered: %w", err)
	}
	return msg, nil
}

// MarkConversationRead zeroes the reader's unread counter and re-evaluates
// is_read_by_all for the conversation's pending messages: a message flips to
// read-by-all only when every current participant other than its sender who
// does not block the sender has a zero unread count. Participants who block
// the sender are excluded so a silent block cannot stall read receipts for
// everyone else. Both steps run in one transaction; the flag only ever moves
// false -> true.
func (s *MessageStore) MarkConversationRead(ctx context.Context, conversationID, readerID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE conversation_participants
		SET unread_count = 0, last_cleared_at = NOW()
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, readerID)
	if err != nil {
		return nil, fmt.Errorf("failed to reset unread count: %w", err)
	}

	rows, err := tx.Query(ctx, `
		UPDATE messages m SET is_read_by_all = TRUE
		WHERE m.conversation_id = $1
		  AND m.is_read_by_all = FALSE
		  AND m.sender_id IS NOT NULL
		  AND m.sender_id <> $2
		  AND NOT EXISTS (
		      SELECT 1 FROM conversation_participants p
		      WHERE p.conversation_id = m.conversation_id
		        AND p.user_id <> m.sender_id
		        AND p.unread_count > 0
		        AND NOT EXISTS (
		            SELECT 1 FROM blocked_users b
		            WHERE b.blocker_id = p.user_id AND b.blocked_id = m.sender_id
		        )
		  )
		RETURNING m.id
	`, conversationID, readerID)
	if err != nil {
		return nil, fmt.Errorf("failed to update read-by-all: %w", err)
	}

	var readIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message id: %w", err)
		}
		readIDs = append(readIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read updated messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit mark-read: %w", err)
	}
	return readIDs, nil
}

// SoftDelete tombstones a message if senderID authored it. The row is kept;
// readers see a placeholder from then on. Returns the tombstoned message.
func (s *MessageStore) SoftDelete(ctx context.Context, messageID, senderID uuid.UUID) (*models.Message, error) {
	msg := &models.Message{}
	err := s.pool.QueryRow(ctx, `
		UPDATE messages SET is_deleted = TRUE
		WHERE id = $1 AND sender_id = $2
		RETURNING id, conversation_id, sender_id, text, type, attachment_url,
		          reply_to_id, is_delivered, is_read_by_all, is_deleted, sent_at
	`, messageID, senderID).Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Text,
		&msg.Type, &msg.AttachmentURL, &msg.ReplyToID, &msg.IsDelivered,
		&msg.IsReadByAll, &msg.IsDeleted, &msg.SentAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to soft delete message: %w", err)
	}
	return msg, nil
}

// ReplyPreview resolves the parent of a reply at emit time, joining the
// original sender's display name. A tombstoned parent comes back with
// IsDeleted true; the caller substitutes the placeholder text.
func (s *MessageStore) ReplyPreview(ctx context.Context, messageID uuid.UUID) (*models.Message, string, error) {
	msg := &models.Message{}
	var senderName *string
	err := s.pool.QueryRow(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.text, m.type, m.is_deleted, m.sent_at,
		       u.display_name
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1
	`, messageID).Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Text,
		&msg.Type, &msg.IsDeleted, &msg.SentAt, &senderName)
	if err == pgx.ErrNoRows {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve reply parent: %w", err)
	}

	name := "Unknown"
	if senderName != nil {
		name = *senderName
	}
	return msg, name, nil
}
