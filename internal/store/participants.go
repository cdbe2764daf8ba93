package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirimchat/kirim/pkg/models"
)

// ParticipantStore reads and updates conversation membership rows.
type ParticipantStore struct {
	pool *pgxpool.Pool
}

// NewParticipantStore creates a participant store backed by the given pool.
func NewParticipantStore(pool *pgxpool.Pool) *ParticipantStore {
	return &ParticipantStore{pool: pool}
}

// Get fetches the membership row for a user in a conversation.
// Returns ErrNotFound when the user is not a member.
func (s *ParticipantStore) Get(ctx context.Context, conversationID, userID uuid.UUID) (*models.Participant, error) {
	p := &models.Participant{}
	err := s.pool.QueryRow(ctx, `
		SELECT conversation_id, user_id, is_admin, is_hidden, unread_count, joined_at, last_cleared_at
		FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID).Scan(&p.ConversationID, &p.UserID, &p.IsAdmin,
		&p.IsHidden, &p.UnreadCount, &p.JoinedAt, &p.LastClearedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// List returns all membership rows for a conversation.
func (s *ParticipantStore) List(ctx context.Context, conversationID uuid.UUID) ([]models.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT conversation_id, user_id, is_admin, is_hidden, unread_count, joined_at, last_cleared_at
		FROM conversation_participants
		WHERE conversation_id = $1
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.IsAdmin,
			&p.IsHidden, &p.UnreadCount, &p.JoinedAt, &p.LastClearedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// Add inserts a membership row, clearing the hidden flag if one already
// exists (re-joining a soft-left direct conversation).
func (s *ParticipantStore) Add(ctx context.Context, conversationID, userID uuid.UUID, isAdmin bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id, is_admin)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET is_hidden = FALSE
	`, conversationID, userID, isAdmin)
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// ResetUnread zeroes the unread counter for a user in a conversation and
// stamps last_cleared_at. Used when the user opens the conversation view.
func (s *ParticipantStore) ResetUnread(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversation_participants
		SET unread_count = 0, last_cleared_at = NOW()
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to reset unread count: %w", err)
	}
	return nil
}
