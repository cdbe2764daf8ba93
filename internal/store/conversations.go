package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirimchat/kirim/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ConversationStore reads and updates conversation rows.
type ConversationStore struct {
	pool *pgxpool.Pool
}

// NewConversationStore creates a conversation store backed by the given pool.
func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

// Get fetches a conversation by id.
func (s *ConversationStore) Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, is_group, name, created_by, last_message_text, last_message_time, created_at
		FROM conversations WHERE id = $1
	`, id).Scan(&conv.ID, &conv.IsGroup, &conv.Name, &conv.CreatedBy,
		&conv.LastMessageText, &conv.LastMessageTime, &conv.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// Create inserts a conversation row and returns it with the generated id.
func (s *ConversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (is_group, name, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, conv.IsGroup, conv.Name, conv.CreatedBy).Scan(&conv.ID, &conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}
