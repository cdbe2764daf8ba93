package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirimchat/kirim/pkg/models"
)

// UserStore is the read-side of the external user directory. The directory
// service owns the table; this core only resolves snapshots.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a user store backed by the given pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// Get fetches a user snapshot by id.
func (s *UserStore) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, display_name, avatar_url, push_player_id,
		       moderation_opt_in, is_suspended, suspended_until, created_at
		FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &user.DisplayName, &user.AvatarURL,
		&user.PushPlayerID, &user.ModerationOptIn, &user.IsSuspended,
		&user.SuspendedUntil, &user.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
