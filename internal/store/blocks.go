package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BlockStore reads and creates directional block relations. Rows are also
// written by user action elsewhere in the system; this core only adds the
// toxic-gate auto-blocks.
type BlockStore struct {
	pool *pgxpool.Pool
}

// NewBlockStore creates a block store backed by the given pool.
func NewBlockStore(pool *pgxpool.Pool) *BlockStore {
	return &BlockStore{pool: pool}
}

// Exists reports whether blocker has blocked blocked.
func (s *BlockStore) Exists(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM blocked_users
			WHERE blocker_id = $1 AND blocked_id = $2
		)
	`, blockerID, blockedID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check block relation: %w", err)
	}
	return exists, nil
}

// Create inserts a block relation. Idempotent: an existing pair is left
// untouched and reported as created=false.
func (s *BlockStore) Create(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO blocked_users (blocker_id, blocked_id)
		VALUES ($1, $2)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING
	`, blockerID, blockedID)
	if err != nil {
		return false, fmt.Errorf("failed to create block relation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
