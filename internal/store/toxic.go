package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ToxicCounterStore maintains the per-pair daily violation counters behind
// the toxic-content gate.
type ToxicCounterStore struct {
	pool *pgxpool.Pool
}

// NewToxicCounterStore creates a counter store backed by the given pool.
func NewToxicCounterStore(pool *pgxpool.Pool) *ToxicCounterStore {
	return &ToxicCounterStore{pool: pool}
}

// Increment bumps the (sender, receiver, day) counter and returns the new
// value. The upsert is a single atomic statement so rapid repeated sends
// cannot lose a count; crossing the auto-block threshold exactly once
// depends on that.
func (s *ToxicCounterStore) Increment(ctx context.Context, senderID, receiverID uuid.UUID, day time.Time) (int, error) {
	utc := day.UTC()
	key := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)

	var count int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO toxic_counters (sender_id, receiver_id, day, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (sender_id, receiver_id, day)
		DO UPDATE SET count = toxic_counters.count + 1
		RETURNING count
	`, senderID, receiverID, key).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment toxic counter: %w", err)
	}
	return count, nil
}
