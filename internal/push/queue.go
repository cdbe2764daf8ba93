/*
Package push provides the push-notification side channel: a gateway client
and a River-based job queue so offline notifications survive restarts and
gateway hiccups without ever stalling the message fan-out path.
*/
package push

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"
)

// NotifyJobArgs represents the arguments for a push notification job
type NotifyJobArgs struct {
	PlayerID       string    `json:"player_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	ConversationID uuid.UUID `json:"conversation_id"`
}

// Kind returns the job kind for River
func (NotifyJobArgs) Kind() string {
	return "push_notify"
}

// NotifyWorker delivers queued push notifications through the gateway.
type NotifyWorker struct {
	river.WorkerDefaults[NotifyJobArgs]
	gateway Gateway
}

// Work sends one notification. A gateway error is returned so River retries
// it, but the job gives up quickly (see MaxAttempts) because a stale chat
// notification has no value.
func (w *NotifyWorker) Work(ctx context.Context, job *river.Job[NotifyJobArgs]) error {
	args := job.Args
	err := w.gateway.Send(ctx, args.PlayerID, args.Title, args.Body, map[string]string{
		"chat_id": args.ConversationID.String(),
		"type":    "chat_message",
	})
	if err != nil {
		log.Warn().Err(err).Str("player_id", args.PlayerID).Msg("push delivery failed")
		return err
	}
	return nil
}

// Queue manages the River job queue for push notifications.
type Queue struct {
	client *river.Client[pgx.Tx]
}

// NewQueue creates a push queue working against the given pool.
func NewQueue(pool *pgxpool.Pool, gateway Gateway) (*Queue, error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, &NotifyWorker{gateway: gateway})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &Queue{client: client}, nil
}

// Start starts the queue workers
func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

// Stop stops the queue workers
func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// EnqueueMessagePush queues one offline notification.
func (q *Queue) EnqueueMessagePush(ctx context.Context, playerID, title, body string, conversationID uuid.UUID) error {
	_, err := q.client.Insert(ctx, NotifyJobArgs{
		PlayerID:       playerID,
		Title:          title,
		Body:           body,
		ConversationID: conversationID,
	}, &river.InsertOpts{MaxAttempts: 3})
	if err != nil {
		return fmt.Errorf("failed to queue push notification: %w", err)
	}
	return nil
}
