package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	broadcastChannel = "kirim:rooms"
	presenceHash     = "kirim:presence"
)

// envelope is the wire format on the pub/sub backbone. Origin lets instances
// skip their own publishes, which were already delivered locally.
type envelope struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	Exclude string          `json:"exclude,omitempty"` // session id to skip (local to origin only)
}

// Bridge fans every room emit out to local connections and re-publishes it
// through the shared redis backbone so sibling instances can reach their own
// connections. It also maintains a shared presence set so the offline-push
// decision sees connections on any instance.
type Bridge struct {
	hub        *Hub
	client     *redis.Client
	instanceID string
}

// NewBridge constructs a Bridge over the given hub and redis client.
func NewBridge(hub *Hub, client *redis.Client) *Bridge {
	return &Bridge{
		hub:        hub,
		client:     client,
		instanceID: uuid.NewString(),
	}
}

// NewRedisClient constructs a redis client from a URL and verifies
// connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

// Emit marshals the event into a frame, delivers it to local room members and
// publishes it on the backbone. Delivery is best-effort broadcast: a publish
// failure is logged, never returned to the send path.
func (b *Bridge) Emit(ctx context.Context, room, event string, data interface{}) {
	b.emit(ctx, room, event, data, "")
}

// EmitExcept behaves like Emit but skips one local session (the typist's own
// connection for typing indicators).
func (b *Bridge) EmitExcept(ctx context.Context, room, event string, data interface{}, excludeSessionID string) {
	b.emit(ctx, room, event, data, excludeSessionID)
}

func (b *Bridge) emit(ctx context.Context, room, event string, data interface{}, exclude string) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to marshal event payload")
		return
	}

	frame, err := json.Marshal(map[string]json.RawMessage{
		"event": json.RawMessage(fmt.Sprintf("%q", event)),
		"data":  raw,
	})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to marshal event frame")
		return
	}

	b.hub.Publish(room, frame, exclude)

	env := envelope{Origin: b.instanceID, Room: room, Event: event, Data: raw}
	payload, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to marshal backbone envelope")
		return
	}
	if err := b.client.Publish(ctx, broadcastChannel, payload).Err(); err != nil {
		log.Warn().Err(err).Str("room", room).Str("event", event).Msg("backbone publish failed")
	}
}

// Run subscribes to the backbone and delivers foreign emits to local
// connections until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, broadcastChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Msg("malformed backbone envelope")
				continue
			}
			if env.Origin == b.instanceID {
				continue
			}
			frame, err := json.Marshal(map[string]json.RawMessage{
				"event": json.RawMessage(fmt.Sprintf("%q", env.Event)),
				"data":  env.Data,
			})
			if err != nil {
				continue
			}
			b.hub.Publish(env.Room, frame, "")
		}
	}
}

// MarkOnline bumps the user's shared connection count. Presence is a count,
// not a set: the same user connected on several instances must stay online
// until the last of those connections goes away.
func (b *Bridge) MarkOnline(ctx context.Context, userID uuid.UUID) {
	if err := b.client.HIncrBy(ctx, presenceHash, userID.String(), 1).Err(); err != nil {
		log.Warn().Err(err).Msg("failed to mark user online")
	}
}

// MarkOffline decrements the user's shared connection count, removing the
// field once no connection on any instance remains.
func (b *Bridge) MarkOffline(ctx context.Context, userID uuid.UUID) {
	n, err := b.client.HIncrBy(ctx, presenceHash, userID.String(), -1).Result()
	if err != nil {
		log.Warn().Err(err).Msg("failed to mark user offline")
		return
	}
	if n <= 0 {
		if err := b.client.HDel(ctx, presenceHash, userID.String()).Err(); err != nil {
			log.Warn().Err(err).Msg("failed to clear presence entry")
		}
	}
}

// UserOnline reports shared presence: true when the user has a connection on
// any instance. Falls back to local state on redis failure.
func (b *Bridge) UserOnline(ctx context.Context, userID uuid.UUID) bool {
	val, err := b.client.HGet(ctx, presenceHash, userID.String()).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		log.Warn().Err(err).Msg("presence lookup failed, using local state")
		return b.hub.UserOnline(userID)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return b.hub.UserOnline(userID)
	}
	return n > 0
}
