package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirimchat/kirim/internal/store"
	"github.com/kirimchat/kirim/pkg/models"
)

type pairKey struct {
	a, b uuid.UUID
}

type fakeConversations struct {
	rows map[uuid.UUID]*models.Conversation
}

func (f *fakeConversations) Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return conv, nil
}

type fakeParticipants struct {
	rows         map[pairKey]*models.Participant
	unreadResets []pairKey
}

func (f *fakeParticipants) Get(ctx context.Context, conversationID, userID uuid.UUID) (*models.Participant, error) {
	p, ok := f.rows[pairKey{conversationID, userID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeParticipants) List(ctx context.Context, conversationID uuid.UUID) ([]models.Participant, error) {
	var out []models.Participant
	for k, p := range f.rows {
		if k.a == conversationID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeParticipants) ResetUnread(ctx context.Context, conversationID, userID uuid.UUID) error {
	key := pairKey{conversationID, userID}
	if p, ok := f.rows[key]; ok {
		p.UnreadCount = 0
	}
	f.unreadResets = append(f.unreadResets, key)
	return nil
}

type fakeMessages struct {
	saved    []*models.Message
	byID     map[uuid.UUID]*models.Message
	authors  map[uuid.UUID]string
	readIDs  []uuid.UUID
	unread   map[uuid.UUID]int
	gone     map[uuid.UUID]bool // recipients whose membership row vanished mid-send
	lastText string
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		byID:   make(map[uuid.UUID]*models.Message),
		unread: make(map[uuid.UUID]int),
	}
}

func (f *fakeMessages) put(msg *models.Message, senderName string) {
	f.byID[msg.ID] = msg
	if f.authors == nil {
		f.authors = make(map[uuid.UUID]string)
	}
	f.authors[msg.ID] = senderName
}

func (f *fakeMessages) SaveOutbound(ctx context.Context, msg *models.Message, lastMessageText string, recipientIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	msg.ID = uuid.New()
	msg.SentAt = time.Now().UTC()
	f.saved = append(f.saved, msg)
	f.byID[msg.ID] = msg
	f.lastText = lastMessageText

	counts := make(map[uuid.UUID]int, len(recipientIDs))
	for _, id := range recipientIDs {
		if f.gone[id] {
			continue
		}
		f.unread[id]++
		counts[id] = f.unread[id]
	}
	return counts, nil
}

func (f *fakeMessages) Get(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	msg, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return msg, nil
}

func (f *fakeMessages) MarkDelivered(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	msg, ok := f.byID[messageID]
	if !ok || msg.IsDelivered {
		return nil, store.ErrNotFound
	}
	msg.IsDelivered = true
	return msg, nil
}

func (f *fakeMessages) MarkConversationRead(ctx context.Context, conversationID, readerID uuid.UUID) ([]uuid.UUID, error) {
	f.unread[readerID] = 0
	return f.readIDs, nil
}

func (f *fakeMessages) SoftDelete(ctx context.Context, messageID, senderID uuid.UUID) (*models.Message, error) {
	msg, ok := f.byID[messageID]
	if !ok || msg.SenderID == nil || *msg.SenderID != senderID {
		return nil, store.ErrNotFound
	}
	msg.IsDeleted = true
	return msg, nil
}

func (f *fakeMessages) ReplyPreview(ctx context.Context, messageID uuid.UUID) (*models.Message, string, error) {
	msg, ok := f.byID[messageID]
	if !ok {
		return nil, "", store.ErrNotFound
	}
	return msg, f.authors[messageID], nil
}

type fakeBlocks struct {
	pairs map[pairKey]bool
}

func newFakeBlocks() *fakeBlocks {
	return &fakeBlocks{pairs: make(map[pairKey]bool)}
}

func (f *fakeBlocks) Exists(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	return f.pairs[pairKey{blockerID, blockedID}], nil
}

func (f *fakeBlocks) Create(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	key := pairKey{blockerID, blockedID}
	if f.pairs[key] {
		return false, nil
	}
	f.pairs[key] = true
	return true, nil
}

type fakeCounters struct {
	counts map[pairKey]int
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{counts: make(map[pairKey]int)}
}

func (f *fakeCounters) Increment(ctx context.Context, senderID, receiverID uuid.UUID, day time.Time) (int, error) {
	key := pairKey{senderID, receiverID}
	f.counts[key]++
	return f.counts[key], nil
}

type fakeDirectory struct {
	users map[uuid.UUID]*models.User
}

func (f *fakeDirectory) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return user, nil
}

type emitted struct {
	room    string
	event   string
	data    interface{}
	exclude string
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(ctx context.Context, room, event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{room: room, event: event, data: data})
}

func (f *fakeEmitter) EmitExcept(ctx context.Context, room, event string, data interface{}, excludeSessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{room: room, event: event, data: data, exclude: excludeSessionID})
}

func (f *fakeEmitter) byEvent(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeEmitter) toRoom(room, event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.room == room && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakePresence struct {
	online map[uuid.UUID]bool
}

func (f *fakePresence) UserOnline(ctx context.Context, userID uuid.UUID) bool {
	return f.online[userID]
}

type queuedPush struct {
	playerID       string
	title, body    string
	conversationID uuid.UUID
}

type fakePush struct {
	queued []queuedPush
}

func (f *fakePush) EnqueueMessagePush(ctx context.Context, playerID, title, body string, conversationID uuid.UUID) error {
	f.queued = append(f.queued, queuedPush{playerID: playerID, title: title, body: body, conversationID: conversationID})
	return nil
}

type fakeClassifier struct {
	label string
	err   error
	calls int
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.label, nil
}
