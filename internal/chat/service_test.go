package chat

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirimchat/kirim/internal/realtime"
	"github.com/kirimchat/kirim/pkg/models"
)

type testEnv struct {
	conversations *fakeConversations
	participants  *fakeParticipants
	messages      *fakeMessages
	blocks        *fakeBlocks
	counters      *fakeCounters
	directory     *fakeDirectory
	emitter       *fakeEmitter
	presence      *fakePresence
	push          *fakePush
	classifier    *fakeClassifier
	service       *Service
}

func newTestEnv(classifier *fakeClassifier) *testEnv {
	env := &testEnv{
		conversations: &fakeConversations{rows: make(map[uuid.UUID]*models.Conversation)},
		participants:  &fakeParticipants{rows: make(map[pairKey]*models.Participant)},
		messages:      newFakeMessages(),
		blocks:        newFakeBlocks(),
		counters:      newFakeCounters(),
		directory:     &fakeDirectory{users: make(map[uuid.UUID]*models.User)},
		emitter:       &fakeEmitter{},
		presence:      &fakePresence{online: make(map[uuid.UUID]bool)},
		push:          &fakePush{},
		classifier:    classifier,
	}

	// A typed nil inside the interface would defeat the gate's nil check.
	gate := NewToxicGate(nil, env.counters, env.blocks, env.emitter)
	if classifier != nil {
		gate = NewToxicGate(classifier, env.counters, env.blocks, env.emitter)
	}

	env.service = NewService(
		env.conversations,
		env.participants,
		env.messages,
		env.blocks,
		env.directory,
		gate,
		env.emitter,
		env.presence,
		env.push,
	)
	return env
}

func (env *testEnv) addUser(name string) *models.User {
	user := &models.User{
		ID:              uuid.New(),
		Username:        name,
		DisplayName:     name,
		ModerationOptIn: true,
	}
	env.directory.users[user.ID] = user
	return user
}

func (env *testEnv) addConversation(isGroup bool, members ...*models.User) *models.Conversation {
	conv := &models.Conversation{ID: uuid.New(), IsGroup: isGroup}
	env.conversations.rows[conv.ID] = conv
	for _, m := range members {
		env.participants.rows[pairKey{conv.ID, m.ID}] = &models.Participant{
			ConversationID: conv.ID,
			UserID:         m.ID,
		}
	}
	return conv
}

func TestSendMessageDirect(t *testing.T) {
	env := newTestEnv(nil)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	conv := env.addConversation(false, alice, bob)

	msg, err := env.service.SendMessage(context.Background(), alice, SendInput{
		ConversationID: conv.ID,
		Text:           "hello",
	})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, models.MessageTypeText, msg.Type)
	require.Len(t, env.messages.saved, 1)

	bobRoom := realtime.UserRoom(bob.ID)
	deliveries := env.emitter.toRoom(bobRoom, EventNewMessage)
	require.Len(t, deliveries, 1)
	event := deliveries[0].data.(MessageEvent)
	assert.Equal(t, "hello", event.Text)
	assert.Equal(t, alice.ID.String(), event.SenderID)
	assert.False(t, event.IsDelivered)

	updates := env.emitter.toRoom(bobRoom, EventInboxUpdate)
	require.Len(t, updates, 1)
	update := updates[0].data.(InboxUpdateEvent)
	assert.Equal(t, "hello", update.LastMessage)
	assert.Equal(t, 1, update.UnreadCount)
	assert.Empty(t, update.SenderName, "direct conversations carry no sender name")

	// Sender's own devices get the echo too.
	echoes := env.emitter.toRoom(realtime.UserRoom(alice.ID), EventNewMessage)
	require.Len(t, echoes, 1)
}

func TestSendMessageValidation(t *testing.T) {
	env := newTestEnv(nil)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	conv := env.addConversation(false, alice, bob)

	t.Run("EmptyText", func(t *testing.T) {
		_, err := env.service.SendMessage(context.Background(), alice, SendInput{
			ConversationID: conv.ID,
		})
		assert.ErrorIs(t, err, ErrEmptyMessage)
	})

	t.Run("UnknownConversation", func(t *testing.T) {
		_, err := env.service.SendMessage(context.Background(), alice, SendInput{
			ConversationID: uuid.New(),
			Text:           "hello",
		})
		assert.ErrorIs(t, err, ErrConversationNotFound)
	})

	t.Run("NotParticipant", func(t *testing.T) {
		mallory := env.addUser("mallory")
		_, err := env.service.SendMessage(context.Background(), mallory, SendInput{
			ConversationID: conv.ID,
			Text:           "hello",
		})
		assert.ErrorIs(t, err, ErrNotParticipant)
	})
}

func TestSendMessageBlockedRecipient(t *testing.T) {
	classifier := &fakeClassifier{label: "toxic"}
	env := newTestEnv(classifier)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	conv := env.addConversation(false, alice, bob)

	// Bob blocks Alice, then Alice sends. The message persists but Bob sees
	// nothing, and the gate never classifies a pre-blocked send.
	_, err := env.blocks.Create(context.Background(), bob.ID, alice.ID)
	require.NoError(t, err)

	msg, err := env.service.SendMessage(context.Background(), alice, SendInput{
		ConversationID: conv.ID,
		Text:           "you there?",
	})
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Len(t, env.messages.saved, 1)

	assert.Zero(t, classifier.calls)
	assert.Empty(t, env.emitter.toRoom(realtime.UserRoom(bob.ID), EventNewMessage))
	assert.Empty(t, env.emitter.toRoom(realtime.UserRoom(bob.ID), EventInboxUpdate))
	assert.Len(t, env.emitter.toRoom(realtime.UserRoom(alice.ID), EventNewMessage), 1)
}

func TestSendMessageGroupSkipsBlockers(t *testing.T) {
	env := newTestEnv(nil)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	carol := env.addUser("carol")
	conv := env.addConversation(true, alice, bob, carol)

	_, err := env.blocks.Create(context.Background(), carol.ID, alice.ID)
	require.NoError(t, err)

	msg, err := env.service.SendMessage(context.Background(), alice, SendInput{
		ConversationID: conv.ID,
		Text:           "team update",
	})
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Len(t, env.emitter.toRoom(realtime.UserRoom(bob.ID), EventNewMessage), 1)
	assert.Empty(t, env.emitter.toRoom(realtime.UserRoom(carol.ID), EventNewMessage))

	updates := env.emitter.toRoom(realtime.UserRoom(bob.ID), EventInboxUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, alice.DisplayName, updates[0].data.(InboxUpdateEvent).SenderName)
}

func TestSendImageUsesPlaceholder(t *testing.T) {
	env := newTestEnv(nil)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	conv := env.addConversation(false, alice, bob)

	url := "https://cdn.example.com/pic.jpg"
	msg, err := env.service.SendMessage(context.Background(), alice, SendInput{
		ConversationID: conv.ID,
		Type:           models.MessageTypeImage,
		AttachmentURL:  &url,
	})
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, ImagePlaceholder, env.messages.lastText)
	updates := env.emitter.toRoom(realtime.UserRoom(bob.ID), EventInboxUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, ImagePlaceholder, updates[0].data.(InboxUpdateEvent).LastMessage)
}

func TestSendMessageReply(t *testing.T) {
	env := newTestEnv(nil)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	conv := env.addConversation(false, alice, bob)

	parent := &models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       &bob.ID,
		Text:           "original",
		Type:           models.MessageTypeText,
	}
	env.messages.put(parent, bob.DisplayName)

	t.Run("KnownTarget", func(t *testing.T) {
		msg, err := env.service.SendMessage(context.Background(), alice, SendInput{
			ConversationID: conv.ID,
			Text:           "agreed",
			ReplyToID:      &parent.ID,
		})
		require.NoError(t, err)
		require.NotNil(t, msg.ReplyToID)

		deliveries := env.emitter.toRoom(realtime.UserRoom(bob.ID), EventNewMessage)
		require.Len(t, deliveries, 1)
		event := deliveries[0].data.(MessageEvent)
		require.NotNil(t, event.ReplyTo)
		assert.Equal(t, "original", event.ReplyTo.Text)
		assert.Equal(t, bob.DisplayName, event.ReplyTo.SenderName)
	})

	t.Run("DeletedParentShowsPlaceholder", func(t *testing.T) {
		parent.IsDeleted = true
		msg, err := env.service.SendMessage(context.Background(), alice, SendInput{
			ConversationID: conv.ID,
			Text:           "still there?",
			ReplyToID:      &parent.ID,
		})
		require.NoError(t, err)
		require.NotNil(t, msg.ReplyToID)

		deliveries := env.emitter.toRoom(realtime.UserRoom(bob.ID), EventNewMessage)
		event := deliveries[len(deliveries)-1].data.(MessageEvent)
		require.NotNil(t, event.ReplyTo)
		assert.Equal(t, DeletedPlaceholder, event.ReplyTo.Text)
	})

	t.Run("UnknownTargetDropped", func(t *testing.T) {
		ghost := uuid.New()
		msg, err := env.service.SendMessage(context.Background(), alice, SendInput{
			ConversationID: conv.ID,
			Text:           "re: nothing",
			ReplyToID:      &ghost,
		})
		require.NoError(t, err)
		assert.Nil(t, msg.ReplyToID)
	})
}

func TestSendMessagePush(t *testing.T) {
	env := newTestEnv(nil)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	playerID := "player-bob"
	bob.PushPlayerID = &playerID
	conv := env.addConversation(false, alice, bob)

	t.Run("OfflineRecipientGetsPush", func(t *testing.T) {
		_, err := env.service.SendMessage(context.Background(), alice, SendInput{
			ConversationID: conv.ID,
			Text:           "ping",
		})
		require.NoError(t, err)
		require.Len(t, env.push.queued, 1)
		assert.Equal(t, playerID, env.push.queued[0].playerID)
		assert.Equal(t, alice.DisplayName, env.push.queued[0].title)
		assert.Equal(t, "ping", env.push.queued[0].body)
	})

	t.Run("OnlineRecipientGetsNone", func(t *testing.T) {
		env.presence.online[bob.ID] = true
		_, err := env.service.SendMessage(context.Background(), alice, SendInput{
			ConversationID: conv.ID,
			Text:           "ping again",
		})
		require.NoError(t, err)
		assert.Len(t, env.push.queued, 1)
	})
}

func TestSendMessageGroupPushFormat(t *testing.T) {
	env := newTestEnv(nil)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	playerID := "player-bob"
	bob.PushPlayerID = &playerID
	conv := env.addConversation(true, alice, bob)
	name := "weekend plans"
	conv.Name = &name

	_, err := env.service.SendMessage(context.Background(), alice, SendInput{
		ConversationID: conv.ID,
		Text:           "who's in?",
	})
	require.NoError(t, err)
	require.Len(t, env.push.queued, 1)
	assert.Equal(t, "weekend plans", env.push.queued[0].title)
	assert.Equal(t, "alice: who's in?", env.push.queued[0].body)
}

func TestSendMessageRecipientLeftMidSend(t *testing.T) {
	env := newTestEnv(nil)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	carol := env.addUser("carol")
	conv := env.addConversation(true, alice, bob, carol)

	// Carol's membership row disappears between the participant listing and
	// the persist; the store skips her and the fan-out must too.
	env.messages.gone = map[uuid.UUID]bool{carol.ID: true}

	msg, err := env.service.SendMessage(context.Background(), alice, SendInput{
		ConversationID: conv.ID,
		Text:           "anyone here?",
	})
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Len(t, env.emitter.toRoom(realtime.UserRoom(bob.ID), EventNewMessage), 1)
	assert.Empty(t, env.emitter.toRoom(realtime.UserRoom(carol.ID), EventNewMessage))
	assert.Empty(t, env.emitter.toRoom(realtime.UserRoom(carol.ID), EventInboxUpdate))
	assert.Empty(t, env.push.queued, "no push for a recipient who is no longer a member")
}

func TestJoinConversation(t *testing.T) {
	env := newTestEnv(nil)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	conv := env.addConversation(false, alice, bob)
	env.participants.rows[pairKey{conv.ID, alice.ID}].UnreadCount = 4

	t.Run("MemberResetsUnread", func(t *testing.T) {
		err := env.service.JoinConversation(context.Background(), conv.ID, alice.ID)
		require.NoError(t, err)
		assert.Zero(t, env.participants.rows[pairKey{conv.ID, alice.ID}].UnreadCount)
	})

	t.Run("NonMemberRejected", func(t *testing.T) {
		err := env.service.JoinConversation(context.Background(), conv.ID, uuid.New())
		assert.ErrorIs(t, err, ErrNotParticipant)
	})
}

func TestTyping(t *testing.T) {
	env := newTestEnv(nil)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	conv := env.addConversation(false, alice, bob)

	err := env.service.Typing(context.Background(), alice, conv.ID, true, "session-1")
	require.NoError(t, err)

	events := env.emitter.toRoom(realtime.ConversationRoom(conv.ID), EventUserTyping)
	require.Len(t, events, 1)
	assert.Equal(t, "session-1", events[0].exclude)
	payload := events[0].data.(TypingEvent)
	assert.True(t, payload.IsTyping)
	assert.Equal(t, alice.Username, payload.Username)

	err = env.service.Typing(context.Background(), alice, uuid.New(), true, "session-1")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestMarkRead(t *testing.T) {
	env := newTestEnv(nil)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	conv := env.addConversation(false, alice, bob)
	env.messages.readIDs = []uuid.UUID{uuid.New(), uuid.New()}

	err := env.service.MarkRead(context.Background(), bob.ID, conv.ID)
	require.NoError(t, err)

	events := env.emitter.toRoom(realtime.ConversationRoom(conv.ID), EventMessagesRead)
	require.Len(t, events, 1)
	payload := events[0].data.(MessagesReadEvent)
	assert.Equal(t, bob.ID.String(), payload.ReaderID)
	assert.Len(t, payload.MessageIDs, 2)
}

func TestAcknowledgeDelivery(t *testing.T) {
	env := newTestEnv(nil)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	conv := env.addConversation(false, alice, bob)

	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       &alice.ID,
		Text:           "hi",
		Type:           models.MessageTypeText,
	}
	env.messages.put(msg, alice.DisplayName)

	t.Run("FirstAckNotifiesSender", func(t *testing.T) {
		err := env.service.AcknowledgeDelivery(context.Background(), bob.ID, msg.ID)
		require.NoError(t, err)
		assert.True(t, msg.IsDelivered)

		events := env.emitter.toRoom(realtime.UserRoom(alice.ID), EventMessageDelivered)
		require.Len(t, events, 1)
		assert.Equal(t, msg.ID.String(), events[0].data.(MessageDeliveredEvent).MessageID)
	})

	t.Run("RepeatAckIsNoOp", func(t *testing.T) {
		err := env.service.AcknowledgeDelivery(context.Background(), bob.ID, msg.ID)
		require.NoError(t, err)
		assert.Len(t, env.emitter.toRoom(realtime.UserRoom(alice.ID), EventMessageDelivered), 1)
	})

	t.Run("NonParticipantAckIsNoOp", func(t *testing.T) {
		mallory := env.addUser("mallory")
		target := &models.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			SenderID:       &alice.ID,
			Text:           "private",
			Type:           models.MessageTypeText,
		}
		env.messages.put(target, alice.DisplayName)

		err := env.service.AcknowledgeDelivery(context.Background(), mallory.ID, target.ID)
		assert.ErrorIs(t, err, ErrNotParticipant)
		assert.False(t, target.IsDelivered, "outsider ack must not flip the flag")
		assert.Len(t, env.emitter.toRoom(realtime.UserRoom(alice.ID), EventMessageDelivered), 1,
			"no extra notification beyond the earlier legitimate ack")
	})

	t.Run("SelfAckNotNotified", func(t *testing.T) {
		own := &models.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			SenderID:       &bob.ID,
			Text:           "mine",
			Type:           models.MessageTypeText,
		}
		env.messages.put(own, bob.DisplayName)

		err := env.service.AcknowledgeDelivery(context.Background(), bob.ID, own.ID)
		require.NoError(t, err)
		assert.Empty(t, env.emitter.toRoom(realtime.UserRoom(bob.ID), EventMessageDelivered))
	})
}

func TestDeleteMessage(t *testing.T) {
	env := newTestEnv(nil)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	conv := env.addConversation(false, alice, bob)

	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       &alice.ID,
		Text:           "oops",
		Type:           models.MessageTypeText,
	}
	env.messages.put(msg, alice.DisplayName)

	t.Run("AuthorDeletes", func(t *testing.T) {
		err := env.service.DeleteMessage(context.Background(), alice.ID, msg.ID)
		require.NoError(t, err)
		assert.True(t, msg.IsDeleted)

		events := env.emitter.toRoom(realtime.ConversationRoom(conv.ID), EventMessageDeleted)
		require.Len(t, events, 1)
		assert.Equal(t, msg.ID.String(), events[0].data.(MessageDeletedEvent).MessageID)
	})

	t.Run("NonAuthorRejected", func(t *testing.T) {
		other := &models.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			SenderID:       &alice.ID,
			Text:           "keep",
			Type:           models.MessageTypeText,
		}
		env.messages.put(other, alice.DisplayName)

		err := env.service.DeleteMessage(context.Background(), bob.ID, other.ID)
		assert.ErrorIs(t, err, ErrMessageNotFound)
		assert.False(t, other.IsDeleted)
	})
}

func TestSendMessageGhosted(t *testing.T) {
	classifier := &fakeClassifier{label: "toxic"}
	env := newTestEnv(classifier)
	alice := env.addUser("alice")
	bob := env.addUser("bob")
	conv := env.addConversation(false, alice, bob)

	msg, err := env.service.SendMessage(context.Background(), alice, SendInput{
		ConversationID: conv.ID,
		Text:           "something vile",
	})
	require.NoError(t, err)
	assert.Nil(t, msg, "ghosted messages return nil")
	assert.Empty(t, env.messages.saved, "ghosted messages are never persisted")

	// Bob sees nothing; Alice sees a normal-looking echo plus a warning.
	assert.Empty(t, env.emitter.toRoom(realtime.UserRoom(bob.ID), EventNewMessage))
	echoes := env.emitter.toRoom(realtime.UserRoom(alice.ID), EventNewMessage)
	require.Len(t, echoes, 1)
	assert.False(t, echoes[0].data.(MessageEvent).IsDelivered)
	assert.Len(t, env.emitter.toRoom(realtime.UserRoom(alice.ID), EventModWarning), 1)
}
