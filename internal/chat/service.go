package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kirimchat/kirim/internal/realtime"
	"github.com/kirimchat/kirim/internal/store"
	"github.com/kirimchat/kirim/pkg/models"
)

// Service is the chat delivery core: fan-out, moderation gating, presence
// joins, read and delivery tracking. All collaborators are injected; the
// service holds no state of its own beyond its dependencies.
type Service struct {
	conversations ConversationStore
	participants  ParticipantStore
	messages      MessageStore
	blocks        BlockStore
	users         Directory
	gate          *ToxicGate
	emitter       Emitter
	presence      Presence
	push          PushSender
}

// NewService wires the chat service.
func NewService(
	conversations ConversationStore,
	participants ParticipantStore,
	messages MessageStore,
	blocks BlockStore,
	users Directory,
	gate *ToxicGate,
	emitter Emitter,
	presence Presence,
	push PushSender,
) *Service {
	return &Service{
		conversations: conversations,
		participants:  participants,
		messages:      messages,
		blocks:        blocks,
		users:         users,
		gate:          gate,
		emitter:       emitter,
		presence:      presence,
		push:          push,
	}
}

// JoinConversation verifies membership and resets the joining user's unread
// counter; opening the conversation view implies acknowledgement going
// forward. The caller subscribes the connection to the room on success.
// Non-members get ErrNotParticipant, which the socket layer swallows so the
// conversation's existence is never revealed.
func (s *Service) JoinConversation(ctx context.Context, conversationID, userID uuid.UUID) error {
	if _, err := s.participants.Get(ctx, conversationID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotParticipant
		}
		return err
	}
	return s.participants.ResetUnread(ctx, conversationID, userID)
}

// SendInput carries a send-message request.
type SendInput struct {
	ConversationID uuid.UUID
	Text           string
	Type           string
	AttachmentURL  *string
	ReplyToID      *uuid.UUID
}

// SendMessage runs the full fan-out pipeline for one outbound message. The
// returned message is nil when the toxic gate ghosted it (the gate has
// already echoed to the sender in that case).
func (s *Service) SendMessage(ctx context.Context, sender *models.User, in SendInput) (*models.Message, error) {
	if in.Type == "" {
		in.Type = models.MessageTypeText
	}
	if in.Text == "" && in.Type == models.MessageTypeText {
		return nil, ErrEmptyMessage
	}

	conv, err := s.conversations.Get(ctx, in.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	participants, err := s.participants.List(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if !isMember(participants, sender.ID) {
		return nil, ErrNotParticipant
	}

	// Per-member suppression: a blocked pair coexists invisibly inside an
	// otherwise functioning group. The sender's own echo is never suppressed.
	var recipients []models.Participant
	for _, p := range participants {
		if p.UserID == sender.ID {
			continue
		}
		suppressed, err := s.blocks.Exists(ctx, p.UserID, sender.ID)
		if err != nil {
			return nil, err
		}
		if suppressed {
			continue
		}
		recipients = append(recipients, p)
	}

	// The toxic gate only applies to direct conversations, and only when the
	// receiver is not already suppressing the sender (a standing block wins
	// before classification, so post-block sends never touch the counter).
	if !conv.IsGroup && len(recipients) == 1 {
		receiver, err := s.users.Get(ctx, recipients[0].UserID)
		if err != nil {
			return nil, err
		}
		ghosted, err := s.gate.Check(ctx, conv, sender, receiver, in.Text, in.Type)
		if err != nil {
			return nil, err
		}
		if ghosted {
			return nil, nil
		}
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       &sender.ID,
		Text:           in.Text,
		Type:           in.Type,
		AttachmentURL:  in.AttachmentURL,
	}
	if in.ReplyToID != nil {
		// Unknown reply targets are dropped, not surfaced: the message still
		// goes out, just without the reference.
		if _, err := s.messages.Get(ctx, *in.ReplyToID); err == nil {
			msg.ReplyToID = in.ReplyToID
		}
	}

	recipientIDs := make([]uuid.UUID, len(recipients))
	for i, p := range recipients {
		recipientIDs[i] = p.UserID
	}

	lastText := in.Text
	if in.Type == models.MessageTypeImage {
		lastText = ImagePlaceholder
	}

	unread, err := s.messages.SaveOutbound(ctx, msg, lastText, recipientIDs)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	event := s.buildMessageEvent(ctx, msg, sender)

	for _, p := range recipients {
		count, ok := unread[p.UserID]
		if !ok {
			// Left the conversation mid-send; the store skipped them and so
			// does the fan-out.
			continue
		}
		room := realtime.UserRoom(p.UserID)
		s.emitter.Emit(ctx, room, EventNewMessage, event)

		update := InboxUpdateEvent{
			ChatID:      conv.ID.String(),
			LastMessage: lastText,
			Time:        msg.SentAt,
			UnreadCount: count,
		}
		if conv.IsGroup {
			update.SenderName = sender.DisplayName
		}
		s.emitter.Emit(ctx, room, EventInboxUpdate, update)

		s.maybePush(ctx, conv, sender, p.UserID, lastText)
	}

	// Self-echo keeps the sender's other devices in sync. Flags reflect true
	// state here, unlike the ghost path.
	s.emitter.Emit(ctx, realtime.UserRoom(sender.ID), EventNewMessage, event)

	return msg, nil
}

// maybePush dispatches an offline push notification when the recipient has no
// live connection anywhere and carries a registered push endpoint. Failures
// are logged and ignored; push is best-effort and never blocks delivery.
func (s *Service) maybePush(ctx context.Context, conv *models.Conversation, sender *models.User, recipientID uuid.UUID, body string) {
	if s.push == nil || s.presence.UserOnline(ctx, recipientID) {
		return
	}

	recipient, err := s.users.Get(ctx, recipientID)
	if err != nil || recipient.PushPlayerID == nil {
		return
	}

	title := sender.DisplayName
	if conv.IsGroup {
		if conv.Name != nil {
			title = *conv.Name
		}
		body = sender.DisplayName + ": " + body
	}

	if err := s.push.EnqueueMessagePush(ctx, *recipient.PushPlayerID, title, body, conv.ID); err != nil {
		log.Warn().Err(err).
			Str("recipient_id", recipientID.String()).
			Msg("failed to enqueue push notification")
	}
}

// Typing relays a typing indicator to the conversation room, excluding the
// typist's own session. Non-members are silently ignored.
func (s *Service) Typing(ctx context.Context, user *models.User, conversationID uuid.UUID, isTyping bool, sessionID string) error {
	if _, err := s.participants.Get(ctx, conversationID, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotParticipant
		}
		return err
	}

	s.emitter.EmitExcept(ctx, realtime.ConversationRoom(conversationID), EventUserTyping, TypingEvent{
		ChatID:   conversationID.String(),
		UserID:   user.ID.String(),
		Username: user.Username,
		IsTyping: isTyping,
	}, sessionID)
	return nil
}

// MarkRead clears the reader's unread state and re-evaluates read-by-all for
// the conversation's pending messages, then announces the read to the room.
func (s *Service) MarkRead(ctx context.Context, readerID, conversationID uuid.UUID) error {
	if _, err := s.participants.Get(ctx, conversationID, readerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotParticipant
		}
		return err
	}

	readIDs, err := s.messages.MarkConversationRead(ctx, conversationID, readerID)
	if err != nil {
		return err
	}

	ids := make([]string, len(readIDs))
	for i, id := range readIDs {
		ids[i] = id.String()
	}
	s.emitter.Emit(ctx, realtime.ConversationRoom(conversationID), EventMessagesRead, MessagesReadEvent{
		ChatID:     conversationID.String(),
		ReaderID:   readerID.String(),
		MessageIDs: ids,
	})
	return nil
}

// AcknowledgeDelivery marks a message delivered the first time any live
// client acknowledges it and notifies the original sender's devices. Repeat
// acks are no-ops. Only participants of the message's conversation may ack;
// anyone else is rejected before any state moves, so probing message ids
// neither flips flags nor pings senders.
func (s *Service) AcknowledgeDelivery(ctx context.Context, ackUserID, messageID uuid.UUID) error {
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if _, err := s.participants.Get(ctx, msg.ConversationID, ackUserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotParticipant
		}
		return err
	}

	msg, err = s.messages.MarkDelivered(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if msg.SenderID != nil && *msg.SenderID != ackUserID {
		s.emitter.Emit(ctx, realtime.UserRoom(*msg.SenderID), EventMessageDelivered, MessageDeliveredEvent{
			MessageID: msg.ID.String(),
			ChatID:    msg.ConversationID.String(),
		})
	}
	return nil
}

// DeleteMessage tombstones a message the user authored and announces the
// deletion to the conversation room. Reply previews and last-message caches
// render the deleted placeholder from then on.
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := s.messages.SoftDelete(ctx, messageID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}

	s.emitter.Emit(ctx, realtime.ConversationRoom(msg.ConversationID), EventMessageDeleted, MessageDeletedEvent{
		MessageID: msg.ID.String(),
		ChatID:    msg.ConversationID.String(),
	})
	return nil
}

// buildMessageEvent assembles the outgoing payload, resolving the reply
// parent at emit time so its deletion status is always current.
func (s *Service) buildMessageEvent(ctx context.Context, msg *models.Message, sender *models.User) MessageEvent {
	avatar := ""
	if sender.AvatarURL != nil {
		avatar = *sender.AvatarURL
	}

	event := MessageEvent{
		ID:            msg.ID.String(),
		ChatID:        msg.ConversationID.String(),
		Text:          msg.Text,
		Type:          msg.Type,
		AttachmentURL: msg.AttachmentURL,
		SenderID:      sender.ID.String(),
		SenderName:    sender.DisplayName,
		SenderAvatar:  avatar,
		SentAt:        msg.SentAt,
		IsDelivered:   msg.IsDelivered,
		IsReadByAll:   msg.IsReadByAll,
	}

	if msg.ReplyToID != nil {
		parent, senderName, err := s.messages.ReplyPreview(ctx, *msg.ReplyToID)
		if err == nil {
			text := parent.Text
			if parent.IsDeleted {
				text = DeletedPlaceholder
			}
			event.ReplyTo = &ReplyPreviewEvent{
				ID:         parent.ID.String(),
				Text:       text,
				SenderName: senderName,
			}
		}
	}

	return event
}

func isMember(participants []models.Participant, userID uuid.UUID) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
