package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kirimchat/kirim/internal/moderation"
	"github.com/kirimchat/kirim/internal/realtime"
	"github.com/kirimchat/kirim/pkg/models"
)

// AutoBlockThreshold is the number of policy-violating messages in one UTC
// calendar day between a pair that trips the automatic block.
const AutoBlockThreshold = 10

// ToxicGate is the moderation checkpoint for one-to-one text messages. A
// message that classifies unsafe is ghosted: persisted nowhere, invisible to
// the receiver, while the sender sees a normal "sent" echo. Past the
// threshold the receiver gains a block relation; the sender is never told.
type ToxicGate struct {
	classifier moderation.Classifier
	counters   CounterStore
	blocks     BlockStore
	emitter    Emitter
}

// NewToxicGate constructs a gate. A nil classifier disables moderation
// entirely (every message passes).
func NewToxicGate(classifier moderation.Classifier, counters CounterStore, blocks BlockStore, emitter Emitter) *ToxicGate {
	return &ToxicGate{
		classifier: classifier,
		counters:   counters,
		blocks:     blocks,
		emitter:    emitter,
	}
}

// Check runs the gate for a direct message from sender to receiver. It
// returns true when the message was ghosted, in which case the gate has
// already emitted the sender's synthetic echo and any warning; the caller
// must not persist or fan the message out.
//
// Skips (message proceeds to normal fan-out): moderation disabled for the
// receiver, non-text message, classifier labels the text safe. Classifier
// failure fails open: moderation is a supplementary control and must never
// take messaging down with it.
func (g *ToxicGate) Check(ctx context.Context, conv *models.Conversation, sender, receiver *models.User, text string, msgType string) (bool, error) {
	if g.classifier == nil || conv.IsGroup || msgType != models.MessageTypeText || !receiver.ModerationOptIn {
		return false, nil
	}

	category, err := g.classifier.Classify(ctx, text)
	if err != nil {
		log.Warn().Err(err).
			Str("sender_id", sender.ID.String()).
			Msg("classifier failed, letting message through")
		return false, nil
	}
	if moderation.IsSafe(category) {
		return false, nil
	}

	count, err := g.counters.Increment(ctx, sender.ID, receiver.ID, time.Now().UTC())
	if err != nil {
		return false, err
	}

	log.Info().
		Str("sender_id", sender.ID.String()).
		Str("receiver_id", receiver.ID.String()).
		Str("category", category).
		Int("count", count).
		Msg("toxic message ghosted")

	if count >= AutoBlockThreshold {
		created, err := g.blocks.Create(ctx, receiver.ID, sender.ID)
		if err != nil {
			return false, err
		}
		if created {
			g.emitter.Emit(ctx, realtime.UserRoom(receiver.ID), EventModAutoBlocked, ModerationAutoBlockedEvent{
				ChatID:        conv.ID.String(),
				BlockedUserID: sender.ID.String(),
			})
		}
	}

	g.ghostEcho(ctx, conv, sender, text, msgType)

	if count < AutoBlockThreshold {
		g.emitter.Emit(ctx, realtime.UserRoom(sender.ID), EventModWarning, ModerationWarningEvent{
			ChatID:    conv.ID.String(),
			Remaining: AutoBlockThreshold - count,
		})
	}

	return true, nil
}

// ghostEcho sends the sender a synthetic copy of the suppressed message so
// their UI shows it as sent. The delivered flag stays false and no warning
// about the suppression itself is ever attached.
func (g *ToxicGate) ghostEcho(ctx context.Context, conv *models.Conversation, sender *models.User, text, msgType string) {
	avatar := ""
	if sender.AvatarURL != nil {
		avatar = *sender.AvatarURL
	}
	g.emitter.Emit(ctx, realtime.UserRoom(sender.ID), EventNewMessage, MessageEvent{
		ID:           uuid.NewString(),
		ChatID:       conv.ID.String(),
		Text:         text,
		Type:         msgType,
		SenderID:     sender.ID.String(),
		SenderName:   sender.DisplayName,
		SenderAvatar: avatar,
		SentAt:       time.Now().UTC(),
		IsDelivered:  false,
		IsReadByAll:  false,
	})
}
