package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/kirimchat/kirim/internal/auth"
	"github.com/kirimchat/kirim/internal/chat"
	"github.com/kirimchat/kirim/internal/realtime"
	"github.com/kirimchat/kirim/pkg/models"
)

const defaultReadTimeout = 60 * time.Second

// Inbound events per connection are rate limited so a typing flood from one
// client cannot starve the read loop.
const (
	inboundEventRate  = rate.Limit(20)
	inboundEventBurst = 40
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Identity comes from the bearer token, not the origin.
		return true
	},
}

// inboundFrame is the wire shape of client events.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinData struct {
	ChatID string `json:"chat_id"`
}

type sendData struct {
	ChatID        string  `json:"chat_id"`
	Text          string  `json:"text"`
	Type          string  `json:"type"`
	AttachmentURL *string `json:"attachment_url,omitempty"`
	ReplyToID     *string `json:"reply_to_id,omitempty"`
}

type typingData struct {
	ChatID   string `json:"chat_id"`
	IsTyping bool   `json:"is_typing"`
}

type markReadData struct {
	ChatID string `json:"chat_id"`
}

type deliveryAckData struct {
	MessageID string `json:"message_id"`
}

type deleteData struct {
	MessageID string `json:"message_id"`
}

// SocketHandler owns the websocket endpoint: it authenticates the connection,
// attaches it to the hub and dispatches inbound events to the chat service.
type SocketHandler struct {
	authenticator *auth.Authenticator
	service       *chat.Service
	hub           *realtime.Hub
	bridge        *realtime.Bridge
}

// NewSocketHandler wires the socket handler.
func NewSocketHandler(authenticator *auth.Authenticator, service *chat.Service, hub *realtime.Hub, bridge *realtime.Bridge) *SocketHandler {
	return &SocketHandler{
		authenticator: authenticator,
		service:       service,
		hub:           hub,
		bridge:        bridge,
	}
}

// Handle upgrades the connection after validating the bearer credential. An
// invalid credential refuses the connection before any event handling; no
// detail is surfaced and nothing is shown to other parties.
func (h *SocketHandler) Handle(c echo.Context) error {
	token := bearerToken(c)
	user, err := h.authenticator.Resolve(c.Request().Context(), token)
	if err != nil {
		log.Debug().Err(err).Msg("socket auth failed, refusing connection")
		return c.NoContent(http.StatusUnauthorized)
	}

	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the response; just log and return.
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	conn := realtime.NewConnection(user.ID, ws)
	h.hub.Attach(conn)
	h.bridge.MarkOnline(context.Background(), user.ID)
	defer func() {
		h.hub.Detach(conn)
		h.bridge.MarkOffline(context.Background(), user.ID)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
	})

	if payload, err := json.Marshal(map[string]string{"event": "connected"}); err == nil {
		_ = conn.Send(payload)
	}

	h.readLoop(conn, ws, token)
	return nil
}

func (h *SocketHandler) readLoop(conn *realtime.Connection, ws *websocket.Conn, token string) {
	limiter := rate.NewLimiter(inboundEventRate, inboundEventBurst)
	ctx := context.Background()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))

		if !limiter.Allow() {
			log.Debug().Str("user_id", conn.UserID.String()).Msg("inbound event rate exceeded, dropping frame")
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}

		// Identity is re-derived per event rather than trusted from the
		// connection: token expiry and suspension take effect mid-session.
		user, err := h.authenticator.Resolve(ctx, token)
		if err != nil {
			log.Debug().Err(err).Msg("event auth failed, closing connection")
			return
		}

		h.dispatch(ctx, conn, user, &frame)
	}
}

func (h *SocketHandler) dispatch(ctx context.Context, conn *realtime.Connection, user *models.User, frame *inboundFrame) {
	// Recoverable failures here are silent: log at debug and move on. Only
	// the initiating connection could be told anyway, and an error frame has
	// no UI treatment mid-stream.
	switch frame.Event {
	case "join_chat":
		var data joinData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		chatID, err := uuid.Parse(data.ChatID)
		if err != nil {
			return
		}
		if err := h.service.JoinConversation(ctx, chatID, user.ID); err != nil {
			log.Debug().Err(err).Str("chat_id", data.ChatID).Msg("join_chat refused")
			return
		}
		h.hub.Join(realtime.ConversationRoom(chatID), conn)

	case "send_message":
		var data sendData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		chatID, err := uuid.Parse(data.ChatID)
		if err != nil {
			return
		}
		in := chat.SendInput{
			ConversationID: chatID,
			Text:           data.Text,
			Type:           data.Type,
			AttachmentURL:  data.AttachmentURL,
		}
		if data.ReplyToID != nil {
			if replyID, err := uuid.Parse(*data.ReplyToID); err == nil {
				in.ReplyToID = &replyID
			}
		}
		if _, err := h.service.SendMessage(ctx, user, in); err != nil {
			log.Debug().Err(err).Str("chat_id", data.ChatID).Msg("send_message dropped")
		}

	case "typing":
		var data typingData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		chatID, err := uuid.Parse(data.ChatID)
		if err != nil {
			return
		}
		_ = h.service.Typing(ctx, user, chatID, data.IsTyping, conn.ID)

	case "mark_read":
		var data markReadData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		chatID, err := uuid.Parse(data.ChatID)
		if err != nil {
			return
		}
		if err := h.service.MarkRead(ctx, user.ID, chatID); err != nil {
			log.Debug().Err(err).Str("chat_id", data.ChatID).Msg("mark_read dropped")
		}

	case "delivery_ack":
		var data deliveryAckData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		messageID, err := uuid.Parse(data.MessageID)
		if err != nil {
			return
		}
		if err := h.service.AcknowledgeDelivery(ctx, user.ID, messageID); err != nil {
			log.Debug().Err(err).Str("message_id", data.MessageID).Msg("delivery_ack dropped")
		}

	case "delete_message":
		var data deleteData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		messageID, err := uuid.Parse(data.MessageID)
		if err != nil {
			return
		}
		if err := h.service.DeleteMessage(ctx, user.ID, messageID); err != nil {
			log.Debug().Err(err).Str("message_id", data.MessageID).Msg("delete_message dropped")
		}
	}
}

// bearerToken extracts the credential from the query parameter or the
// Authorization header.
func bearerToken(c echo.Context) string {
	if token := c.QueryParam("token"); token != "" {
		return token
	}
	header := c.Request().Header.Get("Authorization")
	parts := strings.Split(header, " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}
