package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Rod082213/teams-clone/models"
	"github.com/Rod082213/teams-clone/services"
)

const handleTimeout = 10 * time.Second

type TokenParser interface {
	ParseToken(token string) (userID, username string, err error)
}

type AccessChecker interface {
	CanAccess(ctx context.Context, chatID, userID string) (bool, error)
}

type MessageSubmitter interface {
	Submit(ctx context.Context, req services.SubmitRequest) (*models.Message, error)
}

type ReadMarker interface {
	MarkRead(ctx context.Context, req services.MarkReadRequest) (bool, error)
}

// Router decodes inbound frames and dispatches them to the services. Every
// failure is reported to the originating connection only.
type Router struct {
	hub      *Hub
	auth     TokenParser
	chats    AccessChecker
	messages MessageSubmitter
	receipts ReadMarker
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewRouter(hub *Hub, auth TokenParser, chats AccessChecker, messages MessageSubmitter, receipts ReadMarker, allowedOrigins string, log zerolog.Logger) *Router {
	return &Router{
		hub:      hub,
		auth:     auth,
		chats:    chats,
		messages: messages,
		receipts: receipts,
		log:      log.With().Str("component", "router").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed string) func(*http.Request) bool {
	if allowed == "" || allowed == "*" {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{})
	for _, o := range strings.Split(allowed, ",") {
		set[strings.TrimSpace(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeWS upgrades the request and starts the connection pumps. A non-empty
// userID pre-authenticates the connection.
func (rt *Router) ServeWS(w http.ResponseWriter, r *http.Request, userID, username string) {
	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rt.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := rt.hub.NewConn(conn)
	if !rt.hub.Register(c) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}
	if userID != "" {
		rt.hub.Authenticate(c, userID, username)
		rt.hub.SendTo(c, models.EventAuthenticated, models.AuthenticatedPayload{UserID: userID, Username: username})
	}
	rt.log.Debug().Str("conn_id", c.id).Str("remote", r.RemoteAddr).Msg("websocket connected")

	c.start(rt.Handle)
}

// Handle processes a single inbound frame from c.
func (rt *Router) Handle(c *Conn, frame []byte) {
	var env models.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		rt.log.Debug().Str("conn_id", c.id).Msg("malformed frame")
		rt.fail(c, &services.ValidationError{Reason: "malformed frame"}, "")
		return
	}

	ctx, cancel := context.WithTimeout(rt.hub.ctx, handleTimeout)
	defer cancel()

	switch env.Event {
	case models.EventAuthenticate:
		rt.handleAuthenticate(c, env.Data)
	case models.EventJoinChat:
		rt.handleJoin(ctx, c, env.Data)
	case models.EventLeaveChat:
		var p models.ChatRefPayload
		if decode(env.Data, &p) {
			rt.hub.Leave(c, p.ChatID)
		}
	case models.EventSendMessage:
		rt.handleSend(ctx, c, env.Data)
	case models.EventMarkRead:
		rt.handleMarkRead(ctx, c, env.Data)
	case models.EventPing:
		rt.hub.SendTo(c, models.EventPong, nil)
	case models.EventPong:
	default:
		rt.log.Debug().Str("conn_id", c.id).Str("event", env.Event).Msg("unknown event")
	}
}

func (rt *Router) handleAuthenticate(c *Conn, data json.RawMessage) {
	var p models.AuthenticatePayload
	if !decode(data, &p) || p.UserID == "" {
		rt.fail(c, &services.ValidationError{Reason: "user_id is required"}, "")
		return
	}
	uid, uname, err := rt.auth.ParseToken(p.Token)
	if err != nil || uid != p.UserID {
		rt.log.Info().Str("conn_id", c.id).Str("user_id", p.UserID).Msg("authentication rejected")
		rt.fail(c, services.ErrUnauthorized, "")
		return
	}
	rt.hub.Authenticate(c, uid, uname)
	rt.hub.SendTo(c, models.EventAuthenticated, models.AuthenticatedPayload{UserID: uid, Username: uname})
}

func (rt *Router) handleJoin(ctx context.Context, c *Conn, data json.RawMessage) {
	var p models.ChatRefPayload
	if !decode(data, &p) || p.ChatID == "" {
		rt.fail(c, &services.ValidationError{Reason: "chat_id is required"}, "")
		return
	}
	uid := rt.hub.UserID(c)
	if uid == "" {
		rt.fail(c, services.ErrUnauthorized, "")
		return
	}
	ok, err := rt.chats.CanAccess(ctx, p.ChatID, uid)
	if err != nil {
		rt.log.Error().Err(err).Str("chat_id", p.ChatID).Msg("membership check failed")
		rt.fail(c, services.ErrPersistence, "")
		return
	}
	if !ok {
		rt.fail(c, services.ErrUnauthorized, "")
		return
	}
	rt.hub.Join(c, p.ChatID)
}

func (rt *Router) handleSend(ctx context.Context, c *Conn, data json.RawMessage) {
	var p models.SendMessagePayload
	if !decode(data, &p) {
		rt.fail(c, &services.ValidationError{Reason: "malformed send-message payload"}, "")
		return
	}
	if p.MessageType == "" {
		p.MessageType = models.MessageTypeText
	}

	_, err := rt.messages.Submit(ctx, services.SubmitRequest{
		ConnUserID: rt.hub.UserID(c),
		ChatID:     p.ChatID,
		SenderID:   p.SenderID,
		Content:    p.Content,
		Type:       p.MessageType,
		ImageURL:   p.ImageURL,
		TempID:     p.TempID,
	})
	if err != nil {
		rt.fail(c, err, p.TempID)
	}
}

// handleMarkRead never answers the client; rejected marks are only logged.
func (rt *Router) handleMarkRead(ctx context.Context, c *Conn, data json.RawMessage) {
	var p models.MarkReadPayload
	if !decode(data, &p) {
		return
	}
	_, err := rt.receipts.MarkRead(ctx, services.MarkReadRequest{
		ConnUserID: rt.hub.UserID(c),
		MessageID:  p.MessageID,
		ReaderID:   p.UserID,
		ChatID:     p.ChatID,
	})
	if err != nil {
		rt.log.Info().Err(err).Str("conn_id", c.id).Str("message_id", p.MessageID).Msg("mark-read rejected")
	}
}

func (rt *Router) fail(c *Conn, err error, tempID string) {
	rt.hub.SendTo(c, models.EventMessageError, models.MessageErrorPayload{
		Message: errorMessage(err),
		Kind:    services.ErrorKind(err),
		TempID:  tempID,
	})
}

func errorMessage(err error) string {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Reason
	case errors.Is(err, services.ErrUnauthorized):
		return "Unauthorized"
	default:
		return "Failed to send message"
	}
}

func decode(data json.RawMessage, v any) bool {
	if len(data) == 0 {
		return false
	}
	return json.Unmarshal(data, v) == nil
}
