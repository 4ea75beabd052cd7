package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Inbound action names.
const (
	actionJoinRoom        = "joinRoom"
	actionLeaveRoom       = "leaveRoom"
	actionSubmitAnswer    = "submitAnswer"
	actionStartQuiz       = "startQuiz"
	actionAdvanceQuestion = "advanceQuestion"
)

const actionTimeout = 10 * time.Second

var (
	errNotInRoom   = errors.New("join a room first")
	errRateLimited = errors.New("too many messages")
	errBadPayload  = errors.New("invalid payload")
	errUnsupported = errors.New("unsupported message type")
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type roomPayload struct {
	RoomCode string `json:"roomCode"`
}

type submitPayload struct {
	RoomCode string `json:"roomCode"`
	domain.AnswerSubmission
}

// WSHandler is the realtime gateway: it authenticates connections, dispatches their actions
// to the session engine and fans results out through the Hub.
type WSHandler struct {
	rooms     *app.RoomService
	runner    *app.QuizRunner
	sessions  app.SessionRepository
	hub       *Hub
	leaves    *departures
	auth      IdentityProvider
	logger    *zap.Logger
	perSecond int
	upgrader  websocket.Upgrader
}

func NewWSHandler(rooms *app.RoomService, runner *app.QuizRunner, sessions app.SessionRepository, hub *Hub, auth IdentityProvider, logger *zap.Logger, perSecond int) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		rooms:     rooms,
		runner:    runner,
		sessions:  sessions,
		hub:       hub,
		leaves:    newDepartures(rooms, runner, sessions, hub, logger),
		auth:      auth,
		logger:    logger,
		perSecond: perSecond,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS authenticates the caller from the token query parameter or bearer header and runs
// the connection until it closes.
func (h *WSHandler) ServeWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.GetHeader("Authorization"))
	}
	if token == "" {
		abortWith(c, http.StatusUnauthorized, "missing token")
		return
	}
	who, err := h.auth.Validate(token)
	if err != nil {
		abortWith(c, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(uuid.New().String(), who, conn, h.perSecond)
	h.hub.Register(client)
	metrics.WSConnections.Inc()
	go client.writePump()
	h.readPump(client)
}

func (h *WSHandler) readPump(c *Client) {
	defer func() {
		h.disconnect(c)
		metrics.WSConnections.Dec()
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("ws read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if !c.limiter.Allow() {
			h.hub.SendError(c, msg.Type, errRateLimited)
			continue
		}
		h.dispatch(c, msg)
	}
}

func (h *WSHandler) dispatch(c *Client, msg inboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case actionJoinRoom:
		var p roomPayload
		if err = decode(msg.Payload, &p); err == nil {
			err = h.joinRoom(ctx, c, p.RoomCode)
		}
	case actionLeaveRoom:
		var p roomPayload
		if err = decode(msg.Payload, &p); err == nil {
			err = h.leaveRoom(ctx, c, h.roomOr(c, p.RoomCode))
		}
	case actionSubmitAnswer:
		var p submitPayload
		if err = decode(msg.Payload, &p); err == nil {
			err = h.submitAnswer(ctx, c, h.roomOr(c, p.RoomCode), p.AnswerSubmission)
		}
	case actionStartQuiz:
		var p roomPayload
		if err = decode(msg.Payload, &p); err == nil {
			err = h.withRoom(c, p.RoomCode, func(code string) error {
				return h.runner.Start(ctx, code, c.identity.UserID)
			})
		}
	case actionAdvanceQuestion:
		var p roomPayload
		if err = decode(msg.Payload, &p); err == nil {
			err = h.withRoom(c, p.RoomCode, func(code string) error {
				return h.runner.Advance(ctx, code, c.identity.UserID)
			})
		}
	default:
		err = errUnsupported
	}
	if err != nil {
		h.hub.SendError(c, msg.Type, err)
	}
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errBadPayload
	}
	return nil
}

// roomOr falls back to the connection's current room when the payload names none.
func (h *WSHandler) roomOr(c *Client, code string) string {
	if code = app.NormalizeCode(code); code != "" {
		return code
	}
	return h.hub.RoomOf(c)
}

func (h *WSHandler) withRoom(c *Client, code string, fn func(code string) error) error {
	code = h.roomOr(c, code)
	if code == "" {
		return errNotInRoom
	}
	return fn(code)
}

func (h *WSHandler) joinRoom(ctx context.Context, c *Client, code string) error {
	code = app.NormalizeCode(code)
	if code == "" {
		return domain.Invalid("roomCode", "is required")
	}
	who := c.identity
	lobby, left, err := h.rooms.JoinRoom(ctx, code, who)
	// memberships elsewhere end even when this join is refused
	h.leaves.departedAll(ctx, left, who.UserID)
	if err != nil {
		return err
	}

	if prev := h.hub.RoomOf(c); prev != code {
		if prev != "" {
			h.release(ctx, c, prev, false)
		}
		h.hub.Bind(c, code)
		h.sessions.GetOrCreate(code).Attach(who.UserID)
	}

	h.hub.SendToClient(c, domain.EventRoomJoined, domain.RoomEvent{RoomCode: code})
	h.hub.SendToClient(c, domain.EventLobbyStatus, lobby.ViewFor(who.UserID))
	h.hub.AnnounceJoin(lobby, who, c.ID)
	h.logger.Info("player joined",
		zap.String("room", code),
		zap.Int64("user_id", who.UserID),
		zap.String("client_id", c.ID),
	)
	return nil
}

// leaveRoom ends the user's membership and detaches all of the user's connections in the room.
func (h *WSHandler) leaveRoom(ctx context.Context, c *Client, code string) error {
	if code == "" {
		return errNotInRoom
	}
	userID := c.identity.UserID
	if _, err := h.rooms.LeaveRoom(ctx, code, userID); err != nil {
		return err
	}
	notified := false
	for _, other := range h.leaves.departed(ctx, code, userID) {
		notified = notified || other == c
	}
	if !notified {
		h.hub.SendToClient(c, domain.EventRoomLeft, domain.RoomEvent{RoomCode: code})
	}
	return nil
}

func (h *WSHandler) submitAnswer(ctx context.Context, c *Client, code string, sub domain.AnswerSubmission) error {
	if code == "" {
		return errNotInRoom
	}
	if _, err := h.rooms.SubmitAnswer(ctx, code, c.identity.UserID, sub); err != nil {
		return err
	}
	h.hub.SendToClient(c, domain.EventAnswerSubmitted, domain.QuestionEvent{RoomCode: code, QuestionID: sub.QuestionID})
	h.runner.AnswerRecorded(ctx, code, sub.QuestionID)
	return nil
}

// disconnect runs the leave cleanup for a dropped connection.
func (h *WSHandler) disconnect(c *Client) {
	code := h.hub.Unregister(c)
	if code == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	h.releaseSession(ctx, c, code, true)
}

// release unbinds the connection from code and runs the leave cleanup.
func (h *WSHandler) release(ctx context.Context, c *Client, code string, persist bool) {
	h.hub.Unbind(c)
	h.releaseSession(ctx, c, code, persist)
}

func (h *WSHandler) releaseSession(ctx context.Context, c *Client, code string, persist bool) {
	userID := c.identity.UserID
	session, ok := h.sessions.Get(code)
	if !ok {
		return
	}
	if !session.Detach(userID) {
		return
	}
	if persist {
		if _, err := h.rooms.LeaveRoom(ctx, code, userID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
			h.logger.Warn("leave on disconnect", zap.String("room", code), zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	h.leaves.announce(ctx, code, userID)
}
