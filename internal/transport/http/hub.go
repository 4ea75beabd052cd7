package http

import (
	"encoding/json"
	"sort"
	"sync"

	"live-quiz-service/internal/domain"
	"go.uber.org/zap"
)

// outboundMessage is the frame pushed to clients.
type outboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type errorPayload struct {
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}

// EventPublisher receives a copy of every room broadcast, for observers outside this process.
type EventPublisher interface {
	PublishRoomEvent(roomCode, event string, payload []byte) error
}

// Hub is the connection registry of the realtime gateway. It indexes connections by id and
// groups them by the room they joined. Each connection is in at most one room.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	mirror EventPublisher
	logger *zap.Logger
}

func NewHub(logger *zap.Logger, mirror EventPublisher) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		mirror:  mirror,
		logger:  logger,
	}
}

// Register tracks a new connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.Int64("user_id", c.identity.UserID))
}

// Unregister drops the connection and its room binding, returning the room it was in.
func (h *Hub) Unregister(c *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.ID)
	return h.unbindLocked(c)
}

// Bind moves the connection into roomCode and returns the room it left, if any.
func (h *Hub) Bind(c *Client, roomCode string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := c.room
	if prev == roomCode {
		return ""
	}
	h.unbindLocked(c)
	group := h.rooms[roomCode]
	if group == nil {
		group = make(map[string]*Client)
		h.rooms[roomCode] = group
	}
	group[c.ID] = c
	c.room = roomCode
	return prev
}

// Unbind removes the connection from its room.
func (h *Hub) Unbind(c *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unbindLocked(c)
}

func (h *Hub) unbindLocked(c *Client) string {
	prev := c.room
	if prev == "" {
		return ""
	}
	if group, ok := h.rooms[prev]; ok {
		delete(group, c.ID)
		if len(group) == 0 {
			delete(h.rooms, prev)
		}
	}
	c.room = ""
	return prev
}

// RoomOf returns the room the connection is bound to.
func (h *Hub) RoomOf(c *Client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.room
}

// Members returns the room's connections ordered by id.
func (h *Hub) Members(roomCode string) []*Client {
	h.mu.RLock()
	group := h.rooms[roomCode]
	out := make([]*Client, 0, len(group))
	for _, c := range group {
		out = append(out, c)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UserClients returns the connections of userID in roomCode.
func (h *Hub) UserClients(roomCode string, userID int64) []*Client {
	var out []*Client
	for _, c := range h.Members(roomCode) {
		if c.identity.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// BroadcastRoom sends the event to every connection of the room and mirrors it.
func (h *Hub) BroadcastRoom(roomCode, event string, payload any) {
	h.broadcastExcept(roomCode, "", event, payload)
}

func (h *Hub) broadcastExcept(roomCode, skipClientID, event string, payload any) {
	frame, data, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("room", roomCode), zap.String("event", event), zap.Error(err))
		return
	}
	for _, c := range h.Members(roomCode) {
		if c.ID == skipClientID {
			continue
		}
		h.deliver(c, frame)
	}
	if h.mirror != nil {
		_ = h.mirror.PublishRoomEvent(roomCode, event, data)
	}
}

// SendToClient sends the event to one connection.
func (h *Hub) SendToClient(c *Client, event string, payload any) {
	frame, _, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error("encode message", zap.String("client_id", c.ID), zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(c, frame)
}

// SendError reports a failed action to one connection.
func (h *Hub) SendError(c *Client, action string, err error) {
	h.SendToClient(c, domain.EventError, errorPayload{Action: action, Message: err.Error()})
}

func (h *Hub) deliver(c *Client, frame []byte) {
	if !c.enqueue(frame) {
		h.logger.Warn("client buffer full, dropping message", zap.String("client_id", c.ID))
	}
}

// AnnounceJoin tells the room that who joined. The joining connection (skipClientID) is
// excluded; every other connection gets the host or non-host lobby view.
func (h *Hub) AnnounceJoin(lobby domain.Lobby, who domain.Identity, skipClientID string) {
	code := lobby.Room.Code
	h.broadcastExcept(code, skipClientID, domain.EventPlayerJoined, domain.PlayerEvent{
		RoomCode: code,
		UserID:   who.UserID,
		Username: who.DisplayName,
	})
	hostView, othersView := lobby.HostView(), lobby.OthersView()
	for _, c := range h.Members(code) {
		if c.ID == skipClientID {
			continue
		}
		if lobby.IsHost(c.identity.UserID) {
			h.SendToClient(c, domain.EventLobbyStatus, hostView)
		} else {
			h.SendToClient(c, domain.EventLobbyStatus, othersView)
		}
	}
}

// AnnounceLeave tells the room that userID left and refreshes every remaining connection's
// lobby view, so a reassigned host sees it.
func (h *Hub) AnnounceLeave(lobby domain.Lobby, userID int64) {
	code := lobby.Room.Code
	h.BroadcastRoom(code, domain.EventPlayerLeft, domain.PlayerEvent{RoomCode: code, UserID: userID})
	for _, c := range h.Members(code) {
		h.SendToClient(c, domain.EventLobbyStatus, lobby.ViewFor(c.identity.UserID))
	}
}

func encodeFrame(event string, payload any) ([]byte, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	frame, err := json.Marshal(outboundMessage{Type: event, Payload: data})
	if err != nil {
		return nil, nil, err
	}
	return frame, data, nil
}
