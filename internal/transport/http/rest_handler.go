package http

import (
	"net/http"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RoomHandler mirrors the realtime actions for clients that poll instead of holding a
// websocket. State transitions go through the same engine, and connected clients are notified.
type RoomHandler struct {
	rooms  *app.RoomService
	runner *app.QuizRunner
	hub    *Hub
	leaves *departures
	logger *zap.Logger
}

func NewRoomHandler(rooms *app.RoomService, runner *app.QuizRunner, sessions app.SessionRepository, hub *Hub, logger *zap.Logger) *RoomHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomHandler{
		rooms:  rooms,
		runner: runner,
		hub:    hub,
		leaves: newDepartures(rooms, runner, sessions, hub, logger),
		logger: logger,
	}
}

// Register mounts the room routes on g.
func (h *RoomHandler) Register(g *gin.RouterGroup) {
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:code/lobby", h.Lobby)
	g.GET("/:code/question", h.Question)
	g.GET("/:code/leaderboard", h.Leaderboard)
	g.POST("/:code/join", h.Join)
	g.POST("/:code/leave", h.Leave)
	g.POST("/:code/start", h.Start)
	g.POST("/:code/advance", h.Advance)
	g.POST("/:code/end", h.End)
}

func (h *RoomHandler) Create(c *gin.Context) {
	var req domain.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domain.Invalid("body", "%v", err))
		return
	}
	summary, err := h.rooms.CreateRoom(c.Request.Context(), req, identityFrom(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, summary)
}

func (h *RoomHandler) List(c *gin.Context) {
	rooms, err := h.rooms.ListActiveRooms(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, rooms)
}

func (h *RoomHandler) Lobby(c *gin.Context) {
	view, err := h.rooms.GetLobbyStatus(c.Request.Context(), roomCodeParam(c), identityFrom(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, view)
}

func (h *RoomHandler) Question(c *gin.Context) {
	q, err := h.rooms.GetCurrentQuestion(c.Request.Context(), roomCodeParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, q)
}

func (h *RoomHandler) Leaderboard(c *gin.Context) {
	lb, err := h.rooms.GetLiveLeaderboard(c.Request.Context(), roomCodeParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, lb)
}

func (h *RoomHandler) Join(c *gin.Context) {
	ctx := c.Request.Context()
	who := identityFrom(c)
	lobby, left, err := h.rooms.JoinRoom(ctx, roomCodeParam(c), who)
	h.leaves.departedAll(ctx, left, who.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.hub.AnnounceJoin(lobby, who, "")
	respond(c, http.StatusOK, lobby.ViewFor(who.UserID))
}

func (h *RoomHandler) Leave(c *gin.Context) {
	ctx := c.Request.Context()
	code := roomCodeParam(c)
	userID := identityFrom(c).UserID
	left, err := h.rooms.LeaveRoom(ctx, code, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if left {
		h.leaves.departed(ctx, code, userID)
	}
	respond(c, http.StatusOK, gin.H{"left": left})
}

func (h *RoomHandler) Start(c *gin.Context) {
	if err := h.runner.Start(c.Request.Context(), roomCodeParam(c), identityFrom(c).UserID); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"started": true})
}

func (h *RoomHandler) Advance(c *gin.Context) {
	if err := h.runner.Advance(c.Request.Context(), roomCodeParam(c), identityFrom(c).UserID); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusAccepted, gin.H{"advancing": true})
}

func (h *RoomHandler) End(c *gin.Context) {
	ended, err := h.runner.End(c.Request.Context(), roomCodeParam(c), identityFrom(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"ended": ended})
}

// roomCodeParam reads and normalizes the :code path parameter.
func roomCodeParam(c *gin.Context) string {
	return app.NormalizeCode(c.Param("code"))
}
