package http

import (
	"context"
	"errors"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"go.uber.org/zap"
)

// departures fans an ended membership out to the room it ended in. Both gateways use it,
// so a leave is announced the same way whether it came over a socket or a REST call.
type departures struct {
	rooms    *app.RoomService
	runner   *app.QuizRunner
	sessions app.SessionRepository
	hub      *Hub
	logger   *zap.Logger
}

func newDepartures(rooms *app.RoomService, runner *app.QuizRunner, sessions app.SessionRepository, hub *Hub, logger *zap.Logger) *departures {
	return &departures{rooms: rooms, runner: runner, sessions: sessions, hub: hub, logger: logger}
}

// departed detaches every connection the user holds in code, tells each of them so, and
// notifies the rest of the room. It returns the detached connections.
func (d *departures) departed(ctx context.Context, code string, userID int64) []*Client {
	clients := d.hub.UserClients(code, userID)
	for _, c := range clients {
		d.hub.Unbind(c)
		d.hub.SendToClient(c, domain.EventRoomLeft, domain.RoomEvent{RoomCode: code})
	}
	if session, ok := d.sessions.Get(code); ok {
		session.Forget(userID)
	}
	d.announce(ctx, code, userID)
	return clients
}

// departedAll runs departed for each room the user was moved out of.
func (d *departures) departedAll(ctx context.Context, codes []string, userID int64) {
	for _, code := range codes {
		d.departed(ctx, code, userID)
	}
}

// announce sends playerLeft and the refreshed lobby, then drops the room's live state once
// nobody is left to drive it.
func (d *departures) announce(ctx context.Context, code string, userID int64) {
	lobby, err := d.rooms.Lobby(ctx, code)
	if err == nil {
		d.hub.AnnounceLeave(lobby, userID)
	} else if !errors.Is(err, domain.ErrRoomNotFound) {
		d.logger.Warn("lobby after leave", zap.String("room", code), zap.Error(err))
	}
	d.runner.Teardown(ctx, code)
	d.logger.Info("player left", zap.String("room", code), zap.Int64("user_id", userID))
}
