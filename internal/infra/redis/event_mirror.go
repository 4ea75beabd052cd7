package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "live:events:"
	publishTimeout = 500 * time.Millisecond
	mirrorBacklog  = 1024
)

// ErrMirrorBacklog is returned when events arrive faster than Redis takes them.
var ErrMirrorBacklog = errors.New("event mirror backlog full")

// mirroredEvent is the message published for every room broadcast.
type mirroredEvent struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// EventMirror publishes room events to Redis pub/sub for observers outside this process.
// Broadcasts only enqueue; Run publishes them in order, so a slow Redis never holds up a room.
type EventMirror struct {
	client *redis.Client
	logger *zap.Logger
	queue  chan mirroredEvent
}

func NewEventMirror(client *redis.Client, logger *zap.Logger) *EventMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventMirror{client: client, logger: logger, queue: make(chan mirroredEvent, mirrorBacklog)}
}

// PublishRoomEvent queues one event for the room's channel. It never blocks; when the
// backlog is full the event is dropped and ErrMirrorBacklog returned.
func (m *EventMirror) PublishRoomEvent(roomCode, event string, payload []byte) error {
	ev := mirroredEvent{Room: roomCode, Event: event, Data: payload, At: time.Now().Unix()}
	select {
	case m.queue <- ev:
		return nil
	default:
		m.logger.Warn("mirror backlog full, dropping event", zap.String("room", roomCode), zap.String("event", event))
		return ErrMirrorBacklog
	}
}

// Run publishes queued events until ctx is done.
func (m *EventMirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.queue:
			if err := m.publish(ctx, ev); err != nil {
				m.logger.Warn("mirror room event", zap.String("room", ev.Room), zap.String("event", ev.Event), zap.Error(err))
			}
		}
	}
}

func (m *EventMirror) publish(ctx context.Context, ev mirroredEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return m.client.Publish(ctx, Channel(ev.Room), body).Err()
}

// Channel names the pub/sub channel of a room.
func Channel(roomCode string) string {
	return channelPrefix + roomCode
}
