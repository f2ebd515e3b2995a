package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/voxrelay/pkg/relay"
)

// Server-originated push events.
const (
	PushServerShutdown = "server_shutdown"
)

// EventBroadcaster writes push frames to connected browsers.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     atomic.Int64
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// frame builds a push that did not come from a relay session.
func (b *EventBroadcaster) frame(event string, data interface{}) relay.Push {
	return relay.Push{
		Type:      "event",
		Event:     event,
		Data:      data,
		Seq:       b.seq.Add(1),
		Timestamp: time.Now().UnixMilli(),
	}
}

// Send writes one server-originated event to client.
func (b *EventBroadcaster) Send(client *Client, event string, data interface{}) error {
	return client.WriteJSON(b.frame(event, data))
}

// Broadcast sends an event to every connected client
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	b.broadcast(b.clients.GetAll(), b.frame(event, data))
}

// BroadcastSession sends an event to the clients following sessionID.
func (b *EventBroadcaster) BroadcastSession(sessionID, event string, data interface{}) {
	b.broadcast(b.clients.ForSession(sessionID), b.frame(event, data))
}

func (b *EventBroadcaster) broadcast(clients []*Client, msg relay.Push) {
	if len(clients) == 0 {
		b.logger.Debug().Str("event", msg.Event).Msg("No clients to broadcast to")
		return
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", msg.Event).Msg("Failed to marshal event")
		return
	}

	failed := 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, jsonData); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", msg.Event).
				Msg("Failed to broadcast to client")
			failed++
		}
	}

	b.logger.Debug().
		Str("event", msg.Event).
		Int64("seq", msg.Seq).
		Int("success", len(clients)-failed).
		Int("failed", failed).
		Msg("Event broadcast complete")
}

// Forward copies pushes to client until pushes closes or a write fails.
// Every pingEvery it sends a ping so dead peers are noticed.
func (b *EventBroadcaster) Forward(client *Client, pushes <-chan relay.Push, pingEvery time.Duration) {
	var tick <-chan time.Time
	if pingEvery > 0 {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case push, ok := <-pushes:
			if !ok {
				return
			}
			if err := client.WriteJSON(push); err != nil {
				b.logger.Debug().Err(err).Str("clientId", client.ID).Str("event", push.Event).Msg("Push write failed")
				return
			}
		case <-tick:
			if err := client.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
