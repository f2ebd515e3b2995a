package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harun/voxrelay/pkg/relay"
)

const maxInboundFrame = 4096

// handleWebSocket attaches a browser to the push channel of its session.
// The first frame is always "connected".
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	id, _ := identityFromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := NewClient(conn, id, remoteHost(r))
	s.clients.Add(client)
	pushes, unsubscribe := s.push.Subscribe(id.SessionID, s.pushBuffer)

	logger := s.logger.With().Str("clientId", client.ID).Str("session_id", id.SessionID).Logger()
	logger.Info().Str("ip", client.IPAddress).Msg("Push client connected")

	cleanup := func() {
		unsubscribe()
		s.clients.Remove(client.ID)
		conn.Close()
	}

	if err := s.broadcaster.Send(client, relay.PushConnected, map[string]string{"session_id": id.SessionID}); err != nil {
		logger.Warn().Err(err).Msg("Failed to send connected frame")
		cleanup()
		return
	}

	go func() {
		s.broadcaster.Forward(client, pushes, s.pingInterval)
		conn.Close()
	}()

	go func() {
		defer func() {
			cleanup()
			logger.Info().Msg("Push client disconnected")
		}()
		s.readPump(client)
	}()
}

// readPump discards inbound frames and returns when the peer goes away or
// misses two pings.
func (s *Server) readPump(client *Client) {
	conn := client.Conn
	conn.SetReadLimit(maxInboundFrame)

	deadline := func() {
		_ = conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
	}
	deadline()
	conn.SetPongHandler(func(string) error {
		deadline()
		s.clients.UpdateActivity(client.ID)
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Debug().Err(err).Str("clientId", client.ID).Msg("Push client read error")
			}
			return
		}
		deadline()
		s.clients.UpdateActivity(client.ID)
	}
}
