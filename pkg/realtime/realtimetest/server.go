// Package realtimetest provides an in-process fake of the realtime API for tests.
package realtimetest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Options controls the scripted behaviour of a Server.
type Options struct {
	// AutoAck answers every session.update with session.updated. A session.created
	// frame is always sent as soon as a client connects.
	AutoAck bool
	// Conversation sends conversation.created after the first acknowledgement.
	Conversation bool
	// RejectStatus, when non-zero, refuses the upgrade with this HTTP status.
	RejectStatus   int
	SessionID      string
	ConversationID string
}

// ClientFrame is one frame received from the client under test.
type ClientFrame struct {
	Type string
	Raw  json.RawMessage
}

// Field decodes a top-level field of the frame.
func (f ClientFrame) Field(name string) json.RawMessage {
	var m map[string]json.RawMessage
	_ = json.Unmarshal(f.Raw, &m)
	return m[name]
}

// Server is a fake realtime endpoint.
type Server struct {
	*httptest.Server
	opts     Options
	upgrader websocket.Upgrader
	conns    chan *Conn

	mu  sync.Mutex
	all []*Conn
}

// NewServer starts a fake endpoint that is closed with the test.
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()
	if opts.SessionID == "" {
		opts.SessionID = "sess_test"
	}
	if opts.ConversationID == "" {
		opts.ConversationID = "conv_test"
	}

	s := &Server{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(chan *Conn, 16),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// address of the endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Close drops every open connection and stops the listener.
func (s *Server) Close() {
	s.mu.Lock()
	conns := append([]*Conn(nil), s.all...)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close()
	}
	s.Server.Close()
}

// Accept waits for the next client connection.
func (s *Server) Accept(t testing.TB) *Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for realtime client connection")
		return nil
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.opts.RejectStatus != 0 {
		http.Error(w, "rejected", s.opts.RejectStatus)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &Conn{
		ws:     ws,
		Header: r.Header.Clone(),
		Query:  r.URL.Query(),
		frames: make(chan ClientFrame, 256),
		closed: make(chan struct{}),
	}
	s.mu.Lock()
	s.all = append(s.all, c)
	s.mu.Unlock()

	_ = c.write(map[string]any{
		"type":    "session.created",
		"session": map[string]any{"id": s.opts.SessionID},
	})

	go c.readLoop(s.opts)
	s.conns <- c
}

// Conn is the server side of one client connection.
type Conn struct {
	ws     *websocket.Conn
	Header http.Header
	Query  map[string][]string

	writeMu sync.Mutex
	frames  chan ClientFrame
	closed  chan struct{}
	acked   bool
}

func (c *Conn) readLoop(opts Options) {
	defer close(c.closed)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(data, &head)
		frame := ClientFrame{Type: head.Type, Raw: append(json.RawMessage(nil), data...)}

		select {
		case c.frames <- frame:
		default:
		}

		if head.Type == "session.update" && opts.AutoAck {
			_ = c.write(map[string]any{"type": "session.updated", "session": map[string]any{"id": opts.SessionID}})
			if opts.Conversation && !c.acked {
				_ = c.write(map[string]any{
					"type":         "conversation.created",
					"conversation": map[string]any{"id": opts.ConversationID},
				})
			}
			c.acked = true
		}
	}
}

func (c *Conn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return c.ws.WriteJSON(v)
}

// Send writes one JSON frame to the client.
func (c *Conn) Send(t testing.TB, v any) {
	t.Helper()
	if err := c.write(v); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

// SendRaw writes a text frame verbatim.
func (c *Conn) SendRaw(t testing.TB, raw string) {
	t.Helper()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("send raw frame: %v", err)
	}
}

// SendType writes a frame carrying only a type.
func (c *Conn) SendType(t testing.TB, frameType string) {
	t.Helper()
	c.Send(t, map[string]any{"type": frameType})
}

// SendAudioDelta writes a response.audio.delta frame carrying pcm.
func (c *Conn) SendAudioDelta(t testing.TB, pcm []byte) {
	t.Helper()
	c.Send(t, map[string]any{
		"type":  "response.audio.delta",
		"delta": base64.StdEncoding.EncodeToString(pcm),
	})
}

// Next waits for the next frame sent by the client.
func (c *Conn) Next(t testing.TB) ClientFrame {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return ClientFrame{}
	}
}

// NextOfType skips frames until one of the given type arrives.
func (c *Conn) NextOfType(t testing.TB, frameType string) ClientFrame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-c.frames:
			if f.Type == frameType {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", frameType)
			return ClientFrame{}
		}
	}
}

// CloseWith sends a close frame with code and drops the connection.
func (c *Conn) CloseWith(code int, text string) {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.ws.Close()
}

// Closed is closed when the client side has gone away.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}
