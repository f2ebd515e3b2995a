package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultURL              = "wss://api.openai.com/v1/realtime"
	DefaultModel            = "gpt-4o-realtime-preview-2024-10-01"
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultWriteTimeout     = 5 * time.Second

	// BetaHeader is the protocol-version marker sent at connection time.
	BetaHeader = "realtime=v1"
)

// EventKind classifies what a Link reports to its handler.
type EventKind int

const (
	EventOpened EventKind = iota
	EventConfigured
	EventFrame
	EventMalformed
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventConfigured:
		return "configured"
	case EventFrame:
		return "frame"
	case EventMalformed:
		return "malformed"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one lifecycle or protocol notification from a Link.
type Event struct {
	Kind  EventKind
	Frame *ServerFrame
	// Err is the malformed-frame error, or the diagnostic reason for a closed link.
	// A closed event with a nil Err is a normal shutdown.
	Err error
	// Code is the WebSocket close code of a closed event.
	Code int
}

// Handler receives link events one at a time, in arrival order.
type Handler func(Event)

// Config configures a Link.
type Config struct {
	URL              string
	Model            string
	APIKey           string
	Session          SessionConfig
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Dialer           *websocket.Dialer
	Logger           zerolog.Logger
}

// Endpoint returns the dial URL with the model query parameter applied.
func (c Config) Endpoint() (string, error) {
	base := strings.TrimSpace(c.URL)
	if base == "" {
		base = DefaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid realtime url scheme: %q", u.Scheme)
	}
	model := strings.TrimSpace(c.Model)
	if model == "" {
		model = DefaultModel
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Link owns one WebSocket connection to the realtime API.
//
// A single goroutine reads frames and invokes the handler, so frames are
// handled strictly in arrival order and never concurrently.
type Link struct {
	cfg     Config
	handler Handler
	logger  zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	opened   bool
	closing  bool
	reason   error
	closeErr error

	writeMu   sync.Mutex
	ready     atomic.Bool
	readyCh   chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

// NewLink creates an unopened link. handler may be nil.
func NewLink(cfg Config, handler Handler) *Link {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if len(cfg.Session.Modalities) == 0 {
		cfg.Session = NewSessionConfig("", "", 0, "")
	}
	return &Link{
		cfg:     cfg,
		handler: handler,
		logger:  cfg.Logger.With().Str("component", "realtime-link").Logger(),
		readyCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Open dials the realtime API, sends the session configuration and blocks
// until the upstream acknowledges it, the handshake timeout elapses or ctx ends.
// Failures are not retried; a fresh Link must be opened instead.
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.opened {
		l.mu.Unlock()
		return ErrAlreadyOpen
	}
	l.opened = true
	l.mu.Unlock()

	endpoint, err := l.cfg.Endpoint()
	if err != nil {
		l.fail(err)
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+l.cfg.APIKey)
	header.Set("OpenAI-Beta", BetaHeader)

	dialCtx, cancel := context.WithTimeout(ctx, l.cfg.HandshakeTimeout)
	conn, resp, err := l.cfg.Dialer.DialContext(dialCtx, endpoint, header)
	cancel()
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		err = fmt.Errorf("dial realtime api: %w", err)
		l.fail(err)
		return err
	}

	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		_ = conn.Close()
		l.fail(ErrClosed)
		return ErrClosed
	}
	l.conn = conn
	l.mu.Unlock()

	l.logger.Debug().Str("url", endpoint).Msg("Realtime connection established")
	go l.run(conn)

	timer := time.NewTimer(l.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-l.readyCh:
		return nil
	case <-l.done:
		return l.failure()
	case <-timer.C:
		l.shutdown(ErrHandshakeTimeout)
		return ErrHandshakeTimeout
	case <-ctx.Done():
		l.shutdown(ctx.Err())
		return ctx.Err()
	}
}

// Ready reports whether negotiation has been acknowledged and the link is still open.
func (l *Link) Ready() bool {
	return l.ready.Load()
}

// Done is closed once the link has fully terminated.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// SendAudio transmits one PCM16 chunk. It returns ErrNotReady without writing
// anything if negotiation has not been acknowledged.
func (l *Link) SendAudio(pcm []byte) error {
	if !l.Ready() {
		return ErrNotReady
	}
	return l.writeJSON(EncodeAudio(pcm))
}

// SendEndOfSpeech commits the input audio buffer, ending the current utterance.
func (l *Link) SendEndOfSpeech() error {
	if !l.Ready() {
		return ErrNotReady
	}
	return l.writeJSON(AudioCommit{Type: TypeInputAudioCommit})
}

// Close terminates the connection and waits briefly for the read loop to exit.
// It is safe to call on a closed or never-opened link.
func (l *Link) Close() error {
	l.shutdown(nil)
	return nil
}

func (l *Link) shutdown(reason error) {
	var conn *websocket.Conn
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closing = true
		l.reason = reason
		conn = l.conn
		l.mu.Unlock()

		l.ready.Store(false)
		if conn == nil {
			return
		}
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	})

	if conn == nil {
		return
	}
	select {
	case <-l.done:
	case <-time.After(l.cfg.WriteTimeout):
		l.logger.Warn().Msg("Timed out waiting for realtime read loop to exit")
	}
}

func (l *Link) run(conn *websocket.Conn) {
	defer close(l.done)

	l.emit(Event{Kind: EventOpened})

	update := SessionUpdate{Type: TypeSessionUpdate, Session: l.cfg.Session}
	if err := l.writeJSON(update); err != nil {
		l.mu.Lock()
		if l.reason == nil {
			l.reason = fmt.Errorf("send session config: %w", err)
		}
		l.mu.Unlock()
		_ = conn.Close()
	} else {
		l.emit(Event{Kind: EventConfigured})
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			l.finish(err)
			return
		}
		if msgType != websocket.TextMessage {
			l.logger.Debug().Int("message_type", msgType).Msg("Ignoring non-text realtime frame")
			continue
		}

		frame, err := DecodeServerFrame(data)
		if err != nil {
			l.emit(Event{Kind: EventMalformed, Err: err})
			continue
		}
		// Handlers may send audio as soon as they see the ack.
		if frame.Type == TypeSessionUpdated {
			l.markReady()
		}
		l.emit(Event{Kind: EventFrame, Frame: frame})
	}
}

func (l *Link) finish(readErr error) {
	l.ready.Store(false)

	l.mu.Lock()
	local := l.closing
	reason := l.reason
	l.mu.Unlock()

	code := websocket.CloseAbnormalClosure
	var closeErr *websocket.CloseError
	if errors.As(readErr, &closeErr) {
		code = closeErr.Code
	}

	var evErr error
	switch {
	case reason != nil:
		evErr = reason
	case local:
		code = websocket.CloseNormalClosure
	case closeErr != nil && (closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway):
	default:
		evErr = readErr
	}

	l.mu.Lock()
	l.closeErr = evErr
	l.mu.Unlock()

	l.logger.Debug().Int("code", code).AnErr("reason", evErr).Msg("Realtime connection closed")
	l.emit(Event{Kind: EventClosed, Err: evErr, Code: code})
}

// fail terminates a link whose connection never reached the read loop.
func (l *Link) fail(err error) {
	l.mu.Lock()
	l.closeErr = err
	l.mu.Unlock()
	l.emit(Event{Kind: EventClosed, Err: err, Code: websocket.CloseAbnormalClosure})
	close(l.done)
}

func (l *Link) failure() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closeErr != nil {
		return l.closeErr
	}
	return ErrClosed
}

func (l *Link) markReady() {
	l.readyOnce.Do(func() {
		l.ready.Store(true)
		close(l.readyCh)
	})
}

func (l *Link) writeJSON(payload any) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	conn := l.conn
	closing := l.closing
	l.mu.Unlock()
	if conn == nil || closing {
		return ErrClosed
	}

	_ = conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	if err := conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("write realtime frame: %w", err)
	}
	return nil
}

func (l *Link) emit(ev Event) {
	if l.handler != nil {
		l.handler(ev)
	}
}
