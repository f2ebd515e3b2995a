package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/voxrelay/internal/observability"
)

// Server is the browser-facing HTTP server
type Server struct {
	addr          string
	sessions      SessionManager
	push          PushSource
	chat          ChatStreamer
	auth          *AuthHandler
	limiter       *LoginRateLimiter
	clients       *ClientRegistry
	broadcaster   *EventBroadcaster
	recordingsDir string
	pushBuffer    int
	pingInterval  time.Duration
	logger        zerolog.Logger

	upgrader       websocket.Upgrader
	server         *http.Server
	listener       net.Listener
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	sweepCancel    context.CancelFunc
	sweepWG        sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Addr           string
	Sessions       SessionManager
	Push           PushSource
	Chat           ChatStreamer // nil disables /api/chat
	Auth           *AuthHandler
	LoginRateLimit int // attempts per minute per address
	RecordingsDir  string
	PushBuffer     int
	PingInterval   time.Duration
	Logger         zerolog.Logger
}

// NewServer creates a new server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Push == nil {
		return nil, fmt.Errorf("push source is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("auth handler is required")
	}
	if cfg.PushBuffer <= 0 {
		cfg.PushBuffer = 256
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	clients := NewClientRegistry()

	return &Server{
		addr:          cfg.Addr,
		sessions:      cfg.Sessions,
		push:          cfg.Push,
		chat:          cfg.Chat,
		auth:          cfg.Auth,
		limiter:       NewLoginRateLimiter(cfg.LoginRateLimit, time.Minute),
		clients:       clients,
		broadcaster:   NewEventBroadcaster(clients, logger),
		recordingsDir: cfg.RecordingsDir,
		pushBuffer:    cfg.PushBuffer,
		pingInterval:  cfg.PingInterval,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     sameOrigin,
		},
	}, nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /logout", s.handleLogout)

	mux.Handle("POST /api/start_dialogue", s.requireLogin(s.handleStartDialogue))
	mux.Handle("POST /api/stop_dialogue", s.requireLogin(s.handleStopDialogue))
	mux.Handle("POST /api/send_audio", s.requireLogin(s.handleSendAudio))
	mux.Handle("POST /api/end_audio", s.requireLogin(s.handleEndAudio))
	mux.Handle("GET /api/status", s.requireLogin(s.handleStatus))
	mux.Handle("GET /api/events", s.requireLogin(s.handleEvents))
	mux.Handle("POST /api/chat", s.requireLogin(s.handleChat))
	mux.Handle("GET /ws", s.requireLogin(s.handleWebSocket))
	mux.Handle("GET /recordings/", s.requireLogin(s.handleRecording))

	mux.HandleFunc("GET /api/generate_test_audio", s.handleTestAudio)
	mux.HandleFunc("GET /api/audio_devices", s.handleAudioDevices)

	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return s.traced(mux)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	s.startSweeper()
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop tells push clients the server is going away, closes them and shuts
// the HTTP server down within ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway")
	s.stopSweeper()

	s.broadcaster.Broadcast(PushServerShutdown, map[string]interface{}{
		"message": "Server is shutting down",
	})
	for _, client := range s.clients.GetAll() {
		_ = client.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// startSweeper drops stale login rate limiter entries once a minute.
func (s *Server) startSweeper() {
	ctx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	s.sweepWG.Add(1)

	go func() {
		defer s.sweepWG.Done()

		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.limiter.Sweep()
			}
		}
	}()
}

func (s *Server) stopSweeper() {
	if s.sweepCancel != nil {
		s.sweepCancel()
		s.sweepCancel = nil
	}
	s.sweepWG.Wait()
}

// GetConnectedClients returns information about all connected push clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}
