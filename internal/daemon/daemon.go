package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/voxrelay/internal/config"
	"github.com/harun/voxrelay/internal/logger"
	"github.com/harun/voxrelay/internal/observability"
	"github.com/harun/voxrelay/internal/tracing"
	"github.com/harun/voxrelay/pkg/chat"
	"github.com/harun/voxrelay/pkg/gateway"
	"github.com/harun/voxrelay/pkg/realtime"
	"github.com/harun/voxrelay/pkg/recordings"
	"github.com/harun/voxrelay/pkg/relay"
)

// Version is reported to the tracer provider and by the CLI.
var Version = "0.1.0"

const (
	serviceName     = "voxrelay"
	shutdownTimeout = 10 * time.Second
	cookieTTL       = 24 * time.Hour
)

// Daemon represents the voxrelay service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	manager       *relay.Manager
	gatewayServer *gateway.Server
	chat          *chat.Streamer
	janitor       *recordings.Janitor
	instructions  *config.InstructionsWatcher

	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(serviceName, Version, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Float64("sample_ratio", cfg.Tracing.SampleRatio).Msg("Tracing initialized")
		}
	}

	if err := d.initialize(); err != nil {
		cancel()
		if d.instructions != nil {
			_ = d.instructions.Stop()
		}
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize daemon: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initialize builds the service graph in dependency order.
func (d *Daemon) initialize() error {
	cfg := d.config

	if cfg.DataDir != "" {
		if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to open audit log, auditing to stderr")
		}
	}

	if cfg.Upstream.InstructionsFile != "" {
		w, err := config.NewInstructionsWatcher(cfg.Upstream.InstructionsFile, cfg.Upstream.Instructions, d.logger.Component("instructions"))
		if err != nil {
			return fmt.Errorf("failed to create instructions watcher: %w", err)
		}
		w.OnReload(func(text string) {
			observability.RecordConfigAudit(context.Background(), "reload:instructions", map[string]interface{}{
				"path":  cfg.Upstream.InstructionsFile,
				"bytes": len(text),
			})
		})
		d.instructions = w
	}

	d.manager = relay.NewManager(relay.ManagerConfig{
		Upstream:      d.upstreamConfig(),
		Instructions:  d.currentInstructions,
		RecordingsDir: cfg.Recordings.Dir,
		Logger:        d.logger.GetZerolog(),
	})

	if cfg.Upstream.APIKey != "" {
		d.chat = chat.NewStreamer(chat.Config{
			APIKey:  cfg.Upstream.APIKey,
			BaseURL: cfg.Chat.BaseURL,
			Model:   cfg.Chat.Model,
			Logger:  d.logger.GetZerolog(),
		})
	}

	secret := cfg.Server.SessionSecret
	if secret == "" {
		generated, err := gateway.GenerateSecret()
		if err != nil {
			return err
		}
		secret = generated
		d.logger.Warn().Msg("No session secret configured, logins will not survive a restart")
	}
	auth := gateway.NewAuthHandler(secret, cfg.Server.Username, cfg.Server.Password, cookieTTL)
	if auth.SimpleMode() {
		d.logger.Info().Msg("No credentials configured, any username is accepted")
	}

	gwCfg := gateway.Config{
		Addr:           cfg.Server.Addr(),
		Sessions:       d.manager,
		Push:           d.manager.Hub(),
		Auth:           auth,
		LoginRateLimit: cfg.Server.LoginRateLimit,
		RecordingsDir:  cfg.Recordings.Dir,
		PushBuffer:     cfg.Server.PushBuffer,
		Logger:         d.logger.GetZerolog(),
	}
	if d.chat != nil {
		gwCfg.Chat = d.chat
	}
	gw, err := gateway.NewServer(gwCfg)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	d.gatewayServer = gw

	janitor, err := recordings.NewJanitor(recordings.JanitorConfig{
		Dir:       cfg.Recordings.Dir,
		Retention: cfg.Recordings.Retention,
		Schedule:  cfg.Recordings.CleanupSchedule,
		Logger:    d.logger.GetZerolog(),
	})
	if err != nil {
		return err
	}
	d.janitor = janitor

	return nil
}

// upstreamConfig is the link template every relay session starts from.
func (d *Daemon) upstreamConfig() realtime.Config {
	up := d.config.Upstream
	return realtime.Config{
		URL:              up.URL,
		Model:            up.Model,
		APIKey:           up.APIKey,
		Session:          realtime.NewSessionConfig(up.Voice, up.Instructions, up.VADThreshold, up.TranscriptionModel),
		HandshakeTimeout: up.HandshakeTimeout,
		WriteTimeout:     up.WriteTimeout,
		Logger:           d.logger.GetZerolog(),
	}
}

func (d *Daemon) currentInstructions() string {
	if d.instructions != nil {
		return d.instructions.Current()
	}
	return d.config.Upstream.Instructions
}

// Start starts the daemon
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Str("version", Version).Msg("Starting voxrelay daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := os.MkdirAll(d.config.Recordings.Dir, 0755); err != nil {
		logger.Warn().Err(err).Str("dir", d.config.Recordings.Dir).Msg("Failed to create recordings directory")
	}

	if d.instructions != nil {
		if err := d.instructions.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to watch instructions file, using the loaded text")
		} else {
			logger.Info().Str("path", d.config.Upstream.InstructionsFile).Msg("Instructions watcher started")
		}
	}

	if err := d.gatewayServer.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	d.janitor.Start()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().Msg("voxrelay daemon started")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops the daemon gracefully. Active sessions are torn down and
// their recordings flushed before the process state is cleaned up.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping voxrelay daemon")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := d.gatewayServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	for id, td := range d.manager.Shutdown() {
		if td.Err != nil {
			logger.Error().Err(td.Err).Str("session_id", id).Msg("Recording flush failed during shutdown")
		}
	}
	logger.Info().Msg("Relay sessions stopped")

	d.janitor.Stop(ctx)

	if d.instructions != nil {
		if err := d.instructions.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop instructions watcher")
		}
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if d.tracingEnabled {
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// Status represents daemon status
type Status struct {
	Running        bool
	Uptime         time.Duration
	StartTime      time.Time
	Addr           string
	ActiveSessions int
	PushClients    int
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:        d.running,
		Addr:           d.gatewayServer.Addr(),
		ActiveSessions: d.manager.ActiveCount(),
		PushClients:    len(d.gatewayServer.GetConnectedClients()),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM and then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetManager returns the relay session manager
func (d *Daemon) GetManager() *relay.Manager {
	return d.manager
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetJanitor returns the recordings janitor
func (d *Daemon) GetJanitor() *recordings.Janitor {
	return d.janitor
}
