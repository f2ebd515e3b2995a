package relay

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/harun/voxrelay/internal/observability"
	"github.com/harun/voxrelay/internal/tracing"
	"github.com/harun/voxrelay/pkg/realtime"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "voxrelay/relay"

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Upstream is the template for every session's link.
	Upstream realtime.Config
	// Instructions, when set, supplies the system instructions for new sessions
	// and overrides Upstream.Session.Instructions if it returns a non-empty string.
	Instructions    func() string
	RecordingsDir   string
	JournalCapacity int
	Factory         UpstreamFactory
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Manager is the client-facing entry point to relay sessions.
type Manager struct {
	cfg      ManagerConfig
	hub      *Hub
	registry *Registry
	logger   zerolog.Logger
}

// NewManager creates a manager with an empty registry.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.RecordingsDir == "" {
		cfg.RecordingsDir = filepath.Join("static", "recordings")
	}
	m := &Manager{
		cfg:    cfg,
		hub:    NewHub(),
		logger: cfg.Logger.With().Str("component", "relay-manager").Logger(),
	}
	m.registry = NewRegistry(m.newRelay)
	return m
}

func (m *Manager) newRelay(id string) *Relay {
	upstream := m.cfg.Upstream
	if len(upstream.Session.Modalities) == 0 {
		upstream.Session = realtime.NewSessionConfig("", "", 0, "")
	}
	if m.cfg.Instructions != nil {
		if text := m.cfg.Instructions(); text != "" {
			upstream.Session.Instructions = text
		}
	}
	return New(Options{
		ID:              id,
		Upstream:        upstream,
		RecordingsDir:   m.cfg.RecordingsDir,
		JournalCapacity: m.cfg.JournalCapacity,
		Hub:             m.hub,
		Factory:         m.cfg.Factory,
		Logger:          m.cfg.Logger,
		Now:             m.cfg.Now,
	})
}

// Hub returns the push hub shared by all sessions.
func (m *Manager) Hub() *Hub {
	return m.hub
}

// RecordingsDir returns the directory recordings are written to.
func (m *Manager) RecordingsDir() string {
	return m.cfg.RecordingsDir
}

// ActiveCount returns the number of active sessions.
func (m *Manager) ActiveCount() int {
	return m.registry.Count()
}

// Sessions returns the active session ids.
func (m *Manager) Sessions() []string {
	return m.registry.IDs()
}

// Start opens a relay for id. It returns ErrConflict when id is already active
// and ErrOpenFailed when the upstream could not be negotiated.
func (m *Manager) Start(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "relay.start", attribute.String("session.id", id))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger).With().Str("session_id", id).Logger()

	rel, err := m.registry.Create(id)
	if err != nil {
		observability.RecordRelayStart("rejected")
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	observability.SetActiveRelays(m.registry.Count())

	if err := rel.Open(ctx); err != nil {
		m.registry.Discard(id, rel)
		observability.SetActiveRelays(m.registry.Count())
		observability.RecordRelayStart("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		logger.Warn().Err(err).Msg("Relay start failed")
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	observability.RecordRelayStart("success")
	logger.Info().Msg("Relay started")
	return nil
}

// SubmitAudio forwards a base64 PCM16 chunk to the session's upstream.
func (m *Manager) SubmitAudio(id, encoded string) error {
	rel, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	return rel.SubmitAudio(encoded)
}

// EndSpeech ends the current utterance of a session.
func (m *Manager) EndSpeech(id string) error {
	rel, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	return rel.EndSpeech()
}

// Status returns the session status.
func (m *Manager) Status(id string) (Status, error) {
	rel, err := m.registry.Get(id)
	if err != nil {
		return Status{}, err
	}
	return rel.Status(), nil
}

// Events returns the session journal, oldest first.
func (m *Manager) Events(id string) ([]Event, error) {
	rel, err := m.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return rel.Events(), nil
}

// Stop removes the session, closing its upstream and flushing its recording.
func (m *Manager) Stop(ctx context.Context, id string) (Teardown, error) {
	_, span := tracing.StartSpan(ctx, tracerName, "relay.stop", attribute.String("session.id", id))
	defer span.End()

	td, err := m.registry.Remove(id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return td, err
	}
	observability.SetActiveRelays(m.registry.Count())
	if td.Err != nil {
		span.RecordError(td.Err)
	}
	if td.RecordingPath != "" {
		span.SetAttributes(attribute.String("recording.path", td.RecordingPath))
	}
	m.logger.Info().Str("session_id", id).Str("recording", td.RecordingPath).Msg("Relay stopped")
	return td, nil
}

// Shutdown stops every session concurrently.
func (m *Manager) Shutdown() map[string]Teardown {
	results := m.registry.CloseAll()
	observability.SetActiveRelays(0)
	if len(results) > 0 {
		m.logger.Info().Int("sessions", len(results)).Msg("Stopped all relays")
	}
	return results
}
