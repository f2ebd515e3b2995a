package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/harun/voxrelay/internal/observability"
	"github.com/harun/voxrelay/pkg/realtime"
	"github.com/rs/zerolog"
)

// Upstream is the connection a relay drives. *realtime.Link implements it.
type Upstream interface {
	Open(ctx context.Context) error
	SendAudio(pcm []byte) error
	SendEndOfSpeech() error
	Close() error
	Ready() bool
}

// UpstreamFactory builds the upstream connection for one relay.
type UpstreamFactory func(cfg realtime.Config, handler realtime.Handler) Upstream

// LinkFactory builds real realtime links.
func LinkFactory(cfg realtime.Config, handler realtime.Handler) Upstream {
	return realtime.NewLink(cfg, handler)
}

// Options configures a single relay.
type Options struct {
	ID              string
	Upstream        realtime.Config
	RecordingsDir   string
	JournalCapacity int
	Hub             *Hub
	Factory         UpstreamFactory
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Status is the client-facing view of a relay.
type Status struct {
	SessionID         string    `json:"session_id"`
	Connected         bool      `json:"connected"`
	Ready             bool      `json:"ready"`
	State             State     `json:"state"`
	UpstreamSessionID *string   `json:"openai_session_id"`
	ConversationID    *string   `json:"conversation_id"`
	CreatedAt         time.Time `json:"created_at"`
	Stats             Stats     `json:"stats"`
}

// Teardown reports the outcome of shutting a relay down.
type Teardown struct {
	// RecordingPath is empty when no response audio was received.
	RecordingPath string
	// Err is the persistence failure, if any. Teardown completes regardless.
	Err error
}

// Relay bridges one client session to one upstream connection.
type Relay struct {
	id        string
	createdAt time.Time
	dir       string
	now       func() time.Time
	logger    zerolog.Logger

	journal *Journal
	stats   *StatsCounter
	audio   *AudioAccumulator
	machine *Machine
	link    Upstream

	shutdownOnce sync.Once
	teardown     Teardown
}

// New wires a relay's journal, counters, accumulator and state machine to a new upstream.
func New(opts Options) *Relay {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	factory := opts.Factory
	if factory == nil {
		factory = LinkFactory
	}

	logger := opts.Logger.With().Str("session_id", opts.ID).Logger()
	journal := NewJournal(opts.JournalCapacity)
	journal.now = now
	stats := NewStatsCounter(now)
	acc := NewAudioAccumulator()
	machine := NewMachine(opts.ID, journal, stats, acc, opts.Hub, logger.With().Str("component", "relay-machine").Logger())

	if opts.Hub != nil {
		hub, id := opts.Hub, opts.ID
		journal.OnAppend(func(ev Event) {
			hub.Publish(id, PushNewEvent, ev)
		})
	}

	upstreamCfg := opts.Upstream
	upstreamCfg.Logger = logger

	r := &Relay{
		id:        opts.ID,
		createdAt: now(),
		dir:       opts.RecordingsDir,
		now:       now,
		logger:    logger.With().Str("component", "relay").Logger(),
		journal:   journal,
		stats:     stats,
		audio:     acc,
		machine:   machine,
	}
	r.link = factory(upstreamCfg, machine.Handle)
	return r
}

// ID returns the session id.
func (r *Relay) ID() string {
	return r.id
}

// Open connects the upstream and waits for negotiation.
func (r *Relay) Open(ctx context.Context) error {
	r.journal.Record(CategoryWebSocket, LevelInfo, "WebSocket connection initiated")
	if err := r.link.Open(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to open upstream connection")
		return err
	}
	r.logger.Info().Msg("Upstream session negotiated")
	return nil
}

// SendAudio forwards one PCM16 chunk. It returns ErrNotReady, without touching
// the counters, until negotiation has been acknowledged.
func (r *Relay) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return ErrInvalidAudio
	}
	if err := r.link.SendAudio(pcm); err != nil {
		if errors.Is(err, realtime.ErrNotReady) || errors.Is(err, realtime.ErrClosed) {
			return ErrNotReady
		}
		r.journal.Record(CategoryError, LevelError, fmt.Sprintf("Audio send error: %v", err))
		return err
	}
	r.machine.recordSent(len(pcm))
	return nil
}

// SubmitAudio decodes a base64 PCM16 chunk and forwards it.
func (r *Relay) SubmitAudio(encoded string) error {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return ErrInvalidAudio
	}
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	return r.SendAudio(pcm)
}

// EndSpeech commits the buffered input audio.
func (r *Relay) EndSpeech() error {
	if err := r.link.SendEndOfSpeech(); err != nil {
		if errors.Is(err, realtime.ErrNotReady) || errors.Is(err, realtime.ErrClosed) {
			return ErrNotReady
		}
		r.journal.Record(CategoryError, LevelError, fmt.Sprintf("End of speech error: %v", err))
		return err
	}
	r.journal.Record(CategoryAudio, LevelInfo, "End of speech sent")
	return nil
}

// Status returns a consistent snapshot of the relay.
func (r *Relay) Status() Status {
	snap := r.machine.Snapshot()
	st := Status{
		SessionID: r.id,
		Connected: snap.Connected,
		Ready:     snap.Ready,
		State:     snap.State,
		CreatedAt: r.createdAt,
		Stats:     r.stats.Snapshot(),
	}
	if snap.UpstreamSessionID != "" {
		id := snap.UpstreamSessionID
		st.UpstreamSessionID = &id
	}
	if snap.ConversationID != "" {
		id := snap.ConversationID
		st.ConversationID = &id
	}
	return st
}

// Events returns the journal, oldest first.
func (r *Relay) Events() []Event {
	return r.journal.Snapshot()
}

// Shutdown closes the upstream and flushes buffered response audio.
// Only the first call does any work; later calls return the same result.
func (r *Relay) Shutdown() Teardown {
	r.shutdownOnce.Do(func() {
		if err := r.link.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to close upstream connection")
		}

		path := r.recordingPath()
		start := time.Now()
		written, err := r.audio.Flush(path)
		switch {
		case err != nil:
			observability.RecordRecordingSave(time.Since(start), false)
			r.logger.Error().Err(err).Str("path", path).Msg("Failed to save recording")
			r.journal.Record(CategoryError, LevelError, fmt.Sprintf("Audio save error: %v", err))
			r.teardown.Err = fmt.Errorf("save recording: %w", err)
		case written:
			observability.RecordRecordingSave(time.Since(start), true)
			r.logger.Info().Str("path", path).Msg("Recording saved")
			r.journal.Record(CategorySave, LevelSuccess, "Audio saved: "+filepath.Base(path))
			r.teardown.RecordingPath = path
		}

		observability.RecordRelayLifetime(r.now().Sub(r.createdAt))
	})
	return r.teardown
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// RecordingName returns the file name used for a session's recording.
func RecordingName(sessionID string, at time.Time) string {
	safe := unsafeNameChars.ReplaceAllString(sessionID, "_")
	if safe == "" {
		safe = "session"
	}
	return fmt.Sprintf("dialogue_%s_%s.wav", safe, at.Format("20060102_150405"))
}

func (r *Relay) recordingPath() string {
	return filepath.Join(r.dir, RecordingName(r.id, r.now()))
}
