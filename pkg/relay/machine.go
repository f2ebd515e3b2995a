package relay

import (
	"fmt"
	"sync"

	"github.com/harun/voxrelay/internal/observability"
	"github.com/harun/voxrelay/pkg/realtime"
	"github.com/rs/zerolog"
)

// State is the replicated upstream turn state of a session.
type State string

const (
	StateNegotiating State = "negotiating"
	StateReady       State = "ready"
	StateSpeaking    State = "speaking"
	StateResponding  State = "responding"
	StateClosed      State = "closed"
)

// Snapshot is a consistent copy of a session's connection state.
type Snapshot struct {
	State             State
	Connected         bool
	Ready             bool
	UpstreamSessionID string
	ConversationID    string
}

// Machine replicates the upstream session state from link events and derives
// the journal entries, counters, buffered audio and client pushes.
//
// Handle is called only from the link's read goroutine; every other method
// may be called concurrently.
type Machine struct {
	sessionID string
	journal   *Journal
	stats     *StatsCounter
	audio     *AudioAccumulator
	hub       *Hub
	logger    zerolog.Logger

	mu                sync.RWMutex
	state             State
	connected         bool
	ready             bool
	readySignalled    bool
	upstreamSessionID string
	conversationID    string
}

// NewMachine creates a machine in the negotiating state. hub may be nil.
func NewMachine(sessionID string, journal *Journal, stats *StatsCounter, audio *AudioAccumulator, hub *Hub, logger zerolog.Logger) *Machine {
	return &Machine{
		sessionID: sessionID,
		journal:   journal,
		stats:     stats,
		audio:     audio,
		hub:       hub,
		logger:    logger,
		state:     StateNegotiating,
	}
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		State:             m.state,
		Connected:         m.connected,
		Ready:             m.ready,
		UpstreamSessionID: m.upstreamSessionID,
		ConversationID:    m.conversationID,
	}
}

// Handle applies one link event.
func (m *Machine) Handle(ev realtime.Event) {
	switch ev.Kind {
	case realtime.EventOpened:
		m.mu.Lock()
		m.connected = true
		m.mu.Unlock()
		m.journal.Record(CategoryWebSocket, LevelSuccess, "WebSocket connection opened")

	case realtime.EventConfigured:
		m.journal.Record(CategoryConfig, LevelInfo, "Session configuration sent")

	case realtime.EventMalformed:
		observability.RecordProtocolError("malformed")
		m.logger.Warn().Err(ev.Err).Msg("Dropping malformed upstream frame")
		m.journal.Record(CategoryError, LevelError, fmt.Sprintf("Message processing error: %v", ev.Err))

	case realtime.EventClosed:
		m.handleClosed(ev)

	case realtime.EventFrame:
		if ev.Frame != nil {
			m.handleFrame(ev.Frame)
		}
	}
}

func (m *Machine) handleClosed(ev realtime.Event) {
	m.mu.Lock()
	wasClosed := m.state == StateClosed
	m.state = StateClosed
	m.connected = false
	m.ready = false
	m.mu.Unlock()

	if wasClosed {
		return
	}
	if ev.Err != nil {
		m.logger.Warn().Err(ev.Err).Int("code", ev.Code).Msg("Upstream connection failed")
		m.journal.Record(CategoryError, LevelError, fmt.Sprintf("WebSocket error: %v", ev.Err))
	}
	m.journal.Record(CategoryWebSocket, LevelInfo, fmt.Sprintf("Connection closed (code: %d)", ev.Code))
	m.publish(PushSessionDisconnected, map[string]any{})
}

func (m *Machine) handleFrame(f *realtime.ServerFrame) {
	observability.RecordUpstreamFrame(f.Type)

	m.mu.RLock()
	closed := m.state == StateClosed
	m.mu.RUnlock()
	if closed {
		return
	}

	switch f.Type {
	case realtime.TypeSessionCreated:
		m.mu.Lock()
		m.upstreamSessionID = f.Session.ID
		m.mu.Unlock()
		m.journal.Record(CategorySession, LevelInfo, "Upstream session created: "+f.Session.ID)

	case realtime.TypeSessionUpdated:
		m.mu.Lock()
		first := !m.readySignalled
		if first {
			m.readySignalled = true
			m.ready = true
			m.state = StateReady
		}
		m.mu.Unlock()
		if !first {
			m.logger.Debug().Msg("Ignoring repeated session acknowledgement")
			return
		}
		m.journal.Record(CategorySession, LevelInfo, "Session ready for audio")
		m.publish(PushSessionReady, map[string]any{"ready": true})

	case realtime.TypeConversationCreated:
		m.mu.Lock()
		m.conversationID = f.Conversation.ID
		m.mu.Unlock()
		m.journal.Record(CategoryConversation, LevelInfo, "New conversation: "+f.Conversation.ID)

	case realtime.TypeSpeechStarted:
		m.transition(StateSpeaking)
		m.journal.Record(CategorySpeech, LevelSuccess, "Speech started")
		m.publish(PushSpeechStatus, map[string]any{"speaking": true})

	case realtime.TypeSpeechStopped:
		m.mu.Lock()
		if m.state == StateSpeaking {
			m.state = StateReady
		}
		m.mu.Unlock()
		m.journal.Record(CategorySpeech, LevelSuccess, "Speech stopped")
		m.publish(PushSpeechStatus, map[string]any{"speaking": false})

	case realtime.TypeTranscriptionCompleted:
		m.journal.Record(CategoryTranscript, LevelPrimary, fmt.Sprintf("You: %q", f.Transcript))

	case realtime.TypeResponseCreated:
		m.transition(StateResponding)
		id := ""
		if f.Response != nil {
			id = f.Response.ID
		}
		m.journal.Record(CategoryResponse, LevelInfo, "Generating response: "+id)

	case realtime.TypeResponseAudioDelta:
		m.audio.Append(f.Audio)
		m.stats.Record(ChunkReceived, 1)
		stats := m.stats.Record(ByteReceived, len(f.Audio))
		observability.RecordAudio(observability.DirectionInbound, len(f.Audio))
		m.publish(PushAudioOutput, map[string]any{"audio": f.Delta})
		m.publish(PushStatsUpdate, stats)

	case realtime.TypeResponseAudioDone:
		m.journal.Record(CategoryAudio, LevelSuccess, "Response audio complete")

	case realtime.TypeResponseDone:
		m.mu.Lock()
		if m.state == StateResponding {
			m.state = StateReady
		}
		m.mu.Unlock()
		stats := m.stats.Record(ResponseCompleted, 1)
		observability.RecordResponseCompleted()
		m.journal.Record(CategoryResponse, LevelSuccess, "Response complete")
		m.publish(PushStatsUpdate, stats)

	case realtime.TypeError:
		observability.RecordProtocolError("upstream")
		msg := "unknown error"
		if f.Error != nil && f.Error.Error() != "" {
			msg = f.Error.Error()
		}
		m.logger.Warn().Str("error", msg).Msg("Upstream reported an error")
		m.journal.Record(CategoryError, LevelError, "Upstream error: "+msg)

	default:
		m.logger.Debug().Str("type", f.Type).Msg("Ignoring unhandled upstream frame")
	}
}

// transition moves to next unless the session is closed.
func (m *Machine) transition(next State) {
	m.mu.Lock()
	if m.state != StateClosed {
		m.state = next
	}
	m.mu.Unlock()
}

// recordSent accounts for one audio chunk accepted by the link.
func (m *Machine) recordSent(n int) {
	m.stats.Record(ChunkSent, 1)
	stats := m.stats.Record(ByteSent, n)
	observability.RecordAudio(observability.DirectionOutbound, n)
	m.publish(PushStatsUpdate, stats)
}

func (m *Machine) publish(event string, data any) {
	if m.hub != nil {
		m.hub.Publish(m.sessionID, event, data)
	}
}
