package relay

import (
	"errors"
	"testing"

	"github.com/harun/voxrelay/pkg/realtime"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type machineFixture struct {
	machine *Machine
	journal *Journal
	stats   *StatsCounter
	audio   *AudioAccumulator
	pushes  <-chan Push
}

func newMachineFixture(t *testing.T) *machineFixture {
	t.Helper()
	hub := NewHub()
	pushes, cancel := hub.Subscribe("s1", 256)
	t.Cleanup(cancel)

	f := &machineFixture{
		journal: NewJournal(DefaultJournalCapacity),
		stats:   NewStatsCounter(nil),
		audio:   NewAudioAccumulator(),
		pushes:  pushes,
	}
	f.machine = NewMachine("s1", f.journal, f.stats, f.audio, hub, zerolog.Nop())
	return f
}

func (f *machineFixture) frame(typ string, mutate ...func(*realtime.ServerFrame)) {
	fr := &realtime.ServerFrame{Type: typ}
	for _, m := range mutate {
		m(fr)
	}
	f.machine.Handle(realtime.Event{Kind: realtime.EventFrame, Frame: fr})
}

func (f *machineFixture) drain() []Push {
	var out []Push
	for {
		select {
		case p := <-f.pushes:
			out = append(out, p)
		default:
			return out
		}
	}
}

func (f *machineFixture) negotiate() {
	f.machine.Handle(realtime.Event{Kind: realtime.EventOpened})
	f.machine.Handle(realtime.Event{Kind: realtime.EventConfigured})
	f.frame(realtime.TypeSessionCreated, func(fr *realtime.ServerFrame) {
		fr.Session = &realtime.ObjectRef{ID: "sess_1"}
	})
	f.frame(realtime.TypeSessionUpdated)
}

func countPushes(pushes []Push, event string) int {
	n := 0
	for _, p := range pushes {
		if p.Event == event {
			n++
		}
	}
	return n
}

func TestMachineNegotiation(t *testing.T) {
	f := newMachineFixture(t)
	assert.Equal(t, StateNegotiating, f.machine.Snapshot().State)

	f.negotiate()
	f.frame(realtime.TypeSessionUpdated)
	f.frame(realtime.TypeConversationCreated, func(fr *realtime.ServerFrame) {
		fr.Conversation = &realtime.ObjectRef{ID: "conv_1"}
	})

	snap := f.machine.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.True(t, snap.Connected)
	assert.True(t, snap.Ready)
	assert.Equal(t, "sess_1", snap.UpstreamSessionID)
	assert.Equal(t, "conv_1", snap.ConversationID)

	assert.Equal(t, 1, countPushes(f.drain(), PushSessionReady))

	var categories []Category
	for _, ev := range f.journal.Snapshot() {
		categories = append(categories, ev.Type)
	}
	assert.Equal(t, []Category{CategoryWebSocket, CategoryConfig, CategorySession, CategorySession, CategoryConversation}, categories)
}

func TestMachineTurn(t *testing.T) {
	f := newMachineFixture(t)
	f.negotiate()
	f.drain()

	b1 := []byte{1, 0, 2, 0}
	b2 := []byte{3, 0, 4, 0, 5, 0}

	f.frame(realtime.TypeSpeechStarted)
	assert.Equal(t, StateSpeaking, f.machine.Snapshot().State)
	f.frame(realtime.TypeSpeechStopped)
	assert.Equal(t, StateReady, f.machine.Snapshot().State)
	f.frame(realtime.TypeTranscriptionCompleted, func(fr *realtime.ServerFrame) { fr.Transcript = "hello" })
	f.frame(realtime.TypeResponseCreated, func(fr *realtime.ServerFrame) {
		fr.Response = &realtime.ResponseRef{ID: "resp_1"}
	})
	assert.Equal(t, StateResponding, f.machine.Snapshot().State)
	f.frame(realtime.TypeResponseAudioDelta, func(fr *realtime.ServerFrame) { fr.Audio, fr.Delta = b1, "AQACAA==" })
	f.frame(realtime.TypeResponseAudioDelta, func(fr *realtime.ServerFrame) { fr.Audio = b2 })
	f.frame(realtime.TypeResponseAudioDone)
	f.frame(realtime.TypeResponseDone)

	assert.Equal(t, StateReady, f.machine.Snapshot().State)

	stats := f.stats.Snapshot()
	assert.Equal(t, uint64(2), stats.ChunksReceived)
	assert.Equal(t, uint64(len(b1)+len(b2)), stats.BytesReceived)
	assert.Equal(t, uint64(1), stats.MessagesCount)
	assert.Equal(t, [][]byte{b1, b2}, f.audio.Chunks())

	pushes := f.drain()
	assert.Equal(t, 2, countPushes(pushes, PushSpeechStatus))
	assert.Equal(t, 2, countPushes(pushes, PushAudioOutput))
	assert.Equal(t, 3, countPushes(pushes, PushStatsUpdate))
	for _, p := range pushes {
		if p.Event == PushAudioOutput {
			assert.Equal(t, map[string]any{"audio": "AQACAA=="}, p.Data)
			break
		}
	}

	var transcript string
	for _, ev := range f.journal.Snapshot() {
		if ev.Type == CategoryTranscript {
			transcript = ev.Data
			assert.Equal(t, LevelPrimary, ev.Level)
		}
	}
	assert.Equal(t, `You: "hello"`, transcript)
}

func TestMachineBargeIn(t *testing.T) {
	f := newMachineFixture(t)
	f.negotiate()
	f.frame(realtime.TypeResponseCreated)
	f.frame(realtime.TypeSpeechStarted)
	assert.Equal(t, StateSpeaking, f.machine.Snapshot().State)

	f.frame(realtime.TypeResponseDone)
	assert.Equal(t, StateSpeaking, f.machine.Snapshot().State, "response.done only leaves responding")
	assert.Equal(t, uint64(1), f.stats.Snapshot().MessagesCount)
}

func TestMachineErrorsAreJournaled(t *testing.T) {
	f := newMachineFixture(t)
	f.negotiate()
	before := f.journal.Len()

	f.machine.Handle(realtime.Event{Kind: realtime.EventMalformed, Err: realtime.ErrMalformedFrame})
	f.frame(realtime.TypeError, func(fr *realtime.ServerFrame) {
		fr.Error = &realtime.APIError{Code: "invalid_value", Message: "bad audio"}
	})
	f.frame("rate_limits.updated")

	events := f.journal.Snapshot()
	require.Len(t, events, before+2)
	assert.Equal(t, CategoryError, events[before].Type)
	assert.Contains(t, events[before].Data, "Message processing error")
	assert.Equal(t, LevelError, events[before+1].Level)
	assert.Equal(t, "Upstream error: invalid_value: bad audio", events[before+1].Data)
	assert.Equal(t, StateReady, f.machine.Snapshot().State)
}

func TestMachineClosedIsTerminal(t *testing.T) {
	f := newMachineFixture(t)
	f.negotiate()
	f.drain()

	f.machine.Handle(realtime.Event{Kind: realtime.EventClosed, Err: errors.New("connection reset"), Code: 1006})
	f.machine.Handle(realtime.Event{Kind: realtime.EventClosed, Code: 1000})
	f.frame(realtime.TypeSpeechStarted)
	f.frame(realtime.TypeSessionUpdated)

	snap := f.machine.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.False(t, snap.Connected)
	assert.False(t, snap.Ready)

	pushes := f.drain()
	assert.Equal(t, 1, countPushes(pushes, PushSessionDisconnected))
	assert.Equal(t, 0, countPushes(pushes, PushSpeechStatus))

	events := f.journal.Snapshot()
	last := events[len(events)-1]
	assert.Equal(t, CategoryWebSocket, last.Type)
	assert.Equal(t, "Connection closed (code: 1006)", last.Data)
	assert.Equal(t, "WebSocket error: connection reset", events[len(events)-2].Data)
}
