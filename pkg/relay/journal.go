package relay

import (
	"sync"
	"time"
)

// DefaultJournalCapacity is the number of events retained per session.
const DefaultJournalCapacity = 100

// Category groups journal events by the part of the session they describe.
type Category string

const (
	CategoryWebSocket    Category = "websocket"
	CategoryConfig       Category = "config"
	CategorySession      Category = "session"
	CategoryConversation Category = "conversation"
	CategorySpeech       Category = "speech"
	CategoryTranscript   Category = "transcript"
	CategoryResponse     Category = "response"
	CategoryAudio        Category = "audio"
	CategoryError        Category = "error"
	CategorySave         Category = "save"
)

// Level is the display severity of a journal event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelPrimary Level = "primary"
)

// TimestampLayout is the wall clock format of Event.Timestamp.
const TimestampLayout = "15:04:05.000"

// Event is one immutable journal entry.
type Event struct {
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	Timestamp string    `json:"timestamp"`
	Type      Category  `json:"type"`
	Level     Level     `json:"level"`
	Data      string    `json:"data"`
}

// Journal is a fixed-capacity ring of the most recent session events.
// Appending to a full journal evicts the oldest entry.
type Journal struct {
	mu       sync.RWMutex
	buf      []Event
	head     int
	size     int
	seq      uint64
	last     time.Time
	now      func() time.Time
	onAppend func(Event)
}

// NewJournal creates a journal holding at most capacity events.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultJournalCapacity
	}
	return &Journal{
		buf: make([]Event, capacity),
		now: time.Now,
	}
}

// OnAppend registers a callback invoked after every append, outside the lock.
func (j *Journal) OnAppend(fn func(Event)) {
	j.mu.Lock()
	j.onAppend = fn
	j.mu.Unlock()
}

// Append stamps ev with a sequence number and a time that never goes backwards,
// stores it and returns the stored copy.
func (j *Journal) Append(ev Event) Event {
	j.mu.Lock()
	if ev.Time.IsZero() {
		ev.Time = j.now()
	}
	if ev.Time.Before(j.last) {
		ev.Time = j.last
	}
	j.last = ev.Time
	j.seq++
	ev.Seq = j.seq
	ev.Timestamp = ev.Time.Format(TimestampLayout)
	if ev.Level == "" {
		ev.Level = LevelInfo
	}

	idx := (j.head + j.size) % len(j.buf)
	j.buf[idx] = ev
	if j.size < len(j.buf) {
		j.size++
	} else {
		j.head = (j.head + 1) % len(j.buf)
	}
	hook := j.onAppend
	j.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	return ev
}

// Record appends a message event.
func (j *Journal) Record(category Category, level Level, msg string) Event {
	return j.Append(Event{Type: category, Level: level, Data: msg})
}

// Snapshot returns a point-in-time copy of the journal, oldest first.
func (j *Journal) Snapshot() []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]Event, j.size)
	for i := 0; i < j.size; i++ {
		out[i] = j.buf[(j.head+i)%len(j.buf)]
	}
	return out
}

// Len returns the number of retained events.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.size
}

// Cap returns the journal capacity.
func (j *Journal) Cap() int {
	return len(j.buf)
}
