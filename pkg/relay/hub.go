package relay

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Push event names delivered on a session's push channel.
const (
	PushConnected           = "connected"
	PushSessionReady        = "session_ready"
	PushSpeechStatus        = "speech_status"
	PushNewEvent            = "new_event"
	PushAudioOutput         = "audio_output"
	PushStatsUpdate         = "stats_update"
	PushSessionDisconnected = "session_disconnected"
)

// Push is one client-facing notification.
type Push struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Seq       int64  `json:"seq"`
	Timestamp int64  `json:"timestamp"`
}

// Hub fans out pushes to the subscribers of each session id.
// Delivery is best effort: a subscriber whose buffer is full misses the push.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[uint64]chan Push
	nextID      uint64
	seq         atomic.Int64
	dropped     atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[uint64]chan Push),
	}
}

// Subscribe returns a channel of pushes for sessionID and a cancel func that
// unsubscribes and closes it.
func (h *Hub) Subscribe(sessionID string, buffer int) (<-chan Push, func()) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		ch := make(chan Push)
		close(ch)
		return ch, func() {}
	}
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Push, buffer)

	h.mu.Lock()
	h.nextID++
	subID := h.nextID
	if _, exists := h.subscribers[sessionID]; !exists {
		h.subscribers[sessionID] = make(map[uint64]chan Push)
	}
	h.subscribers[sessionID][subID] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subscribers[sessionID]
		if !ok {
			return
		}
		sub, exists := subs[subID]
		if !exists {
			return
		}
		delete(subs, subID)
		if len(subs) == 0 {
			delete(h.subscribers, sessionID)
		}
		close(sub)
	}

	return ch, cancel
}

// Publish sends event to every subscriber of sessionID without blocking.
func (h *Hub) Publish(sessionID, event string, data any) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return
	}

	push := Push{
		Type:      "event",
		Event:     event,
		Data:      data,
		Seq:       h.seq.Add(1),
		Timestamp: time.Now().UnixMilli(),
	}

	h.mu.RLock()
	subs := h.subscribers[sessionID]
	for _, sub := range subs {
		select {
		case sub <- push:
		default:
			h.dropped.Add(1)
		}
	}
	h.mu.RUnlock()
}

// Subscribers returns the number of subscribers for sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID])
}

// Dropped returns how many pushes were discarded because a subscriber was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
