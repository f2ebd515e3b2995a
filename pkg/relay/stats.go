package relay

import (
	"sync"
	"time"
)

// StatKind selects the counter updated by StatsCounter.Record.
type StatKind int

const (
	ChunkSent StatKind = iota
	ChunkReceived
	ByteSent
	ByteReceived
	ResponseCompleted
)

// Stats is a snapshot of the session transfer counters.
type Stats struct {
	ChunksSent     uint64    `json:"chunks_sent"`
	ChunksReceived uint64    `json:"chunks_received"`
	BytesSent      uint64    `json:"bytes_sent"`
	BytesReceived  uint64    `json:"bytes_received"`
	MessagesCount  uint64    `json:"messages_count"`
	StartTime      time.Time `json:"start_time"`
	// Duration is derived from StartTime at snapshot time, in seconds.
	Duration float64 `json:"duration"`
}

// StatsCounter holds monotonically non-decreasing transfer counters.
type StatsCounter struct {
	mu    sync.Mutex
	stats Stats
	now   func() time.Time
}

// NewStatsCounter starts counting at now.
func NewStatsCounter(now func() time.Time) *StatsCounter {
	if now == nil {
		now = time.Now
	}
	return &StatsCounter{
		stats: Stats{StartTime: now()},
		now:   now,
	}
}

// Record increments the counter for kind. Count kinds add one regardless of
// amount; byte kinds add amount. Negative amounts are ignored.
func (c *StatsCounter) Record(kind StatKind, amount int) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch kind {
	case ChunkSent:
		c.stats.ChunksSent++
	case ChunkReceived:
		c.stats.ChunksReceived++
	case ResponseCompleted:
		c.stats.MessagesCount++
	case ByteSent:
		if amount > 0 {
			c.stats.BytesSent += uint64(amount)
		}
	case ByteReceived:
		if amount > 0 {
			c.stats.BytesReceived += uint64(amount)
		}
	}
	return c.snapshotLocked()
}

// Snapshot returns the counters with the current duration.
func (c *StatsCounter) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *StatsCounter) snapshotLocked() Stats {
	s := c.stats
	if d := c.now().Sub(s.StartTime); d > 0 {
		s.Duration = d.Seconds()
	}
	return s
}
