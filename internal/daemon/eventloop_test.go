package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventLoop(t *testing.T) {
	daemon := createTestDaemon(t)

	eventLoop := NewEventLoop(daemon)
	assert.NotNil(t, eventLoop)
	assert.Equal(t, daemon, eventLoop.daemon)
	assert.Equal(t, maintenanceInterval, eventLoop.interval)
}

func TestEventLoopRun(t *testing.T) {
	eventLoop := NewEventLoop(createTestDaemon(t))
	eventLoop.interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		eventLoop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Event loop did not stop after context cancellation")
	}
}

func TestEventLoopTracksDroppedPushes(t *testing.T) {
	daemon := createTestDaemon(t)
	eventLoop := NewEventLoop(daemon)

	hub := daemon.GetManager().Hub()
	_, unsubscribe := hub.Subscribe("s1", 1)
	defer unsubscribe()

	hub.Publish("s1", "speech_status", nil)
	hub.Publish("s1", "speech_status", nil)
	hub.Publish("s1", "speech_status", nil)
	require.Equal(t, uint64(2), hub.Dropped())

	eventLoop.processTasks()
	assert.Equal(t, uint64(2), eventLoop.lastDropped)

	eventLoop.processTasks()
	assert.Equal(t, uint64(2), eventLoop.lastDropped)
}
