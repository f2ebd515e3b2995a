package daemon

import (
	"context"
	"time"

	"github.com/harun/voxrelay/internal/observability"
)

const maintenanceInterval = 30 * time.Second

// EventLoop handles periodic maintenance while the daemon runs
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration

	lastDropped uint64
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: maintenanceInterval,
	}
}

// Run runs the event loop until ctx is done
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.processTasks()
			e.daemon.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks()
		}
	}
}

// processTasks folds push drops into the metrics and logs session load.
func (e *EventLoop) processTasks() {
	hub := e.daemon.manager.Hub()

	dropped := hub.Dropped()
	if dropped > e.lastDropped {
		delta := dropped - e.lastDropped
		observability.RecordPushDropped(delta)
		e.daemon.logger.Warn().Uint64("dropped", delta).Msg("Push frames dropped for slow subscribers")
	}
	e.lastDropped = dropped

	if active := e.daemon.manager.ActiveCount(); active > 0 {
		e.daemon.logger.Debug().
			Int("sessions", active).
			Int("push_clients", len(e.daemon.gatewayServer.GetConnectedClients())).
			Msg("Relay stats")
	}
}
