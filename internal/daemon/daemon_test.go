package daemon

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/voxrelay/internal/config"
	"github.com/harun/voxrelay/internal/logger"
	"github.com/harun/voxrelay/pkg/realtime/realtimetest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Upstream.APIKey = "sk-test-key"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Recordings.Dir = filepath.Join(tmpDir, "recordings")
	cfg.Tracing.Enabled = false
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "info", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	daemon, err := New(cfg, log)
	require.NoError(t, err)
	return daemon
}

// createTestDaemon creates a daemon listening on a random local port
func createTestDaemon(t *testing.T) *Daemon {
	return newTestDaemon(t, testConfig(t))
}

func TestNew(t *testing.T) {
	daemon := createTestDaemon(t)

	assert.NotNil(t, daemon.manager)
	assert.NotNil(t, daemon.gatewayServer)
	assert.NotNil(t, daemon.chat)
	assert.NotNil(t, daemon.janitor)
	assert.NotNil(t, daemon.eventLoop)
	assert.NotNil(t, daemon.lifecycle)
	assert.Nil(t, daemon.instructions)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recordings.CleanupSchedule = "every tuesday"

	log, err := logger.New(logger.Config{Level: "info"})
	require.NoError(t, err)
	defer log.Close()

	_, err = New(cfg, log)
	assert.Error(t, err)
}

func TestDaemonStartStop(t *testing.T) {
	daemon := createTestDaemon(t)

	require.NoError(t, daemon.Start())
	assert.Error(t, daemon.Start())

	status := daemon.Status()
	assert.True(t, status.Running)
	assert.NotEqual(t, "127.0.0.1:0", status.Addr)

	resp, err := http.Get("http://" + status.Addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	pidFile := PIDFilePath(daemon.config.DataDir)
	_, err = os.Stat(pidFile)
	assert.NoError(t, err)

	_, err = os.Stat(daemon.config.Recordings.Dir)
	assert.NoError(t, err)

	require.NoError(t, daemon.Stop())
	assert.False(t, daemon.Status().Running)
	assert.Error(t, daemon.Stop())

	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))
}

func TestDaemonStatus(t *testing.T) {
	daemon := createTestDaemon(t)

	status := daemon.Status()
	assert.False(t, status.Running)
	assert.Equal(t, time.Duration(0), status.Uptime)

	require.NoError(t, daemon.Start())
	defer daemon.Stop()

	time.Sleep(20 * time.Millisecond)
	status = daemon.Status()
	assert.True(t, status.Running)
	assert.Greater(t, status.Uptime, time.Duration(0))
	assert.Zero(t, status.ActiveSessions)
}

func TestDaemonStopTearsDownSessions(t *testing.T) {
	upstream := realtimetest.NewServer(t, realtimetest.Options{AutoAck: true})

	cfg := testConfig(t)
	cfg.Upstream.URL = upstream.URL()
	cfg.Upstream.HandshakeTimeout = time.Second
	daemon := newTestDaemon(t, cfg)

	require.NoError(t, daemon.Start())
	require.NoError(t, daemon.GetManager().Start(context.Background(), "s1"))
	conn := upstream.Accept(t)
	assert.Equal(t, 1, daemon.Status().ActiveSessions)

	require.NoError(t, daemon.Stop())
	assert.Zero(t, daemon.GetManager().ActiveCount())

	select {
	case <-conn.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("upstream connection was not closed on shutdown")
	}
}

func TestDaemonInstructionsFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(cfg.DataDir, "instructions.txt")
	require.NoError(t, os.WriteFile(path, []byte("Speak like a pirate."), 0644))
	cfg.Upstream.InstructionsFile = path
	cfg.Upstream.Instructions = "fallback"

	daemon := newTestDaemon(t, cfg)
	require.NotNil(t, daemon.instructions)
	assert.Equal(t, "Speak like a pirate.", daemon.currentInstructions())

	require.NoError(t, daemon.Start())
	defer daemon.Stop()

	require.NoError(t, os.WriteFile(path, []byte("Speak plainly."), 0644))
	assert.Eventually(t, func() bool {
		return daemon.currentInstructions() == "Speak plainly."
	}, 3*time.Second, 20*time.Millisecond)
}

func TestDaemonGetters(t *testing.T) {
	daemon := createTestDaemon(t)

	assert.NotNil(t, daemon.GetConfig())
	assert.NotNil(t, daemon.GetLogger())
	assert.NotNil(t, daemon.GetManager())
	assert.NotNil(t, daemon.GetGatewayServer())
	assert.NotNil(t, daemon.GetJanitor())
}
