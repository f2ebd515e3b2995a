package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	daemon := createTestDaemon(t)

	lm := NewLifecycleManager(daemon)
	assert.NotNil(t, lm)
	assert.Equal(t, daemon, lm.daemon)
	assert.Equal(t, filepath.Join(daemon.config.DataDir, "voxrelay.pid"), lm.pidFile)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	lm := NewLifecycleManager(createTestDaemon(t))

	require.NoError(t, lm.Start())
	_, err := os.Stat(lm.pidFile)
	assert.NoError(t, err)
	assert.True(t, lm.IsRunning())

	require.NoError(t, lm.Stop())
	_, err = os.Stat(lm.pidFile)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, lm.IsRunning())

	assert.NoError(t, lm.Stop())
}

func TestLifecycleManagerGetPID(t *testing.T) {
	lm := NewLifecycleManager(createTestDaemon(t))

	require.NoError(t, lm.Start())
	defer lm.Stop()

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestLifecycleManagerRefusesLivePID(t *testing.T) {
	lm := NewLifecycleManager(createTestDaemon(t))
	require.NoError(t, os.WriteFile(lm.pidFile, []byte(strconv.Itoa(os.Getppid())), 0644))

	assert.Error(t, lm.Start())
}

func TestLifecycleManagerReplacesStalePID(t *testing.T) {
	lm := NewLifecycleManager(createTestDaemon(t))
	require.NoError(t, os.WriteFile(lm.pidFile, []byte("not-a-pid"), 0644))

	require.NoError(t, lm.Start())
	defer lm.Stop()

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(0))
	assert.False(t, ProcessAlive(-1))
}
