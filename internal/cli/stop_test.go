package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		assert.True(t, hasCommand("stop"), "stop command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		output, err := run(t, "stop", "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "Stop the voxrelay daemon")
		assert.Contains(t, output, "timeout")
	})

	t.Run("daemon not running", func(t *testing.T) {
		path, _ := writeTestConfig(t, nil)

		_, err := run(t, "stop", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")
	})
}

func TestStopDaemonStalePID(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "voxrelay.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("999999999"), 0644))

	_, err := stopDaemon(pidFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale")

	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))
}
