package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/voxrelay/internal/config"
)

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxrelay.json")

	output, err := run(t, "config", "init", "--config", path, "--force=false")
	require.NoError(t, err)
	assert.Contains(t, output, path)

	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = run(t, "config", "init", "--config", path, "--force=false")
	assert.Error(t, err)

	_, err = run(t, "config", "init", "--config", path, "--force")
	assert.NoError(t, err)
}

func TestConfigShowMasksCredentials(t *testing.T) {
	path, _ := writeTestConfig(t, func(c *config.Config) {
		c.Upstream.APIKey = "sk-abcdefghijklmnopqrstuvwxyz"
		c.Server.Password = "hunter2"
	})

	output, err := run(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.NotContains(t, output, "sk-abcdefghijklmnopqrstuvwxyz")
	assert.NotContains(t, output, "hunter2")
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("VOXRELAY_UPSTREAM_API_KEY", "")

	bad, _ := writeTestConfig(t, func(c *config.Config) { c.Upstream.APIKey = "" })
	_, err := run(t, "config", "validate", "--config", bad)
	assert.Error(t, err)

	good, _ := writeTestConfig(t, func(c *config.Config) { c.Upstream.APIKey = "sk-test-key" })
	output, err := run(t, "config", "validate", "--config", good)
	require.NoError(t, err)
	assert.Contains(t, output, "valid")
}
