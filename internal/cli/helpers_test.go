package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/harun/voxrelay/internal/config"
)

// writeTestConfig saves a config whose data and recordings live in a temp dir.
func writeTestConfig(t *testing.T, mutate func(*config.Config)) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Recordings.Dir = filepath.Join(dir, "recordings")
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 1
	if mutate != nil {
		mutate(cfg)
	}

	path := filepath.Join(dir, "voxrelay.json")
	require.NoError(t, config.NewLoader(path).Save(cfg))
	return path, cfg
}

// run executes the root command with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := GetRootCmd()
	resetBoolFlags(cmd)
	cmd.SetArgs(args)
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)

	err := cmd.Execute()
	return output.String(), err
}

func hasCommand(name string) bool {
	for _, c := range GetRootCmd().Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}

// resetBoolFlags clears --help and --version left set by an earlier Execute.
func resetBoolFlags(cmd *cobra.Command) {
	for _, name := range []string{"help", "version"} {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = f.Value.Set("false")
			f.Changed = false
		}
	}
	for _, c := range cmd.Commands() {
		resetBoolFlags(c)
	}
}
