package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: test-printer
driver:
  type: serial
  port: /dev/ttyUSB0
  baud: 115200
warmup: |
  M104 S200
  M109 S200
cooldown: |
  M104 S0
preferences:
  simulator: true
  show_simulator: true
  monitor_temp: true
  poll_interval_ms: 500
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "machine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadParsesFields(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "test-printer", cfg.Name)
	require.Equal(t, "serial", cfg.Driver["type"])
	require.Equal(t, "/dev/ttyUSB0", cfg.Driver["port"])
	require.Equal(t, []string{"M104 S200", "M109 S200"}, cfg.WarmupLines())
	require.Equal(t, []string{"M104 S0"}, cfg.CooldownLines())
	require.True(t, cfg.Preferences.MonitorTemp)
	require.Equal(t, 500, cfg.Preferences.PollIntervalMs)
}

func TestLoadRequiresName(t *testing.T) {
	path := writeTempConfig(t, "driver:\n  type: serial\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestToControllerPreferences(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	prefs := cfg.ToControllerPreferences()
	require.True(t, prefs.Simulator)
	require.True(t, prefs.ShowSimulator)
	require.Equal(t, 500, prefs.PollIntervalMs)
}
