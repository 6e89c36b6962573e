package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 500, cfg.RefreshInterval)
	assert.Equal(t, 300, cfg.AverageWindow)
	assert.Equal(t, "all", cfg.Devices)
	assert.Equal(t, []string{"1.1.1.1", "8.8.8.8"}, cfg.DiagnosticTargets)
	assert.Empty(t, cfg.MetricsAddr)

	assert.Equal(t, 500*time.Millisecond, cfg.Refresh())
	assert.Equal(t, 300*time.Second, cfg.Window())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netwatch.yaml")
	content := `RefreshInterval: 250
AverageWindow: 60
Devices: "eth0 wlan0"
BarMaxIn: 1048576
BarMaxOut: 524288
DiagnosticTargets:
  - 9.9.9.9
MetricsAddr: ":9101"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.RefreshInterval)
	assert.Equal(t, 60, cfg.AverageWindow)
	assert.Equal(t, "eth0 wlan0", cfg.Devices)
	assert.Equal(t, uint64(1048576), cfg.BarMaxIn)
	assert.Equal(t, uint64(524288), cfg.BarMaxOut)
	assert.Equal(t, []string{"9.9.9.9"}, cfg.DiagnosticTargets)
	assert.Equal(t, ":9101", cfg.MetricsAddr)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Devices: eth0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "eth0", cfg.Devices)
	assert.Equal(t, 500, cfg.RefreshInterval)
	assert.Equal(t, 300, cfg.AverageWindow)
}

func TestLoadInvalidValuesClamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("RefreshInterval: -5\nAverageWindow: 0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.RefreshInterval)
	assert.Equal(t, 300, cfg.AverageWindow)
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Devices: [unclosed\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
