package ui

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwtools/netwatch/internal/config"
	"github.com/nwtools/netwatch/pkg/types"
)

type fakeReader struct {
	devices []string
}

func (r *fakeReader) ListInterfaces() ([]string, error) {
	return r.devices, nil
}

func (r *fakeReader) ReadSample(device string) (types.InterfaceSample, error) {
	return types.InterfaceSample{Interface: device}, nil
}

func (r *fakeReader) Available() bool {
	return true
}

func TestResolveDevicesAll(t *testing.T) {
	reader := &fakeReader{devices: []string{"eth0", "wlan0"}}

	devices, err := resolveDevices(config.Default(), reader)
	require.NoError(t, err)
	assert.Equal(t, []string{"eth0", "wlan0"}, devices)
}

func TestResolveDevicesExplicit(t *testing.T) {
	reader := &fakeReader{devices: []string{"eth0", "wlan0"}}
	cfg := config.Default()
	cfg.Devices = "wlan0"

	devices, err := resolveDevices(cfg, reader)
	require.NoError(t, err)
	assert.Equal(t, []string{"wlan0"}, devices)
}

func TestResolveDevicesRejectsUnknown(t *testing.T) {
	reader := &fakeReader{devices: []string{"eth0"}}
	cfg := config.Default()
	cfg.Devices = "bogus0"

	_, err := resolveDevices(cfg, reader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus0")
	assert.Contains(t, err.Error(), "eth0")
}

func TestResolveDevicesRejectsUnknownAmongValid(t *testing.T) {
	reader := &fakeReader{devices: []string{"eth0", "wlan0"}}
	cfg := config.Default()
	cfg.Devices = "eth0 bogus0"

	_, err := resolveDevices(cfg, reader)
	assert.Error(t, err)
}

func TestCollectionGuardsRejectOverlap(t *testing.T) {
	d := &Dashboard{}

	d.collectingConns.Store(true)
	assert.False(t, d.tryCollectConnections(context.Background()))

	d.collectingLatency.Store(true)
	assert.False(t, d.tryCollectLatency(context.Background()))
}
