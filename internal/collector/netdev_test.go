package collector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const procNetDevFixture = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo: 5000      50    0    0    0     0          0         0     5000      50    0    0    0     0       0          0
  eth0: 1000      10    1    2    0     0          0         0     2000      20    3    4    0     0       0          0
docker0:  100       1    0    0    0     0          0         0      200       2    0    0    0     0       0          0
 wlan0: 9999      99    0    0    0     0          0         0     8888      88    0    0    0     0       0          0
`

func TestParseProcNetDev(t *testing.T) {
	sample, err := parseProcNetDev(procNetDevFixture, "eth0")
	require.NoError(t, err)

	assert.Equal(t, "eth0", sample.Interface)
	assert.Equal(t, uint64(1000), sample.BytesIn)
	assert.Equal(t, uint64(10), sample.PacketsIn)
	assert.Equal(t, uint64(1), sample.ErrorsIn)
	assert.Equal(t, uint64(2), sample.DropsIn)
	assert.Equal(t, uint64(2000), sample.BytesOut)
	assert.Equal(t, uint64(20), sample.PacketsOut)
	assert.Equal(t, uint64(3), sample.ErrorsOut)
	assert.Equal(t, uint64(4), sample.DropsOut)
	assert.False(t, sample.Timestamp.IsZero())
}

func TestParseProcNetDevMissingDevice(t *testing.T) {
	_, err := parseProcNetDev(procNetDevFixture, "eth7")
	require.Error(t, err)
	assert.True(t, IsDeviceNotFound(err))
}

func TestProcReaderListInterfaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev")
	require.NoError(t, os.WriteFile(path, []byte(procNetDevFixture), 0o644))

	r := &procReader{path: path}
	require.True(t, r.Available())

	devices, err := r.ListInterfaces()
	require.NoError(t, err)

	// Loopback and virtual interfaces are filtered out.
	assert.Equal(t, []string{"eth0", "wlan0"}, devices)
}

func TestProcReaderNoDevices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev")
	content := "Inter-| Receive\n face |bytes\n    lo: 1 1 0 0 0 0 0 0 1 1 0 0 0 0 0 0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r := &procReader{path: path}
	_, err := r.ListInterfaces()
	assert.ErrorIs(t, err, ErrNoDevices)
}

const netstatInterfaceFixture = `Name  Mtu   Network       Address            Ipkts Ierrs     Ibytes    Opkts Oerrs     Obytes  Coll
en0   1500  <Link#4>      aa:bb:cc:dd:ee:ff    100     1       5000      200     2       9000     0
en0   1500  192.168.1     192.168.1.21         100     -       5000      200     -       9000     -
`

func TestParseNetstatInterface(t *testing.T) {
	sample, err := parseNetstatInterface(netstatInterfaceFixture, "en0")
	require.NoError(t, err)

	assert.Equal(t, uint64(100), sample.PacketsIn)
	assert.Equal(t, uint64(1), sample.ErrorsIn)
	assert.Equal(t, uint64(5000), sample.BytesIn)
	assert.Equal(t, uint64(200), sample.PacketsOut)
	assert.Equal(t, uint64(2), sample.ErrorsOut)
	assert.Equal(t, uint64(9000), sample.BytesOut)
}

func TestParseNetstatInterfaceMissing(t *testing.T) {
	_, err := parseNetstatInterface(netstatInterfaceFixture, "en9")
	assert.True(t, IsDeviceNotFound(err))
}

func TestSkipInterface(t *testing.T) {
	assert.True(t, skipInterface("lo"))
	assert.True(t, skipInterface("docker0"))
	assert.True(t, skipInterface("veth12ab"))
	assert.True(t, skipInterface("br-f00d"))
	assert.False(t, skipInterface("eth0"))
	assert.False(t, skipInterface("wlan0"))
	assert.False(t, skipInterface("en0"))
}
