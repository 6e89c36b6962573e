package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwtools/netwatch/pkg/types"
)

func TestParseHexAddrIPv4(t *testing.T) {
	ap, err := parseHexAddr("0100007F:0050")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ap.Addr().String())
	assert.Equal(t, uint16(80), ap.Port())
}

func TestParseHexAddrIPv4Any(t *testing.T) {
	ap, err := parseHexAddr("00000000:0000")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", ap.Addr().String())
	assert.Equal(t, uint16(0), ap.Port())
}

func TestParseHexAddrIPv6Loopback(t *testing.T) {
	ap, err := parseHexAddr("00000000000000000000000001000000:1F90")
	require.NoError(t, err)
	assert.Equal(t, "::1", ap.Addr().String())
	assert.Equal(t, uint16(8080), ap.Port())
}

func TestParseHexAddrInvalid(t *testing.T) {
	_, err := parseHexAddr("0100007F")
	assert.Error(t, err)

	_, err = parseHexAddr("XYZ0007F:0050")
	assert.Error(t, err)

	_, err = parseHexAddr("0100007F:ZZZZ")
	assert.Error(t, err)

	_, err = parseHexAddr("0100:0050")
	assert.Error(t, err)
}

const procNetTCPFixture = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0100007F:0050 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 12345 1 0000000000000000 100 0 0 10 0
   1: 0F02000A:01BB 5DB8D822:C350 01 00000000:00000000 00:00000000 00000000  1000        0 67890 1 0000000000000000 20 4 30 10 -1
   2: garbage
   3: 0100007F:1538 00000000:0000 FF 00000000:00000000 00:00000000 00000000     0        0 11111 1 0000000000000000 100 0 0 10 0
`

func TestParseProcNetTable(t *testing.T) {
	records := parseProcNetTable(procNetTCPFixture, types.ProtoTCP)
	require.Len(t, records, 3)

	assert.Equal(t, "127.0.0.1:80", records[0].LocalAddr.String())
	assert.Equal(t, types.StateListen, records[0].State)
	assert.Equal(t, uint64(12345), records[0].Inode)
	assert.Equal(t, types.ProtoTCP, records[0].Protocol)

	assert.Equal(t, "10.0.2.15:443", records[1].LocalAddr.String())
	assert.Equal(t, "34.216.184.93:50000", records[1].RemoteAddr.String())
	assert.Equal(t, types.StateEstablished, records[1].State)
	assert.Equal(t, uint64(67890), records[1].Inode)

	// Unknown state codes normalize rather than drop the row.
	assert.Equal(t, types.StateUnknown, records[2].State)
}

func TestParseProcNetTableEmpty(t *testing.T) {
	assert.Empty(t, parseProcNetTable("", types.ProtoTCP))
	assert.Empty(t, parseProcNetTable("header only\n", types.ProtoTCP))
}
