package collector

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwtools/netwatch/pkg/types"
)

const ssFixture = `Netid State  Recv-Q Send-Q Local Address:Port  Peer Address:Port Process
tcp   ESTAB  0      36     192.168.1.5:22      203.0.113.9:50312 users:(("sshd",pid=1234,fd=3))
	 cubic wscale:7,7 rto:204 rtt:12.5/24.0 ato:40 mss:1448 cwnd:10 ssthresh:7 pacing_rate 1.2Mbps delivery_rate 800Kbps retrans:0/10
tcp   LISTEN 0      128    0.0.0.0:80          0.0.0.0:*
udp   UNCONN 0      0      127.0.0.1:323      0.0.0.0:*
`

func TestParseSSOutput(t *testing.T) {
	records := parseSSOutput(ssFixture)
	require.Len(t, records, 3)

	ssh := records[0]
	assert.Equal(t, types.ProtoTCP, ssh.Protocol)
	assert.Equal(t, types.StateEstablished, ssh.State)
	assert.Equal(t, "192.168.1.5:22", ssh.LocalAddr.String())
	assert.Equal(t, "203.0.113.9:50312", ssh.RemoteAddr.String())
	assert.Equal(t, int32(1234), ssh.PID)
	assert.Equal(t, "sshd", ssh.ProcessName)

	require.NotNil(t, ssh.SocketInfo)
	assert.Equal(t, 12.5, ssh.SocketInfo.RTT)
	assert.Equal(t, 24.0, ssh.SocketInfo.RTTVar)
	assert.Equal(t, uint32(10), ssh.SocketInfo.Cwnd)
	assert.Equal(t, uint32(7), ssh.SocketInfo.Ssthresh)
	assert.Equal(t, uint64(1_200_000), ssh.SocketInfo.PacingRate)
	assert.Equal(t, uint64(800_000), ssh.SocketInfo.Bandwidth)
	assert.Equal(t, uint32(0), ssh.SocketInfo.Retrans)
	assert.Equal(t, uint32(10), ssh.SocketInfo.Lost)
	assert.Equal(t, uint32(36), ssh.SocketInfo.SendQueue)

	listener := records[1]
	assert.Equal(t, types.StateListen, listener.State)
	assert.Equal(t, "0.0.0.0:80", listener.LocalAddr.String())
	assert.False(t, listener.HasRTT())

	dgram := records[2]
	assert.Equal(t, types.ProtoUDP, dgram.Protocol)
	assert.Equal(t, "127.0.0.1:323", dgram.LocalAddr.String())
}

func TestParseSSUsers(t *testing.T) {
	pid, name := parseSSUsers(`users:(("sshd",pid=1234,fd=3))`)
	assert.Equal(t, int32(1234), pid)
	assert.Equal(t, "sshd", name)

	pid, name = parseSSUsers("users:((garbage))")
	assert.Equal(t, int32(0), pid)
	assert.Equal(t, "", name)
}

func TestParseBitRate(t *testing.T) {
	assert.Equal(t, uint64(1_500), parseBitRate("1.5Kbps"))
	assert.Equal(t, uint64(1_200_000), parseBitRate("1.2Mbps"))
	assert.Equal(t, uint64(2_000_000_000), parseBitRate("2Gbps"))
	assert.Equal(t, uint64(4242), parseBitRate("4242"))
	assert.Equal(t, uint64(0), parseBitRate("fast"))
}

func TestParseNetstatLineGNU(t *testing.T) {
	line := "tcp        0      0 192.168.1.5:22          203.0.113.9:50312       ESTABLISHED"
	record, ok := parseNetstatLine(line, types.ProtoTCP)
	require.True(t, ok)

	assert.Equal(t, "192.168.1.5:22", record.LocalAddr.String())
	assert.Equal(t, "203.0.113.9:50312", record.RemoteAddr.String())
	assert.Equal(t, types.StateEstablished, record.State)
}

func TestParseNetstatLineBSD(t *testing.T) {
	line := "tcp4       0      0  192.168.86.21.58412    142.250.72.14.443      ESTABLISHED"
	record, ok := parseNetstatLine(line, types.ProtoTCP)
	require.True(t, ok)

	assert.Equal(t, "192.168.86.21:58412", record.LocalAddr.String())
	assert.Equal(t, "142.250.72.14:443", record.RemoteAddr.String())
}

func TestParseNetstatLineUDPNoState(t *testing.T) {
	line := "udp4       0      0  *.5353                 *.*"
	record, ok := parseNetstatLine(line, types.ProtoUDP)
	require.True(t, ok)

	assert.Equal(t, uint16(5353), record.LocalAddr.Port())
	assert.Equal(t, types.StateUnknown, record.State)
}

func TestParseNetstatLineSkipsHeaders(t *testing.T) {
	_, ok := parseNetstatLine("Active Internet connections (w/o servers)", types.ProtoTCP)
	assert.False(t, ok)
	_, ok = parseNetstatLine("Proto Recv-Q Send-Q Local Address Foreign Address State", types.ProtoTCP)
	assert.False(t, ok)
	_, ok = parseNetstatLine("", types.ProtoTCP)
	assert.False(t, ok)
}

func TestParseLsofLineEstablished(t *testing.T) {
	line := "sshd     1234   root    3u  IPv4 0x1a2b3c      0t0  TCP 10.0.0.5:22->10.0.0.9:50312 (ESTABLISHED)"
	record, ok := parseLsofLine(line, "TCP")
	require.True(t, ok)

	assert.Equal(t, "sshd", record.ProcessName)
	assert.Equal(t, int32(1234), record.PID)
	assert.Equal(t, "10.0.0.5:22", record.LocalAddr.String())
	assert.Equal(t, "10.0.0.9:50312", record.RemoteAddr.String())
	assert.Equal(t, types.StateEstablished, record.State)
	assert.Equal(t, types.ProtoTCP, record.Protocol)
}

func TestParseLsofLineListener(t *testing.T) {
	line := "rapportd  699  kevin    8u  IPv4 0xdeadbeef    0t0  UDP *:64566"
	record, ok := parseLsofLine(line, "UDP")
	require.True(t, ok)

	assert.Equal(t, types.ProtoUDP, record.Protocol)
	assert.Equal(t, uint16(64566), record.LocalAddr.Port())
	assert.Equal(t, uint16(0), record.RemoteAddr.Port())
}

func TestParseLsofLineHeader(t *testing.T) {
	line := "COMMAND   PID   USER   FD   TYPE  DEVICE SIZE/OFF NODE NAME"
	_, ok := parseLsofLine(line, "TCP")
	assert.False(t, ok)
}

func mustRecord(local, remote string, rtt float64, bytes uint64) types.ConnectionRecord {
	r := types.ConnectionRecord{
		LocalAddr:  mustAddrPort(local),
		RemoteAddr: mustAddrPort(remote),
		Protocol:   types.ProtoTCP,
		State:      types.StateEstablished,
		BytesRecv:  bytes,
	}
	if rtt > 0 {
		r.SocketInfo = &types.SocketInfo{RTT: rtt}
	}
	return r
}

func mustAddrPort(s string) netip.AddrPort {
	ap, err := parseAddrPort(s)
	if err != nil {
		panic(err)
	}
	return ap
}

func TestSortByQuality(t *testing.T) {
	records := []types.ConnectionRecord{
		mustRecord("10.0.0.1:1", "10.0.0.2:1", 50, 0),
		mustRecord("10.0.0.1:2", "10.0.0.2:2", 0, 100),
		mustRecord("10.0.0.1:3", "10.0.0.2:3", 10, 0),
	}

	sortByQuality(records)

	assert.Equal(t, 10.0, records[0].SocketInfo.RTT)
	assert.Equal(t, 50.0, records[1].SocketInfo.RTT)
	assert.False(t, records[2].HasRTT())
}

func TestSortByQualityTiesByBytes(t *testing.T) {
	records := []types.ConnectionRecord{
		mustRecord("10.0.0.1:1", "10.0.0.2:1", 10, 50),
		mustRecord("10.0.0.1:2", "10.0.0.2:2", 10, 500),
		mustRecord("10.0.0.1:3", "10.0.0.2:3", 0, 1),
		mustRecord("10.0.0.1:4", "10.0.0.2:4", 0, 9000),
	}

	sortByQuality(records)

	assert.Equal(t, uint64(500), records[0].TotalBytes())
	assert.Equal(t, uint64(50), records[1].TotalBytes())
	assert.Equal(t, uint64(9000), records[2].TotalBytes())
	assert.Equal(t, uint64(1), records[3].TotalBytes())
}

func stubSource(records []types.ConnectionRecord, err error) connSource {
	return connSource{
		name: "stub",
		read: func(context.Context, time.Duration) ([]types.ConnectionRecord, error) {
			return records, err
		},
	}
}

func TestConnectionCollectorFallback(t *testing.T) {
	want := []types.ConnectionRecord{
		mustRecord("10.0.0.1:1", "10.0.0.2:80", 0, 0),
	}

	c := NewConnectionCollector()
	c.sources = []connSource{
		stubSource(nil, errors.New("not installed")),
		stubSource(nil, nil), // succeeds but empty, also skipped
		stubSource(want, nil),
		stubSource(nil, errors.New("never reached")),
	}

	require.NoError(t, c.Update(context.Background()))

	got := c.Connections()
	require.Len(t, got, 1)
	assert.Equal(t, want[0].LocalAddr, got[0].LocalAddr)
}

func TestConnectionCollectorAllSourcesFail(t *testing.T) {
	c := NewConnectionCollector()
	c.sources = []connSource{
		stubSource(nil, errors.New("down")),
		stubSource(nil, errors.New("down")),
	}

	require.NoError(t, c.Update(context.Background()))
	assert.Empty(t, c.Connections())
}

func TestConnectionStatsCounts(t *testing.T) {
	c := NewConnectionCollector()

	established := mustRecord("10.0.0.1:1", "10.0.0.2:80", 0, 0)
	listening := mustRecord("10.0.0.1:2", "0.0.0.0:0", 0, 0)
	listening.State = types.StateListen
	timeWait := mustRecord("10.0.0.1:3", "10.0.0.2:443", 0, 0)
	timeWait.State = types.StateTimeWait
	dgram := mustRecord("10.0.0.1:4", "0.0.0.0:0", 0, 0)
	dgram.Protocol = types.ProtoUDP
	dgram.State = types.StateClose

	c.sources = []connSource{
		stubSource([]types.ConnectionRecord{established, listening, timeWait, dgram}, nil),
	}
	require.NoError(t, c.Update(context.Background()))

	stats := c.ConnectionStats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Established)
	assert.Equal(t, 1, stats.Listening)
	assert.Equal(t, 1, stats.TimeWait)
	assert.Equal(t, 1, stats.Other)
	assert.Equal(t, 3, stats.TCP)
	assert.Equal(t, 1, stats.UDP)
}
