package types

import (
	"net/netip"
	"time"
)

// InterfaceSample is one point-in-time counter reading for a named
// interface. Counters are cumulative and may wrap at 32-bit or 64-bit
// boundaries; the stats engine handles wraparound.
type InterfaceSample struct {
	Interface  string
	Timestamp  time.Time
	BytesIn    uint64
	BytesOut   uint64
	PacketsIn  uint64
	PacketsOut uint64
	ErrorsIn   uint64
	ErrorsOut  uint64
	DropsIn    uint64
	DropsOut   uint64
}

type Protocol string

const (
	ProtoTCP  Protocol = "TCP"
	ProtoUDP  Protocol = "UDP"
	ProtoTCP6 Protocol = "TCP6"
	ProtoUDP6 Protocol = "UDP6"
)

type ConnState string

const (
	StateEstablished ConnState = "ESTABLISHED"
	StateListen      ConnState = "LISTEN"
	StateSynSent     ConnState = "SYN_SENT"
	StateSynRecv     ConnState = "SYN_RECV"
	StateFinWait1    ConnState = "FIN_WAIT1"
	StateFinWait2    ConnState = "FIN_WAIT2"
	StateTimeWait    ConnState = "TIME_WAIT"
	StateClose       ConnState = "CLOSE"
	StateCloseWait   ConnState = "CLOSE_WAIT"
	StateLastAck     ConnState = "LAST_ACK"
	StateClosing     ConnState = "CLOSING"
	StateUnknown     ConnState = "UNKNOWN"
)

// SocketInfo carries the extended TCP metrics the rich socket source
// reports. Zero values mean the source did not supply the field.
type SocketInfo struct {
	RTT        float64 // milliseconds
	RTTVar     float64
	Cwnd       uint32
	Ssthresh   uint32
	SendQueue  uint32
	RecvQueue  uint32
	Bandwidth  uint64 // estimated, bits per second
	PacingRate uint64
	Retrans    uint32
	Lost       uint32
	Duration   time.Duration
	Interface  string
}

// ConnectionRecord is one normalized socket observation. Records are
// rebuilt from scratch on every acquisition cycle; there is no
// cross-cycle identity.
type ConnectionRecord struct {
	LocalAddr   netip.AddrPort
	RemoteAddr  netip.AddrPort
	Protocol    Protocol
	State       ConnState
	PID         int32 // 0 when the source cannot attribute a process
	ProcessName string
	BytesSent   uint64
	BytesRecv   uint64
	Inode       uint64 // socket inode, when the source exposes it
	SocketInfo  *SocketInfo
}

// HasRTT reports whether the record carries a measured round-trip time.
func (c *ConnectionRecord) HasRTT() bool {
	return c.SocketInfo != nil && c.SocketInfo.RTT > 0
}

func (c *ConnectionRecord) TotalBytes() uint64 {
	return c.BytesSent + c.BytesRecv
}

// ProcessRecord is per-process network accounting for one cycle.
// BytesSentRate and BytesRecvRate are bytes per second computed against
// the previous cycle; on the first cycle for a PID they hold the
// then-current absolute counter.
type ProcessRecord struct {
	PID           int32
	Name          string
	Command       string
	Connections   int
	Established   int
	Listening     int
	BytesSentRate uint64
	BytesRecvRate uint64
	LastUpdated   time.Time
}

func (p *ProcessRecord) TotalRate() uint64 {
	return p.BytesSentRate + p.BytesRecvRate
}

// ConnectionStats summarizes one acquisition cycle.
type ConnectionStats struct {
	Total       int
	Established int
	Listening   int
	TimeWait    int
	Other       int
	TCP         int
	UDP         int
}
