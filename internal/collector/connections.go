package collector

import (
	"context"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/nwtools/netwatch/pkg/types"
)

// connSource is one strategy for producing the host's socket table.
// Sources are tried in priority order; the first one that yields
// records wins and the rest are never attempted.
type connSource struct {
	name string
	read func(ctx context.Context, timeout time.Duration) ([]types.ConnectionRecord, error)
}

// ConnectionCollector discovers the host's active sockets by walking
// an ordered fallback chain of data sources and normalizing whatever
// the winning source produced. The record set is replaced atomically
// on every Update; readers always see a complete cycle.
type ConnectionCollector struct {
	mu          sync.RWMutex
	connections []types.ConnectionRecord

	processCache map[int32]string
	timeout      time.Duration
	sources      []connSource
}

func NewConnectionCollector() *ConnectionCollector {
	c := &ConnectionCollector{
		processCache: make(map[int32]string),
		timeout:      defaultCommandTimeout,
	}
	c.sources = []connSource{
		{"ss", readSSConnections},
		{"procfs", func(ctx context.Context, _ time.Duration) ([]types.ConnectionRecord, error) {
			return readProcNetConnections()
		}},
		{"netstat", readNetstatConnections},
		{"lsof", readLsofConnections},
	}
	return c
}

// Update refreshes the connection set. Source failures fall through
// silently; exhausting every source yields an empty set, not an error,
// since "no visible connections" is itself informative.
func (c *ConnectionCollector) Update(ctx context.Context) error {
	var records []types.ConnectionRecord

	for _, source := range c.sources {
		result, err := source.read(ctx, c.timeout)
		if err != nil || len(result) == 0 {
			continue
		}
		records = result
		break
	}

	c.refreshProcessCache()
	c.attributeProcesses(records)
	sortByQuality(records)

	c.mu.Lock()
	c.connections = records
	c.mu.Unlock()
	return nil
}

// refreshProcessCache rebuilds the PID to process-name mapping used to
// fill in names for records that carry only a PID.
func (c *ConnectionCollector) refreshProcessCache() {
	procs, err := process.Processes()
	if err != nil {
		return
	}

	cache := make(map[int32]string, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name == "" {
			continue
		}
		cache[p.Pid] = name
	}

	c.mu.Lock()
	c.processCache = cache
	c.mu.Unlock()
}

func (c *ConnectionCollector) attributeProcesses(records []types.ConnectionRecord) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range records {
		if records[i].ProcessName == "" && records[i].PID != 0 {
			records[i].ProcessName = c.processCache[records[i].PID]
		}
	}
}

// sortByQuality orders connections best first: ascending RTT, records
// with a measured RTT ahead of those without, ties broken by
// descending total bytes transferred.
func sortByQuality(records []types.ConnectionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := &records[i], &records[j]
		switch {
		case a.HasRTT() && b.HasRTT():
			if a.SocketInfo.RTT != b.SocketInfo.RTT {
				return a.SocketInfo.RTT < b.SocketInfo.RTT
			}
			return a.TotalBytes() > b.TotalBytes()
		case a.HasRTT():
			return true
		case b.HasRTT():
			return false
		default:
			return a.TotalBytes() > b.TotalBytes()
		}
	})
}

// Connections returns the current cycle's records. The slice is a
// snapshot; callers may keep it across cycles.
func (c *ConnectionCollector) Connections() []types.ConnectionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.ConnectionRecord, len(c.connections))
	copy(out, c.connections)
	return out
}

func (c *ConnectionCollector) ConnectionStats() types.ConnectionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var stats types.ConnectionStats
	for i := range c.connections {
		conn := &c.connections[i]
		switch conn.State {
		case types.StateEstablished:
			stats.Established++
		case types.StateListen:
			stats.Listening++
		case types.StateTimeWait:
			stats.TimeWait++
		default:
			stats.Other++
		}

		switch conn.Protocol {
		case types.ProtoTCP, types.ProtoTCP6:
			stats.TCP++
		case types.ProtoUDP, types.ProtoUDP6:
			stats.UDP++
		}

		stats.Total++
	}
	return stats
}

// TopProcesses returns up to limit process names ranked by connection
// count.
func (c *ConnectionCollector) TopProcesses(limit int) []ProcessCount {
	c.mu.RLock()
	counts := make(map[string]int)
	for i := range c.connections {
		if name := c.connections[i].ProcessName; name != "" {
			counts[name]++
		}
	}
	c.mu.RUnlock()

	ranked := make([]ProcessCount, 0, len(counts))
	for name, n := range counts {
		ranked = append(ranked, ProcessCount{Name: name, Connections: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Connections != ranked[j].Connections {
			return ranked[i].Connections > ranked[j].Connections
		}
		return ranked[i].Name < ranked[j].Name
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// TopRemoteHosts returns up to limit remote IPs ranked by established
// connection count.
func (c *ConnectionCollector) TopRemoteHosts(limit int) []HostCount {
	c.mu.RLock()
	counts := make(map[netip.Addr]int)
	for i := range c.connections {
		if c.connections[i].State == types.StateEstablished {
			counts[c.connections[i].RemoteAddr.Addr()]++
		}
	}
	c.mu.RUnlock()

	ranked := make([]HostCount, 0, len(counts))
	for addr, n := range counts {
		ranked = append(ranked, HostCount{Addr: addr, Connections: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Connections != ranked[j].Connections {
			return ranked[i].Connections > ranked[j].Connections
		}
		return ranked[i].Addr.Less(ranked[j].Addr)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

type ProcessCount struct {
	Name        string
	Connections int
}

type HostCount struct {
	Addr        netip.Addr
	Connections int
}
