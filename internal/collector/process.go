package collector

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/nwtools/netwatch/pkg/types"
)

// ProcessCollector rebuilds per-process network accounting on every
// cycle. Only the previous cycle's absolute counters are retained,
// keyed by PID, to derive the next cycle's rates.
type ProcessCollector struct {
	mu        sync.RWMutex
	processes map[int32]*types.ProcessRecord

	previous   map[int32]prevCounters
	lastUpdate time.Time
	procRoot   string
}

type prevCounters struct {
	bytesSent uint64
	bytesRecv uint64
	timestamp time.Time
}

func NewProcessCollector() *ProcessCollector {
	return &ProcessCollector{
		processes: make(map[int32]*types.ProcessRecord),
		previous:  make(map[int32]prevCounters),
		procRoot:  "/proc",
	}
}

// Update scans the process table, attributes socket counts through the
// inode mapping and derives byte rates against the previous cycle.
func (pc *ProcessCollector) Update() error {
	now := time.Now()

	procs, err := process.Processes()
	if err != nil {
		return fmt.Errorf("failed to list processes: %w", err)
	}

	fresh := make(map[int32]*types.ProcessRecord, len(procs))
	for _, p := range procs {
		record := pc.readProcess(p, now)
		if record != nil {
			fresh[p.Pid] = record
		}
	}

	pc.countConnections(fresh)
	pc.applyRates(fresh, now)

	pc.mu.Lock()
	pc.processes = fresh
	pc.lastUpdate = now
	pc.mu.Unlock()
	return nil
}

func (pc *ProcessCollector) readProcess(p *process.Process, now time.Time) *types.ProcessRecord {
	name, err := p.Name()
	if err != nil || name == "" {
		name = fmt.Sprintf("process-%d", p.Pid)
	}
	command, err := p.Cmdline()
	if err != nil || command == "" {
		command = name
	}

	sent, recv := pc.readNetworkBytes(p)

	return &types.ProcessRecord{
		PID:           p.Pid,
		Name:          name,
		Command:       command,
		BytesSentRate: sent,
		BytesRecvRate: recv,
		LastUpdated:   now,
	}
}

// readNetworkBytes tries the per-process sources in order of fidelity:
// the process's own network-device view, its I/O accounting as a rough
// proxy, and finally a share of the system-wide totals.
func (pc *ProcessCollector) readNetworkBytes(p *process.Process) (sent, recv uint64) {
	if content, err := os.ReadFile(fmt.Sprintf("%s/%d/net/dev", pc.procRoot, p.Pid)); err == nil {
		if rx, tx, ok := sumNetDev(string(content)); ok {
			return tx, rx
		}
	}

	// I/O accounting covers disk too; a quarter is the conventional
	// rough guess at the network-only share.
	if io, err := p.IOCounters(); err == nil && (io.ReadBytes > 0 || io.WriteBytes > 0) {
		return io.WriteBytes / 4, io.ReadBytes / 4
	}

	if content, err := os.ReadFile(pc.procRoot + "/net/netstat"); err == nil {
		if in, out, ok := parseIPExtOctets(string(content)); ok {
			return out / 100, in / 100
		}
	}

	return 0, 0
}

// sumNetDev totals the rx/tx byte columns across every interface in a
// per-process network-device dump.
func sumNetDev(content string) (rx, tx uint64, ok bool) {
	for _, line := range splitLines(content, 2) {
		fields := strings.Fields(strings.ReplaceAll(line, ":", ": "))
		if len(fields) < 11 {
			continue
		}
		rx += fieldUint(fields, 1)
		tx += fieldUint(fields, 9)
	}
	return rx, tx, rx > 0 || tx > 0
}

// parseIPExtOctets pulls InOctets/OutOctets from the system-wide
// statistics table. The IpExt section is two paired lines: headers,
// then values.
func parseIPExtOctets(content string) (in, out uint64, ok bool) {
	lines := strings.Split(content, "\n")
	for i := 0; i+1 < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "IpExt:") {
			continue
		}
		headers := strings.Fields(lines[i])
		values := strings.Fields(lines[i+1])
		if len(headers) != len(values) || !strings.HasPrefix(lines[i+1], "IpExt:") {
			continue
		}
		for j := 1; j < len(headers); j++ {
			switch headers[j] {
			case "InOctets":
				in, _ = strconv.ParseUint(values[j], 10, 64)
			case "OutOctets":
				out, _ = strconv.ParseUint(values[j], 10, 64)
			}
		}
		return in, out, in > 0 || out > 0
	}
	return 0, 0, false
}

// countConnections walks the kernel connection tables and attributes
// each socket to its owning process via the inode mapping. When the
// mapping is unavailable the counts stay zero rather than guessed.
func (pc *ProcessCollector) countConnections(fresh map[int32]*types.ProcessRecord) {
	records, err := readProcNetConnections()
	if err != nil {
		return
	}

	inodeToPID := pc.mapSocketInodes(fresh)
	if len(inodeToPID) == 0 {
		return
	}

	for i := range records {
		pid, ok := inodeToPID[records[i].Inode]
		if !ok {
			continue
		}
		record, ok := fresh[pid]
		if !ok {
			continue
		}
		record.Connections++
		switch records[i].State {
		case types.StateEstablished:
			record.Established++
		case types.StateListen:
			record.Listening++
		}
	}
}

// mapSocketInodes scans every process's file-descriptor directory for
// socket:[inode] links. Unreadable processes are skipped silently.
func (pc *ProcessCollector) mapSocketInodes(fresh map[int32]*types.ProcessRecord) map[uint64]int32 {
	inodeToPID := make(map[uint64]int32)

	for pid := range fresh {
		fdDir := fmt.Sprintf("%s/%d/fd", pc.procRoot, pid)
		entries, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			target, err := os.Readlink(fdDir + "/" + entry.Name())
			if err != nil {
				continue
			}
			inodeStr, found := strings.CutPrefix(target, "socket:[")
			if !found {
				continue
			}
			inodeStr = strings.TrimSuffix(inodeStr, "]")
			if inode, err := strconv.ParseUint(inodeStr, 10, 64); err == nil {
				inodeToPID[inode] = pid
			}
		}
	}

	return inodeToPID
}

// applyRates converts this cycle's absolute counters into bytes/sec
// against the previous cycle. A PID seen for the first time reports
// its absolute value; there is no baseline to difference against yet.
func (pc *ProcessCollector) applyRates(fresh map[int32]*types.ProcessRecord, now time.Time) {
	next := make(map[int32]prevCounters, len(fresh))

	for pid, record := range fresh {
		absSent, absRecv := record.BytesSentRate, record.BytesRecvRate
		next[pid] = prevCounters{bytesSent: absSent, bytesRecv: absRecv, timestamp: now}

		prev, seen := pc.previous[pid]
		if !seen {
			continue
		}
		elapsed := now.Sub(prev.timestamp).Seconds()
		if elapsed <= 0 {
			continue
		}

		record.BytesSentRate = uint64(float64(saturatingSub(absSent, prev.bytesSent)) / elapsed)
		record.BytesRecvRate = uint64(float64(saturatingSub(absRecv, prev.bytesRecv)) / elapsed)
	}

	pc.previous = next
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// Processes returns the current cycle's records sorted by total rate,
// busiest first.
func (pc *ProcessCollector) Processes() []types.ProcessRecord {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	out := make([]types.ProcessRecord, 0, len(pc.processes))
	for _, record := range pc.processes {
		out = append(out, *record)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalRate() != out[j].TotalRate() {
			return out[i].TotalRate() > out[j].TotalRate()
		}
		return out[i].PID < out[j].PID
	})
	return out
}

// TopProcesses returns up to limit records, busiest first.
func (pc *ProcessCollector) TopProcesses(limit int) []types.ProcessRecord {
	out := pc.Processes()
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ListeningProcesses returns processes holding at least one listening
// socket, most listeners first.
func (pc *ProcessCollector) ListeningProcesses() []types.ProcessRecord {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	var out []types.ProcessRecord
	for _, record := range pc.processes {
		if record.Listening > 0 {
			out = append(out, *record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Listening > out[j].Listening
	})
	return out
}
