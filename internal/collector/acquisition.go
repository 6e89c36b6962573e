package collector

import (
	"context"
	"log"

	"github.com/nwtools/netwatch/pkg/types"
)

// Acquisition bundles connection and process discovery behind one
// update entry point. Both halves are best-effort: a cycle that sees
// nothing returns an empty, valid result rather than an error.
type Acquisition struct {
	conns *ConnectionCollector
	procs *ProcessCollector
}

func NewAcquisition() *Acquisition {
	return &Acquisition{
		conns: NewConnectionCollector(),
		procs: NewProcessCollector(),
	}
}

// Update runs one acquisition cycle. The process scan failing does not
// discard the connection results; its error is logged and the cycle
// stands.
func (a *Acquisition) Update(ctx context.Context) error {
	if err := a.conns.Update(ctx); err != nil {
		return err
	}
	if err := a.procs.Update(); err != nil {
		log.Printf("process scan: %v", err)
	}
	return nil
}

func (a *Acquisition) Connections() []types.ConnectionRecord {
	return a.conns.Connections()
}

func (a *Acquisition) ConnectionStats() types.ConnectionStats {
	return a.conns.ConnectionStats()
}

// TopProcesses ranks by measured per-process byte rate when the
// process scan produced any, falling back to connection counts from
// socket attribution.
func (a *Acquisition) TopProcesses(limit int) []types.ProcessRecord {
	return a.procs.TopProcesses(limit)
}

func (a *Acquisition) TopRemoteHosts(limit int) []HostCount {
	return a.conns.TopRemoteHosts(limit)
}

func (a *Acquisition) Processes() []types.ProcessRecord {
	return a.procs.Processes()
}

func (a *Acquisition) TopProcessesByConnections(limit int) []ProcessCount {
	return a.conns.TopProcesses(limit)
}
