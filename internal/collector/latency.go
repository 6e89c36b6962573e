package collector

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/nwtools/netwatch/pkg/types"
)

const (
	probeCount   = 3
	probeTimeout = 2 * time.Second
)

// LatencyProber measures round-trip time to a set of diagnostic
// targets. ICMP echo is used when the process has the privilege for a
// raw socket; otherwise a TCP dial to a well-known port stands in.
type LatencyProber struct {
	mu      sync.RWMutex
	targets []string
}

func NewLatencyProber(targets []string) *LatencyProber {
	if len(targets) == 0 {
		targets = []string{"1.1.1.1", "8.8.8.8"}
	}
	return &LatencyProber{targets: targets}
}

func (lp *LatencyProber) SetTargets(targets []string) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.targets = targets
}

// Collect probes every target concurrently and returns one stats entry
// per target. The whole collection is bounded by ctx.
func (lp *LatencyProber) Collect(ctx context.Context) []types.LatencyStats {
	lp.mu.RLock()
	targets := make([]string, len(lp.targets))
	copy(targets, lp.targets)
	lp.mu.RUnlock()

	results := make([]types.LatencyStats, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			results[i] = lp.probe(ctx, host)
		}(i, target)
	}
	wg.Wait()

	return results
}

func (lp *LatencyProber) probe(ctx context.Context, host string) types.LatencyStats {
	stats := types.LatencyStats{
		Host:        host,
		LastChecked: time.Now(),
	}

	resolver := &net.Resolver{}
	ips, err := resolver.LookupIPAddr(ctx, host)
	if err != nil || len(ips) == 0 {
		stats.PacketLoss = 100.0
		return stats
	}
	ip := ips[0].IP
	stats.IP = ip.String()

	var rtts []time.Duration
	for i := 0; i < probeCount; i++ {
		if ctx.Err() != nil {
			break
		}
		rtt, err := ping(ip)
		if err == nil {
			rtts = append(rtts, rtt)
		}
		if i < probeCount-1 {
			select {
			case <-ctx.Done():
			case <-time.After(50 * time.Millisecond):
			}
		}
	}

	if len(rtts) == 0 {
		stats.PacketLoss = 100.0
		return stats
	}

	stats.PacketLoss = float64(probeCount-len(rtts)) / float64(probeCount) * 100.0
	stats.MinRTT = rtts[0]
	stats.MaxRTT = rtts[0]
	var total time.Duration
	for _, rtt := range rtts {
		total += rtt
		if rtt < stats.MinRTT {
			stats.MinRTT = rtt
		}
		if rtt > stats.MaxRTT {
			stats.MaxRTT = rtt
		}
	}
	stats.AvgRTT = total / time.Duration(len(rtts))

	return stats
}

func ping(ip net.IP) (time.Duration, error) {
	if ip.To4() != nil {
		if rtt, err := icmpPing(ip); err == nil {
			return rtt, nil
		}
	}
	return tcpPing(ip)
}

// tcpPing times a TCP handshake to 443, then 80. Unprivileged, so it
// works everywhere ICMP raw sockets do not.
func tcpPing(ip net.IP) (time.Duration, error) {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(ip.String(), "443"), probeTimeout)
	if err != nil {
		conn, err = net.DialTimeout("tcp", net.JoinHostPort(ip.String(), "80"), probeTimeout)
		if err != nil {
			return 0, err
		}
	}
	conn.Close()
	return time.Since(start), nil
}

// icmpPing sends one echo request. Needs a raw socket, so it fails
// cleanly for unprivileged runs and the caller falls back to TCP.
func icmpPing(ip net.IP) (time.Duration, error) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	message := &icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: 1, Seq: 1, Data: []byte("netwatch")},
	}
	data, err := message.Marshal(nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := conn.WriteTo(data, &net.IPAddr{IP: ip}); err != nil {
		return 0, err
	}

	if err := conn.SetReadDeadline(time.Now().Add(probeTimeout)); err != nil {
		return 0, err
	}
	reply := make([]byte, 1500)
	n, _, err := conn.ReadFrom(reply)
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)

	parsed, err := icmp.ParseMessage(ipv4.ICMPTypeEchoReply.Protocol(), reply[:n])
	if err != nil {
		return 0, err
	}
	if parsed.Type != ipv4.ICMPTypeEchoReply {
		return 0, fmt.Errorf("expected echo reply, got %v", parsed.Type)
	}
	return rtt, nil
}
