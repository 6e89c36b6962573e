package collector

import (
	"context"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/nwtools/netwatch/pkg/types"
)

// ssStates maps ss state tokens onto the normalized enum.
var ssStates = map[string]types.ConnState{
	"ESTAB":      types.StateEstablished,
	"LISTEN":     types.StateListen,
	"UNCONN":     types.StateClose,
	"SYN-SENT":   types.StateSynSent,
	"SYN-RECV":   types.StateSynRecv,
	"FIN-WAIT-1": types.StateFinWait1,
	"FIN-WAIT-2": types.StateFinWait2,
	"TIME-WAIT":  types.StateTimeWait,
	"CLOSE":      types.StateClose,
	"CLOSE-WAIT": types.StateCloseWait,
	"LAST-ACK":   types.StateLastAck,
	"CLOSING":    types.StateClosing,
}

// readSSConnections runs the rich socket-table command. It is the
// preferred source because it reports extended TCP metrics alongside
// each connection.
func readSSConnections(ctx context.Context, timeout time.Duration) ([]types.ConnectionRecord, error) {
	out, err := runCommand(ctx, timeout, "ss", "-tupan", "-i", "-e")
	if err != nil {
		return nil, err
	}
	return parseSSOutput(string(out)), nil
}

// parseSSOutput walks the dump line by line. Each connection line may
// be followed by indented detail lines carrying TCP internals; those
// are folded into the preceding record's SocketInfo.
func parseSSOutput(content string) []types.ConnectionRecord {
	var records []types.ConnectionRecord
	lines := strings.Split(content, "\n")

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "Netid") || strings.HasPrefix(line, "State") {
			continue
		}

		record, ok := parseSSConnectionLine(line)
		if !ok {
			continue
		}

		info := record.SocketInfo
		for i+1 < len(lines) {
			next := strings.TrimSpace(lines[i+1])
			if !isSSDetailLine(next) {
				break
			}
			parseSSDetails(next, info)
			i++
		}

		records = append(records, record)
	}

	return records
}

func isSSDetailLine(line string) bool {
	return strings.HasPrefix(line, "cubic") ||
		strings.HasPrefix(line, "bbr") ||
		strings.HasPrefix(line, "rto:") ||
		strings.HasPrefix(line, "skmem:") ||
		strings.Contains(line, "rtt:")
}

func parseSSConnectionLine(line string) (types.ConnectionRecord, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return types.ConnectionRecord{}, false
	}

	var proto types.Protocol
	switch fields[0] {
	case "tcp":
		proto = types.ProtoTCP
	case "udp":
		proto = types.ProtoUDP
	case "tcp6":
		proto = types.ProtoTCP6
	case "udp6":
		proto = types.ProtoUDP6
	default:
		return types.ConnectionRecord{}, false
	}

	state, ok := ssStates[fields[1]]
	if !ok {
		state = types.StateUnknown
	}

	recvQ, _ := strconv.ParseUint(fields[2], 10, 32)
	sendQ, _ := strconv.ParseUint(fields[3], 10, 32)

	local, err := parseAddrPort(fields[4])
	if err != nil {
		return types.ConnectionRecord{}, false
	}

	remote := zeroAddrPort(local.Addr().Is6())
	if len(fields) > 5 && fields[5] != "*:*" {
		if r, err := parseAddrPort(fields[5]); err == nil {
			remote = r
		}
	}

	record := types.ConnectionRecord{
		LocalAddr:  local,
		RemoteAddr: remote,
		Protocol:   proto,
		State:      state,
		SocketInfo: &types.SocketInfo{
			RecvQueue: uint32(recvQ),
			SendQueue: uint32(sendQ),
		},
	}

	for _, f := range fields[5:] {
		if strings.HasPrefix(f, "users:") {
			record.PID, record.ProcessName = parseSSUsers(f)
		}
	}

	return record, true
}

// parseSSUsers extracts the owning process from a token like
// users:(("sshd",pid=1234,fd=3)).
func parseSSUsers(token string) (int32, string) {
	var pid int32
	var name string

	if start := strings.Index(token, "pid="); start >= 0 {
		rest := token[start+4:]
		end := strings.IndexAny(rest, ",)")
		if end < 0 {
			end = len(rest)
		}
		if n, err := strconv.ParseInt(rest[:end], 10, 32); err == nil {
			pid = int32(n)
		}
	}

	if start := strings.Index(token, `"`); start >= 0 {
		rest := token[start+1:]
		if end := strings.Index(rest, `"`); end >= 0 {
			name = rest[:end]
		}
	}

	return pid, name
}

// parseSSDetails folds one detail line's fields into info.
func parseSSDetails(line string, info *types.SocketInfo) {
	for _, part := range strings.Fields(line) {
		switch {
		case strings.HasPrefix(part, "rtt:"):
			// rtt:12.5/24.0
			value := strings.TrimPrefix(part, "rtt:")
			rttStr, varStr, found := strings.Cut(value, "/")
			if rtt, err := strconv.ParseFloat(rttStr, 64); err == nil {
				info.RTT = rtt
			}
			if found {
				varStr = strings.TrimSuffix(varStr, "ms")
				if rttvar, err := strconv.ParseFloat(varStr, 64); err == nil {
					info.RTTVar = rttvar
				}
			}

		case strings.HasPrefix(part, "cwnd:"):
			if v, err := strconv.ParseUint(strings.TrimPrefix(part, "cwnd:"), 10, 32); err == nil {
				info.Cwnd = uint32(v)
			}

		case strings.HasPrefix(part, "ssthresh:"):
			if v, err := strconv.ParseUint(strings.TrimPrefix(part, "ssthresh:"), 10, 32); err == nil {
				info.Ssthresh = uint32(v)
			}

		case strings.HasPrefix(part, "pacing_rate"):
			if _, rate, found := strings.Cut(part, ":"); found {
				info.PacingRate = parseBitRate(rate)
			}

		case strings.HasPrefix(part, "delivery_rate"):
			if _, rate, found := strings.Cut(part, ":"); found {
				info.Bandwidth = parseBitRate(rate)
			}

		case strings.HasPrefix(part, "retrans:"):
			// retrans:0/10
			value := strings.TrimPrefix(part, "retrans:")
			if cur, total, found := strings.Cut(value, "/"); found {
				if v, err := strconv.ParseUint(cur, 10, 32); err == nil {
					info.Retrans = uint32(v)
				}
				if v, err := strconv.ParseUint(total, 10, 32); err == nil {
					info.Lost = uint32(v)
				}
			}
		}
	}
}

// parseBitRate converts values like "1.2Mbps" into bits per second.
func parseBitRate(s string) uint64 {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(s, "Kbps"):
		if n, err := strconv.ParseFloat(strings.TrimSuffix(s, "Kbps"), 64); err == nil {
			return uint64(n * 1_000)
		}
	case strings.HasSuffix(s, "Mbps"):
		if n, err := strconv.ParseFloat(strings.TrimSuffix(s, "Mbps"), 64); err == nil {
			return uint64(n * 1_000_000)
		}
	case strings.HasSuffix(s, "Gbps"):
		if n, err := strconv.ParseFloat(strings.TrimSuffix(s, "Gbps"), 64); err == nil {
			return uint64(n * 1_000_000_000)
		}
	default:
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// parseAddrPort handles "ip:port" and "[v6]:port" with wildcards.
func parseAddrPort(s string) (netip.AddrPort, error) {
	s = strings.ReplaceAll(s, "*", "0.0.0.0")
	if strings.HasPrefix(s, "[") {
		s = strings.Replace(s, "[0.0.0.0]", "[::]", 1)
	}
	return netip.ParseAddrPort(s)
}

func zeroAddrPort(v6 bool) netip.AddrPort {
	if v6 {
		return netip.AddrPortFrom(netip.IPv6Unspecified(), 0)
	}
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{}), 0)
}
