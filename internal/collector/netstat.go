package collector

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/nwtools/netwatch/pkg/types"
)

// netstatStates maps the textual state tokens netstat and lsof emit.
// Both BSD and GNU spellings appear in the wild.
var netstatStates = map[string]types.ConnState{
	"ESTABLISHED": types.StateEstablished,
	"LISTEN":      types.StateListen,
	"SYN_SENT":    types.StateSynSent,
	"SYN_RECV":    types.StateSynRecv,
	"SYN_RCVD":    types.StateSynRecv,
	"FIN_WAIT1":   types.StateFinWait1,
	"FIN_WAIT_1":  types.StateFinWait1,
	"FIN_WAIT2":   types.StateFinWait2,
	"FIN_WAIT_2":  types.StateFinWait2,
	"TIME_WAIT":   types.StateTimeWait,
	"CLOSE":       types.StateClose,
	"CLOSED":      types.StateClose,
	"CLOSE_WAIT":  types.StateCloseWait,
	"LAST_ACK":    types.StateLastAck,
	"CLOSING":     types.StateClosing,
}

var netstatProtoFlags = []struct {
	flag  string
	proto types.Protocol
}{
	{"tcp", types.ProtoTCP},
	{"tcp6", types.ProtoTCP6},
	{"udp", types.ProtoUDP},
	{"udp6", types.ProtoUDP6},
}

// readNetstatConnections queries the generic connection-listing
// command once per protocol family. A family that fails is skipped;
// the source fails only when every family does.
func readNetstatConnections(ctx context.Context, timeout time.Duration) ([]types.ConnectionRecord, error) {
	var records []types.ConnectionRecord
	anyOK := false

	for _, pf := range netstatProtoFlags {
		out, err := runCommand(ctx, timeout, "netstat", "-n", "-p", pf.flag)
		if err != nil {
			continue
		}
		anyOK = true
		records = append(records, parseNetstatOutput(string(out), pf.proto)...)
	}

	if !anyOK {
		return nil, fmt.Errorf("netstat unavailable for all protocol families")
	}
	return records, nil
}

func parseNetstatOutput(content string, proto types.Protocol) []types.ConnectionRecord {
	var records []types.ConnectionRecord
	for _, line := range strings.Split(content, "\n") {
		if record, ok := parseNetstatLine(line, proto); ok {
			records = append(records, record)
		}
	}
	return records
}

// parseNetstatLine handles the `proto recv-q send-q local remote
// state` layout. UDP rows have no state column.
func parseNetstatLine(line string, proto types.Protocol) (types.ConnectionRecord, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return types.ConnectionRecord{}, false
	}
	if fields[0] == "Proto" || fields[0] == "Active" {
		return types.ConnectionRecord{}, false
	}

	local, err := parseHostAddr(fields[3])
	if err != nil {
		return types.ConnectionRecord{}, false
	}
	remote, err := parseHostAddr(fields[4])
	if err != nil {
		remote = zeroAddrPort(local.Addr().Is6())
	}

	state := types.StateUnknown
	if len(fields) > 5 {
		if s, ok := netstatStates[fields[5]]; ok {
			state = s
		}
	}

	return types.ConnectionRecord{
		LocalAddr:  local,
		RemoteAddr: remote,
		Protocol:   proto,
		State:      state,
	}, true
}

// parseHostAddr accepts the address spellings the connection-listing
// command produces across OS families: "ip:port", the BSD "ip.port"
// with the port after the last dot, and "[v6]:port". Wildcards map to
// the zero address.
func parseHostAddr(s string) (netip.AddrPort, error) {
	if s == "*" || s == "*.*" || s == "*:*" {
		return zeroAddrPort(false), nil
	}

	if strings.HasPrefix(s, "[") {
		return netip.ParseAddrPort(s)
	}

	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}

	// BSD form: 192.168.86.21.58412, port after the last dot.
	lastDot := strings.LastIndex(s, ".")
	if lastDot < 0 {
		return netip.AddrPort{}, fmt.Errorf("invalid address %q", s)
	}
	ipStr, portStr := s[:lastDot], s[lastDot+1:]
	if ipStr == "*" {
		ipStr = "0.0.0.0"
	}
	if portStr == "*" {
		portStr = "0"
	}

	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return netip.AddrPortFrom(addr, uint16(port)), nil
}
