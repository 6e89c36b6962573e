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

// readLsofConnections is the last-resort socket source: the
// process/file-descriptor listing command. It attributes processes for
// free but reports no byte counters or TCP metrics.
func readLsofConnections(ctx context.Context, timeout time.Duration) ([]types.ConnectionRecord, error) {
	var records []types.ConnectionRecord
	anyOK := false

	for _, protoFlag := range []string{"TCP", "UDP"} {
		out, err := runCommand(ctx, timeout, "lsof", "-i", protoFlag, "-n", "-P")
		if err != nil {
			continue
		}
		anyOK = true
		records = append(records, parseLsofOutput(string(out), protoFlag)...)
	}

	if !anyOK {
		return nil, fmt.Errorf("lsof unavailable")
	}
	return records, nil
}

func parseLsofOutput(content, protoFlag string) []types.ConnectionRecord {
	var records []types.ConnectionRecord
	for _, line := range splitLines(content, 1) {
		if record, ok := parseLsofLine(line, protoFlag); ok {
			records = append(records, record)
		}
	}
	return records
}

// parseLsofLine reads rows shaped like
//
//	sshd 1234 root 3u IPv4 0x... 0t0 TCP 10.0.0.5:22->10.0.0.9:50312 (ESTABLISHED)
//	rapportd 699 kevin 8u IPv4 0x... 0t0 TCP *:64566 (LISTEN)
//
// The state rides in the trailing parenthesized token; established
// sockets carry a local->remote pair, listeners a bare addr:port.
func parseLsofLine(line, protoFlag string) (types.ConnectionRecord, bool) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return types.ConnectionRecord{}, false
	}
	if fields[0] == "COMMAND" {
		return types.ConnectionRecord{}, false
	}

	processName := fields[0]
	var pid int32
	if n, err := strconv.ParseInt(fields[1], 10, 32); err == nil {
		pid = int32(n)
	}

	var networkPart string
	isV6 := false
	for i, f := range fields {
		if f == "IPv6" {
			isV6 = true
		}
		if strings.Contains(f, "->") || (strings.Contains(f, ":") && !strings.Contains(f, "0x") && i >= 7) {
			networkPart = f
			break
		}
	}
	if networkPart == "" {
		return types.ConnectionRecord{}, false
	}

	state := types.StateUnknown
	if last := fields[len(fields)-1]; strings.HasPrefix(last, "(") {
		token := strings.Trim(last, "()")
		if s, ok := netstatStates[token]; ok {
			state = s
		}
	}

	proto := types.ProtoTCP
	switch {
	case protoFlag == "UDP" && isV6:
		proto = types.ProtoUDP6
	case protoFlag == "UDP":
		proto = types.ProtoUDP
	case isV6:
		proto = types.ProtoTCP6
	}

	var local, remote netip.AddrPort
	if localStr, remoteStr, found := strings.Cut(networkPart, "->"); found {
		var err error
		if local, err = parseLsofAddr(localStr); err != nil {
			return types.ConnectionRecord{}, false
		}
		if remote, err = parseLsofAddr(remoteStr); err != nil {
			return types.ConnectionRecord{}, false
		}
	} else {
		var err error
		if local, err = parseLsofAddr(networkPart); err != nil {
			return types.ConnectionRecord{}, false
		}
		remote = zeroAddrPort(local.Addr().Is6())
	}

	return types.ConnectionRecord{
		LocalAddr:   local,
		RemoteAddr:  remote,
		Protocol:    proto,
		State:       state,
		PID:         pid,
		ProcessName: processName,
	}, true
}

// parseLsofAddr handles "*:port", "[v6]:port" and "ip:port".
func parseLsofAddr(s string) (netip.AddrPort, error) {
	if portStr, found := strings.CutPrefix(s, "*:"); found {
		if portStr == "*" {
			return zeroAddrPort(false), nil
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("invalid port in %q: %w", s, err)
		}
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte{}), uint16(port)), nil
	}

	return netip.ParseAddrPort(s)
}
