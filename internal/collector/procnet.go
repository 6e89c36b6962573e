package collector

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/nwtools/netwatch/pkg/types"
)

// procNetFiles maps each protocol family to its kernel connection
// table.
var procNetFiles = []struct {
	path  string
	proto types.Protocol
}{
	{"/proc/net/tcp", types.ProtoTCP},
	{"/proc/net/tcp6", types.ProtoTCP6},
	{"/proc/net/udp", types.ProtoUDP},
	{"/proc/net/udp6", types.ProtoUDP6},
}

// hexStateCodes are the kernel's two-digit connection state codes.
var hexStateCodes = map[string]types.ConnState{
	"01": types.StateEstablished,
	"02": types.StateSynSent,
	"03": types.StateSynRecv,
	"04": types.StateFinWait1,
	"05": types.StateFinWait2,
	"06": types.StateTimeWait,
	"07": types.StateClose,
	"08": types.StateCloseWait,
	"09": types.StateLastAck,
	"0A": types.StateListen,
	"0B": types.StateClosing,
}

// readProcNetConnections parses every available kernel connection
// table. Missing files are skipped; the source only fails when none of
// the four tables could be read.
func readProcNetConnections() ([]types.ConnectionRecord, error) {
	var records []types.ConnectionRecord
	readAny := false

	for _, f := range procNetFiles {
		content, err := os.ReadFile(f.path)
		if err != nil {
			continue
		}
		readAny = true
		records = append(records, parseProcNetTable(string(content), f.proto)...)
	}

	if !readAny {
		return nil, fmt.Errorf("no kernel connection tables readable")
	}
	return records, nil
}

// parseProcNetTable walks one table dump. Malformed rows are dropped,
// never fatal.
func parseProcNetTable(content string, proto types.Protocol) []types.ConnectionRecord {
	var records []types.ConnectionRecord

	for _, line := range splitLines(content, 1) {
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}

		local, err := parseHexAddr(fields[1])
		if err != nil {
			continue
		}
		remote, err := parseHexAddr(fields[2])
		if err != nil {
			continue
		}

		state, ok := hexStateCodes[strings.ToUpper(fields[3])]
		if !ok {
			state = types.StateUnknown
		}

		inode, _ := strconv.ParseUint(fields[9], 10, 64)

		records = append(records, types.ConnectionRecord{
			LocalAddr:  local,
			RemoteAddr: remote,
			Protocol:   proto,
			State:      state,
			Inode:      inode,
		})
	}

	return records
}

// parseHexAddr decodes the kernel's address encoding: the IP as
// little-endian hex (per 32-bit word for IPv6) and the port as
// big-endian hex, joined by a colon. "0100007F:0050" is 127.0.0.1:80.
func parseHexAddr(s string) (netip.AddrPort, error) {
	ipHex, portHex, found := strings.Cut(s, ":")
	if !found {
		return netip.AddrPort{}, fmt.Errorf("invalid socket address %q", s)
	}

	port, err := strconv.ParseUint(portHex, 16, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid port %q: %w", portHex, err)
	}

	switch len(ipHex) {
	case 8:
		word, err := strconv.ParseUint(ipHex, 16, 32)
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("invalid IPv4 %q: %w", ipHex, err)
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(word))
		return netip.AddrPortFrom(netip.AddrFrom4(b), uint16(port)), nil

	case 32:
		var b [16]byte
		for i := 0; i < 4; i++ {
			word, err := strconv.ParseUint(ipHex[i*8:i*8+8], 16, 32)
			if err != nil {
				return netip.AddrPort{}, fmt.Errorf("invalid IPv6 %q: %w", ipHex, err)
			}
			binary.LittleEndian.PutUint32(b[i*4:i*4+4], uint32(word))
		}
		return netip.AddrPortFrom(netip.AddrFrom16(b), uint16(port)), nil

	default:
		return netip.AddrPort{}, fmt.Errorf("invalid IP length in %q", s)
	}
}
