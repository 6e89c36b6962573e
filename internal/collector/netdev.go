package collector

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/nwtools/netwatch/pkg/types"
)

// InterfaceReader reads per-interface counters from one data source.
// Implementations are pure readers with no derived state.
type InterfaceReader interface {
	ListInterfaces() ([]string, error)
	ReadSample(device string) (types.InterfaceSample, error)
	Available() bool
}

// NewInterfaceReader returns the richest available counter source:
// the kernel's counter table where exposed, the system counter command
// next, and the portable gopsutil path as last resort.
func NewInterfaceReader() InterfaceReader {
	readers := []InterfaceReader{
		&procReader{path: "/proc/net/dev"},
		&netstatReader{timeout: defaultCommandTimeout},
		&psutilReader{},
	}
	for _, r := range readers {
		if r.Available() {
			return r
		}
	}
	return &psutilReader{}
}

// skipInterface filters loopback and the common virtual interface
// prefixes out of enumeration.
func skipInterface(name string) bool {
	return strings.HasPrefix(name, "lo") ||
		strings.HasPrefix(name, "docker") ||
		strings.HasPrefix(name, "veth") ||
		strings.HasPrefix(name, "br-")
}

// procReader parses the kernel's per-interface counter table.
type procReader struct {
	path string
}

func (r *procReader) Available() bool {
	_, err := os.Stat(r.path)
	return err == nil
}

func (r *procReader) ListInterfaces() ([]string, error) {
	content, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}

	var devices []string
	for _, line := range splitLines(string(content), 2) {
		name, _, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if name != "" && !skipInterface(name) {
			devices = append(devices, name)
		}
	}

	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return devices, nil
}

func (r *procReader) ReadSample(device string) (types.InterfaceSample, error) {
	content, err := os.ReadFile(r.path)
	if err != nil {
		return types.InterfaceSample{}, fmt.Errorf("read %s: %w", r.path, err)
	}
	return parseProcNetDev(string(content), device)
}

// parseProcNetDev extracts one interface's row. Column layout:
// rx bytes/packets/errs/drop at 1..4, tx at 9..12 after the name.
func parseProcNetDev(content, device string) (types.InterfaceSample, error) {
	for _, line := range splitLines(content, 2) {
		fields := strings.Fields(strings.ReplaceAll(line, ":", ": "))
		if len(fields) == 0 {
			continue
		}

		name := strings.TrimSuffix(fields[0], ":")
		if name != device {
			continue
		}

		return types.InterfaceSample{
			Interface:  device,
			Timestamp:  time.Now(),
			BytesIn:    fieldUint(fields, 1),
			PacketsIn:  fieldUint(fields, 2),
			ErrorsIn:   fieldUint(fields, 3),
			DropsIn:    fieldUint(fields, 4),
			BytesOut:   fieldUint(fields, 9),
			PacketsOut: fieldUint(fields, 10),
			ErrorsOut:  fieldUint(fields, 11),
			DropsOut:   fieldUint(fields, 12),
		}, nil
	}

	return types.InterfaceSample{}, &DeviceNotFoundError{Device: device}
}

func fieldUint(fields []string, i int) uint64 {
	if i >= len(fields) {
		return 0
	}
	n, err := strconv.ParseUint(fields[i], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// splitLines returns content's lines with the first skip header lines
// removed.
func splitLines(content string, skip int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) <= skip {
		return nil
	}
	return lines[skip:]
}

// netstatReader shells out to the system counter-reporting command and
// parses its fixed column layout.
type netstatReader struct {
	timeout time.Duration
}

func (r *netstatReader) Available() bool {
	_, err := runCommand(context.Background(), r.timeout, "netstat", "-i")
	return err == nil
}

func (r *netstatReader) ListInterfaces() ([]string, error) {
	out, err := runCommand(context.Background(), r.timeout, "netstat", "-i")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var devices []string
	for _, line := range splitLines(string(out), 1) {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		name := strings.TrimSuffix(fields[0], "*")
		if name == "" || seen[name] || skipInterface(name) {
			continue
		}
		seen[name] = true
		devices = append(devices, name)
	}

	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return devices, nil
}

func (r *netstatReader) ReadSample(device string) (types.InterfaceSample, error) {
	out, err := runCommand(context.Background(), r.timeout, "netstat", "-I", device, "-b")
	if err != nil {
		return types.InterfaceSample{}, err
	}
	return parseNetstatInterface(string(out), device)
}

// parseNetstatInterface reads the counter row of the netstat -I
// output: Name Mtu Network Address Ipkts Ierrs Ibytes Opkts Oerrs
// Obytes Coll. Rows for the link-level entry carry the byte counters.
func parseNetstatInterface(content, device string) (types.InterfaceSample, error) {
	for _, line := range splitLines(content, 1) {
		fields := strings.Fields(line)
		if len(fields) < 10 || fields[0] != device {
			continue
		}

		return types.InterfaceSample{
			Interface:  device,
			Timestamp:  time.Now(),
			PacketsIn:  fieldUint(fields, 4),
			ErrorsIn:   fieldUint(fields, 5),
			BytesIn:    fieldUint(fields, 6),
			PacketsOut: fieldUint(fields, 7),
			ErrorsOut:  fieldUint(fields, 8),
			BytesOut:   fieldUint(fields, 9),
		}, nil
	}

	return types.InterfaceSample{}, &DeviceNotFoundError{Device: device}
}

// psutilReader is the portable fallback over gopsutil's IO counters.
type psutilReader struct{}

func (r *psutilReader) Available() bool {
	return true
}

func (r *psutilReader) ListInterfaces() ([]string, error) {
	counters, err := psnet.IOCounters(true)
	if err != nil {
		return nil, fmt.Errorf("failed to get network counters: %w", err)
	}

	var devices []string
	for _, counter := range counters {
		if !skipInterface(counter.Name) {
			devices = append(devices, counter.Name)
		}
	}

	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return devices, nil
}

func (r *psutilReader) ReadSample(device string) (types.InterfaceSample, error) {
	counters, err := psnet.IOCounters(true)
	if err != nil {
		return types.InterfaceSample{}, fmt.Errorf("failed to get network counters: %w", err)
	}

	for _, counter := range counters {
		if counter.Name != device {
			continue
		}
		return types.InterfaceSample{
			Interface:  device,
			Timestamp:  time.Now(),
			BytesIn:    counter.BytesRecv,
			BytesOut:   counter.BytesSent,
			PacketsIn:  counter.PacketsRecv,
			PacketsOut: counter.PacketsSent,
			ErrorsIn:   counter.Errin,
			ErrorsOut:  counter.Errout,
			DropsIn:    counter.Dropin,
			DropsOut:   counter.Dropout,
		}, nil
	}

	return types.InterfaceSample{}, &DeviceNotFoundError{Device: device}
}
