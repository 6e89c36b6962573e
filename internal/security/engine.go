package security

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/nwtools/netwatch/pkg/types"
)

const (
	scanConfidenceThreshold = 0.7
	detectorMaxAge          = 5 * time.Minute
	highBandwidthThreshold  = 10_000_000 // bytes/sec
	longLivedThreshold      = 12 * time.Hour

	historyCap = 10000
	anomalyCap = 1000
)

// internalNetworks is the static CIDR table used to classify addresses
// as internal. Membership is a pure function of this table.
var internalNetworks = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("::1/128"),
}

// knownServices is the static well-known-port table.
var knownServices = map[uint16]string{
	22:    "SSH",
	23:    "Telnet",
	25:    "SMTP",
	53:    "DNS",
	80:    "HTTP",
	110:   "POP3",
	143:   "IMAP",
	443:   "HTTPS",
	993:   "IMAPS",
	995:   "POP3S",
	3306:  "MySQL",
	3389:  "RDP",
	5432:  "PostgreSQL",
	6379:  "Redis",
	8080:  "HTTP-Alt",
	8443:  "HTTPS-Alt",
	9200:  "Elasticsearch",
	27017: "MongoDB",
	1337:  "Elite/Leet (Suspicious)",
	12345: "NetBus (Malware)",
	31337: "Back Orifice (Malware)",
	54321: "Back Orifice 2000 (Malware)",
}

// suspiciousPorts are ports with no legitimate common use.
var suspiciousPorts = map[uint16]struct{}{
	1337: {}, 31337: {}, 12345: {}, 54321: {},
	6667: {}, 6668: {}, 6669: {},
}

// commonScanPorts are the ports scanners sweep first.
var commonScanPorts = map[uint16]struct{}{
	22: {}, 23: {}, 80: {}, 443: {}, 21: {}, 25: {},
	53: {}, 110: {}, 143: {}, 993: {}, 995: {}, 3389: {},
}

// Engine converts a stream of ConnectionRecords into per-connection
// intelligence and cross-connection pattern detections. All state is
// mutex-guarded; one instance may be shared across polling goroutines.
type Engine struct {
	mu sync.Mutex

	provider  GeoProvider
	geoCache  map[netip.Addr]GeoInfo
	detectors map[netip.Addr]*ScanDetector

	history   []ConnectionIntelligence
	anomalies []NetworkAnomaly
}

func NewEngine(provider GeoProvider) *Engine {
	if provider == nil {
		provider = NewStaticProvider(nil)
	}
	return &Engine{
		provider:  provider,
		geoCache:  make(map[netip.Addr]GeoInfo),
		detectors: make(map[netip.Addr]*ScanDetector),
	}
}

// IsInternal reports whether ip falls inside the static internal
// CIDR table.
func IsInternal(ip netip.Addr) bool {
	ip = ip.Unmap()
	for _, prefix := range internalNetworks {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

// AnalyzeConnection classifies one connection: direction, geography,
// service, and any threat indicators it trips.
func (e *Engine) AnalyzeConnection(record *types.ConnectionRecord) ConnectionIntelligence {
	e.mu.Lock()
	defer e.mu.Unlock()

	remoteIP := record.RemoteAddr.Addr()
	localPort := record.LocalAddr.Port()
	remotePort := record.RemoteAddr.Port()

	isOutbound := IsInternal(record.LocalAddr.Addr())
	geo := e.lookupGeo(remoteIP)

	var duration time.Duration
	if record.SocketInfo != nil {
		duration = record.SocketInfo.Duration
	}

	var indicators []ThreatIndicator

	if detector := e.detectPortScan(remoteIP, remotePort, time.Now()); detector != nil {
		indicators = append(indicators, ThreatIndicator{
			Kind:         IndicatorPortScan,
			Reason:       fmt.Sprintf("%d distinct ports probed", detector.PortCount()),
			PortsScanned: detector.PortCount(),
			TimeWindow:   detector.Duration,
		})
	}

	if _, bad := suspiciousPorts[remotePort]; bad {
		indicators = append(indicators, ThreatIndicator{
			Kind:   IndicatorSuspiciousPort,
			Reason: "known malicious or uncommon port",
			Port:   remotePort,
		})
	}

	var bytesPerSecond uint64
	if secs := uint64(duration.Seconds()); secs > 0 {
		bytesPerSecond = record.TotalBytes() / secs
	}
	if bytesPerSecond > highBandwidthThreshold {
		indicators = append(indicators, ThreatIndicator{
			Kind:      IndicatorHighBandwidth,
			Reason:    "sustained transfer above threshold",
			Bandwidth: bytesPerSecond,
			Threshold: highBandwidthThreshold,
		})
	}

	if duration > longLivedThreshold {
		indicators = append(indicators, ThreatIndicator{
			Kind:     IndicatorLongLived,
			Reason:   "connection open far beyond typical session length",
			Duration: duration,
		})
	}

	if geo != nil && (geo.IsSuspicious || geo.ThreatLevel != ThreatClean) && !geo.IsInternal {
		indicators = append(indicators, ThreatIndicator{
			Kind:    IndicatorGeoAnomaly,
			Reason:  "remote address flagged by threat classification",
			Country: geo.Country,
		})
	}

	intel := ConnectionIntelligence{
		RemoteIP:         remoteIP,
		LocalPort:        localPort,
		RemotePort:       remotePort,
		Protocol:         string(record.Protocol),
		ServiceName:      identifyService(localPort, remotePort),
		Geo:              geo,
		Duration:         duration,
		BytesTransferred: record.TotalBytes(),
		IsOutbound:       isOutbound,
		Indicators:       indicators,
	}

	e.history = append(e.history, intel)
	if len(e.history) > historyCap {
		e.history = append(e.history[:0], e.history[len(e.history)-historyCap:]...)
	}

	return intel
}

// lookupGeo consults the cache, short-circuits internal IPs to a
// synthetic record and otherwise defers to the provider. Caller holds
// the lock.
func (e *Engine) lookupGeo(ip netip.Addr) *GeoInfo {
	if !ip.IsValid() {
		return nil
	}

	if cached, ok := e.geoCache[ip]; ok {
		return &cached
	}

	if IsInternal(ip) {
		info := internalGeoInfo()
		e.geoCache[ip] = info
		return &info
	}

	info, err := e.provider.Lookup(ip)
	if err != nil {
		return nil
	}
	e.geoCache[ip] = info
	return &info
}

// identifyService names the likely service for a connection. The
// privileged side's port wins; unknown ports fall back to the IANA
// range tiering.
func identifyService(localPort, remotePort uint16) string {
	port := remotePort
	if localPort < 1024 {
		port = localPort
	}

	if name, ok := knownServices[port]; ok {
		return name
	}

	switch {
	case port < 1024:
		return "System Service"
	case port < 49152:
		return "Registered Service"
	default:
		return "Dynamic/Ephemeral"
	}
}

// DetectPortScan feeds one observed (source, port) pair into that
// source's detector and returns the detector only when its confidence
// clears the alert threshold.
func (e *Engine) DetectPortScan(sourceIP netip.Addr, port uint16) *ScanDetector {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detectPortScan(sourceIP, port, time.Now())
}

// detectPortScan is the lock-held implementation shared with
// AnalyzeConnection.
func (e *Engine) detectPortScan(sourceIP netip.Addr, port uint16, now time.Time) *ScanDetector {
	detector, ok := e.detectors[sourceIP]
	if !ok {
		detector = &ScanDetector{
			SourceIP:  sourceIP,
			Ports:     make(map[uint16]struct{}),
			StartTime: now,
		}
		e.detectors[sourceIP] = detector
	}

	detector.Ports[port] = struct{}{}
	detector.Duration = now.Sub(detector.StartTime)
	if secs := detector.Duration.Seconds(); secs > 0 {
		detector.Rate = float64(detector.PortCount()) / secs
	}
	detector.Confidence = scanConfidence(detector)

	// Sources quiet for longer than the observation window age out.
	cutoff := now.Add(-detectorMaxAge)
	for ip, d := range e.detectors {
		if d.StartTime.Before(cutoff) {
			delete(e.detectors, ip)
		}
	}

	if detector.Confidence > scanConfidenceThreshold {
		e.recordAnomaly(NetworkAnomaly{
			Kind:        AnomalyPortScan,
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("possible port scan from %s: %d ports in %s", sourceIP, detector.PortCount(), detector.Duration.Round(time.Millisecond)),
			AffectedIP:  sourceIP,
			DetectedAt:  now,
			Confidence:  detector.Confidence,
		})
		return detector
	}
	return nil
}

// scanConfidence recomputes a detector's score from its current
// fields. Components: port breadth up to 0.4, rate up to 0.3, a
// sequential run bonus of 0.2 and a common-target bonus of 0.1,
// capped at 1.0.
func scanConfidence(d *ScanDetector) float64 {
	confidence := 0.0

	portFraction := float64(d.PortCount()) / 20.0
	if portFraction > 1.0 {
		portFraction = 1.0
	}
	confidence += portFraction * 0.4

	if d.Rate > 10.0 {
		confidence += 0.3
	} else if d.Rate > 1.0 {
		confidence += 0.2
	}

	if longestSequentialRun(d.Ports) >= 5 {
		confidence += 0.2
	}

	common := 0
	for port := range d.Ports {
		if _, ok := commonScanPorts[port]; ok {
			common++
		}
	}
	if common > 3 {
		confidence += 0.1
	}

	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

func longestSequentialRun(ports map[uint16]struct{}) int {
	if len(ports) < 2 {
		return len(ports)
	}

	sorted := make([]uint16, 0, len(ports))
	for p := range ports {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	longest, current := 1, 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1]+1 {
			current++
		} else {
			if current > longest {
				longest = current
			}
			current = 1
		}
	}
	if current > longest {
		longest = current
	}
	return longest
}

// recordAnomaly appends to the bounded anomaly ring. Caller holds the
// lock.
func (e *Engine) recordAnomaly(a NetworkAnomaly) {
	e.anomalies = append(e.anomalies, a)
	if len(e.anomalies) > anomalyCap {
		e.anomalies = append(e.anomalies[:0], e.anomalies[len(e.anomalies)-anomalyCap:]...)
	}
}

// PortScanAlerts returns the detectors currently above the alert
// threshold.
func (e *Engine) PortScanAlerts() []ScanDetector {
	e.mu.Lock()
	defer e.mu.Unlock()

	var alerts []ScanDetector
	for _, d := range e.detectors {
		if d.Confidence > scanConfidenceThreshold {
			alerts = append(alerts, *d)
		}
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Confidence > alerts[j].Confidence
	})
	return alerts
}

// RecentAnomalies returns up to limit anomalies, newest first.
func (e *Engine) RecentAnomalies(limit int) []NetworkAnomaly {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.anomalies)
	if limit > n {
		limit = n
	}
	out := make([]NetworkAnomaly, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.anomalies[i])
	}
	return out
}

// ConnectionStats summarizes everything analyzed so far.
func (e *Engine) ConnectionStats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := EngineStats{
		TotalConnections: len(e.history),
		ActivePortScans:  len(e.detectors),
	}

	countries := make(map[string]struct{})
	for i := range e.history {
		intel := &e.history[i]
		if intel.Geo != nil && !intel.Geo.IsInternal {
			stats.ExternalConnections++
			countries[intel.Geo.Country] = struct{}{}
		}
		if len(intel.Indicators) > 0 {
			stats.SuspiciousConnections++
		}
	}
	stats.UniqueCountries = len(countries)

	return stats
}
