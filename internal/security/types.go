package security

import (
	"net/netip"
	"time"
)

type ThreatLevel string

const (
	ThreatClean      ThreatLevel = "CLEAN"
	ThreatSuspicious ThreatLevel = "SUSPICIOUS"
	ThreatMalicious  ThreatLevel = "MALICIOUS"
	ThreatCritical   ThreatLevel = "CRITICAL"
)

// GeoInfo is the classification a geo provider returns for one IP.
type GeoInfo struct {
	Country      string
	CountryCode  string
	City         string
	Region       string
	Organization string
	ASN          uint32
	IsInternal   bool
	IsSuspicious bool
	ThreatLevel  ThreatLevel
}

type IndicatorKind string

const (
	IndicatorPortScan       IndicatorKind = "PORT_SCAN_ATTEMPT"
	IndicatorSuspiciousPort IndicatorKind = "SUSPICIOUS_PORT"
	IndicatorGeoAnomaly     IndicatorKind = "GEO_ANOMALY"
	IndicatorHighBandwidth  IndicatorKind = "HIGH_BANDWIDTH_USAGE"
	IndicatorRapidConns     IndicatorKind = "RAPID_CONNECTIONS"
	IndicatorLongLived      IndicatorKind = "LONG_LIVED_CONNECTION"
)

// ThreatIndicator is one scored finding attached to a connection.
// Which numeric fields are meaningful depends on the kind.
type ThreatIndicator struct {
	Kind         IndicatorKind
	Reason       string
	PortsScanned int
	TimeWindow   time.Duration
	Port         uint16
	Country      string
	Bandwidth    uint64 // bytes/sec for HIGH_BANDWIDTH_USAGE
	Threshold    uint64
	Count        int
	Duration     time.Duration
}

// ConnectionIntelligence is the per-connection analysis output. It is
// recomputed on every call and not persisted beyond the caller's use.
type ConnectionIntelligence struct {
	RemoteIP         netip.Addr
	LocalPort        uint16
	RemotePort       uint16
	Protocol         string
	ServiceName      string
	Geo              *GeoInfo
	Duration         time.Duration
	BytesTransferred uint64
	IsOutbound       bool
	Indicators       []ThreatIndicator
}

// ScanDetector accumulates the distinct destination ports one source
// IP has probed inside its observation window.
type ScanDetector struct {
	SourceIP   netip.Addr
	Ports      map[uint16]struct{}
	StartTime  time.Time
	Duration   time.Duration
	Rate       float64 // ports per second
	Confidence float64 // 0.0 to 1.0
}

func (d *ScanDetector) PortCount() int {
	return len(d.Ports)
}

type AnomalyKind string

const (
	AnomalyPortScan        AnomalyKind = "PORT_SCAN"
	AnomalyTrafficSpike    AnomalyKind = "TRAFFIC_SPIKE"
	AnomalyGeoLocation     AnomalyKind = "UNUSUAL_GEO_LOCATION"
	AnomalyBandwidth       AnomalyKind = "BANDWIDTH_ANOMALY"
	AnomalyConnectionFlood AnomalyKind = "CONNECTION_FLOOD"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// NetworkAnomaly is a cross-connection pattern worth surfacing.
type NetworkAnomaly struct {
	Kind         AnomalyKind
	Severity     Severity
	Description  string
	AffectedIP   netip.Addr
	AffectedPort uint16
	DetectedAt   time.Time
	Confidence   float64
}

// EngineStats summarizes what the engine has seen so far.
type EngineStats struct {
	TotalConnections      int
	ExternalConnections   int
	SuspiciousConnections int
	UniqueCountries       int
	ActivePortScans       int
}
