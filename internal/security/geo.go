package security

import (
	"net/netip"
)

// GeoProvider resolves an external IP into a geographic and threat
// classification. The engine caches results per IP, so providers may
// be slow or remote.
type GeoProvider interface {
	Lookup(ip netip.Addr) (GeoInfo, error)
}

// StaticProvider is the default no-op provider: every IP classifies as
// Unknown, marked suspicious only when it appears in a fixed deny set.
// Production deployments replace this with a real GeoIP/threat-feed
// backed implementation.
type StaticProvider struct {
	suspicious map[netip.Addr]struct{}
}

func NewStaticProvider(suspiciousIPs []netip.Addr) *StaticProvider {
	set := make(map[netip.Addr]struct{}, len(suspiciousIPs))
	for _, ip := range suspiciousIPs {
		set[ip] = struct{}{}
	}
	return &StaticProvider{suspicious: set}
}

func (p *StaticProvider) Lookup(ip netip.Addr) (GeoInfo, error) {
	_, suspicious := p.suspicious[ip]

	level := ThreatClean
	if suspicious {
		level = ThreatMalicious
	}

	return GeoInfo{
		Country:      "Unknown",
		CountryCode:  "UN",
		City:         "Unknown",
		Region:       "Unknown",
		Organization: "Unknown",
		IsSuspicious: suspicious,
		ThreatLevel:  level,
	}, nil
}

// internalGeoInfo is the synthetic record internal IPs short-circuit
// to without consulting the provider.
func internalGeoInfo() GeoInfo {
	return GeoInfo{
		Country:      "Internal",
		CountryCode:  "INT",
		City:         "Local Network",
		Region:       "Private",
		Organization: "Internal Network",
		IsInternal:   true,
		ThreatLevel:  ThreatClean,
	}
}
