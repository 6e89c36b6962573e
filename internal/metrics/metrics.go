// Package metrics exposes the core's derived state as Prometheus
// metrics for scraping alongside the interactive dashboard.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nwtools/netwatch/internal/collector"
	"github.com/nwtools/netwatch/internal/security"
	"github.com/nwtools/netwatch/internal/stats"
)

// DeviceSnapshot is the per-device reading the rate poller pushes
// after each sample. Rate windows stay owned by their polling
// goroutine; the exporter only ever sees copies.
type DeviceSnapshot struct {
	SpeedIn      uint64
	SpeedOut     uint64
	BytesIn      uint64
	BytesOut     uint64
	PacketsIn    uint64
	PacketsOut   uint64
}

// Collector implements prometheus.Collector over the latest pushed
// device snapshots plus the (internally synchronized) acquisition
// layer and intelligence engine.
type Collector struct {
	mu      sync.RWMutex
	devices map[string]DeviceSnapshot

	acq    *collector.Acquisition
	engine *security.Engine

	speedDesc        *prometheus.Desc
	totalBytesDesc   *prometheus.Desc
	totalPacketsDesc *prometheus.Desc
	connectionsDesc  *prometheus.Desc
	scanAlertsDesc   *prometheus.Desc
	anomaliesDesc    *prometheus.Desc
}

func NewCollector(acq *collector.Acquisition, engine *security.Engine) *Collector {
	return &Collector{
		devices: make(map[string]DeviceSnapshot),
		acq:     acq,
		engine:  engine,
		speedDesc: prometheus.NewDesc(
			"netwatch_interface_speed_bytes_per_second",
			"Current interface throughput",
			[]string{"device", "direction"}, nil,
		),
		totalBytesDesc: prometheus.NewDesc(
			"netwatch_interface_bytes_total",
			"Cumulative interface byte counter from the latest sample",
			[]string{"device", "direction"}, nil,
		),
		totalPacketsDesc: prometheus.NewDesc(
			"netwatch_interface_packets_total",
			"Cumulative interface packet counter from the latest sample",
			[]string{"device", "direction"}, nil,
		),
		connectionsDesc: prometheus.NewDesc(
			"netwatch_connections",
			"Connections observed in the latest acquisition cycle",
			[]string{"state"}, nil,
		),
		scanAlertsDesc: prometheus.NewDesc(
			"netwatch_port_scan_alerts",
			"Scan detectors currently above the alert threshold",
			nil, nil,
		),
		anomaliesDesc: prometheus.NewDesc(
			"netwatch_suspicious_connections_total",
			"Connections that tripped at least one threat indicator",
			nil, nil,
		),
	}
}

// Observe records a device's latest derived state. Called by the rate
// poller after each AddSample.
func (c *Collector) Observe(device string, w *stats.RateWindow) {
	var snap DeviceSnapshot
	snap.SpeedIn, snap.SpeedOut = w.CurrentSpeed()
	snap.BytesIn, snap.BytesOut = w.TotalBytes()
	snap.PacketsIn, snap.PacketsOut = w.TotalPackets()

	c.mu.Lock()
	c.devices[device] = snap
	c.mu.Unlock()
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.speedDesc
	ch <- c.totalBytesDesc
	ch <- c.totalPacketsDesc
	ch <- c.connectionsDesc
	ch <- c.scanAlertsDesc
	ch <- c.anomaliesDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	for device, snap := range c.devices {
		ch <- prometheus.MustNewConstMetric(c.speedDesc, prometheus.GaugeValue, float64(snap.SpeedIn), device, "in")
		ch <- prometheus.MustNewConstMetric(c.speedDesc, prometheus.GaugeValue, float64(snap.SpeedOut), device, "out")
		ch <- prometheus.MustNewConstMetric(c.totalBytesDesc, prometheus.CounterValue, float64(snap.BytesIn), device, "in")
		ch <- prometheus.MustNewConstMetric(c.totalBytesDesc, prometheus.CounterValue, float64(snap.BytesOut), device, "out")
		ch <- prometheus.MustNewConstMetric(c.totalPacketsDesc, prometheus.CounterValue, float64(snap.PacketsIn), device, "in")
		ch <- prometheus.MustNewConstMetric(c.totalPacketsDesc, prometheus.CounterValue, float64(snap.PacketsOut), device, "out")
	}
	c.mu.RUnlock()

	if c.acq != nil {
		connStats := c.acq.ConnectionStats()
		ch <- prometheus.MustNewConstMetric(c.connectionsDesc, prometheus.GaugeValue, float64(connStats.Established), "established")
		ch <- prometheus.MustNewConstMetric(c.connectionsDesc, prometheus.GaugeValue, float64(connStats.Listening), "listening")
		ch <- prometheus.MustNewConstMetric(c.connectionsDesc, prometheus.GaugeValue, float64(connStats.TimeWait), "time_wait")
		ch <- prometheus.MustNewConstMetric(c.connectionsDesc, prometheus.GaugeValue, float64(connStats.Other), "other")
	}

	if c.engine != nil {
		ch <- prometheus.MustNewConstMetric(c.scanAlertsDesc, prometheus.GaugeValue, float64(len(c.engine.PortScanAlerts())))
		ch <- prometheus.MustNewConstMetric(c.anomaliesDesc, prometheus.GaugeValue, float64(c.engine.ConnectionStats().SuspiciousConnections))
	}
}

// Serve registers the collector and serves the scrape endpoint. It
// blocks, so callers run it in its own goroutine.
func Serve(addr string, c *Collector) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(c); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
