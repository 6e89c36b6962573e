package main

import (
	"flag"
	"log"

	"github.com/nwtools/netwatch/internal/config"
	"github.com/nwtools/netwatch/internal/metrics"
	"github.com/nwtools/netwatch/internal/ui"
)

func main() {
	configPath := flag.String("config", "", "config file path (default ~/.netwatch.yaml)")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	dashboard, err := ui.NewDashboard(cfg)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.MetricsAddr != "" {
		exporter := metrics.NewCollector(dashboard.Acquisition(), dashboard.Engine())
		dashboard.SetSampleObserver(exporter.Observe)
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr, exporter); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	if err := dashboard.Run(); err != nil {
		log.Fatal(err)
	}
}
