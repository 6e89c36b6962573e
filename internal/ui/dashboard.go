package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/nwtools/netwatch/internal/collector"
	"github.com/nwtools/netwatch/internal/config"
	"github.com/nwtools/netwatch/internal/security"
	"github.com/nwtools/netwatch/internal/stats"
	"github.com/nwtools/netwatch/pkg/types"
)

// SampleObserver is called after every interface sample so exporters
// can publish derived state without touching the rate windows.
type SampleObserver func(device string, w *stats.RateWindow)

// deviceRates is the display copy of one interface's rate window.
type deviceRates struct {
	Device            string
	SpeedIn, SpeedOut uint64
	AvgIn, AvgOut     uint64
	MinIn, MinOut     uint64
	MaxIn, MaxOut     uint64
	TotalIn, TotalOut uint64
	GraphIn, GraphOut []stats.GraphPoint
}

// snapshot is everything the draw path reads. Collection goroutines
// build it under the mutex; the UI copies it out per frame.
type snapshot struct {
	CurrentTime time.Time
	Rates       []deviceRates
	Conns       []types.ConnectionRecord
	Intel       []security.ConnectionIntelligence
	ConnStats   types.ConnectionStats
	Procs       []types.ProcessRecord
	Scans       []security.ScanDetector
	Anomalies   []security.NetworkAnomaly
	Latency     []types.LatencyStats
}

type Dashboard struct {
	app    *tview.Application
	cfg    *config.Config
	reader collector.InterfaceReader
	acq    *collector.Acquisition
	engine *security.Engine
	prober *collector.LatencyProber

	devices  []string
	windows  map[string]*stats.RateWindow
	observer SampleObserver

	pages           *tview.Pages
	dateTimeView    *tview.TextView
	ratesView       *tview.TextView
	connectionsList *tview.TextView
	threatView      *tview.TextView
	processView     *tview.TextView
	latencyView     *tview.TextView
	graphView       *tview.TextView

	processDetailView *ProcessView

	snap snapshot
	mu   sync.RWMutex

	// Async collection state
	collectingConns   atomic.Bool
	collectingLatency atomic.Bool
	lastLatencyTime   time.Time
}

func NewDashboard(cfg *config.Config) (*Dashboard, error) {
	reader := collector.NewInterfaceReader()
	devices, err := resolveDevices(cfg, reader)
	if err != nil {
		return nil, err
	}

	windows := make(map[string]*stats.RateWindow, len(devices))
	for _, dev := range devices {
		windows[dev] = stats.NewRateWindow(cfg.Window())
	}

	app := tview.NewApplication()
	d := &Dashboard{
		app:     app,
		cfg:     cfg,
		reader:  reader,
		acq:     collector.NewAcquisition(),
		engine:  security.NewEngine(nil),
		prober:  collector.NewLatencyProber(cfg.DiagnosticTargets),
		devices: devices,
		windows: windows,
		pages:   tview.NewPages(),
	}

	d.processDetailView = NewProcessView(app)

	return d, nil
}

// SetSampleObserver registers a callback invoked from the sampling
// goroutine after each AddSample. Must be set before Run.
func (d *Dashboard) SetSampleObserver(fn SampleObserver) {
	d.observer = fn
}

// Acquisition exposes the connection and process discovery layer for
// exporters wired up by the caller.
func (d *Dashboard) Acquisition() *collector.Acquisition {
	return d.acq
}

func (d *Dashboard) Engine() *security.Engine {
	return d.engine
}

// resolveDevices turns the Devices option into the monitored set. A
// configured name that the counter source does not report is a startup
// error, not a silently empty dashboard.
func resolveDevices(cfg *config.Config, reader collector.InterfaceReader) ([]string, error) {
	available, err := reader.ListInterfaces()
	if err != nil {
		return nil, err
	}
	if cfg.Devices == "" || cfg.Devices == "all" {
		return available, nil
	}

	known := make(map[string]bool, len(available))
	for _, dev := range available {
		known[dev] = true
	}

	requested := strings.Fields(cfg.Devices)
	for _, dev := range requested {
		if !known[dev] {
			return nil, fmt.Errorf("interface %q not found, available interfaces: %s",
				dev, strings.Join(available, " "))
		}
	}
	return requested, nil
}

func (d *Dashboard) Run() error {
	d.setupUI()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.updateLoop(ctx)
	go d.sampleLoop(ctx)
	go d.collectionLoop(ctx)

	return d.app.Run()
}

func (d *Dashboard) setupUI() {
	d.dateTimeView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	d.dateTimeView.SetBorder(true).
		SetTitle(" netwatch ")

	d.ratesView = tview.NewTextView().
		SetDynamicColors(true)
	d.ratesView.SetBorder(true).
		SetTitle(" Interface Rates ")

	d.connectionsList = tview.NewTextView().
		SetDynamicColors(true)
	d.connectionsList.SetBorder(true).
		SetTitle(" Active Connections ")

	d.threatView = tview.NewTextView().
		SetDynamicColors(true)
	d.threatView.SetBorder(true).
		SetTitle(" Threat Intelligence ")

	d.processView = tview.NewTextView().
		SetDynamicColors(true)
	d.processView.SetBorder(true).
		SetTitle(" Process Network Usage ")

	d.latencyView = tview.NewTextView().
		SetDynamicColors(true)
	d.latencyView.SetBorder(true).
		SetTitle(" Network Latency ")

	d.graphView = tview.NewTextView().
		SetDynamicColors(true)
	d.graphView.SetBorder(true).
		SetTitle(" Traffic (last 60s) ")

	leftColumn := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.ratesView, 0, 2, false).
		AddItem(d.latencyView, 0, 1, false)

	middleColumn := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.connectionsList, 0, 2, false).
		AddItem(d.threatView, 0, 1, false)

	rightColumn := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.processView, 0, 1, false)

	topSection := tview.NewFlex().
		AddItem(leftColumn, 42, 1, false).
		AddItem(middleColumn, 0, 2, false).
		AddItem(rightColumn, 0, 1, false)

	mainFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.dateTimeView, 3, 1, false).
		AddItem(topSection, 0, 2, false).
		AddItem(d.graphView, 0, 1, false)

	d.pages.AddPage("main", mainFlex, true, true)
	d.pages.AddPage("process", d.processDetailView.GetPages(), true, false)

	d.app.SetRoot(d.pages, true).
		SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			currentPage, _ := d.pages.GetFrontPage()

			switch event.Key() {
			case tcell.KeyEsc:
				if currentPage == "process" {
					d.pages.SwitchToPage("main")
					return nil
				}
				d.app.Stop()
			case tcell.KeyRune:
				switch event.Rune() {
				case 'q':
					if currentPage == "process" {
						d.pages.SwitchToPage("main")
						return nil
					}
					d.app.Stop()
				case 'p':
					if currentPage == "main" {
						d.pages.SwitchToPage("process")
						return nil
					}
				}
			}
			return event
		})
}

func (d *Dashboard) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			d.snap.CurrentTime = time.Now()
			d.mu.Unlock()

			d.updateDisplay()
		}
	}
}

// sampleLoop owns the rate windows. Nothing else mutates them; the
// display only ever sees the copies published into the snapshot.
func (d *Dashboard) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Refresh())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rates := make([]deviceRates, 0, len(d.devices))
			for _, dev := range d.devices {
				sample, err := d.reader.ReadSample(dev)
				if err != nil {
					continue
				}
				w := d.windows[dev]
				w.AddSample(sample)
				if d.observer != nil {
					d.observer(dev, w)
				}
				rates = append(rates, copyRates(dev, w))
			}

			d.mu.Lock()
			d.snap.Rates = rates
			d.mu.Unlock()
		}
	}
}

func copyRates(device string, w *stats.RateWindow) deviceRates {
	r := deviceRates{Device: device}
	r.SpeedIn, r.SpeedOut = w.CurrentSpeed()
	r.AvgIn, r.AvgOut = w.AverageSpeed()
	r.MinIn, r.MinOut = w.MinSpeed()
	r.MaxIn, r.MaxOut = w.MaxSpeed()
	r.TotalIn, r.TotalOut = w.TotalBytes()
	r.GraphIn = append([]stats.GraphPoint(nil), w.GraphDataIn()...)
	r.GraphOut = append([]stats.GraphPoint(nil), w.GraphDataOut()...)
	return r
}

// collectionLoop drives the slower discovery paths so they never block
// the rate sampling or the draw tick.
func (d *Dashboard) collectionLoop(ctx context.Context) {
	time.Sleep(100 * time.Millisecond)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()

			d.tryCollectConnections(ctx)

			if now.Sub(d.lastLatencyTime) > 10*time.Second && d.tryCollectLatency(ctx) {
				d.lastLatencyTime = now
			}
		}
	}
}

// tryCollectConnections starts one discovery cycle unless one is
// already in flight.
func (d *Dashboard) tryCollectConnections(ctx context.Context) bool {
	if !d.collectingConns.CompareAndSwap(false, true) {
		return false
	}
	go d.collectConnections(ctx)
	return true
}

func (d *Dashboard) tryCollectLatency(ctx context.Context) bool {
	if !d.collectingLatency.CompareAndSwap(false, true) {
		return false
	}
	go d.collectLatency(ctx)
	return true
}

func (d *Dashboard) collectConnections(ctx context.Context) {
	defer d.collectingConns.Store(false)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := d.acq.Update(cctx); err != nil {
		return
	}

	conns := d.acq.Connections()
	intel := make([]security.ConnectionIntelligence, len(conns))
	for i := range conns {
		intel[i] = d.engine.AnalyzeConnection(&conns[i])
	}

	d.mu.Lock()
	d.snap.Conns = conns
	d.snap.Intel = intel
	d.snap.ConnStats = d.acq.ConnectionStats()
	d.snap.Procs = d.acq.TopProcesses(30)
	d.snap.Scans = d.engine.PortScanAlerts()
	d.snap.Anomalies = d.engine.RecentAnomalies(10)
	d.mu.Unlock()
}

func (d *Dashboard) collectLatency(ctx context.Context) {
	defer d.collectingLatency.Store(false)

	lctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	results := d.prober.Collect(lctx)

	d.mu.Lock()
	d.snap.Latency = results
	d.mu.Unlock()
}

func (d *Dashboard) updateDisplay() {
	d.mu.RLock()
	snap := d.snap
	d.mu.RUnlock()

	d.app.QueueUpdateDraw(func() {
		d.updateDateTime(snap)
		d.updateRatesView(snap)
		d.updateConnectionsList(snap)
		d.updateThreatView(snap)
		d.updateProcessView(snap)
		d.updateLatencyView(snap)
		d.updateGraphView(snap)

		d.processDetailView.Update(snap.Procs, snap.Conns)
	})
}

func (d *Dashboard) updateDateTime(snap snapshot) {
	text := fmt.Sprintf("[cyan]%s[white]  connections: %d  established: %d",
		snap.CurrentTime.Format("2006-01-02 15:04:05"),
		snap.ConnStats.Total,
		snap.ConnStats.Established,
	)
	d.dateTimeView.SetText(text)
}

func (d *Dashboard) updateRatesView(snap snapshot) {
	if len(snap.Rates) == 0 {
		d.ratesView.SetText("[gray]Sampling interfaces...")
		return
	}

	var builder strings.Builder
	for _, r := range snap.Rates {
		builder.WriteString(fmt.Sprintf("[yellow]%s[white]\n", r.Device))
		builder.WriteString(fmt.Sprintf("  [green]▼ %s/s[white]  avg %s/s  min %s/s  max %s/s\n",
			formatBytes(r.SpeedIn), formatBytes(r.AvgIn), formatBytes(r.MinIn), formatBytes(r.MaxIn)))
		builder.WriteString(fmt.Sprintf("  [red]▲ %s/s[white]  avg %s/s  min %s/s  max %s/s\n",
			formatBytes(r.SpeedOut), formatBytes(r.AvgOut), formatBytes(r.MinOut), formatBytes(r.MaxOut)))
		builder.WriteString(fmt.Sprintf("  total ▼ %s  ▲ %s\n\n",
			formatBytes(r.TotalIn), formatBytes(r.TotalOut)))
	}

	d.ratesView.SetText(builder.String())
}

func (d *Dashboard) updateConnectionsList(snap snapshot) {
	if len(snap.Conns) == 0 {
		d.connectionsList.SetText("[gray]No active connections")
		return
	}

	var builder strings.Builder
	builder.WriteString("[yellow]Proto Local Address          Remote Address            State        RTT     Service[white]\n")
	builder.WriteString(strings.Repeat("─", 90) + "\n")

	for i := range snap.Conns {
		conn := &snap.Conns[i]
		if i >= 20 {
			builder.WriteString(fmt.Sprintf("\n[gray]... and %d more connections", len(snap.Conns)-20))
			break
		}

		color := "[white]"
		switch conn.State {
		case types.StateEstablished:
			color = "[green]"
		case types.StateTimeWait:
			color = "[yellow]"
		case types.StateCloseWait:
			color = "[red]"
		}

		rtt := "-"
		if conn.HasRTT() {
			rtt = fmt.Sprintf("%.1fms", conn.SocketInfo.RTT)
		}

		service := ""
		marker := ""
		if i < len(snap.Intel) {
			service = snap.Intel[i].ServiceName
			if len(snap.Intel[i].Indicators) > 0 {
				marker = " [red]⚠[white]"
			}
		}

		builder.WriteString(fmt.Sprintf("%s%-5s %-22s %-25s %-12s %-7s %s[white]%s\n",
			color,
			conn.Protocol,
			conn.LocalAddr,
			conn.RemoteAddr,
			conn.State,
			rtt,
			service,
			marker,
		))
	}

	d.connectionsList.SetText(builder.String())
}

func (d *Dashboard) updateThreatView(snap snapshot) {
	var builder strings.Builder

	if len(snap.Scans) == 0 && len(snap.Anomalies) == 0 {
		d.threatView.SetText("[gray]No threats detected")
		return
	}

	if len(snap.Scans) > 0 {
		builder.WriteString("[red]Port Scans[white]\n")
		for _, scan := range snap.Scans {
			builder.WriteString(fmt.Sprintf("  %s  %d ports in %s  rate %.1f/s  confidence %.0f%%\n",
				scan.SourceIP,
				scan.PortCount(),
				formatDuration(scan.Duration),
				scan.Rate,
				scan.Confidence*100,
			))
		}
		builder.WriteString("\n")
	}

	if len(snap.Anomalies) > 0 {
		builder.WriteString("[yellow]Recent Anomalies[white]\n")
		for _, a := range snap.Anomalies {
			builder.WriteString(fmt.Sprintf("  [%s] %s %s\n",
				anomalyColor(a.Severity),
				a.DetectedAt.Format("15:04:05"),
				a.Description,
			))
		}
	}

	d.threatView.SetText(builder.String())
}

func anomalyColor(s security.Severity) string {
	switch s {
	case security.SeverityCritical, security.SeverityHigh:
		return "red"
	case security.SeverityMedium:
		return "yellow"
	default:
		return "white"
	}
}

func (d *Dashboard) updateProcessView(snap snapshot) {
	if len(snap.Procs) == 0 {
		d.processView.SetText("[gray]No process data available")
		return
	}

	var builder strings.Builder
	builder.WriteString("[yellow]Process              Download    Upload     Conns[white]\n")
	builder.WriteString(strings.Repeat("─", 55) + "\n")

	for i, proc := range snap.Procs {
		if i >= 15 {
			break
		}

		name := proc.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		builder.WriteString(fmt.Sprintf("%-20s %8s/s  %8s/s   %3d\n",
			name,
			formatBytes(proc.BytesRecvRate),
			formatBytes(proc.BytesSentRate),
			proc.Connections,
		))
	}

	d.processView.SetText(builder.String())
}

func (d *Dashboard) updateLatencyView(snap snapshot) {
	if len(snap.Latency) == 0 {
		d.latencyView.SetText("[gray]Measuring latency...")
		return
	}

	var builder strings.Builder
	builder.WriteString("[yellow]Host                  Latency    Loss[white]\n")
	builder.WriteString(strings.Repeat("─", 40) + "\n")

	for _, stat := range snap.Latency {
		host := stat.Host
		if len(host) > 20 {
			host = host[:17] + "..."
		}

		avgMs := stat.AvgRTT.Milliseconds()
		color := "[green]"
		switch {
		case stat.PacketLoss == 100:
			color = "[red]"
		case avgMs >= 200 || stat.PacketLoss > 0:
			color = "[red]"
		case avgMs >= 100:
			color = "[yellow]"
		}

		latencyText := "timeout"
		if stat.PacketLoss < 100 {
			latencyText = fmt.Sprintf("%dms", avgMs)
		}

		builder.WriteString(fmt.Sprintf("%-20s %s%8s[white]  %5.1f%%\n",
			host, color, latencyText, stat.PacketLoss))
	}

	d.latencyView.SetText(builder.String())
}

// updateGraphView plots the first device's chart points on a character
// grid. Point age maps right-to-left: age 0 at the right edge, 60s at
// the left.
func (d *Dashboard) updateGraphView(snap snapshot) {
	if len(snap.Rates) == 0 || len(snap.Rates[0].GraphIn) < 2 {
		d.graphView.SetText("[gray]Collecting traffic data...")
		return
	}

	r := snap.Rates[0]
	const (
		graphHeight = 12
		graphWidth  = 100
		leftMargin  = 10
	)

	// Fixed scale when configured, otherwise autoscale to the window.
	maxSpeed := float64(max(d.cfg.BarMaxIn, d.cfg.BarMaxOut))
	if maxSpeed == 0 {
		for _, p := range r.GraphIn {
			if p.Speed > maxSpeed {
				maxSpeed = p.Speed
			}
		}
		for _, p := range r.GraphOut {
			if p.Speed > maxSpeed {
				maxSpeed = p.Speed
			}
		}
	}

	grid := make([][]string, graphHeight+1)
	for i := range grid {
		grid[i] = make([]string, graphWidth+leftMargin)
		for j := range grid[i] {
			grid[i][j] = " "
		}
	}

	for i := 0; i < graphHeight; i++ {
		grid[i][leftMargin] = "│"
	}
	for j := leftMargin; j < graphWidth+leftMargin; j++ {
		grid[graphHeight-1][j] = "─"
	}
	grid[graphHeight-1][leftMargin] = "└"

	for i := 0; i <= 2; i++ {
		row := i * (graphHeight - 1) / 2
		value := uint64(maxSpeed) * uint64(2-i) / 2
		label := fmt.Sprintf("%7s/s", formatBytes(value))
		for j, ch := range label {
			if j < leftMargin {
				grid[row][j] = string(ch)
			}
		}
	}

	plot := func(points []stats.GraphPoint, mark string) {
		for _, p := range points {
			x := leftMargin + 1 + int((60.0-p.Age)/60.0*float64(graphWidth-2))
			if x <= leftMargin || x >= graphWidth+leftMargin {
				continue
			}
			y := graphHeight - 2
			if maxSpeed > 0 {
				y = graphHeight - 2 - int(p.Speed/maxSpeed*float64(graphHeight-3))
			}
			if y >= 0 && y < graphHeight-1 {
				grid[y][x] = mark
			}
		}
	}
	plot(r.GraphIn, "[green]▼[white]")
	plot(r.GraphOut, "[red]▲[white]")

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("[yellow]%s[white]\n", r.Device))
	for i := range grid {
		for j := range grid[i] {
			builder.WriteString(grid[i][j])
		}
		builder.WriteString("\n")
	}
	builder.WriteString("[green]▼ Download[white]  [red]▲ Upload[white]\n")

	d.graphView.SetText(builder.String())
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
