package stats

import (
	"math"
	"time"

	"github.com/nwtools/netwatch/pkg/types"
)

const (
	// Chart points older than this are evicted on every insert.
	graphMaxAge = 60.0
	// Hard cap per direction regardless of age.
	graphMaxPoints = 120
)

// GraphPoint is one charting sample: age in seconds relative to the
// newest insert (0 = now) and speed in bytes per second.
type GraphPoint struct {
	Age   float64
	Speed float64
}

// RateWindow turns successive InterfaceSamples for a single interface
// into instantaneous, average, min and max throughput over a sliding
// time window, plus a bounded ring of chart points per direction.
//
// A RateWindow is owned by exactly one interface context and is not
// safe for concurrent mutation. Samples must be applied in
// non-decreasing timestamp order.
type RateWindow struct {
	history    []types.InterfaceSample
	windowSize time.Duration

	currentSpeedIn  uint64
	currentSpeedOut uint64
	avgSpeedIn      uint64
	avgSpeedOut     uint64
	minSpeedIn      uint64
	minSpeedOut     uint64
	maxSpeedIn      uint64
	maxSpeedOut     uint64

	graphIn  []GraphPoint
	graphOut []GraphPoint

	totalBytesIn    uint64
	totalBytesOut   uint64
	totalPacketsIn  uint64
	totalPacketsOut uint64

	firstSample bool
}

func NewRateWindow(windowSize time.Duration) *RateWindow {
	return &RateWindow{
		windowSize:  windowSize,
		firstSample: true,
	}
}

// AddSample applies one counter reading. Totals track the latest
// sample; speeds are derived from the delta to the previous one.
func (w *RateWindow) AddSample(sample types.InterfaceSample) {
	w.totalBytesIn = sample.BytesIn
	w.totalBytesOut = sample.BytesOut
	w.totalPacketsIn = sample.PacketsIn
	w.totalPacketsOut = sample.PacketsOut

	if n := len(w.history); n > 0 {
		previous := w.history[n-1]
		dt := sample.Timestamp.Sub(previous.Timestamp).Seconds()

		if dt > 0 {
			bytesInDiff := counterDiff(sample.BytesIn, previous.BytesIn)
			bytesOutDiff := counterDiff(sample.BytesOut, previous.BytesOut)

			w.currentSpeedIn = uint64(float64(bytesInDiff) / dt)
			w.currentSpeedOut = uint64(float64(bytesOutDiff) / dt)

			// The first computed speed can be noisy; keep it out of
			// the min/max extremes.
			if w.firstSample {
				w.firstSample = false
			} else {
				w.updateMinMax()
			}

			w.addGraphPoints(dt)
		}
	}

	w.history = append(w.history, sample)
	w.trimOldSamples()
	w.calculateAverages()
}

// counterDiff subtracts wrapping-aware. On wrap it reconstructs both a
// 32-bit and a 64-bit wrap delta and takes the 32-bit one whenever it
// is under 1/1000 of the 64-bit result, since 32-bit counters are by
// far the more common case.
func counterDiff(current, previous uint64) uint64 {
	if current >= previous {
		return current - previous
	}

	diff32 := math.MaxUint32 - previous + current + 1
	diff64 := math.MaxUint64 - previous + current + 1

	if diff32 < diff64/1000 {
		return diff32
	}
	return diff64
}

func (w *RateWindow) updateMinMax() {
	if w.currentSpeedIn < w.minSpeedIn || w.minSpeedIn == 0 {
		w.minSpeedIn = w.currentSpeedIn
	}
	if w.currentSpeedIn > w.maxSpeedIn {
		w.maxSpeedIn = w.currentSpeedIn
	}
	if w.currentSpeedOut < w.minSpeedOut || w.minSpeedOut == 0 {
		w.minSpeedOut = w.currentSpeedOut
	}
	if w.currentSpeedOut > w.maxSpeedOut {
		w.maxSpeedOut = w.currentSpeedOut
	}
}

func (w *RateWindow) addGraphPoints(dt float64) {
	w.graphIn = ageAndAppend(w.graphIn, dt, float64(w.currentSpeedIn))
	w.graphOut = ageAndAppend(w.graphOut, dt, float64(w.currentSpeedOut))
}

func ageAndAppend(points []GraphPoint, dt, speed float64) []GraphPoint {
	kept := points[:0]
	for _, p := range points {
		p.Age += dt
		if p.Age <= graphMaxAge {
			kept = append(kept, p)
		}
	}
	kept = append(kept, GraphPoint{Age: 0, Speed: speed})

	if excess := len(kept) - graphMaxPoints; excess > 0 {
		kept = append(kept[:0], kept[excess:]...)
	}
	return kept
}

func (w *RateWindow) trimOldSamples() {
	n := len(w.history)
	if n == 0 {
		return
	}
	cutoff := w.history[n-1].Timestamp.Add(-w.windowSize)

	drop := 0
	for drop < n && w.history[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		w.history = append(w.history[:0], w.history[drop:]...)
	}
}

func (w *RateWindow) calculateAverages() {
	if len(w.history) < 2 {
		return
	}

	first := w.history[0]
	last := w.history[len(w.history)-1]

	span := last.Timestamp.Sub(first.Timestamp).Seconds()
	if span <= 0 {
		return
	}

	w.avgSpeedIn = uint64(float64(counterDiff(last.BytesIn, first.BytesIn)) / span)
	w.avgSpeedOut = uint64(float64(counterDiff(last.BytesOut, first.BytesOut)) / span)
}

// CurrentSpeed returns the latest instantaneous (in, out) bytes/sec.
func (w *RateWindow) CurrentSpeed() (uint64, uint64) {
	return w.currentSpeedIn, w.currentSpeedOut
}

// AverageSpeed returns the (in, out) bytes/sec averaged over the
// retained window.
func (w *RateWindow) AverageSpeed() (uint64, uint64) {
	return w.avgSpeedIn, w.avgSpeedOut
}

func (w *RateWindow) MinSpeed() (uint64, uint64) {
	return w.minSpeedIn, w.minSpeedOut
}

func (w *RateWindow) MaxSpeed() (uint64, uint64) {
	return w.maxSpeedIn, w.maxSpeedOut
}

// TotalBytes returns the cumulative (in, out) counters from the most
// recent sample.
func (w *RateWindow) TotalBytes() (uint64, uint64) {
	return w.totalBytesIn, w.totalBytesOut
}

func (w *RateWindow) TotalPackets() (uint64, uint64) {
	return w.totalPacketsIn, w.totalPacketsOut
}

// GraphDataIn returns the inbound chart points, oldest first. The
// returned slice is owned by the window; callers must not mutate it.
func (w *RateWindow) GraphDataIn() []GraphPoint {
	return w.graphIn
}

func (w *RateWindow) GraphDataOut() []GraphPoint {
	return w.graphOut
}

func (w *RateWindow) SampleCount() int {
	return len(w.history)
}

// Reset clears all state as if the window was newly constructed.
func (w *RateWindow) Reset() {
	w.history = nil
	w.graphIn = nil
	w.graphOut = nil
	w.currentSpeedIn = 0
	w.currentSpeedOut = 0
	w.avgSpeedIn = 0
	w.avgSpeedOut = 0
	w.minSpeedIn = 0
	w.minSpeedOut = 0
	w.maxSpeedIn = 0
	w.maxSpeedOut = 0
	w.totalBytesIn = 0
	w.totalBytesOut = 0
	w.totalPacketsIn = 0
	w.totalPacketsOut = 0
	w.firstSample = true
}
