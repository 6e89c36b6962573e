package stats

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwtools/netwatch/pkg/types"
)

func sampleAt(ts time.Time, bytesIn, bytesOut uint64) types.InterfaceSample {
	return types.InterfaceSample{
		Interface:  "eth0",
		Timestamp:  ts,
		BytesIn:    bytesIn,
		BytesOut:   bytesOut,
		PacketsIn:  bytesIn / 100,
		PacketsOut: bytesOut / 100,
	}
}

func TestCounterDiffMonotonic(t *testing.T) {
	assert.Equal(t, uint64(0), counterDiff(1000, 1000))
	assert.Equal(t, uint64(500), counterDiff(1500, 1000))
	assert.Equal(t, uint64(1), counterDiff(1, 0))
}

func TestCounterDiff32BitWrap(t *testing.T) {
	// Counter wrapped just past the 32-bit boundary.
	diff := counterDiff(100, math.MaxUint32-50)
	assert.Equal(t, uint64(151), diff)

	diff = counterDiff(1000, math.MaxUint32-1000)
	assert.Equal(t, uint64(2001), diff)
}

func TestCounterDiff64BitWrap(t *testing.T) {
	// Previous value is far beyond 32 bits, so the only sane
	// reconstruction is the 64-bit wrap.
	var previous uint64 = math.MaxUint64 - 50
	diff := counterDiff(100, previous)
	assert.Equal(t, uint64(151), diff)
}

func TestFirstSampleComputesNoSpeed(t *testing.T) {
	w := NewRateWindow(time.Minute)
	w.AddSample(sampleAt(time.Now(), 1000, 500))

	in, out := w.CurrentSpeed()
	assert.Zero(t, in)
	assert.Zero(t, out)
	assert.Equal(t, 1, w.SampleCount())
}

func TestCurrentSpeed(t *testing.T) {
	w := NewRateWindow(time.Minute)
	start := time.Now()

	w.AddSample(sampleAt(start, 1000, 500))
	w.AddSample(sampleAt(start.Add(time.Second), 2000, 1000))

	in, out := w.CurrentSpeed()
	assert.Equal(t, uint64(1000), in)
	assert.Equal(t, uint64(500), out)
}

func TestMinMaxSkipsFirstComputedSpeed(t *testing.T) {
	w := NewRateWindow(time.Minute)
	start := time.Now()

	// First computed speed is a spike; it must not seed the extremes.
	w.AddSample(sampleAt(start, 0, 0))
	w.AddSample(sampleAt(start.Add(time.Second), 1_000_000, 1_000_000))

	minIn, _ := w.MinSpeed()
	maxIn, _ := w.MaxSpeed()
	assert.Zero(t, minIn)
	assert.Zero(t, maxIn)

	w.AddSample(sampleAt(start.Add(2*time.Second), 1_001_000, 1_000_500))
	w.AddSample(sampleAt(start.Add(3*time.Second), 1_004_000, 1_002_500))

	minIn, minOut := w.MinSpeed()
	maxIn, maxOut := w.MaxSpeed()
	assert.Equal(t, uint64(1000), minIn)
	assert.Equal(t, uint64(3000), maxIn)
	assert.Equal(t, uint64(500), minOut)
	assert.Equal(t, uint64(2000), maxOut)
}

func TestAverageSpeedOverWindow(t *testing.T) {
	w := NewRateWindow(time.Minute)
	start := time.Now()

	w.AddSample(sampleAt(start, 0, 0))
	w.AddSample(sampleAt(start.Add(5*time.Second), 10_000, 5_000))
	w.AddSample(sampleAt(start.Add(10*time.Second), 30_000, 10_000))

	avgIn, avgOut := w.AverageSpeed()
	assert.Equal(t, uint64(3000), avgIn)
	assert.Equal(t, uint64(1000), avgOut)
}

func TestHistoryBoundedByWindow(t *testing.T) {
	w := NewRateWindow(10 * time.Second)
	start := time.Now()

	for i := 0; i < 30; i++ {
		w.AddSample(sampleAt(start.Add(time.Duration(i)*time.Second), uint64(i*1000), uint64(i*500)))
	}

	// 10s window retains the latest sample plus everything within
	// [latest-window, latest].
	require.LessOrEqual(t, w.SampleCount(), 11)

	cutoff := start.Add(29 * time.Second).Add(-10 * time.Second)
	for _, s := range w.history {
		assert.False(t, s.Timestamp.Before(cutoff))
	}
	for i := 1; i < len(w.history); i++ {
		assert.False(t, w.history[i].Timestamp.Before(w.history[i-1].Timestamp))
	}
}

func TestGraphBufferCapAndAges(t *testing.T) {
	w := NewRateWindow(time.Minute)
	start := time.Now()

	for i := 0; i < 300; i++ {
		w.AddSample(sampleAt(start.Add(time.Duration(i*500)*time.Millisecond), uint64(i*1000), uint64(i*500)))
	}

	in := w.GraphDataIn()
	out := w.GraphDataOut()
	require.LessOrEqual(t, len(in), 120)
	require.LessOrEqual(t, len(out), 120)
	require.NotEmpty(t, in)

	for _, p := range in {
		assert.GreaterOrEqual(t, p.Age, 0.0)
		assert.LessOrEqual(t, p.Age, 60.0)
	}

	// Newest point always sits at age zero.
	assert.Zero(t, in[len(in)-1].Age)

	// Ages decrease from oldest to newest.
	for i := 1; i < len(in); i++ {
		assert.GreaterOrEqual(t, in[i-1].Age, in[i].Age)
	}
}

func TestTotals(t *testing.T) {
	w := NewRateWindow(time.Minute)
	s := sampleAt(time.Now(), 123_456, 654_321)
	s.PacketsIn = 42
	s.PacketsOut = 24
	w.AddSample(s)

	bytesIn, bytesOut := w.TotalBytes()
	packetsIn, packetsOut := w.TotalPackets()
	assert.Equal(t, uint64(123_456), bytesIn)
	assert.Equal(t, uint64(654_321), bytesOut)
	assert.Equal(t, uint64(42), packetsIn)
	assert.Equal(t, uint64(24), packetsOut)
}

func TestReset(t *testing.T) {
	w := NewRateWindow(time.Minute)
	start := time.Now()
	w.AddSample(sampleAt(start, 1000, 500))
	w.AddSample(sampleAt(start.Add(time.Second), 2000, 1000))
	w.AddSample(sampleAt(start.Add(2*time.Second), 4000, 2000))

	w.Reset()

	in, out := w.CurrentSpeed()
	assert.Zero(t, in)
	assert.Zero(t, out)
	assert.Zero(t, w.SampleCount())
	assert.Empty(t, w.GraphDataIn())
	assert.Empty(t, w.GraphDataOut())

	// Behaves like a fresh window: first computed speed skips min/max.
	w.AddSample(sampleAt(start.Add(3*time.Second), 10_000, 5_000))
	w.AddSample(sampleAt(start.Add(4*time.Second), 90_000, 45_000))
	maxIn, _ := w.MaxSpeed()
	assert.Zero(t, maxIn)
}
