package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwtools/netwatch/internal/stats"
	"github.com/nwtools/netwatch/pkg/types"
)

func TestCollectorExportsDeviceSnapshots(t *testing.T) {
	c := NewCollector(nil, nil)

	w := stats.NewRateWindow(time.Minute)
	start := time.Now()
	w.AddSample(types.InterfaceSample{Interface: "eth0", Timestamp: start, BytesIn: 1000, BytesOut: 500})
	w.AddSample(types.InterfaceSample{Interface: "eth0", Timestamp: start.Add(time.Second), BytesIn: 3000, BytesOut: 1500, PacketsIn: 10, PacketsOut: 5})

	c.Observe("eth0", w)

	// Two directions for each of speed, bytes and packets.
	assert.Equal(t, 6, testutil.CollectAndCount(c))

	in, out := w.CurrentSpeed()
	require.Equal(t, uint64(2000), in)
	require.Equal(t, uint64(1000), out)
}

func TestCollectorEmptyBeforeFirstObserve(t *testing.T) {
	c := NewCollector(nil, nil)
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}
