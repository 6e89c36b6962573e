package types

import "time"

// LatencyStats is the result of probing one diagnostic target.
type LatencyStats struct {
	Host        string
	IP          string
	MinRTT      time.Duration
	AvgRTT      time.Duration
	MaxRTT      time.Duration
	PacketLoss  float64
	LastChecked time.Time
}
