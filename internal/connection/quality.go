package connection

import "time"

// Quality is a coarse latency bucket.
type Quality string

const (
	Excellent Quality = "excellent"
	Good      Quality = "good"
	Fair      Quality = "fair"
	Poor      Quality = "poor"
)

// Classify buckets a successful probe's latency.
func Classify(latency time.Duration) Quality {
	switch {
	case latency < 100*time.Millisecond:
		return Excellent
	case latency < 300*time.Millisecond:
		return Good
	case latency < time.Second:
		return Fair
	default:
		return Poor
	}
}

// Status is the latest view of connectivity. It is recomputed on every
// probe and never persisted.
type Status struct {
	IsOnline          bool    `json:"isOnline"`
	Quality           Quality `json:"quality"`
	LatencyMs         int64   `json:"latencyMs"`
	ReconnectAttempts int     `json:"reconnectAttempts"`
}
