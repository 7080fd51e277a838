package domain

import (
	"context"
	"time"
)

// Fixed commands exposed as convenience calls.
const (
	CommandTrackInfo    = "GetInfo: Type=Tracks"
	CommandListCommands = "Help: Command=Help"
)

// DefaultExchangeTimeout bounds a single request/response exchange.
const DefaultExchangeTimeout = 5000 * time.Millisecond

// Transport performs one framed request/response exchange with the
// controlled application. Implementations hold no state between calls and
// assume at most one exchange is in flight per channel pair.
type Transport interface {
	Exchange(ctx context.Context, command string, timeout time.Duration) (string, error)
}

// PipeProber reports whether both channel endpoints are currently present.
type PipeProber interface {
	Connected() bool
}

// MetricsRecorder receives one event per gateway call.
type MetricsRecorder interface {
	Record(duration time.Duration, success bool)
}

// MetricsSummary is a point-in-time view of recorded calls.
type MetricsSummary struct {
	TotalCalls   int     `json:"total_calls"`
	Errors       int     `json:"errors"`
	ErrorRate    float64 `json:"error_rate"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
}
