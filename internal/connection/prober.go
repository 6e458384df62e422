package connection

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultProbeTimeout bounds a single reachability probe.
const DefaultProbeTimeout = 5 * time.Second

// ProbeResult is the outcome of one probe. Online is false when no response
// arrived at all; a non-2xx response is online but unhealthy.
type ProbeResult struct {
	Online     bool
	StatusCode int
	Latency    time.Duration
	Err        error
}

// Healthy reports whether the probe got a 2xx answer.
func (r ProbeResult) Healthy() bool {
	return r.Online && r.StatusCode >= 200 && r.StatusCode < 300
}

// Prober checks reachability of the interview service.
type Prober interface {
	Probe(ctx context.Context) ProbeResult
}

// HTTPProber issues HEAD requests against a health endpoint.
type HTTPProber struct {
	URL     string
	Client  *http.Client  // default http.DefaultClient
	Timeout time.Duration // default DefaultProbeTimeout
}

// Probe sends one HEAD request and times it.
func (p *HTTPProber) Probe(ctx context.Context) ProbeResult {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return ProbeResult{Err: fmt.Errorf("connection: probe: %w", err)}
	}
	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return ProbeResult{Latency: latency, Err: fmt.Errorf("connection: probe: %w", err)}
	}
	resp.Body.Close()
	return ProbeResult{Online: true, StatusCode: resp.StatusCode, Latency: latency}
}

// statusFromProbe derives the quality for a probe result.
func statusFromProbe(r ProbeResult) Status {
	st := Status{IsOnline: r.Online, LatencyMs: r.Latency.Milliseconds()}
	switch {
	case !r.Online:
		st.Quality = Poor
	case !r.Healthy():
		st.Quality = Poor
	default:
		st.Quality = Classify(r.Latency)
	}
	return st
}
