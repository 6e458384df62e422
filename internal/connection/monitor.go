package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultProbeInterval is how often the monitor probes when running.
const DefaultProbeInterval = 10 * time.Second

var (
	// ErrReconnectExhausted is reported when every attempt of a backoff
	// loop failed. No further attempts are made until an external trigger.
	ErrReconnectExhausted = errors.New("connection: reconnect attempts exhausted")
	// ErrReconnectInProgress is returned when a loop is already running.
	ErrReconnectInProgress = errors.New("connection: reconnect already in progress")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("connection: monitor stopped")
)

// MonitorOpts configures a Monitor.
type MonitorOpts struct {
	Prober   Prober
	Interval time.Duration // default DefaultProbeInterval
	Policy   Policy        // default DefaultPolicy

	// OnReconnect fires when connectivity comes back, either from a probe
	// or from SetOnline(true).
	OnReconnect func()
	// OnDisconnect fires when connectivity is lost.
	OnDisconnect func()
	// OnExhausted fires when a reconnect loop gives up.
	OnExhausted func(error)
	// OnStatus fires after every status change.
	OnStatus func(Status)
	// OnProbe fires after every probe, for latency metrics.
	OnProbe func(ProbeResult)
}

// Monitor probes reachability on an interval and runs reconnect loops.
type Monitor struct {
	opts MonitorOpts

	mu           sync.Mutex
	status       Status
	reconnecting bool
	started      bool
	stopped      bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewMonitor creates a Monitor. Status starts optimistic (online, good)
// until the first probe says otherwise.
func NewMonitor(opts MonitorOpts) (*Monitor, error) {
	if opts.Prober == nil {
		return nil, fmt.Errorf("connection: prober is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultProbeInterval
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = DefaultPolicy
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		opts:   opts,
		status: Status{IsOnline: true, Quality: Good},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Policy returns the backoff policy in use.
func (m *Monitor) Policy() Policy { return m.opts.Policy }

// Status returns the latest connection status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Start probes immediately, then once per interval until Stop or ctx done.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.ProbeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce runs a single probe and applies the result.
func (m *Monitor) ProbeOnce(ctx context.Context) Status {
	res := m.opts.Prober.Probe(ctx)
	if m.opts.OnProbe != nil {
		m.opts.OnProbe(res)
	}
	next := statusFromProbe(res)
	if res.Err != nil {
		log.Printf("connection: probe failed: %v", res.Err)
	}

	m.mu.Lock()
	if m.stopped {
		st := m.status
		m.mu.Unlock()
		return st
	}
	wasOnline := m.status.IsOnline
	next.ReconnectAttempts = m.status.ReconnectAttempts
	m.status = next
	m.mu.Unlock()

	m.notifyStatus(next)
	switch {
	case !wasOnline && next.IsOnline:
		log.Printf("connection: service reachable again (%dms)", next.LatencyMs)
		if m.opts.OnReconnect != nil {
			m.opts.OnReconnect()
		}
	case wasOnline && !next.IsOnline:
		log.Printf("connection: service unreachable")
		if m.opts.OnDisconnect != nil {
			m.opts.OnDisconnect()
		}
	}
	return next
}

// SetOnline is the external online/offline signal. Going online resets
// the attempt counter and fires OnReconnect; going offline forces a poor
// offline status and fires OnDisconnect.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if online {
		m.status.IsOnline = true
		m.status.ReconnectAttempts = 0
	} else {
		m.status.IsOnline = false
		m.status.Quality = Poor
	}
	st := m.status
	m.mu.Unlock()

	m.notifyStatus(st)
	if online {
		if m.opts.OnReconnect != nil {
			m.opts.OnReconnect()
		}
		return
	}
	if m.opts.OnDisconnect != nil {
		m.opts.OnDisconnect()
	}
}

// Reconnect runs one backoff loop, waiting Policy.Delay(n) before attempt
// n. It returns nil as soon as connect succeeds. When all attempts fail it
// reports ErrReconnectExhausted through OnExhausted and returns it.
func (m *Monitor) Reconnect(ctx context.Context, connect func(context.Context) error) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.reconnecting {
		m.mu.Unlock()
		return ErrReconnectInProgress
	}
	m.reconnecting = true
	m.wg.Add(1)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
		m.wg.Done()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	policy := m.opts.Policy
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		delay := policy.Delay(attempt)
		m.mu.Lock()
		m.status.ReconnectAttempts = attempt
		st := m.status
		m.mu.Unlock()
		m.notifyStatus(st)

		log.Printf("connection: reconnect attempt %d/%d in %s", attempt, policy.MaxAttempts, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		err := connect(ctx)
		if err == nil {
			m.mu.Lock()
			m.status.ReconnectAttempts = 0
			st := m.status
			m.mu.Unlock()
			m.notifyStatus(st)
			log.Printf("connection: reconnected after %d attempt(s)", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("connection: reconnect attempt %d failed: %v", attempt, err)
	}

	log.Printf("connection: giving up after %d attempts", policy.MaxAttempts)
	if m.opts.OnExhausted != nil {
		m.opts.OnExhausted(ErrReconnectExhausted)
	}
	return ErrReconnectExhausted
}

// Reconnecting reports whether a backoff loop is running.
func (m *Monitor) Reconnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnecting
}

// Stop halts probing and cancels any reconnect loop, then waits for them.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) notifyStatus(st Status) {
	if m.opts.OnStatus != nil {
		m.opts.OnStatus(st)
	}
}
