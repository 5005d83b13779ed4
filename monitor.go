package aura

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ConnectionState is the last known liveness of the backend.
type ConnectionState string

const (
	StateUnknown      ConnectionState = "unknown"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

// ConnectionStatus is a state plus the time of the probe that produced it.
type ConnectionStatus struct {
	State     ConnectionState
	CheckedAt time.Time
}

// HealthChecker probes the backend. It must not panic and reports
// failure as false.
type HealthChecker interface {
	CheckHealth(ctx context.Context) bool
}

const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeSpacing  = 10 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// MonitorOptions configures a ConnectionMonitor.
type MonitorOptions struct {
	// Interval between periodic probes.
	Interval time.Duration
	// MinSpacing is the least time between two probes of any origin. It is
	// kept below Interval.
	MinSpacing time.Duration
	// Timeout bounds a single probe.
	Timeout  time.Duration
	Notifier *Notifier
	Logger   *slog.Logger
	// Clock replaces time.Now in tests.
	Clock func() time.Time
}

// ConnectionMonitor owns the process-wide ConnectionStatus. Probes are
// rate-limited and never overlap.
type ConnectionMonitor struct {
	checker    HealthChecker
	interval   time.Duration
	minSpacing time.Duration
	timeout    time.Duration
	notifier   *Notifier
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	status    ConnectionStatus
	lastProbe time.Time
	probing   bool
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewConnectionMonitor creates a monitor in the unknown state.
func NewConnectionMonitor(checker HealthChecker, opts *MonitorOptions) *ConnectionMonitor {
	m := &ConnectionMonitor{
		checker: checker,
		status:  ConnectionStatus{State: StateUnknown},
	}
	if opts != nil {
		m.interval = opts.Interval
		m.minSpacing = opts.MinSpacing
		m.timeout = opts.Timeout
		m.notifier = opts.Notifier
		m.logger = opts.Logger
		m.now = opts.Clock
	}
	// Defaults
	if m.interval <= 0 {
		m.interval = DefaultProbeInterval
	}
	if m.minSpacing <= 0 {
		m.minSpacing = DefaultProbeSpacing
	}
	if m.minSpacing >= m.interval {
		m.minSpacing = m.interval / 2
	}
	if m.timeout <= 0 {
		m.timeout = DefaultProbeTimeout
	}
	if m.logger == nil {
		m.logger = discardLogger()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Status returns the last probe result.
func (m *ConnectionMonitor) Status() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Reset forgets the last probe and returns to the unknown state.
func (m *ConnectionMonitor) Reset() {
	m.mu.Lock()
	m.status = ConnectionStatus{State: StateUnknown}
	m.lastProbe = time.Time{}
	m.mu.Unlock()
}

// Probe checks the backend unless a probe is in flight or the previous one
// started less than MinSpacing ago. It returns the resulting status and
// whether a probe actually ran.
func (m *ConnectionMonitor) Probe(ctx context.Context) (ConnectionStatus, bool) {
	m.mu.Lock()
	now := m.now()
	if m.probing || (!m.lastProbe.IsZero() && now.Sub(m.lastProbe) < m.minSpacing) {
		status, inFlight := m.status, m.probing
		m.mu.Unlock()
		m.logger.Debug("probe suppressed", "in_flight", inFlight)
		return status, false
	}
	m.probing = true
	m.lastProbe = now
	m.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	ok := m.checker.CheckHealth(probeCtx)
	cancel()

	state := StateDisconnected
	if ok {
		state = StateConnected
	}

	m.mu.Lock()
	prev := m.status.State
	m.status = ConnectionStatus{State: state, CheckedAt: m.now()}
	m.probing = false
	status := m.status
	m.mu.Unlock()

	if prev != state {
		m.logger.Info("connection state changed", "from", prev, "to", state)
		m.notifier.Emit(NotifyConnectionChanged, "Backend is "+string(state), status)
	}
	return status, true
}

// Start probes immediately and then every Interval until Stop is called or
// ctx is done. Calling Start on a running monitor does nothing; a monitor
// whose ctx ended can be started again.
func (m *ConnectionMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	go m.loop(ctx, stopCh, doneCh)
}

func (m *ConnectionMonitor) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer func() {
		m.mu.Lock()
		// A loop ended by ctx leaves the monitor restartable.
		if m.stopCh == stopCh {
			m.running = false
		}
		m.mu.Unlock()
		close(doneCh)
	}()

	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Stop ends the periodic loop and waits for it to exit.
func (m *ConnectionMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	<-doneCh
}
