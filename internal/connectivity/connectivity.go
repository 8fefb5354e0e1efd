// Package connectivity answers "is the collection endpoint reachable right now".
//
// IsConnected never blocks: probes that need the network keep a cached answer
// refreshed by a background Monitor.
package connectivity

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

// Probe reports current reachability.
type Probe interface {
	IsConnected() bool
}

// Static always returns the same answer.
type Static bool

// IsConnected implements Probe.
func (s Static) IsConnected() bool { return bool(s) }

// State is a cached, settable reachability flag.
//
// Thread-safety: State is safe for concurrent use.
type State struct {
	connected atomic.Bool
}

// NewState creates a State with the given initial value.
func NewState(connected bool) *State {
	s := &State{}
	s.connected.Store(connected)
	return s
}

// IsConnected implements Probe.
func (s *State) IsConnected() bool { return s.connected.Load() }

// Set stores a new value and reports whether it changed.
func (s *State) Set(connected bool) bool {
	return s.connected.Swap(connected) != connected
}

// Dialer abstracts net.Dialer for tests.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Address  string        // host:port dialled over TCP
	Interval time.Duration // between checks
	Timeout  time.Duration // per dial
}

// Monitor periodically dials an address and caches the result in a State.
type Monitor struct {
	cfg    MonitorConfig
	state  *State
	dialer Dialer
	logger *slog.Logger
}

// NewMonitor creates a monitor. The initial state is optimistic (connected)
// until the first check completes.
func NewMonitor(cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		state:  NewState(true),
		dialer: &net.Dialer{},
		logger: logger.With("component", "connectivity", "address", cfg.Address),
	}
}

// WithDialer replaces the dialer. Returns m for chaining.
func (m *Monitor) WithDialer(d Dialer) *Monitor {
	m.dialer = d
	return m
}

// IsConnected implements Probe by reading the cached state.
func (m *Monitor) IsConnected() bool { return m.state.IsConnected() }

// Check dials once and updates the cached state.
func (m *Monitor) Check(ctx context.Context) bool {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	conn, err := m.dialer.DialContext(dctx, "tcp", m.cfg.Address)
	connected := err == nil
	if conn != nil {
		conn.Close()
	}

	if m.state.Set(connected) {
		if connected {
			m.logger.Info("endpoint reachable")
		} else {
			m.logger.Warn("endpoint unreachable", "error", err)
		}
	}
	return connected
}

// Run checks immediately and then every Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
