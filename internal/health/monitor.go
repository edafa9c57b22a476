// Package health aggregates outcome and latency signals from named
// connections into a circuit breaker that gates new trade execution.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

const latencySamples = 100

// Config holds the circuit breaker thresholds.
type Config struct {
	LatencyThreshold time.Duration
	ErrorThreshold   int
	CircuitTimeout   time.Duration
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		LatencyThreshold: 200 * time.Millisecond,
		ErrorThreshold:   5,
		CircuitTimeout:   60 * time.Second,
	}
}

// StateChangeFunc is called after every circuit state transition.
type StateChangeFunc func(from, to domain.CircuitState)

type connState struct {
	errors       int
	latencies    []time.Duration
	registeredAt time.Time
	lastCheck    time.Time
}

func (c *connState) avgLatency() time.Duration {
	if len(c.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range c.latencies {
		sum += l
	}
	return sum / time.Duration(len(c.latencies))
}

// Monitor is a circuit breaker over a set of named connections. It is safe
// for concurrent use.
type Monitor struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	conns    map[string]*connState
	errors   int
	state    domain.CircuitState
	openedAt time.Time
	onChange []StateChangeFunc
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a Monitor in the healthy state.
func NewMonitor(cfg Config, logger *slog.Logger, opts ...Option) *Monitor {
	if cfg.ErrorThreshold < 1 {
		cfg.ErrorThreshold = 1
	}
	m := &Monitor{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "health")),
		conns:  make(map[string]*connState),
		state:  domain.CircuitHealthy,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OnStateChange registers fn to be called on every transition. Callbacks run
// outside the monitor lock.
func (m *Monitor) OnStateChange(fn StateChangeFunc) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// Register starts tracking a named connection. Registering an existing name
// resets its counters.
func (m *Monitor) Register(name string) {
	m.mu.Lock()
	m.conns[name] = &connState{registeredAt: m.now()}
	m.mu.Unlock()
	m.logger.Info("connection registered", slog.String("connection", name))
}

// Unregister stops tracking a named connection.
func (m *Monitor) Unregister(name string) {
	m.mu.Lock()
	_, ok := m.conns[name]
	delete(m.conns, name)
	m.mu.Unlock()
	if ok {
		m.logger.Info("connection unregistered", slog.String("connection", name))
	}
}

// RecordSuccess decrements the global error counter (floor 0) and clears the
// named connection's consecutive error count.
func (m *Monitor) RecordSuccess(name string) {
	m.mu.Lock()
	now := m.now()
	if c, ok := m.conns[name]; ok {
		c.errors = 0
		c.lastCheck = now
	}
	if m.errors > 0 {
		m.errors--
	}
	from, to := m.evaluateLocked(now)
	m.mu.Unlock()
	m.notify(from, to)
}

// RecordError increments the named and global error counters. Reaching the
// error threshold opens the circuit.
func (m *Monitor) RecordError(name string, err error) {
	m.mu.Lock()
	now := m.now()
	if c, ok := m.conns[name]; ok {
		c.errors++
		c.lastCheck = now
	}
	m.errors++
	count := m.errors
	from, to := m.evaluateLocked(now)
	m.mu.Unlock()

	if err != nil {
		m.logger.Debug("error recorded",
			slog.String("connection", name),
			slog.Int("global_errors", count),
			slog.String("kind", domain.Classify(err).String()),
			slog.String("error", err.Error()),
		)
	}
	m.notify(from, to)
}

// RecordLatency appends a latency sample to the named connection and
// re-evaluates the degraded condition. Unknown names are ignored.
func (m *Monitor) RecordLatency(name string, d time.Duration) {
	m.mu.Lock()
	c, ok := m.conns[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	c.latencies = append(c.latencies, d)
	if len(c.latencies) > latencySamples {
		c.latencies = c.latencies[len(c.latencies)-latencySamples:]
	}
	from, to := m.evaluateLocked(m.now())
	m.mu.Unlock()
	m.notify(from, to)
}

// State returns the current circuit state, closing an expired open circuit
// first.
func (m *Monitor) State() domain.CircuitState {
	m.mu.Lock()
	from, to := m.expireLocked(m.now())
	s := m.state
	m.mu.Unlock()
	m.notify(from, to)
	return s
}

// CanExecute reports whether new work may be dispatched. It is false only
// while the circuit is open.
func (m *Monitor) CanExecute() bool {
	return m.State() != domain.CircuitOpen
}

// IsHealthy reports whether the state is Healthy or Degraded.
func (m *Monitor) IsHealthy() bool {
	s := m.State()
	return s == domain.CircuitHealthy || s == domain.CircuitDegraded
}

// ConnectionStatus is the per-connection part of a Status snapshot.
type ConnectionStatus struct {
	ErrorCount        int     `json:"error_count"`
	AvgLatencyMs      float64 `json:"average_latency_ms"`
	Samples           int     `json:"latency_samples"`
	LastCheckAgeSecs  float64 `json:"last_check_age_seconds"`
	RegisteredAgeSecs float64 `json:"registered_age_seconds"`
}

// Status is a point-in-time view of the monitor.
type Status struct {
	State            domain.CircuitState         `json:"state"`
	Healthy          bool                        `json:"healthy"`
	CanExecute       bool                        `json:"can_execute"`
	GlobalErrorCount int                         `json:"global_error_count"`
	Connections      map[string]ConnectionStatus `json:"connections"`
}

// Status returns a snapshot of the circuit and every tracked connection.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	now := m.now()
	from, to := m.expireLocked(now)
	st := Status{
		State:            m.state,
		Healthy:          m.state == domain.CircuitHealthy || m.state == domain.CircuitDegraded,
		CanExecute:       m.state != domain.CircuitOpen,
		GlobalErrorCount: m.errors,
		Connections:      make(map[string]ConnectionStatus, len(m.conns)),
	}
	for name, c := range m.conns {
		last := c.lastCheck
		if last.IsZero() {
			last = now
		}
		st.Connections[name] = ConnectionStatus{
			ErrorCount:        c.errors,
			AvgLatencyMs:      float64(c.avgLatency()) / float64(time.Millisecond),
			Samples:           len(c.latencies),
			LastCheckAgeSecs:  now.Sub(last).Seconds(),
			RegisteredAgeSecs: now.Sub(c.registeredAt).Seconds(),
		}
	}
	m.mu.Unlock()
	m.notify(from, to)
	return st
}

// expireLocked moves an open circuit to Degraded once the timeout has
// elapsed, resetting the global error counter.
func (m *Monitor) expireLocked(now time.Time) (from, to domain.CircuitState) {
	if m.state != domain.CircuitOpen || now.Sub(m.openedAt) < m.cfg.CircuitTimeout {
		return m.state, m.state
	}
	m.errors = 0
	return m.setLocked(domain.CircuitDegraded)
}

// evaluateLocked derives the state from the error counter and latency
// averages. An open circuit only leaves through expireLocked.
func (m *Monitor) evaluateLocked(now time.Time) (from, to domain.CircuitState) {
	if m.state == domain.CircuitOpen {
		return m.expireLocked(now)
	}
	if m.errors >= m.cfg.ErrorThreshold {
		m.openedAt = now
		return m.setLocked(domain.CircuitOpen)
	}

	slow := false
	for _, c := range m.conns {
		if len(c.latencies) > 0 && c.avgLatency() > m.cfg.LatencyThreshold {
			slow = true
			break
		}
	}
	switch {
	case slow && m.errors > 0:
		return m.setLocked(domain.CircuitUnhealthy)
	case slow || m.errors > 0:
		return m.setLocked(domain.CircuitDegraded)
	default:
		return m.setLocked(domain.CircuitHealthy)
	}
}

func (m *Monitor) setLocked(s domain.CircuitState) (from, to domain.CircuitState) {
	from = m.state
	m.state = s
	return from, s
}

func (m *Monitor) notify(from, to domain.CircuitState) {
	if from == to {
		return
	}
	ctx := context.Background()
	switch to {
	case domain.CircuitOpen:
		m.logger.ErrorContext(ctx, "circuit opened",
			slog.String("from", from.String()),
			slog.Duration("timeout", m.cfg.CircuitTimeout),
		)
	case domain.CircuitDegraded, domain.CircuitUnhealthy:
		m.logger.WarnContext(ctx, "connection health changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	default:
		m.logger.InfoContext(ctx, "connection health changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	}

	m.mu.Lock()
	fns := make([]StateChangeFunc, len(m.onChange))
	copy(fns, m.onChange)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(from, to)
	}
}
