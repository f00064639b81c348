// Package breaker tracks per-endpoint request and error rates over a sliding
// time window and exposes open/closed circuit state.
//
// A circuit opens only after a minimum request volume is observed, so a cold
// start with one failed call never trips it. An open circuit auto-closes once
// the evaluation window has elapsed; there is no distinct half-open probe
// state, and a single recorded success closes it early.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"synckit/internal/metrics"

	"github.com/rs/zerolog"
)

type Config struct {
	// MinVolume is the request count an endpoint must reach before its
	// circuit may open.
	MinVolume int
	// Threshold is the windowed error rate above which the circuit opens.
	Threshold float64
	// Window is both the rate evaluation window and the open-circuit
	// cooldown.
	Window time.Duration
	// MaxSamples caps each sliding window's entry count.
	MaxSamples int
}

func (c *Config) applyDefaults() {
	if c.MinVolume <= 0 {
		c.MinVolume = 5
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = 100
	}
}

type endpointStats struct {
	total     int
	lastSeen  time.Time
	timestamps *ring
}

type Metrics struct {
	cfg    Config
	logger *zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	requests map[string]*endpointStats
	errors   map[string]*ring      // keyed endpoint:status
	open     map[string]time.Time  // endpoint -> openedAt
}

func New(cfg Config, logger *zerolog.Logger) *Metrics {
	cfg.applyDefaults()
	return &Metrics{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		requests: make(map[string]*endpointStats),
		errors:   make(map[string]*ring),
		open:     make(map[string]time.Time),
	}
}

// RecordRequest counts one attempt against the endpoint, regardless of
// outcome.
func (m *Metrics) RecordRequest(endpoint string) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsLocked(endpoint).record(now)
}

// RecordError appends an error observation for endpoint:statusCode and
// re-evaluates the circuit.
func (m *Metrics) RecordError(endpoint string, statusCode int) {
	now := m.now()
	key := fmt.Sprintf("%s:%d", endpoint, statusCode)

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.errors[key]
	if !ok {
		r = newRing(m.cfg.MaxSamples)
		m.errors[key] = r
	}
	r.push(now)

	m.evaluateLocked(endpoint, now)
}

// RecordSuccess counts the request and closes an open circuit immediately:
// one success is taken as proof of recovery.
func (m *Metrics) RecordSuccess(endpoint string) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statsLocked(endpoint).record(now)

	if _, ok := m.open[endpoint]; ok {
		delete(m.open, endpoint)
		metrics.SetCircuitOpen(endpoint, false)
		m.logger.Info().Str("endpoint", endpoint).Msg("circuit closed after success")
	}
}

// IsCircuitOpen reports whether the endpoint circuit is open. Once the
// evaluation window has elapsed since opening, the circuit auto-closes as a
// side effect of this check.
func (m *Metrics) IsCircuitOpen(endpoint string) bool {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	openedAt, ok := m.open[endpoint]
	if !ok {
		return false
	}
	if now.Sub(openedAt) >= m.cfg.Window {
		delete(m.open, endpoint)
		metrics.SetCircuitOpen(endpoint, false)
		m.logger.Info().Str("endpoint", endpoint).Msg("circuit cooled down, closing")
		return false
	}
	return true
}

// ErrorRate returns errors within the window across all status codes for the
// endpoint, divided by requests within the same window. Both sides are
// windowed; a lifetime denominator would understate the rate of a
// long-running endpoint.
func (m *Metrics) ErrorRate(endpoint string, window time.Duration) float64 {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorRateLocked(endpoint, now, window)
}

// Reset drops all tracked state.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for endpoint := range m.open {
		metrics.SetCircuitOpen(endpoint, false)
	}
	m.requests = make(map[string]*endpointStats)
	m.errors = make(map[string]*ring)
	m.open = make(map[string]time.Time)
}

// OpenCircuits lists endpoints whose circuit is currently open.
func (m *Metrics) OpenCircuits() []string {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var endpoints []string
	for endpoint, openedAt := range m.open {
		if now.Sub(openedAt) < m.cfg.Window {
			endpoints = append(endpoints, endpoint)
		}
	}
	return endpoints
}

func (m *Metrics) statsLocked(endpoint string) *endpointStats {
	s, ok := m.requests[endpoint]
	if !ok {
		s = &endpointStats{timestamps: newRing(m.cfg.MaxSamples)}
		m.requests[endpoint] = s
	}
	return s
}

func (s *endpointStats) record(now time.Time) {
	s.total++
	s.lastSeen = now
	s.timestamps.push(now)
}

func (m *Metrics) evaluateLocked(endpoint string, now time.Time) {
	if _, alreadyOpen := m.open[endpoint]; alreadyOpen {
		return
	}

	stats, ok := m.requests[endpoint]
	if !ok {
		return
	}
	volume := stats.timestamps.countSince(now.Add(-m.cfg.Window))
	if volume < m.cfg.MinVolume {
		return
	}

	rate := m.errorRateLocked(endpoint, now, m.cfg.Window)
	if rate > m.cfg.Threshold {
		m.open[endpoint] = now
		metrics.SetCircuitOpen(endpoint, true)
		m.logger.Warn().
			Str("endpoint", endpoint).
			Float64("error_rate", rate).
			Int("volume", volume).
			Msg("circuit opened")
	}
}

func (m *Metrics) errorRateLocked(endpoint string, now time.Time, window time.Duration) float64 {
	if window <= 0 {
		window = m.cfg.Window
	}
	cutoff := now.Add(-window)

	stats, ok := m.requests[endpoint]
	if !ok {
		return 0
	}
	requests := stats.timestamps.countSince(cutoff)
	if requests == 0 {
		return 0
	}

	errorCount := 0
	prefix := endpoint + ":"
	for key, r := range m.errors {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			errorCount += r.countSince(cutoff)
		}
	}

	rate := float64(errorCount) / float64(requests)
	if rate > 1 {
		rate = 1
	}
	return rate
}
