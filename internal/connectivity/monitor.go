// Package connectivity tracks backend reachability and fans transition
// events out to subscribers.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"synckit/internal/transport"

	"github.com/rs/zerolog"
)

// Prober answers "is the backend reachable right now".
type Prober interface {
	Probe(ctx context.Context) bool
}

// TransportProber probes by issuing a HEAD request to the health path.
type TransportProber struct {
	executor   transport.Executor
	healthPath string
}

func NewTransportProber(executor transport.Executor, healthPath string) *TransportProber {
	return &TransportProber{executor: executor, healthPath: healthPath}
}

func (p *TransportProber) Probe(ctx context.Context) bool {
	resp, err := p.executor.Do(ctx, transport.Request{Method: http.MethodHead, Path: p.healthPath})
	if err != nil {
		return false
	}
	return resp.StatusCode < http.StatusInternalServerError
}

// Monitor polls a prober and notifies subscribers on every online/offline
// transition. Notifications are best-effort: a subscriber that is not
// draining its channel misses intermediate flaps, never blocks the monitor.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *zerolog.Logger

	online atomic.Bool

	mu   sync.Mutex
	subs map[<-chan bool]chan bool
}

func NewMonitor(prober Prober, interval time.Duration, logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	m := &Monitor{
		prober:   prober,
		interval: interval,
		logger:   logger,
		subs:     make(map[<-chan bool]chan bool),
	}
	m.online.Store(true)
	return m
}

// IsOnline reports the last observed reachability state.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// SetOnline overrides the current state and notifies on change. Used by the
// platform layer when it has its own reachability signal.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) != online {
		m.notify(online)
	}
}

// Subscribe returns a channel that receives the new state on every
// transition.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 4)
	m.mu.Lock()
	m.subs[ch] = ch
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (m *Monitor) Unsubscribe(ch <-chan bool) {
	m.mu.Lock()
	if c, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(c)
	}
	m.mu.Unlock()
}

// Start polls until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info().Dur("interval", m.interval).Msg("connectivity monitor started")
	defer m.logger.Info().Msg("connectivity monitor stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := m.prober.Probe(ctx)
			if m.online.Swap(online) != online {
				m.logger.Info().Bool("online", online).Msg("connectivity changed")
				m.notify(online)
			}
		}
	}
}

func (m *Monitor) notify(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- online:
		default:
		}
	}
}
