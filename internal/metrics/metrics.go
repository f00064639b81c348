package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	syncItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synckit",
			Name:      "sync_items_total",
			Help:      "Queue items processed by terminal outcome.",
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "synckit",
			Name:      "queue_pending",
			Help:      "Pending items in the offline queue.",
		},
	)

	circuitOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "synckit",
			Name:      "circuit_open",
			Help:      "1 while the endpoint circuit is open.",
		},
		[]string{"endpoint"},
	)

	tokenRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synckit",
			Name:      "token_refresh_total",
			Help:      "Token refresh attempts by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncItems, queueDepth, circuitOpen, tokenRefresh)
	})
}

// IncSyncItem counts one item reaching a terminal outcome.
func IncSyncItem(outcome string) {
	syncItems.WithLabelValues(outcome).Inc()
}

// SetQueueDepth publishes the current pending count.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// SetCircuitOpen flips the per-endpoint open gauge.
func SetCircuitOpen(endpoint string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	circuitOpen.WithLabelValues(endpoint).Set(v)
}

// IncTokenRefresh counts one refresh attempt.
func IncTokenRefresh(result string) {
	tokenRefresh.WithLabelValues(result).Inc()
}
