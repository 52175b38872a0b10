package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	syncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "sync_attempts_total",
			Help:      "Background sync attempts by task type and outcome.",
		},
		[]string{"task_type", "outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "sync_queue_depth",
			Help:      "Sync tasks currently pending or awaiting retry.",
		},
	)

	remoteOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "remote_online",
			Help:      "1 when the last health probe succeeded, 0 otherwise.",
		},
	)

	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "health_probes_total",
			Help:      "Health probes by result.",
		},
		[]string{"result"},
	)

	reconcileFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "reconcile_fetches_total",
			Help:      "Conversation snapshot fetches by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncAttempts, queueDepth, remoteOnline, probes, reconcileFetches)
	})
}

// IncSyncAttempt counts one queue attempt outcome.
func IncSyncAttempt(taskType, outcome string) {
	syncAttempts.WithLabelValues(taskType, outcome).Inc()
}

// SetQueueDepth publishes the current backlog size.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// SetOnline publishes the cached connection state.
func SetOnline(online bool) {
	if online {
		remoteOnline.Set(1)
	} else {
		remoteOnline.Set(0)
	}
}

// IncProbe counts one health probe result ("ok" or "fail").
func IncProbe(result string) {
	probes.WithLabelValues(result).Inc()
}

// IncReconcileFetch counts one reconciler fetch result.
func IncReconcileFetch(result string) {
	reconcileFetches.WithLabelValues(result).Inc()
}
