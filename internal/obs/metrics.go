package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the manifest's own counters (§6.4 drop_counters,
// write_errors) and the drain heartbeat as Prometheus series. These are
// additive observability: the manifest, not Prometheus, remains the
// durable record of what happened in a session.
type Metrics struct {
	PoolExhausted   *prometheus.CounterVec
	WriteErrors     prometheus.Counter
	DrainHeartbeat  prometheus.Gauge
	EventsPersisted *prometheus.CounterVec
	RegistryThreads prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PoolExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracecore_pool_exhausted_total",
			Help: "Count of drop-oldest events by lane kind (index|detail).",
		}, []string{"lane"}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracecore_write_errors_total",
			Help: "Count of trace writer errors (ENOSPC, EIO, ...).",
		}),
		DrainHeartbeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracecore_drain_heartbeat_ns",
			Help: "Monotonic timestamp of the last completed drain iteration.",
		}),
		EventsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracecore_events_persisted_total",
			Help: "Count of persisted events by thread and lane kind.",
		}, []string{"thread_id", "lane"}),
		RegistryThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracecore_registry_threads",
			Help: "Number of currently active registry slots.",
		}),
	}
	reg.MustRegister(m.PoolExhausted, m.WriteErrors, m.DrainHeartbeat, m.EventsPersisted, m.RegistryThreads)
	return m
}
