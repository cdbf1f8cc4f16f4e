package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StateMetrics tracks the typed view's traffic per record kind plus overlay
// flush sizes. All observe methods are nil-safe so library code can call them
// unconditionally.
type StateMetrics struct {
	reads      *prometheus.CounterVec
	writes     *prometheus.CounterVec
	erases     *prometheus.CounterVec
	iterations *prometheus.CounterVec
	flushed    prometheus.Histogram
}

var (
	stateOnce     sync.Once
	stateRegistry *StateMetrics
)

func State() *StateMetrics {
	stateOnce.Do(func() {
		stateRegistry = &StateMetrics{
			reads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "state_view_reads_total",
				Help: "Point lookups served by the typed view per record kind.",
			}, []string{"record"}),
			writes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "state_view_writes_total",
				Help: "Upserts performed by the typed view per record kind.",
			}, []string{"record"}),
			erases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "state_view_erases_total",
				Help: "Deletes performed by the typed view per record kind.",
			}, []string{"record"}),
			iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "state_view_iterations_total",
				Help: "Range scans started by the typed view per record kind.",
			}, []string{"record"}),
			flushed: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "state_overlay_flushed_entries",
				Help:    "Entries committed to the parent store per overlay flush.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			}),
		}
		prometheus.MustRegister(
			stateRegistry.reads,
			stateRegistry.writes,
			stateRegistry.erases,
			stateRegistry.iterations,
			stateRegistry.flushed,
		)
	})
	return stateRegistry
}

func (m *StateMetrics) ObserveRead(record string) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(record).Inc()
}

func (m *StateMetrics) ObserveWrite(record string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(record).Inc()
}

func (m *StateMetrics) ObserveErase(record string) {
	if m == nil {
		return
	}
	m.erases.WithLabelValues(record).Inc()
}

func (m *StateMetrics) ObserveIteration(record string) {
	if m == nil {
		return
	}
	m.iterations.WithLabelValues(record).Inc()
}

func (m *StateMetrics) ObserveFlush(entries int) {
	if m == nil {
		return
	}
	m.flushed.Observe(float64(entries))
}
