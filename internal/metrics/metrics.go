// Package metrics collects Prometheus counters and gauges for the
// ingestion pipeline, mirroring the registry-plus-gauges pattern the
// teacher repo uses for node health (core/system_health_logging.go).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Ingestion holds the counters the sync, cursor, and index workers update as
// they run. A single Ingestion is shared across all three.
type Ingestion struct {
	registry *prometheus.Registry

	OperationsSynced  prometheus.Counter
	OperationsIndexed prometheus.Counter
	IndexErrors       prometheus.Counter
	CursorPersists    prometheus.Counter
	LastIndexedSlot   prometheus.Gauge
}

// NewIngestion builds and registers the ingestion metric set.
func NewIngestion() *Ingestion {
	reg := prometheus.NewRegistry()

	m := &Ingestion{
		registry: reg,
		OperationsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prism_operations_synced_total",
			Help: "Total number of raw operations inserted by the sync worker.",
		}),
		OperationsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prism_operations_indexed_total",
			Help: "Total number of raw operations classified by the index worker.",
		}),
		IndexErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prism_index_errors_total",
			Help: "Total number of raw operations the index worker could not classify.",
		}),
		CursorPersists: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prism_cursor_persists_total",
			Help: "Total number of debounced cursor writes.",
		}),
		LastIndexedSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prism_last_indexed_slot",
			Help: "Slot number of the most recently indexed operation.",
		}),
	}

	reg.MustRegister(
		m.OperationsSynced,
		m.OperationsIndexed,
		m.IndexErrors,
		m.CursorPersists,
		m.LastIndexedSlot,
	)
	return m
}

// Registry returns the Prometheus registry backing this metric set, for
// mounting a /metrics handler.
func (m *Ingestion) Registry() *prometheus.Registry { return m.registry }
