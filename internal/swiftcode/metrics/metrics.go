package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the swiftcode module.
type Metrics struct {
	CodesCreated   *prometheus.CounterVec
	CodesDeleted   prometheus.Counter
	RowsIngested   prometheus.Counter
	RowsSkipped    prometheus.Counter
	BranchesLinked prometheus.Counter
	CacheLookups   *prometheus.CounterVec
	LookupDuration *prometheus.HistogramVec
	IngestDuration prometheus.Histogram
}

// New registers the swiftcode metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CodesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swift_registry_codes_created_total",
			Help: "SWIFT codes registered through the API, by kind",
		}, []string{"kind"}),
		CodesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "swift_registry_codes_deleted_total",
			Help: "SWIFT codes removed through the API",
		}),
		RowsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "swift_registry_rows_ingested_total",
			Help: "Records persisted by bulk ingestion",
		}),
		RowsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "swift_registry_rows_skipped_total",
			Help: "Bulk rows skipped for a blank or malformed code",
		}),
		BranchesLinked: factory.NewCounter(prometheus.CounterOpts{
			Name: "swift_registry_branches_linked_total",
			Help: "Branch to headquarters links established",
		}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swift_registry_cache_lookups_total",
			Help: "Detailed projection cache lookups by result",
		}, []string{"result"}),
		LookupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swift_registry_lookup_duration_seconds",
			Help:    "Duration of lookups by kind (code, country)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"kind"}),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "swift_registry_ingest_duration_seconds",
			Help:    "Duration of bulk ingestion batches",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

func (m *Metrics) IncrementCreated(headquarters bool) {
	kind := "branch"
	if headquarters {
		kind = "headquarters"
	}
	m.CodesCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementDeleted() {
	m.CodesDeleted.Inc()
}

func (m *Metrics) AddLinked(n int) {
	m.BranchesLinked.Add(float64(n))
}

func (m *Metrics) RecordIngest(persisted, skipped int, start time.Time) {
	m.RowsIngested.Add(float64(persisted))
	m.RowsSkipped.Add(float64(skipped))
	m.IngestDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveLookup records the duration of a lookup.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveLookup(kind string, start time.Time) {
	m.LookupDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
