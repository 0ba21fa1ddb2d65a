// Package metrics holds process level Prometheus metrics shared by binaries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process metrics of a running binary.
type Metrics struct {
	BuildInfo *prometheus.GaugeVec
	SeedRows  prometheus.Gauge
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New creates and registers the process metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BuildInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swift_registry_build_info",
			Help: "Always 1; labels describe the running binary and its backends",
		}, []string{"version", "store", "cache", "events"}),
		SeedRows: factory.NewGauge(prometheus.GaugeOpts{
			Name: "swift_registry_seed_rows",
			Help: "Records loaded from the seed workbook at startup",
		}),
	}
}

// SetBuildInfo publishes the build info sample.
func (m *Metrics) SetBuildInfo(version, store string, cache, events bool) {
	m.BuildInfo.WithLabelValues(version, store, enabled(cache), enabled(events)).Set(1)
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
