// Package httptransport assembles the public HTTP surface of the service.
package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"swiftregistry/pkg/platform/httputil"
)

// Registrar is implemented by module handlers that mount their own routes.
type Registrar interface {
	Register(r chi.Router)
}

// Pinger reports whether a backing service is reachable.
type Pinger func(ctx context.Context) error

const healthTimeout = 2 * time.Second

// NewRouter wires the module handlers, the health check and the metrics
// endpoint. checks are run by /healthz; any failure reports 503.
func NewRouter(gatherer prometheus.Gatherer, checks map[string]Pinger, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()
	for _, h := range handlers {
		h.Register(r)
	}
	r.Get("/healthz", health(checks))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func health(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		report := make(map[string]string, len(checks)+1)
		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				report[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			report[name] = "ok"
		}
		report["status"] = "ok"
		if status != http.StatusOK {
			report["status"] = "degraded"
		}
		httputil.WriteJSON(w, status, report)
	}
}
