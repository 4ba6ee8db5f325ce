// Package adminhttp exposes the read-only operator surface described in
// SPEC_FULL.md §4.11: health/readiness probes, Prometheus metrics, and a
// JSON snapshot of the lease table. Router construction follows the
// standard chi router construction.
package adminhttp

import (
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dhcpd/internal/lease"
)

// LeaseRecord is the JSON-friendly projection of a lease.Record served by
// /leases; lease.Record itself carries net.IP/net.HardwareAddr values that
// don't round-trip cleanly through encoding/json.
type LeaseRecord struct {
	Hostname   string    `json:"hostname,omitempty"`
	State      string    `json:"state"`
	IPAddress  string    `json:"ip_address"`
	HardwareAddress string `json:"hardware_address,omitempty"`
	LeaseStart time.Time `json:"lease_start,omitempty"`
	LeaseEnd   *time.Time `json:"lease_end,omitempty"`
}

// Router builds the admin HTTP handler. ready reports overall server
// readiness for /readyz; table is snapshotted on every /leases request.
func Router(registry *prometheus.Registry, table *lease.Table, ready *atomic.Bool, serviceName string) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})

	r.Method("GET", "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Get("/leases", func(w http.ResponseWriter, _ *http.Request) {
		snapshot := table.Snapshot()
		out := make([]LeaseRecord, 0, len(snapshot))
		for _, rec := range snapshot {
			lr := LeaseRecord{
				Hostname:  rec.Hostname,
				State:     rec.State.String(),
				IPAddress: ipString(rec.IPAddress),
			}
			if rec.HardwareAddress != nil {
				lr.HardwareAddress = rec.HardwareAddress.String()
			}
			if !rec.LeaseStart.IsZero() {
				lr.LeaseStart = rec.LeaseStart
			}
			if end, finite := rec.LeaseEnd(); finite {
				lr.LeaseEnd = &end
			}
			out = append(out, lr)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	return otelhttp.NewHandler(r, serviceName)
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
