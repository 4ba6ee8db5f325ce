// Package metrics exposes Prometheus counters and gauges for the DHCP
// server core, mounted by pkg/adminhttp via promhttp.HandlerFor.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and gauges the server state machine updates.
type Metrics struct {
	Offers      prometheus.Counter
	Acks        prometheus.Counter
	Naks        prometheus.Counter
	Declines    prometheus.Counter
	Releases    prometheus.Counter
	Exhaustions prometheus.Counter
	ActiveLeases prometheus.Gauge
}

// New registers and returns a fresh Metrics on registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		Offers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhcpd_offers_total",
			Help: "Total number of DHCPOFFER replies sent.",
		}),
		Acks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhcpd_acks_total",
			Help: "Total number of DHCPACK replies sent.",
		}),
		Naks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhcpd_naks_total",
			Help: "Total number of DHCPNAK replies sent.",
		}),
		Declines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhcpd_declines_total",
			Help: "Total number of DHCPDECLINE messages processed.",
		}),
		Releases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhcpd_releases_total",
			Help: "Total number of DHCPRELEASE messages processed.",
		}),
		Exhaustions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhcpd_pool_exhaustions_total",
			Help: "Total number of allocation requests that returned 0.0.0.0.",
		}),
		ActiveLeases: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dhcpd_active_leases",
			Help: "Current number of Assigned lease table entries.",
		}),
	}

	registry.MustRegister(m.Offers, m.Acks, m.Naks, m.Declines, m.Releases, m.Exhaustions, m.ActiveLeases)
	return m
}
