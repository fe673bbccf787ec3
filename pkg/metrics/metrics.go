// Package metrics exposes host reachability and restart activity to
// Prometheus. A Collector subscribes to monitor snapshots and is also an
// event sink.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kylerisse/neustart/pkg/event"
	"github.com/kylerisse/neustart/pkg/host"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its own registry so several can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	hostUp        *prometheus.GaugeVec
	hostsHealthy  prometheus.Gauge
	hostsTotal    prometheus.Gauge
	cycles        prometheus.Counter
	lastCycle     prometheus.Gauge
	events        *prometheus.CounterVec
	restartLength prometheus.Histogram

	mu      sync.Mutex
	started map[string]time.Time
}

// New creates a Collector with every metric registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		hostUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "neustart_host_up",
			Help: "Whether the host answered the last probe of the layer (1=up, 0=down).",
		}, []string{"host", "layer"}),
		hostsHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "neustart_hosts_healthy",
			Help: "Number of active hosts with both layers online.",
		}),
		hostsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "neustart_hosts_total",
			Help: "Number of active hosts in the last monitoring cycle.",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neustart_monitor_cycles_total",
			Help: "Completed monitoring cycles.",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "neustart_monitor_last_cycle_timestamp_seconds",
			Help: "Unix time of the last completed monitoring cycle.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "neustart_events_total",
			Help: "Lifecycle events emitted, by kind.",
		}, []string{"kind"}),
		restartLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "neustart_restart_duration_seconds",
			Help:    "Time from restart_initiated to the job's terminal event.",
			Buckets: []float64{60, 300, 600, 900, 1200, 1800, 3600, 7200, 14400},
		}),
		started: make(map[string]time.Time),
	}

	c.registry.MustRegister(
		c.hostUp,
		c.hostsHealthy,
		c.hostsTotal,
		c.cycles,
		c.lastCycle,
		c.events,
		c.restartLength,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Observe records a monitor snapshot. Hosts missing from statuses are
// dropped from the per-host gauges.
func (c *Collector) Observe(statuses []host.Status) {
	c.hostUp.Reset()
	healthy := 0
	for _, st := range statuses {
		c.hostUp.WithLabelValues(st.Hostname, "network").Set(up(st.Network))
		c.hostUp.WithLabelValues(st.Hostname, "service").Set(up(st.Service))
		if st.Healthy() {
			healthy++
		}
	}
	c.hostsHealthy.Set(float64(healthy))
	c.hostsTotal.Set(float64(len(statuses)))
	c.cycles.Inc()
	c.lastCycle.SetToCurrentTime()
}

func up(s host.State) float64 {
	if s == host.StateOnline {
		return 1
	}
	return 0
}

// Emit implements event.Sink.
func (c *Collector) Emit(_ context.Context, e event.Event) error {
	c.events.WithLabelValues(string(e.Kind)).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	switch e.Kind {
	case event.KindRestartInitiated:
		c.started[e.JobID] = e.Timestamp
	case event.KindRestartCompleted, event.KindRestartFailed:
		if start, ok := c.started[e.JobID]; ok {
			c.restartLength.Observe(e.Timestamp.Sub(start).Seconds())
			delete(c.started, e.JobID)
		}
	}
	return nil
}

// Notify implements event.Sink.
func (c *Collector) Notify(context.Context, event.Event) error { return nil }
