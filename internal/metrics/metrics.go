// Package metrics exposes the service's Prometheus instrumentation:
// adapter reconnect counts, batcher emission counts, and geometry
// rebuild counts.
//
// Grounded on 99souls-ariadne/engine/telemetry/metrics/prometheus.go's
// registry-backed provider, simplified from that file's generic
// Counter/Gauge/Histogram abstraction (built to support swappable
// telemetry backends) down to the concrete vectors this service actually
// emits, since nothing here needs a pluggable provider interface.
package metrics

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Registry holds every metric this service emits, registered against its
// own prometheus.Registry (rather than the global default) so tests can
// construct independent instances.
type Registry struct {
	reg *prom.Registry

	AdapterReconnects   *prom.CounterVec
	AdapterMessages     *prom.CounterVec
	FallbackPollActive  *prom.GaugeVec
	BatchEmissions      *prom.CounterVec
	GeometryRebuilds    *prom.CounterVec
	BroadcastEvictions  *prom.CounterVec
	PersistenceFailures *prom.CounterVec
	SessionPhase        *prom.GaugeVec
	ReplayGeneration    prom.Gauge
}

// New builds and registers every metric.
func New() *Registry {
	reg := prom.NewRegistry()

	r := &Registry{
		reg: reg,
		AdapterReconnects: prom.NewCounterVec(prom.CounterOpts{
			Name: "telemetry_core_adapter_reconnects_total",
			Help: "Count of adapter reconnect attempts, by adapter source.",
		}, []string{"source"}),
		AdapterMessages: prom.NewCounterVec(prom.CounterOpts{
			Name: "telemetry_core_adapter_messages_total",
			Help: "Count of normalized events ingested, by source and event type.",
		}, []string{"source", "event_type"}),
		FallbackPollActive: prom.NewGaugeVec(prom.GaugeOpts{
			Name: "telemetry_core_fallback_poll_active",
			Help: "1 if the REST fallback poller is currently active for a topic, else 0.",
		}, []string{"topic"}),
		BatchEmissions: prom.NewCounterVec(prom.CounterOpts{
			Name: "telemetry_core_batch_emissions_total",
			Help: "Count of batcher emissions, by cadence name.",
		}, []string{"cadence"}),
		GeometryRebuilds: prom.NewCounterVec(prom.CounterOpts{
			Name: "telemetry_core_geometry_rebuilds_total",
			Help: "Count of track geometry (centerline/sector/pit-lane) rebuilds, by kind.",
		}, []string{"kind"}),
		BroadcastEvictions: prom.NewCounterVec(prom.CounterOpts{
			Name: "telemetry_core_broadcast_evictions_total",
			Help: "Count of subscribers evicted for being too slow to drain, by room.",
		}, []string{"room"}),
		PersistenceFailures: prom.NewCounterVec(prom.CounterOpts{
			Name: "telemetry_core_persistence_failures_total",
			Help: "Count of persistence operation failures, by operation.",
		}, []string{"operation"}),
		SessionPhase: prom.NewGaugeVec(prom.GaugeOpts{
			Name: "telemetry_core_session_phase",
			Help: "1 for the currently active session controller phase, 0 otherwise.",
		}, []string{"phase"}),
		ReplayGeneration: prom.NewGauge(prom.GaugeOpts{
			Name: "telemetry_core_replay_generation",
			Help: "Current replay generation counter.",
		}),
	}

	reg.MustRegister(
		r.AdapterReconnects,
		r.AdapterMessages,
		r.FallbackPollActive,
		r.BatchEmissions,
		r.GeometryRebuilds,
		r.BroadcastEvictions,
		r.PersistenceFailures,
		r.SessionPhase,
		r.ReplayGeneration,
	)
	return r
}

// Handler returns the HTTP handler serving this registry's metrics page.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// SetSessionPhase zeroes every known phase gauge then sets phase to 1,
// so exactly one phase reads 1 at a time.
func (r *Registry) SetSessionPhase(phase string) {
	for _, p := range []string{"idle", "active", "ending"} {
		if p == phase {
			r.SessionPhase.WithLabelValues(p).Set(1)
		} else {
			r.SessionPhase.WithLabelValues(p).Set(0)
		}
	}
}
