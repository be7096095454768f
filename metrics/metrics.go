// Package metrics exposes the operational counters and gauges a
// replica's process publishes for Prometheus scraping. Grounded on the
// prometheus.Gauge fields Rain168-server/network's ConnectionManager
// and paxos/proposermanager.go's ClientTxnMetrics carry and update
// in place, generalized to this store's Paxos-round and forwarding
// events rather than GoshawkDB's client-connection/txn-lifespan ones.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter/gauge a replica publishes. All fields
// are safe for concurrent use, same as the underlying prometheus types.
type Metrics struct {
	registry *prometheus.Registry

	OpsServed        *prometheus.CounterVec
	PaxosRounds      *prometheus.CounterVec
	QuorumFailures   prometheus.Counter
	CoordinatorSwaps prometheus.Counter
	ForwardRetries   prometheus.Counter
	KeysStored       prometheus.Gauge
}

// New builds a Metrics bundle registered on a fresh, process-local
// registry (never the global DefaultRegisterer, so multiple replicas
// in one test binary never collide on metric names).
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		OpsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paxoskv",
			Name:      "ops_served_total",
			Help:      "Client operations served by this replica, by RPC name and outcome.",
		}, []string{"op", "outcome"}),
		PaxosRounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paxoskv",
			Name:      "paxos_rounds_total",
			Help:      "Paxos rounds driven by this replica as coordinator, by outcome.",
		}, []string{"outcome"}),
		QuorumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paxoskv",
			Name:      "quorum_failures_total",
			Help:      "Paxos rounds aborted for failing to reach a promise or acceptance quorum.",
		}),
		CoordinatorSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paxoskv",
			Name:      "coordinator_swaps_total",
			Help:      "Times this replica observed the believed coordinator address change.",
		}),
		ForwardRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paxoskv",
			Name:      "forward_retries_total",
			Help:      "Front-end forwards retried once after an election.",
		}),
		KeysStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paxoskv",
			Name:      "keys_stored",
			Help:      "Number of keys currently present in this replica's Key-Value Store.",
		}),
	}

	reg.MustRegister(m.OpsServed, m.PaxosRounds, m.QuorumFailures, m.CoordinatorSwaps, m.ForwardRetries, m.KeysStored)
	return m
}

// Handler returns the HTTP handler to mount at "/metrics".
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
