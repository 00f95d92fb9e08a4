package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reasons a packet was dropped without a reply.
const (
	dropMalformed       = "malformed"
	dropUnexpected      = "unexpected_type"
	dropRateLimited     = "rate_limited"
	dropBusy            = "busy"
	dropSigningDisabled = "signing_disabled"
	dropSignerFault     = "signer_fault"
)

// Outcomes of a SIGN_END request.
const (
	outcomeSigned   = "signed"
	outcomeRejected = "rejected"
)

// metrics are registered on a registry owned by the server, so several
// servers can run in one process (as they do in tests).
type metrics struct {
	registry *prometheus.Registry

	packets     *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	signEnds    *prometheus.CounterVec
	signLatency *prometheus.HistogramVec

	gameQueries        prometheus.Counter
	gameQueryResponses prometheus.Counter
}

func newMetrics(registered func() float64) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "demo_master",
			Name:      "packets_received_total",
			Help:      "Well formed packets received, by packet type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "demo_master",
			Name:      "packets_dropped_total",
			Help:      "Packets dropped without a reply, by reason.",
		}, []string{"reason"}),
		signEnds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "demo_master",
			Name:      "sign_end_total",
			Help:      "SIGN_END requests answered, by outcome.",
		}, []string{"outcome"}),
		signLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "demo_master",
			Name:      "sign_duration_seconds",
			Help:      "Time spent producing a signing response.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"type"}),
		gameQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "demo_master",
			Name:      "game_queries_sent_total",
			Help:      "Metadata queries sent to game servers.",
		}),
		gameQueryResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "demo_master",
			Name:      "game_query_responses_total",
			Help:      "Metadata answers accepted from registered game servers.",
		}),
	}
	m.registry.MustRegister(
		m.packets,
		m.dropped,
		m.signEnds,
		m.signLatency,
		m.gameQueries,
		m.gameQueryResponses,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "demo_master",
			Name:      "registered_servers",
			Help:      "Game servers currently listed.",
		}, registered),
		collectors.NewGoCollector(),
	)
	return m
}

func (m *metrics) drop(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
