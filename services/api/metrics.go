package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type metrics struct {
	registry         *prometheus.Registry
	triggered        *prometheus.CounterVec
	polls            prometheus.Counter
	transitions      *prometheus.CounterVec
	scenariosDeleted prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		triggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipemock_pipelines_triggered_total",
			Help: "Pipelines created, by request encoding.",
		}, []string{"source_encoding"}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipemock_status_polls_total",
			Help: "Pipeline status recomputations on read.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipemock_status_transitions_total",
			Help: "Recomputations that changed a pipeline status, by new status.",
		}, []string{"status"}),
		scenariosDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipemock_scenarios_deleted_total",
			Help: "Scenarios deleted through the mock API.",
		}),
	}
	m.registry.MustRegister(
		m.triggered,
		m.polls,
		m.transitions,
		m.scenariosDeleted,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *metrics) observe(r Refreshed) {
	m.polls.Inc()
	if r.Changed() {
		m.transitions.WithLabelValues(r.Pipeline.Status).Inc()
	}
}
