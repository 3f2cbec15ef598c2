package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	refreshes  *prometheus.CounterVec
	executions *prometheus.CounterVec
	eligible   *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_session_refreshes_total",
			Help: "Total number of session refreshes by proposal kind and result",
		}, []string{"kind", "result"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_session_executions_total",
			Help: "Total number of requested actions by outcome",
		}, []string{"action", "outcome"}),
		eligible: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guardian_action_allowed",
			Help: "Whether the watched caller may currently take an action on a proposal",
		}, []string{"kind", "proposal", "action"}),
	}
}
