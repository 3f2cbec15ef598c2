package chain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	oraclePolls   *prometheus.CounterVec
	oracleHeight  prometheus.Gauge
	chunkFetches  *prometheus.CounterVec
	eventsDecoded prometheus.Counter
	intents       *prometheus.CounterVec
}

// NewMetrics registers the chain metrics on reg. A nil registry yields
// working but unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		oraclePolls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_oracle_polls_total",
			Help: "Total number of chain time polls by result",
		}, []string{"result"}),
		oracleHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "guardian_oracle_block_height",
			Help: "Latest block height observed by the time oracle",
		}),
		chunkFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_event_chunks_total",
			Help: "Total number of event range chunks fetched by result",
		}, []string{"result"}),
		eventsDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardian_events_decoded_total",
			Help: "Total number of contract logs decoded into events",
		}),
		intents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_intents_total",
			Help: "Total number of submitted intents by action and outcome",
		}, []string{"action", "outcome"}),
	}
}
