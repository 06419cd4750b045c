package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_agent"

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Total call turns processed, by outcome",
	}, []string{"outcome"})

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_latency_seconds",
		Help:      "Latency of each pipeline stage",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"stage"})

	// ActiveSessions tracks live call sessions in the registry.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of live call sessions",
	})
)

func observeTurn(e Entry) {
	turnsTotal.WithLabelValues(e.Outcome).Inc()
	stageLatency.WithLabelValues("transcription").Observe(e.Timings.Transcription.Seconds())
	stageLatency.WithLabelValues("retrieval").Observe(e.Timings.Retrieval.Seconds())
	stageLatency.WithLabelValues("completion").Observe(e.Timings.Completion.Seconds())
	stageLatency.WithLabelValues("synthesis").Observe(e.Timings.Synthesis.Seconds())
	stageLatency.WithLabelValues("total").Observe(e.Timings.Total.Seconds())
}
