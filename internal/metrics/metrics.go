package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"
	// OutcomeSkipped labels operations short-circuited by the idempotency guard.
	OutcomeSkipped = "skipped"

	// ResultCreated labels correlation outcomes that opened a new incident.
	ResultCreated = "created"
	// ResultAttached labels correlation outcomes that joined an existing incident.
	ResultAttached = "attached"
)

var (
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "responder",
			Name:      "signals_total",
			Help:      "Total signals ingested, partitioned by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	correlationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "responder",
			Name:      "correlations_total",
			Help:      "Correlation decisions, partitioned by result (created or attached).",
		},
		[]string{"result"},
	)

	engineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "responder",
			Name:      "engine_runs_total",
			Help:      "Analysis engine invocations, partitioned by engine and outcome.",
		},
		[]string{"engine", "outcome"},
	)

	fusedConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "responder",
			Name:      "fused_confidence",
			Help:      "Distribution of fused decision confidence.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	analysisSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "responder",
			Name:      "analysis_seconds",
			Help:      "Engine pool run latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10, 15},
		},
	)

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "responder",
			Name:      "actions_total",
			Help:      "Dispatched actions, partitioned by action type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	dispatchSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "responder",
			Name:      "dispatch_seconds",
			Help:      "Per-action dispatch latency in seconds, retries included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

// Register attaches responder collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		signalsTotal,
		correlationsTotal,
		engineRunsTotal,
		fusedConfidence,
		analysisSeconds,
		actionsTotal,
		dispatchSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSignal records one ingested (or rejected) signal.
func ObserveSignal(source, outcome string) {
	signalsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveCorrelation records a create-or-attach correlation result.
func ObserveCorrelation(result string) {
	correlationsTotal.WithLabelValues(result).Inc()
}

// ObserveEngineRun records one engine invocation outcome.
func ObserveEngineRun(engine, outcome string) {
	engineRunsTotal.WithLabelValues(engine, outcome).Inc()
}

// ObserveAnalysis records a pool run duration and the fused confidence when
// the run produced a decision.
func ObserveAnalysis(duration time.Duration, confidence float64, decided bool) {
	if duration < 0 {
		duration = 0
	}
	analysisSeconds.Observe(duration.Seconds())
	if decided {
		fusedConfidence.Observe(confidence)
	}
}

// ObserveAction records a dispatched action outcome and latency.
func ObserveAction(actionType, outcome string, duration time.Duration) {
	actionsTotal.WithLabelValues(actionType, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	dispatchSeconds.Observe(duration.Seconds())
}
