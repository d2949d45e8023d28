// Package metrics exposes Prometheus collectors for forecast runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/forecast-cli/internal/model"
)

const namespace = "forecast"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Forecast runs by terminal status.",
		},
		[]string{"status"},
	)

	stageSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_seconds",
			Help:      "Pipeline stage latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"stage", "status"},
	)

	guardRailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibration_guard_rails_total",
			Help:      "Calibrations that triggered overflow scaling or conservatism.",
		},
		[]string{"rail"},
	)

	finalProbability = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "final_probability",
			Help:      "Distribution of calibrated final probabilities.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 9),
		},
	)

	tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens consumed by model and direction.",
		},
		[]string{"model", "direction"},
	)
)

// Guard rail label values.
const (
	RailScaling      = "scaling"
	RailConservatism = "conservatism"
)

// Register attaches the forecast collectors to reg. Collectors that are
// already registered are skipped.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		stageSeconds,
		guardRailsTotal,
		finalProbability,
		tokensTotal,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun counts a run reaching a terminal status.
func ObserveRun(status model.RunStatus) {
	runsTotal.WithLabelValues(string(status)).Inc()
}

// ObserveStage records a stage duration.
func ObserveStage(stage string, status model.PhaseStatus, d time.Duration) {
	if d < 0 {
		d = 0
	}
	stageSeconds.WithLabelValues(stage, string(status)).Observe(d.Seconds())
}

// ObserveCalibration records guard-rail activations and the final
// probability of a calibration.
func ObserveCalibration(res *model.CalibrationResult) {
	if res == nil {
		return
	}
	if res.ScalingFactor < 1 {
		guardRailsTotal.WithLabelValues(RailScaling).Inc()
	}
	if res.ConservatismApplied {
		guardRailsTotal.WithLabelValues(RailConservatism).Inc()
	}
	finalProbability.Observe(res.FinalProbability)
}

// ObserveTokens adds LLM token usage for modelID.
func ObserveTokens(modelID string, usage model.TokenUsage) {
	tokensTotal.WithLabelValues(modelID, "input").Add(float64(usage.InputTokens))
	tokensTotal.WithLabelValues(modelID, "output").Add(float64(usage.OutputTokens))
}
