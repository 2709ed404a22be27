package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the proof registration pipeline.
type Metrics struct {
	// Per-step latencies
	StepLatency *prometheus.HistogramVec

	// Per-step failures by error code
	StepFailure *prometheus.CounterVec

	// Pipeline outcomes by kind
	Outcome *prometheus.CounterVec

	// Gas limit used on the most recent submission
	GasLimit prometheus.Gauge

	// End-to-end pipeline latency
	PipelineLatency prometheus.Histogram
}

// New creates a new Metrics instance with all pipeline metrics registered.
func New() *Metrics {
	return &Metrics{
		StepLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sigillum_pipeline_step_duration_seconds",
			Help:    "Duration of pipeline steps",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 120},
		}, []string{"step"}), // step: "prepare", "upload", "persist", "chain"

		StepFailure: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sigillum_pipeline_step_failures_total",
			Help: "Total pipeline step failures by error code",
		}, []string{"step", "code"}),

		Outcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sigillum_pipeline_outcomes_total",
			Help: "Total pipeline outcomes by kind",
		}, []string{"kind"}),

		GasLimit: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sigillum_chain_gas_limit",
			Help: "Buffered gas limit of the most recent submission",
		}),

		PipelineLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigillum_pipeline_duration_seconds",
			Help:    "End-to-end pipeline duration including confirmation tracking",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 120, 300},
		}),
	}
}

// ObserveStepLatency records the duration of one pipeline step.
func (m *Metrics) ObserveStepLatency(step string, d time.Duration) {
	if m != nil {
		m.StepLatency.WithLabelValues(step).Observe(d.Seconds())
	}
}

// IncrementStepFailure records a step failure with its error classification.
func (m *Metrics) IncrementStepFailure(step, code string) {
	if m != nil {
		m.StepFailure.WithLabelValues(step, code).Inc()
	}
}

// IncrementOutcome records how a pipeline run ended.
func (m *Metrics) IncrementOutcome(kind string) {
	if m != nil {
		m.Outcome.WithLabelValues(kind).Inc()
	}
}

// SetGasLimit records the gas limit attached to a submission.
func (m *Metrics) SetGasLimit(gasLimit uint64) {
	if m != nil {
		m.GasLimit.Set(float64(gasLimit))
	}
}

// ObservePipelineLatency records the total pipeline duration.
func (m *Metrics) ObservePipelineLatency(d time.Duration) {
	if m != nil {
		m.PipelineLatency.Observe(d.Seconds())
	}
}
