package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for pipeline runs.
type Metrics struct {
	StageDuration    *prometheus.HistogramVec
	StageDocuments   *prometheus.HistogramVec
	ProviderFailures *prometheus.CounterVec
	RerankFallbacks  prometheus.Counter
	Runs             *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics once per process.
//
// Metrics:
//   - seer_pipeline_stage_duration_seconds{stage}
//   - seer_pipeline_stage_documents{stage} - documents leaving a stage
//   - seer_pipeline_provider_failures_total{provider}
//   - seer_pipeline_rerank_fallbacks_total
//   - seer_pipeline_runs_total{outcome} - success, degraded, stage_error, aborted
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			StageDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "seer_pipeline_stage_duration_seconds",
					Help:    "Duration of pipeline stages in seconds",
					Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
				},
				[]string{"stage"},
			),
			StageDocuments: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "seer_pipeline_stage_documents",
					Help:    "Number of documents leaving each pipeline stage",
					Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200},
				},
				[]string{"stage"},
			),
			ProviderFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "seer_pipeline_provider_failures_total",
					Help: "Total failed search provider calls",
				},
				[]string{"provider"},
			),
			RerankFallbacks: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "seer_pipeline_rerank_fallbacks_total",
					Help: "Total reranks that fell back to fusion order",
				},
			),
			Runs: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "seer_pipeline_runs_total",
					Help: "Total pipeline runs by outcome",
				},
				[]string{"outcome"},
			),
		}
	})
	return globalMetrics
}
