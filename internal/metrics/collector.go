// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the service's prometheus metrics. It satisfies
// the pipeline's Metrics interface.
type Collector struct {
	pipelineDecisions *prometheus.CounterVec
	pipelineErrors    *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	upstreamRetries   *prometheus.CounterVec
	auditFailures     prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a collector registered on reg. Passing a fresh
// registry keeps test instances independent.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	return &Collector{
		pipelineDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_decisions_total",
				Help:      "Pipeline decisions by outcome.",
			},
			[]string{"outcome"},
		),
		pipelineErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_errors_total",
				Help:      "Pipeline failures by error code.",
			},
			[]string{"code"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_duration_seconds",
				Help:      "Latency per pipeline stage.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		upstreamRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_retries_total",
				Help:      "Retries against upstream services by stage.",
			},
			[]string{"stage"},
		),
		auditFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_append_failures_total",
				Help:      "Audit records that could not be persisted.",
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, path and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

// ObserveStage records one stage's latency.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveDecision counts a pipeline decision by outcome.
func (c *Collector) ObserveDecision(outcome string) {
	c.pipelineDecisions.WithLabelValues(outcome).Inc()
}

// IncPipelineError counts a pipeline failure by error code.
func (c *Collector) IncPipelineError(code string) {
	c.pipelineErrors.WithLabelValues(code).Inc()
}

// IncRetry counts one upstream retry for a stage.
func (c *Collector) IncRetry(stage string) {
	c.upstreamRetries.WithLabelValues(stage).Inc()
}

// IncAuditFailure counts a failed audit append.
func (c *Collector) IncAuditFailure() {
	c.auditFailures.Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func (c *Collector) ObserveHTTPRequest(method, path, status string, d time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
