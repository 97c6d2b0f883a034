package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector("memeflow", reg, nil)

	c.ObserveDecision("approved")
	c.ObserveDecision("approved")
	c.ObserveDecision("rejected")
	c.IncPipelineError("GENERATION_FAILED")
	c.IncRetry("generating")
	c.IncAuditFailure()
	c.ObserveStage("moderating", 40*time.Millisecond)
	c.ObserveHTTPRequest("POST", "/api/v1/memes", "200", 120*time.Millisecond)

	assert.Equal(t, float64(2),
		testutil.ToFloat64(c.pipelineDecisions.WithLabelValues("approved")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.pipelineDecisions.WithLabelValues("rejected")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.pipelineErrors.WithLabelValues("GENERATION_FAILED")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.upstreamRetries.WithLabelValues("generating")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.auditFailures))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/memes", "200")))
}

func TestCollector_IndependentRegistries(t *testing.T) {
	t.Parallel()

	// Two collectors on separate registries must not collide.
	a := NewCollector("memeflow", prometheus.NewRegistry(), nil)
	b := NewCollector("memeflow", prometheus.NewRegistry(), nil)

	a.ObserveDecision("approved")
	assert.Equal(t, float64(0),
		testutil.ToFloat64(b.pipelineDecisions.WithLabelValues("approved")))
}
