package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/memeflow/audit"
	"github.com/BaSui01/memeflow/llm/generation"
	"github.com/BaSui01/memeflow/llm/moderation"
	"github.com/BaSui01/memeflow/llm/retry"
	"github.com/BaSui01/memeflow/policy"
	"github.com/BaSui01/memeflow/types"
)

// Pipeline stages, in execution order.
const (
	StageValidating = "validating"
	StageGenerating = "generating"
	StageModerating = "moderating"
	StageDeciding   = "deciding"
)

// Metrics receives pipeline observations. The prometheus collector in
// internal/metrics implements it; a nil Metrics disables collection.
type Metrics interface {
	ObserveStage(stage string, d time.Duration)
	ObserveDecision(outcome string)
	IncPipelineError(code string)
	IncRetry(stage string)
	IncAuditFailure()
}

type nopMetrics struct{}

func (nopMetrics) ObserveStage(string, time.Duration) {}
func (nopMetrics) ObserveDecision(string)             {}
func (nopMetrics) IncPipelineError(string)            {}
func (nopMetrics) IncRetry(string)                    {}
func (nopMetrics) IncAuditFailure()                   {}

// Options configures a Pipeline.
type Options struct {
	// Retry is the per-stage retry policy. Defaults to retry.DefaultPolicy.
	Retry *retry.Policy

	// Policy is the severity-threshold configuration.
	Policy policy.Config

	// Metrics receives observations; nil disables collection.
	Metrics Metrics

	// Sleep overrides the retry sleep function. Tests inject this to
	// avoid real backoff delays.
	Sleep retry.SleepFunc

	// Text generation tuning.
	TextMaxTokens   int     // default 150
	TextTemperature float64 // default 0.8

	// Image generation tuning.
	ImageSize    string // default 1024x1024
	ImageQuality string // default high
}

func (o *Options) withDefaults() {
	if o.Retry == nil {
		o.Retry = retry.DefaultPolicy()
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.TextMaxTokens == 0 {
		o.TextMaxTokens = 150
	}
	if o.TextTemperature == 0 {
		o.TextTemperature = 0.8
	}
	if o.ImageSize == "" {
		o.ImageSize = "1024x1024"
	}
	if o.ImageQuality == "" {
		o.ImageQuality = "high"
	}
}

// Pipeline runs the generation-and-moderation flow for one request at a
// time; instances are safe for concurrent use, requests share nothing
// but the append-only stores.
type Pipeline struct {
	generator generation.Provider
	moderator moderation.Provider
	engine    *policy.Engine
	auditLog  audit.Log
	genRetry  retry.Retryer
	modRetry  retry.Retryer
	opts      Options
	metrics   Metrics
	logger    *zap.Logger
}

// New creates a pipeline over the given clients and audit sink.
func New(generator generation.Provider, moderator moderation.Provider, auditLog audit.Log, opts Options, logger *zap.Logger) *Pipeline {
	opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "pipeline"))

	stageRetryer := func(stage string) retry.Retryer {
		p := *opts.Retry
		m := opts.Metrics
		prev := p.OnRetry
		p.OnRetry = func(attempt int, err error, delay time.Duration) {
			m.IncRetry(stage)
			if prev != nil {
				prev(attempt, err, delay)
			}
		}
		return retry.NewBackoffRetryerWithSleep(&p, opts.Sleep, logger)
	}

	return &Pipeline{
		generator: generator,
		moderator: moderator,
		engine:    policy.NewEngine(opts.Policy),
		auditLog:  auditLog,
		genRetry:  stageRetryer(StageGenerating),
		modRetry:  stageRetryer(StageModerating),
		opts:      opts,
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

// Handle runs one request through the full state machine. A rejected
// artifact is a successful run with Approved=false; an error means no
// decision was reached (invalid request, generation failure, or
// moderation unavailable).
func (p *Pipeline) Handle(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	// Validating: no network call happens in this state.
	if err := req.Validate(); err != nil {
		p.metrics.IncPipelineError(string(types.GetErrorCode(err)))
		return nil, err
	}

	requestID := uuid.NewString()
	fingerprint := audit.Fingerprint(req.Topic, string(req.Mood), start)
	logger := p.logger.With(
		zap.String("request_id", requestID),
		zap.String("mood", string(req.Mood)),
	)

	// Generating.
	genStart := time.Now()
	artifacts, err := p.generate(ctx, req)
	generateMs := time.Since(genStart).Milliseconds()
	p.metrics.ObserveStage(StageGenerating, time.Since(genStart))

	if err != nil {
		if types.GetErrorCode(err) == types.ErrUpstreamRejected {
			// The generator refused the prompt: treated as an implicit
			// safety rejection with no artifact and no moderation step.
			decision := p.engine.RejectUpstream()
			rec := &audit.Record{
				RequestID:        requestID,
				Fingerprint:      fingerprint,
				Outcome:          string(decision.Outcome),
				ReasonCategories: decision.ReasonCategories,
				Threshold:        decision.Threshold,
				GenerateMs:       generateMs,
				TotalMs:          time.Since(start).Milliseconds(),
				CreatedAt:        decision.Timestamp,
			}
			p.writeAudit(ctx, logger, rec)
			p.metrics.ObserveDecision(string(decision.Outcome))
			logger.Info("request rejected by upstream generator")
			return &Result{
				RequestID: requestID,
				Approved:  false,
				Rejection: RejectionNotice,
				Decision:  decision,
			}, nil
		}

		p.metrics.IncPipelineError(string(types.ErrGenerationFailed))
		logger.Error("generation failed after retries", zap.Error(err))
		return nil, types.NewError(types.ErrGenerationFailed,
			"content generation is temporarily unavailable").WithCause(err)
	}

	// Moderating: read-only over the artifacts already produced, so a
	// transient failure here retries moderation alone, never generation.
	modStart := time.Now()
	verdict, err := p.moderate(ctx, artifacts)
	moderateMs := time.Since(modStart).Milliseconds()
	p.metrics.ObserveStage(StageModerating, time.Since(modStart))

	if err != nil {
		// Fail closed: an artifact whose moderation could not complete
		// is withheld, never surfaced by default.
		p.metrics.IncPipelineError(string(types.ErrModerationUnavailable))
		logger.Error("moderation unavailable, artifact withheld", zap.Error(err))
		return nil, types.NewError(types.ErrModerationUnavailable,
			"content could not be verified and was withheld").WithCause(err)
	}

	// Deciding: audit is written unconditionally on both paths.
	decision := p.engine.Decide(verdict)
	rec := &audit.Record{
		RequestID:        requestID,
		Fingerprint:      fingerprint,
		Outcome:          string(decision.Outcome),
		ReasonCategories: decision.ReasonCategories,
		Threshold:        decision.Threshold,
		ArtifactKind:     artifactKinds(artifacts),
		GenerateMs:       generateMs,
		ModerateMs:       moderateMs,
		TotalMs:          time.Since(start).Milliseconds(),
		CreatedAt:        decision.Timestamp,
	}
	if decision.Approved() {
		rec.ArtifactSummary = summarize(artifacts)
	}
	p.writeAudit(ctx, logger, rec)
	p.metrics.ObserveDecision(string(decision.Outcome))

	if !decision.Approved() {
		logger.Info("content rejected by policy",
			zap.Int("max_severity", verdict.MaxSeverity()),
			zap.Strings("categories", decision.ReasonCategories),
		)
		return &Result{
			RequestID: requestID,
			Approved:  false,
			Rejection: RejectionNotice,
			Decision:  decision,
		}, nil
	}

	logger.Info("content approved",
		zap.String("kinds", rec.ArtifactKind),
		zap.Int64("total_ms", rec.TotalMs),
	)
	return &Result{
		RequestID: requestID,
		Approved:  true,
		Artifacts: assemble(artifacts),
		Decision:  decision,
	}, nil
}

// generate produces the requested artifacts, text and image in
// parallel when both are wanted. Each upstream call is retried
// independently; an upstream refusal cancels the sibling call.
func (p *Pipeline) generate(ctx context.Context, req *Request) ([]*generation.Artifact, error) {
	var reqs []*generation.Request
	if req.WantText {
		reqs = append(reqs, &generation.Request{
			Kind:         generation.KindText,
			Prompt:       buildTextPrompt(req.Topic, req.Mood),
			SystemPrompt: textSystemPrompt,
			MaxTokens:    p.opts.TextMaxTokens,
			Temperature:  p.opts.TextTemperature,
		})
	}
	if req.WantImage {
		reqs = append(reqs, &generation.Request{
			Kind:    generation.KindImage,
			Prompt:  buildImagePrompt(req.Topic, req.Mood),
			Size:    p.opts.ImageSize,
			Quality: p.opts.ImageQuality,
		})
	}

	artifacts := make([]*generation.Artifact, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i, genReq := range reqs {
		g.Go(func() error {
			artifact, err := retry.DoTyped(p.genRetry, gctx, func() (*generation.Artifact, error) {
				return p.generator.Generate(gctx, genReq)
			})
			if err != nil {
				return err
			}
			mu.Lock()
			artifacts[i] = artifact
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// moderate analyzes every artifact and merges the verdicts by
// per-category maximum, so the decision covers the whole response.
func (p *Pipeline) moderate(ctx context.Context, artifacts []*generation.Artifact) (*moderation.Verdict, error) {
	merged := &moderation.Verdict{Categories: map[string]int{}}
	for _, artifact := range artifacts {
		verdict, err := retry.DoTyped(p.modRetry, ctx, func() (*moderation.Verdict, error) {
			return p.moderator.Analyze(ctx, artifact)
		})
		if err != nil {
			return nil, err
		}
		merged.Provider = verdict.Provider
		merged.AnalyzedAt = verdict.AnalyzedAt
		merged.Merge(verdict)
	}
	return merged, nil
}

// writeAudit appends the record without failing the request. The append
// uses a detached context: a caller disconnect after the decision was
// reached must not skip the audit write.
func (p *Pipeline) writeAudit(ctx context.Context, logger *zap.Logger, rec *audit.Record) {
	if err := p.auditLog.Append(context.WithoutCancel(ctx), rec); err != nil {
		// Surfaced to operators through the error log and the failure
		// counter; the caller still receives the decision.
		p.metrics.IncAuditFailure()
		logger.Error("audit append failed", zap.Error(err))
	}
}

func artifactKinds(artifacts []*generation.Artifact) string {
	kinds := ""
	for _, a := range artifacts {
		if kinds != "" {
			kinds += "+"
		}
		kinds += string(a.Kind)
	}
	return kinds
}

const summaryPreviewLen = 100

func summarize(artifacts []*generation.Artifact) string {
	summary := ""
	for _, a := range artifacts {
		part := ""
		switch a.Kind {
		case generation.KindText:
			part = "text: " + truncate(a.Text, summaryPreviewLen)
		case generation.KindImage:
			if a.ImageURL != "" {
				part = "image: " + a.ImageURL
			} else {
				part = fmt.Sprintf("image: b64 payload (%d bytes)", len(a.ImageB64))
			}
		}
		if summary != "" {
			summary += "; "
		}
		summary += part
	}
	return summary
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func assemble(artifacts []*generation.Artifact) *Artifacts {
	out := &Artifacts{}
	for _, a := range artifacts {
		switch a.Kind {
		case generation.KindText:
			out.Text = a.Text
		case generation.KindImage:
			out.ImageRef = a.Payload()
		}
	}
	return out
}
