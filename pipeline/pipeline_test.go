package pipeline

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memeflow/audit"
	"github.com/BaSui01/memeflow/llm/generation"
	"github.com/BaSui01/memeflow/llm/moderation"
	"github.com/BaSui01/memeflow/types"
)

type fakeGenerator struct {
	calls atomic.Int32

	// fail returns an error for the first n calls when set.
	failFirst int32
	failWith  func() error

	// rejectImage makes image requests fail with UPSTREAM_REJECTED.
	rejectImage bool
}

func (f *fakeGenerator) Name() string { return "fake-generator" }

func (f *fakeGenerator) Generate(_ context.Context, req *generation.Request) (*generation.Artifact, error) {
	n := f.calls.Add(1)
	if f.failWith != nil && n <= f.failFirst {
		return nil, f.failWith()
	}
	if f.rejectImage && req.Kind == generation.KindImage {
		return nil, types.NewError(types.ErrUpstreamRejected, "prompt refused")
	}
	artifact := &generation.Artifact{
		Kind:         req.Kind,
		SourcePrompt: req.Prompt,
		Provider:     f.Name(),
		CreatedAt:    time.Now(),
	}
	if req.Kind == generation.KindText {
		artifact.Text = "When you're dealing with it... it's an adventure"
	} else {
		artifact.ImageURL = "https://cdn.example/meme.png"
	}
	return artifact, nil
}

type fakeModerator struct {
	calls     atomic.Int32
	verdict   map[string]int
	failFirst int32
	failWith  func() error
}

func (f *fakeModerator) Name() string { return "fake-moderator" }

func (f *fakeModerator) Analyze(_ context.Context, _ *generation.Artifact) (*moderation.Verdict, error) {
	n := f.calls.Add(1)
	if f.failWith != nil && n <= f.failFirst {
		return nil, f.failWith()
	}
	categories := map[string]int{
		moderation.CategoryHate:     0,
		moderation.CategoryViolence: 0,
		moderation.CategorySexual:   0,
		moderation.CategorySelfHarm: 0,
	}
	for cat, sev := range f.verdict {
		categories[cat] = sev
	}
	return &moderation.Verdict{
		Categories: categories,
		Provider:   f.Name(),
		AnalyzedAt: time.Now(),
	}, nil
}

func unavailable() error {
	return types.NewError(types.ErrUpstreamUnavailable, "connection refused").WithRetryable(true)
}

func timeout() error {
	return types.NewError(types.ErrUpstreamTimeout, "deadline exceeded").WithRetryable(true)
}

func newTestPipeline(gen *fakeGenerator, mod *fakeModerator, log audit.Log) *Pipeline {
	return New(gen, mod, log, Options{
		Sleep: func(_ context.Context, _ time.Duration) error { return nil },
	}, nil)
}

func textRequest(topic string, mood Mood) *Request {
	return &Request{Topic: topic, Mood: mood, WantText: true}
}

func TestPipeline_ApprovedFlow(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	mod := &fakeModerator{}
	log := audit.NewMemoryLog()

	result, err := newTestPipeline(gen, mod, log).Handle(context.Background(),
		textRequest("coffee breaks", MoodFunny))

	require.NoError(t, err)
	assert.True(t, result.Approved)
	require.NotNil(t, result.Artifacts)
	assert.NotEmpty(t, result.Artifacts.Text)
	assert.Empty(t, result.Rejection)
	assert.NotEmpty(t, result.RequestID)

	records := log.Records()
	require.Len(t, records, 1, "exactly one audit record per decision")
	assert.Equal(t, audit.OutcomeApproved, records[0].Outcome)
	assert.Empty(t, records[0].ReasonCategories)
	assert.Equal(t, result.RequestID, records[0].RequestID)
	assert.NotEmpty(t, records[0].Fingerprint)
	assert.NotEmpty(t, records[0].ArtifactSummary)
}

func TestPipeline_RejectedFlow(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	mod := &fakeModerator{verdict: map[string]int{moderation.CategoryViolence: 4}}
	log := audit.NewMemoryLog()

	result, err := newTestPipeline(gen, mod, log).Handle(context.Background(),
		textRequest("violent content", MoodAngry))

	require.NoError(t, err, "rejection is a normal result, not an error")
	assert.False(t, result.Approved)
	assert.Nil(t, result.Artifacts, "rejected content is never surfaced")
	assert.Equal(t, RejectionNotice, result.Rejection)

	records := log.Records()
	require.Len(t, records, 1)
	assert.Equal(t, audit.OutcomeRejected, records[0].Outcome)
	assert.Equal(t, []string{moderation.CategoryViolence}, records[0].ReasonCategories)
	assert.Empty(t, records[0].ArtifactSummary, "no raw content for rejected artifacts")
}

func TestPipeline_RejectionNeverNamesCategory(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	mod := &fakeModerator{verdict: map[string]int{moderation.CategoryHate: 6}}

	result, err := newTestPipeline(gen, mod, audit.NewMemoryLog()).Handle(context.Background(),
		textRequest("something nasty", MoodSarcastic))

	require.NoError(t, err)
	assert.NotContains(t, result.Rejection, moderation.CategoryHate,
		"user-facing rejection must not teach users which category fired")
}

func TestPipeline_GenerationExhaustionSkipsModeration(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{failFirst: 10, failWith: timeout}
	mod := &fakeModerator{}
	log := audit.NewMemoryLog()

	_, err := newTestPipeline(gen, mod, log).Handle(context.Background(),
		textRequest("coffee breaks", MoodFunny))

	require.Error(t, err)
	assert.Equal(t, types.ErrGenerationFailed, types.GetErrorCode(err))
	assert.Equal(t, int32(3), gen.calls.Load(), "one attempt plus two retries")
	assert.Equal(t, int32(0), mod.calls.Load(), "moderation must never run without an artifact")
	assert.Empty(t, log.Records(), "no decision was reached, so no audit record")
}

func TestPipeline_GenerationRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{failFirst: 2, failWith: unavailable}
	mod := &fakeModerator{}

	result, err := newTestPipeline(gen, mod, audit.NewMemoryLog()).Handle(context.Background(),
		textRequest("coffee breaks", MoodFunny))

	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.Equal(t, int32(3), gen.calls.Load())
}

func TestPipeline_ModerationExhaustionFailsClosed(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	mod := &fakeModerator{failFirst: 10, failWith: unavailable}
	log := audit.NewMemoryLog()

	_, err := newTestPipeline(gen, mod, log).Handle(context.Background(),
		textRequest("coffee breaks", MoodFunny))

	require.Error(t, err)
	assert.Equal(t, types.ErrModerationUnavailable, types.GetErrorCode(err))
	assert.Equal(t, int32(1), gen.calls.Load(),
		"a successful generation is not redone when moderation alone retries")
	assert.Equal(t, int32(3), mod.calls.Load())
	assert.Empty(t, log.Records())
}

func TestPipeline_UpstreamRejectedIsImplicitRejection(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{rejectImage: true}
	mod := &fakeModerator{}
	log := audit.NewMemoryLog()

	result, err := newTestPipeline(gen, mod, log).Handle(context.Background(),
		&Request{Topic: "questionable", Mood: MoodFunny, WantImage: true})

	require.NoError(t, err, "an upstream refusal is a decision, not a pipeline failure")
	assert.False(t, result.Approved)
	assert.Equal(t, RejectionNotice, result.Rejection)
	assert.Equal(t, int32(1), gen.calls.Load(), "refusals are not retried")
	assert.Equal(t, int32(0), mod.calls.Load())

	records := log.Records()
	require.Len(t, records, 1)
	assert.Equal(t, audit.OutcomeRejected, records[0].Outcome)
	assert.Equal(t, []string{"upstream_policy"}, records[0].ReasonCategories)
}

func TestPipeline_InvalidRequests(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	mod := &fakeModerator{}
	p := newTestPipeline(gen, mod, audit.NewMemoryLog())

	longTopic := make([]byte, MaxTopicLength+1)
	for i := range longTopic {
		longTopic[i] = 'a'
	}

	cases := []struct {
		name string
		req  *Request
	}{
		{"empty topic", &Request{Topic: "  ", Mood: MoodFunny, WantText: true}},
		{"topic too long", &Request{Topic: string(longTopic), Mood: MoodFunny, WantText: true}},
		{"unknown mood", &Request{Topic: "coffee", Mood: "melancholy", WantText: true}},
		{"nothing requested", &Request{Topic: "coffee", Mood: MoodFunny}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Handle(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
		})
	}

	assert.Equal(t, int32(0), gen.calls.Load(), "validation makes no network calls")
	assert.Equal(t, int32(0), mod.calls.Load())
}

func TestPipeline_TextAndImageTogether(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	mod := &fakeModerator{}
	log := audit.NewMemoryLog()

	result, err := newTestPipeline(gen, mod, log).Handle(context.Background(),
		&Request{Topic: "meetings", Mood: MoodSarcastic, WantText: true, WantImage: true})

	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.NotEmpty(t, result.Artifacts.Text)
	assert.NotEmpty(t, result.Artifacts.ImageRef)
	assert.Equal(t, int32(2), gen.calls.Load())
	assert.Equal(t, int32(2), mod.calls.Load(), "every artifact is moderated")

	records := log.Records()
	require.Len(t, records, 1, "one combined decision per request")
}

type failingAuditLog struct{ appends atomic.Int32 }

func (f *failingAuditLog) Append(context.Context, *audit.Record) error {
	f.appends.Add(1)
	return types.NewError(types.ErrInternalError, "disk full")
}

func (f *failingAuditLog) HasApproval(context.Context, string) (bool, error) {
	return false, nil
}

func TestPipeline_AuditFailureDoesNotFailRequest(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	mod := &fakeModerator{}
	log := &failingAuditLog{}

	result, err := newTestPipeline(gen, mod, log).Handle(context.Background(),
		textRequest("coffee breaks", MoodFunny))

	require.NoError(t, err, "audit availability never outranks the moderation gate")
	assert.True(t, result.Approved)
	assert.Equal(t, int32(1), log.appends.Load(), "the append was still attempted")
}

func TestPipeline_MergedVerdictDecidesWholeRequest(t *testing.T) {
	t.Parallel()

	// The image artifact is clean but the text artifact breaches; the
	// combined request must be rejected.
	gen := &fakeGenerator{}
	calls := 0
	p := New(gen, &alternatingModerator{&calls}, audit.NewMemoryLog(), Options{
		Sleep: func(_ context.Context, _ time.Duration) error { return nil },
	}, nil)

	result, err := p.Handle(context.Background(),
		&Request{Topic: "deadlines", Mood: MoodAngry, WantText: true, WantImage: true})

	require.NoError(t, err)
	assert.False(t, result.Approved)
}

func TestSummarize_TruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	// a multi-byte rune straddling the preview limit must not be split
	text := strings.Repeat("a", summaryPreviewLen-1) + "你好"
	summary := summarize([]*generation.Artifact{{Kind: generation.KindText, Text: text}})

	assert.True(t, utf8.ValidString(summary))
	assert.Contains(t, summary, "...")

	short := summarize([]*generation.Artifact{{Kind: generation.KindText, Text: "short caption"}})
	assert.Equal(t, "text: short caption", short)
}

type alternatingModerator struct{ calls *int }

func (m *alternatingModerator) Name() string { return "alternating" }

func (m *alternatingModerator) Analyze(_ context.Context, _ *generation.Artifact) (*moderation.Verdict, error) {
	*m.calls++
	severity := 0
	if *m.calls == 1 {
		severity = 4
	}
	return &moderation.Verdict{
		Categories: map[string]int{moderation.CategoryViolence: severity},
		Provider:   m.Name(),
	}, nil
}
