package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/memeflow/llm/generation"
	"github.com/BaSui01/memeflow/types"
)

// ContentSafetyProvider moderates artifacts against an Azure-style
// content safety service returning per-category severities 0-6.
type ContentSafetyProvider struct {
	cfg    ContentSafetyConfig
	client *http.Client
}

// NewContentSafetyProvider creates a new content safety provider.
func NewContentSafetyProvider(cfg ContentSafetyConfig) *ContentSafetyProvider {
	def := DefaultContentSafetyConfig()
	if cfg.APIVersion == "" {
		cfg.APIVersion = def.APIVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	return &ContentSafetyProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *ContentSafetyProvider) Name() string { return "content-safety" }

// Analyze moderates one artifact. Text artifacts are analyzed directly.
// Image artifacts get two analyses, image payload plus source prompt,
// merged by per-category maximum so a near-miss prompt is not masked by
// a benign-looking render.
func (p *ContentSafetyProvider) Analyze(ctx context.Context, artifact *generation.Artifact) (*Verdict, error) {
	switch artifact.Kind {
	case generation.KindText:
		return p.analyzeText(ctx, artifact.Text)
	case generation.KindImage:
		verdict, err := p.analyzeImage(ctx, artifact)
		if err != nil {
			return nil, err
		}
		promptVerdict, err := p.analyzeText(ctx, artifact.SourcePrompt)
		if err != nil {
			return nil, err
		}
		verdict.Merge(promptVerdict)
		return verdict, nil
	default:
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unsupported artifact kind %q", artifact.Kind))
	}
}

type analyzeTextRequest struct {
	Text string `json:"text"`
}

type analyzeImageRequest struct {
	Image imageContent `json:"image"`
}

type imageContent struct {
	Content string `json:"content,omitempty"` // base64 payload
	BlobURL string `json:"blobUrl,omitempty"` // remote handle
}

type analyzeResponse struct {
	CategoriesAnalysis []struct {
		Category string `json:"category"`
		Severity int    `json:"severity"`
	} `json:"categoriesAnalysis"`
}

func (p *ContentSafetyProvider) analyzeText(ctx context.Context, text string) (*Verdict, error) {
	var aResp analyzeResponse
	if err := p.post(ctx, "/contentsafety/text:analyze", analyzeTextRequest{Text: text}, &aResp); err != nil {
		return nil, err
	}
	return p.toVerdict(aResp), nil
}

func (p *ContentSafetyProvider) analyzeImage(ctx context.Context, artifact *generation.Artifact) (*Verdict, error) {
	var img imageContent
	if artifact.ImageB64 != "" {
		img.Content = artifact.ImageB64
	} else {
		img.BlobURL = artifact.ImageURL
	}

	var aResp analyzeResponse
	if err := p.post(ctx, "/contentsafety/image:analyze", analyzeImageRequest{Image: img}, &aResp); err != nil {
		return nil, err
	}
	return p.toVerdict(aResp), nil
}

func (p *ContentSafetyProvider) toVerdict(resp analyzeResponse) *Verdict {
	verdict := &Verdict{
		Categories: make(map[string]int, len(resp.CategoriesAnalysis)),
		Provider:   p.Name(),
		AnalyzedAt: time.Now(),
	}
	for _, c := range resp.CategoriesAnalysis {
		name := normalizeCategory(c.Category)
		if c.Severity > verdict.Categories[name] {
			verdict.Categories[name] = c.Severity
		}
	}
	return verdict
}

// normalizeCategory maps the service's PascalCase category names onto
// the snake_case keys the policy layer uses. Unknown categories pass
// through lowercased so new ones are still enforced.
func normalizeCategory(name string) string {
	switch name {
	case "Hate":
		return CategoryHate
	case "SelfHarm":
		return CategorySelfHarm
	case "Sexual":
		return CategorySexual
	case "Violence":
		return CategoryViolence
	default:
		return strings.ToLower(name)
	}
}

func (p *ContentSafetyProvider) post(ctx context.Context, path string, body any, out any) error {
	payload, _ := json.Marshal(body)

	endpoint := fmt.Sprintf("%s%s?api-version=%s",
		strings.TrimRight(p.cfg.Endpoint, "/"), path, p.cfg.APIVersion)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to create request").WithCause(err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return mapTransportError(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return mapHTTPError(resp.StatusCode, string(errBody), p.Name())
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewError(types.ErrUpstreamUnavailable, "failed to decode response").
			WithCause(err).WithRetryable(true).WithProvider(p.Name())
	}
	return nil
}

func mapTransportError(err error, provider string) *types.Error {
	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrUpstreamUnavailable, "request cancelled").
			WithCause(err).WithProvider(provider)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewError(types.ErrUpstreamTimeout, "moderation call timed out").
			WithCause(err).WithRetryable(true).WithProvider(provider)
	}
	return types.NewError(types.ErrUpstreamUnavailable, "moderation call failed").
		WithCause(err).WithRetryable(true).WithProvider(provider)
}

func mapHTTPError(status int, msg string, provider string) *types.Error {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return types.NewError(types.ErrUpstreamUnavailable, msg).
			WithRetryable(true).WithProvider(provider)
	default:
		return types.NewError(types.ErrUpstreamUnavailable, msg).WithProvider(provider)
	}
}
