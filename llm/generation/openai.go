package generation

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

	"github.com/BaSui01/memeflow/types"
)

// OpenAIProvider generates meme text via chat completions and meme
// images via the images endpoint of an OpenAI-compatible service.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAIProvider creates a new OpenAI generation provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	def := DefaultOpenAIConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.TextModel == "" {
		cfg.TextModel = def.TextModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = def.ImageModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *OpenAIProvider) Name() string { return "openai-generation" }

// Generate performs a single generation attempt for the requested kind.
func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (*Artifact, error) {
	switch req.Kind {
	case KindText:
		return p.generateText(ctx, req)
	case KindImage:
		return p.generateImage(ctx, req)
	default:
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unsupported artifact kind %q", req.Kind))
	}
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (p *OpenAIProvider) generateText(ctx context.Context, req *Request) (*Artifact, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.TextModel
	}

	body := chatCompletionRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	var cResp chatCompletionResponse
	if err := p.post(ctx, "/chat/completions", body, &cResp); err != nil {
		return nil, err
	}

	if len(cResp.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "empty completion response").
			WithRetryable(true).WithProvider(p.Name())
	}

	// A content_filter finish reason means the generator refused mid-way.
	if cResp.Choices[0].FinishReason == "content_filter" {
		return nil, types.NewError(types.ErrUpstreamRejected, "generator filtered the completion").
			WithProvider(p.Name())
	}

	return &Artifact{
		Kind:         KindText,
		Text:         cResp.Choices[0].Message.Content,
		SourcePrompt: req.Prompt,
		Provider:     p.Name(),
		Model:        model,
		CreatedAt:    time.Unix(cResp.Created, 0),
	}, nil
}

type imageGenerationRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
}

type imageGenerationResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL     string `json:"url,omitempty"`
		B64JSON string `json:"b64_json,omitempty"`
	} `json:"data"`
}

func (p *OpenAIProvider) generateImage(ctx context.Context, req *Request) (*Artifact, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.ImageModel
	}

	body := imageGenerationRequest{
		Model:   model,
		Prompt:  req.Prompt,
		N:       1,
		Size:    req.Size,
		Quality: req.Quality,
	}
	if body.Size == "" {
		body.Size = "1024x1024"
	}

	var iResp imageGenerationResponse
	if err := p.post(ctx, "/images/generations", body, &iResp); err != nil {
		return nil, err
	}

	if len(iResp.Data) == 0 {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "empty image response").
			WithRetryable(true).WithProvider(p.Name())
	}

	return &Artifact{
		Kind:         KindImage,
		ImageURL:     iResp.Data[0].URL,
		ImageB64:     iResp.Data[0].B64JSON,
		SourcePrompt: req.Prompt,
		Provider:     p.Name(),
		Model:        model,
		CreatedAt:    time.Unix(iResp.Created, 0),
	}, nil
}

func (p *OpenAIProvider) post(ctx context.Context, path string, body any, out any) error {
	payload, _ := json.Marshal(body)

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to create request").WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return mapTransportError(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return mapHTTPError(resp.StatusCode, readAPIErrMsg(errBody), p.Name())
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewError(types.ErrUpstreamUnavailable, "failed to decode response").
			WithCause(err).WithRetryable(true).WithProvider(p.Name())
	}
	return nil
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func readAPIErrMsg(body []byte) string {
	var errResp apiErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Code != "" {
			return fmt.Sprintf("%s (code: %s)", errResp.Error.Message, errResp.Error.Code)
		}
		return errResp.Error.Message
	}
	return string(body)
}

// mapTransportError classifies network-level failures. Timeouts map to
// UPSTREAM_TIMEOUT, everything else to UPSTREAM_UNAVAILABLE; both are
// retryable unless the caller's context itself was cancelled.
func mapTransportError(err error, provider string) *types.Error {
	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrUpstreamUnavailable, "request cancelled").
			WithCause(err).WithProvider(provider)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewError(types.ErrUpstreamTimeout, "upstream call timed out").
			WithCause(err).WithRetryable(true).WithProvider(provider)
	}
	return types.NewError(types.ErrUpstreamUnavailable, "upstream call failed").
		WithCause(err).WithRetryable(true).WithProvider(provider)
}

// mapHTTPError classifies upstream HTTP failures. A 400 carrying a
// policy-violation code means the generator itself refused the prompt.
func mapHTTPError(status int, msg string, provider string) *types.Error {
	switch {
	case status == http.StatusBadRequest && isPolicyRefusal(msg):
		return types.NewError(types.ErrUpstreamRejected, msg).WithProvider(provider)
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrUpstreamUnavailable, msg).
			WithRetryable(true).WithProvider(provider)
	case status >= 500:
		return types.NewError(types.ErrUpstreamUnavailable, msg).
			WithRetryable(true).WithProvider(provider)
	default:
		return types.NewError(types.ErrUpstreamUnavailable, msg).WithProvider(provider)
	}
}

func isPolicyRefusal(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "content_policy_violation") ||
		strings.Contains(lower, "moderation_blocked") ||
		strings.Contains(lower, "safety system")
}
