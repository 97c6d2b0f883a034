package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/memeflow/feedback"
	"github.com/BaSui01/memeflow/internal/metrics"
	"github.com/BaSui01/memeflow/pipeline"
	"github.com/BaSui01/memeflow/types"
)

// Handler serves the public API.
type Handler struct {
	pipeline *pipeline.Pipeline
	feedback feedback.Store
	metrics  *metrics.Collector
	limiter  *clientLimiter
	logger   *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(p *pipeline.Pipeline, store feedback.Store, collector *metrics.Collector, config Config, logger *zap.Logger) *Handler {
	var limiter *clientLimiter
	if config.RateLimit > 0 {
		limiter = newClientLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}
	return &Handler{
		pipeline: p,
		feedback: store,
		metrics:  collector,
		limiter:  limiter,
		logger:   logger.With(zap.String("component", "api")),
	}
}

// Routes builds the HTTP mux. The metrics endpoint exposes the given
// registry via promhttp.
func (h *Handler) Routes(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/memes", h.instrument("/api/v1/memes", h.handleGenerate))
	mux.HandleFunc("POST /api/v1/feedback", h.instrument("/api/v1/feedback", h.handleFeedback))
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

type generateRequest struct {
	Topic     string `json:"topic"`
	Mood      string `json:"mood"`
	WantText  bool   `json:"want_text"`
	WantImage bool   `json:"want_image"`
}

type generateResponse struct {
	RequestID       string            `json:"request_id"`
	Approved        bool              `json:"approved"`
	Artifacts       *artifactsPayload `json:"artifacts,omitempty"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
}

type artifactsPayload struct {
	Text     string `json:"text,omitempty"`
	ImageRef string `json:"image_ref,omitempty"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid request body")
		return
	}

	result, err := h.pipeline.Handle(r.Context(), &pipeline.Request{
		Topic:     req.Topic,
		Mood:      pipeline.Mood(req.Mood),
		WantText:  req.WantText,
		WantImage: req.WantImage,
	})
	if err != nil {
		h.writePipelineError(w, err)
		return
	}

	resp := generateResponse{
		RequestID: result.RequestID,
		Approved:  result.Approved,
	}
	if result.Approved && result.Artifacts != nil {
		resp.Artifacts = &artifactsPayload{
			Text:     result.Artifacts.Text,
			ImageRef: result.Artifacts.ImageRef,
		}
	} else if !result.Approved {
		resp.RejectionReason = result.Rejection
	}
	writeJSON(w, http.StatusOK, resp)
}

type feedbackRequest struct {
	ArtifactRef string `json:"artifact_ref"`
	ReasonCode  string `json:"reason_code"`
	Comment     string `json:"comment"`
}

type feedbackResponse struct {
	Accepted bool   `json:"accepted"`
	ID       string `json:"id,omitempty"`
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid request body")
		return
	}

	entry := &feedback.Entry{
		ArtifactRef: req.ArtifactRef,
		ReasonCode:  feedback.ReasonCode(req.ReasonCode),
		Comment:     req.Comment,
	}
	if err := h.feedback.Record(r.Context(), entry); err != nil {
		switch types.GetErrorCode(err) {
		case types.ErrUnknownArtifact:
			writeError(w, http.StatusNotFound, types.ErrUnknownArtifact, "unknown artifact reference")
		case types.ErrInvalidRequest:
			writeError(w, http.StatusBadRequest, types.ErrInvalidRequest, errorMessage(err))
		default:
			h.logger.Error("feedback record failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, types.ErrInternalError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, feedbackResponse{Accepted: true, ID: entry.ID})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writePipelineError maps pipeline failures onto HTTP responses without
// leaking upstream detail to callers.
func (h *Handler) writePipelineError(w http.ResponseWriter, err error) {
	code := types.GetErrorCode(err)
	switch code {
	case types.ErrInvalidRequest:
		writeError(w, http.StatusBadRequest, code, errorMessage(err))
	case types.ErrGenerationFailed, types.ErrUpstreamTimeout, types.ErrUpstreamUnavailable:
		writeError(w, http.StatusServiceUnavailable, types.ErrGenerationFailed, "generation is temporarily unavailable, please retry")
	case types.ErrModerationUnavailable:
		writeError(w, http.StatusServiceUnavailable, code, "content could not be verified, please retry")
	default:
		h.logger.Error("pipeline failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, types.ErrInternalError, "internal error")
	}
}

// instrument wraps a handler with rate limiting and request metrics.
func (h *Handler) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, types.ErrInvalidRequest, "rate limit exceeded")
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		if h.metrics != nil {
			h.metrics.ObserveHTTPRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start))
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// clientLimiter keeps a token bucket per client address.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	limit   rate.Limit
	burst   int
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const clientIdleExpiry = 10 * time.Minute

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		clients: make(map[string]*clientBucket),
		limit:   limit,
		burst:   burst,
	}
}

func (l *clientLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	bucket, ok := l.clients[key]
	if !ok {
		l.prune(now)
		bucket = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.Allow()
}

// prune drops buckets idle past expiry. Called with the lock held.
func (l *clientLimiter) prune(now time.Time) {
	for key, bucket := range l.clients {
		if now.Sub(bucket.lastSeen) > clientIdleExpiry {
			delete(l.clients, key)
		}
	}
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

const maxBodyBytes = 64 << 10

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code types.ErrorCode, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: string(code), Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorMessage(err error) string {
	var appErr *types.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "invalid request"
}
