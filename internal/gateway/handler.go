package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/relay-gateway/internal/anthropic"
	"github.com/af-corp/relay-gateway/internal/auth"
	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/health"
	"github.com/af-corp/relay-gateway/internal/httputil"
	"github.com/af-corp/relay-gateway/internal/policy"
	"github.com/af-corp/relay-gateway/internal/telemetry"
	"github.com/af-corp/relay-gateway/internal/types"
)

// Upstream is the Messages API client used by the handler.
type Upstream interface {
	Chat(ctx context.Context, token string, req anthropic.Request) (*anthropic.MessageResponse, []byte, error)
	ChatStream(ctx context.Context, token string, req anthropic.Request) (anthropic.Stream, error)
}

// PolicyEvaluator decides whether a request may proceed.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input policy.Input) (bool, string, error)
}

// Handler holds dependencies for the chat endpoint.
type Handler struct {
	upstream Upstream
	cfg      func() *config.Config
	pricing  func() *config.Pricing
	breaker  *health.Breaker
	policy   PolicyEvaluator
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// NewHandler builds the chat handler. evaluator and metrics may be nil.
func NewHandler(upstream Upstream, cfg func() *config.Config, pricing func() *config.Pricing, breaker *health.Breaker, evaluator PolicyEvaluator, metrics *telemetry.Metrics) *Handler {
	if breaker == nil {
		c := cfg().Breaker
		breaker = health.NewBreaker(c.FailureThreshold, c.RecoveryProbeInterval)
	}
	return &Handler{
		upstream: upstream,
		cfg:      cfg,
		pricing:  pricing,
		breaker:  breaker,
		policy:   evaluator,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Chat handles POST /v1/chat and /v1/chat/completions.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := h.now()
	cfg := h.cfg()
	pricing := h.pricing()

	tokenHeader := cfg.Upstream.TokenHeader
	token, err := auth.ExtractUpstreamToken(r.Header, tokenHeader)
	if err != nil {
		h.rejected(telemetry.ModeUnknown, http.StatusBadRequest, receivedAt)
		if errors.Is(err, auth.ErrMissingToken) {
			httputil.WriteMissingHeaderError(w, reqID, "Missing required header "+tokenHeader)
			return
		}
		httputil.WriteBadRequestError(w, reqID, "Header "+tokenHeader+" must be valid UTF-8 without control characters")
		return
	}

	body := r.Body
	if cfg.Server.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, cfg.Server.MaxBodyBytes)
	}
	defer body.Close()

	var req types.ChatRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.rejected(telemetry.ModeUnknown, http.StatusBadRequest, receivedAt)
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}

	mode := telemetry.ModeNonStream
	if req.Stream {
		mode = telemetry.ModeStream
	}

	if err := validateRequest(&req); err != nil {
		h.rejected(mode, http.StatusBadRequest, receivedAt)
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return
	}

	providerCfg := applyReasoningDefault(req.ProviderConfig, cfg.Reasoning)

	if info, ok := auth.AuthFromContext(r.Context()); ok && info.MaxBudgetTokens != nil {
		if budget := thinkingBudget(providerCfg); budget > *info.MaxBudgetTokens {
			slog.Warn("thinking budget above key limit", "request_id", reqID, "key_id", info.KeyID, "budget", budget, "limit", *info.MaxBudgetTokens)
			h.metrics.RecordPolicyDenial()
			h.rejected(mode, http.StatusForbidden, receivedAt)
			httputil.WritePolicyDeniedError(w, reqID,
				fmt.Sprintf("Thinking budget %d exceeds key limit %d", budget, *info.MaxBudgetTokens))
			return
		}
	}

	if h.policy != nil {
		allowed, reason, err := h.policy.Evaluate(r.Context(), policyInput(r, &req, providerCfg, cfg, receivedAt))
		if err != nil || !allowed {
			if err != nil {
				slog.Error("policy evaluation failed", "request_id", reqID, "error", err)
			} else {
				slog.Warn("request denied by policy", "request_id", reqID, "reason", reason)
			}
			h.metrics.RecordPolicyDenial()
			h.rejected(mode, http.StatusForbidden, receivedAt)
			httputil.WritePolicyDeniedError(w, reqID, "Request denied by policy: "+reason)
			return
		}
	}

	if !h.breaker.Allow() {
		slog.Warn("upstream circuit open, rejecting request", "request_id", reqID)
		h.rejected(mode, http.StatusServiceUnavailable, receivedAt)
		httputil.WriteServiceUnavailableError(w, reqID, "Upstream temporarily unavailable")
		return
	}

	upReq := anthropic.Request{
		Messages: conversation(&req),
		System:   systemPrompt(&req),
		Config:   providerCfg,
	}

	slog.Debug("dispatching request",
		"request_id", reqID,
		"stream", req.Stream,
		"messages", len(upReq.Messages),
		"token_prefix", auth.SafePrefix(token),
	)

	if req.Stream {
		h.serveStream(w, r, reqID, token, upReq, cfg, pricing, receivedAt)
		return
	}
	h.serveNonStream(w, r, reqID, token, upReq, req.Verbose, pricing, receivedAt)
}

func (h *Handler) rejected(mode string, status int, receivedAt time.Time) {
	h.metrics.RecordRequest(telemetry.RequestLabels{
		Mode:     mode,
		Status:   strconv.Itoa(status),
		Duration: time.Since(receivedAt),
	})
}

// recordUpstream feeds the outcome of an upstream call to the breaker.
// Caller mistakes (4xx other than 429) prove the upstream is reachable.
func (h *Handler) recordUpstream(err error) {
	switch {
	case err == nil:
		h.breaker.RecordSuccess()
	case errors.Is(err, context.Canceled):
		h.breaker.Release()
	case upstreamFault(err):
		h.breaker.RecordFailure()
	default:
		h.breaker.RecordSuccess()
	}
}

func upstreamFault(err error) bool {
	var apiErr *anthropic.APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	if apiErr.Status == 0 {
		// in-stream error event
		return true
	}
	return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests
}

func policyInput(r *http.Request, req *types.ChatRequest, providerCfg map[string]any, cfg *config.Config, at time.Time) policy.Input {
	model, _ := providerCfg["model"].(string)
	if model == "" {
		model = cfg.Upstream.DefaultModel
	}
	maxTokens := intValue(providerCfg["max_tokens"])
	if maxTokens == 0 {
		maxTokens = cfg.Upstream.DefaultMaxTokens
	}

	in := policy.Input{
		Request: policy.RequestInput{
			Stream:         req.Stream,
			Verbose:        req.Verbose,
			MessageCount:   len(req.Messages),
			Model:          model,
			MaxTokens:      maxTokens,
			ThinkingBudget: thinkingBudget(providerCfg),
		},
		Time: policy.TimeInput{
			Hour: at.UTC().Hour(),
			Day:  at.UTC().Weekday().String(),
		},
	}
	if info, ok := auth.AuthFromContext(r.Context()); ok {
		in.Caller = policy.CallerInput{KeyID: info.KeyID, Name: info.Name}
		if info.MaxBudgetTokens != nil {
			in.Caller.MaxBudgetTokens = *info.MaxBudgetTokens
		}
	}
	return in
}
