package gateway

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/relay-gateway/internal/anthropic"
	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/httputil"
	"github.com/af-corp/relay-gateway/internal/telemetry"
	"github.com/af-corp/relay-gateway/internal/types"
)

func (h *Handler) serveNonStream(w http.ResponseWriter, r *http.Request, reqID, token string, req anthropic.Request, verbose bool, pricing *config.Pricing, receivedAt time.Time) {
	msg, raw, err := h.upstream.Chat(r.Context(), token, req)
	h.recordUpstream(err)
	if err != nil {
		slog.Error("upstream request failed", "request_id", reqID, "error", err)
		h.metrics.RecordRequest(telemetry.RequestLabels{
			Mode:     telemetry.ModeNonStream,
			Status:   strconv.Itoa(http.StatusBadGateway),
			Duration: time.Since(receivedAt),
		})
		httputil.WriteUpstreamError(w, reqID, "Upstream request failed: "+err.Error())
		return
	}

	resp := buildChatResponse(msg, raw, verbose, pricing, receivedAt)
	duration := time.Since(receivedAt)
	b := resp.Usage.Breakdown

	slog.Info("request completed",
		"request_id", reqID,
		"model", msg.Model,
		"stop_reason", msg.StopReason,
		"input_tokens", b.InputTokens,
		"output_tokens", b.OutputTokens,
		"cache_write_tokens", b.CachedWriteTokens,
		"cache_read_tokens", b.CachedReadTokens,
		"total_tokens", b.TotalTokens,
		"cost_usd", b.CostUSD,
		"duration_ms", duration.Milliseconds(),
		"status_code", http.StatusOK,
		"stream", false,
	)

	h.metrics.RecordRequest(telemetry.RequestLabels{
		Mode:     telemetry.ModeNonStream,
		Status:   strconv.Itoa(http.StatusOK),
		Duration: duration,
		Tokens:   tokensFrom(msg.Usage),
		CostUSD:  b.CostUSD,
	})

	if err := httputil.WriteJSON(w, reqID, resp); err != nil {
		slog.Warn("write response failed", "request_id", reqID, "error", err)
	}
}

// buildChatResponse aggregates one upstream reply. Cost is computed once
// from the model the upstream reports.
func buildChatResponse(msg *anthropic.MessageResponse, raw []byte, verbose bool, pricing *config.Pricing, created time.Time) types.ChatResponse {
	model := msg.Model
	if model == "" {
		model = pricing.StreamModel
	}
	resp := types.ChatResponse{
		Created: created,
		Content: mapBlocks(msg.Content),
		Usage:   buildUsage(model, tokensFrom(msg.Usage), pricing.Table),
	}
	if verbose {
		resp.ProviderResponse = &types.ProviderResponse{
			Status:  http.StatusOK,
			Headers: map[string]string{},
			Body:    raw,
		}
	}
	return resp
}

