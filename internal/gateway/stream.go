package gateway

import (
	"context"
	"errors"
	"io"
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

type streamOutcome int

const (
	outcomeCompleted streamOutcome = iota // done sent
	outcomeFailed                         // error sent
	outcomeCanceled                       // client went away
)

func (o streamOutcome) String() string {
	switch o {
	case outcomeCompleted:
		return "completed"
	case outcomeFailed:
		return "failed"
	default:
		return "canceled"
	}
}

// status is the value recorded in the request metric. The HTTP status of a
// stream is always 200 once headers are sent.
func (o streamOutcome) status() string {
	switch o {
	case outcomeCompleted:
		return strconv.Itoa(http.StatusOK)
	case outcomeFailed:
		return strconv.Itoa(http.StatusInternalServerError)
	default:
		return "499"
	}
}

type producerResult struct {
	outcome streamOutcome
	err     error
}

// serveStream runs one stream. The producer goroutine owns the upstream
// stream and is the only writer to the event channel; this goroutine is the
// only writer to the response.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, reqID, token string, req anthropic.Request, cfg *config.Config, pricing *config.Pricing, receivedAt time.Time) {
	sw, err := newSSEWriter(w, reqID)
	if err != nil {
		h.breaker.Release()
		slog.Error("cannot start stream", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	tr := newTranslator(pricing)
	events := make(chan types.Event, cfg.Streaming.QueueCapacity)
	result := make(chan producerResult, 1)
	go func() {
		defer close(events)
		outcome, err := h.produce(ctx, reqID, token, req, tr, events)
		result <- producerResult{outcome: outcome, err: err}
	}()

	keepAlive := time.NewTicker(cfg.Streaming.KeepAliveInterval)
	defer keepAlive.Stop()

	written := 0
	writeFailed := false
	var terminal types.EventName
loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			if err := sw.writeEvent(ev); err != nil {
				slog.Warn("stream write failed", "request_id", reqID, "event", ev.Name, "error", err)
				writeFailed = true
				cancel()
				break loop
			}
			written++
			h.metrics.RecordStreamEvent(string(ev.Name))
			if ev.Name.Terminal() {
				// Nothing follows a terminal event; the producer is closing the channel.
				keepAlive.Stop()
				terminal = ev.Name
			}
		case <-keepAlive.C:
			if err := sw.keepAlive(cfg.Streaming.KeepAliveText); err != nil {
				slog.Warn("stream keep-alive failed", "request_id", reqID, "error", err)
				writeFailed = true
				cancel()
				break loop
			}
		}
	}

	res := <-result
	if writeFailed {
		res.outcome = outcomeCanceled
	}

	duration := time.Since(receivedAt)
	var costUSD float64
	if tr.usage != nil {
		costUSD = tr.usage.Breakdown.CostUSD
	}

	attrs := []any{
		"request_id", reqID,
		"outcome", res.outcome.String(),
		"model", tr.pricingModel(),
		"events", written,
		"terminal_event", string(terminal),
		"input_tokens", tr.tokens.Input,
		"output_tokens", tr.tokens.Output,
		"cache_write_tokens", tr.tokens.CacheWrite,
		"cache_read_tokens", tr.tokens.CacheRead,
		"cost_usd", costUSD,
		"duration_ms", duration.Milliseconds(),
		"stream", true,
	}
	if res.err != nil {
		attrs = append(attrs, "error", res.err.Error())
	}
	if res.outcome == outcomeFailed {
		slog.Error("stream completed", attrs...)
	} else {
		slog.Info("stream completed", attrs...)
	}

	h.metrics.RecordRequest(telemetry.RequestLabels{
		Mode:     telemetry.ModeStream,
		Status:   res.outcome.status(),
		Duration: duration,
		Tokens:   tr.tokens,
		CostUSD:  costUSD,
	})
}

// produce drives the upstream stream and emits, in order: start, one
// translated event per relevant upstream event, then exactly one of done or
// error. When ctx is cancelled it stops reading, closes the upstream and
// returns without a terminal event.
func (h *Handler) produce(ctx context.Context, reqID, token string, req anthropic.Request, tr *translator, out chan<- types.Event) (streamOutcome, error) {
	send := func(ev types.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	abandoned := func() (streamOutcome, error) {
		slog.Info("stream consumer gone, closing upstream", "request_id", reqID)
		return outcomeCanceled, ctx.Err()
	}

	if !send(types.StartEvent(h.now())) {
		h.breaker.Release()
		return abandoned()
	}

	stream, err := h.upstream.ChatStream(ctx, token, req)
	if err != nil {
		h.recordUpstream(err)
		if ctx.Err() != nil {
			return abandoned()
		}
		slog.Error("upstream stream open failed", "request_id", reqID, "error", err)
		send(types.ErrorEvent(err.Error(), http.StatusInternalServerError))
		return outcomeFailed, err
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			h.recordUpstream(nil)
			if !send(types.DoneEvent()) {
				return abandoned()
			}
			return outcomeCompleted, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				h.recordUpstream(nil)
				return abandoned()
			}
			h.recordUpstream(err)
			slog.Error("upstream stream failed", "request_id", reqID, "error", err)
			send(types.ErrorEvent(err.Error(), http.StatusInternalServerError))
			return outcomeFailed, err
		}

		translated, ok := tr.translate(ev)
		if !ok {
			continue
		}
		if !send(translated) {
			h.recordUpstream(nil)
			return abandoned()
		}
	}
}
