package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/af-corp/relay-gateway/internal/anthropic"
	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/health"
	"github.com/af-corp/relay-gateway/internal/telemetry"
)

const streamBody = `{"messages":[{"role":"user","content":"hi"}],"stream":true}`

func newChatRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Anthropic-API-Token", "sk-ant-test")
	return req
}

func runChat(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-test")
	h.Chat(w, req)
	return w
}

func testPricing(t *testing.T) *config.Pricing {
	t.Helper()
	p, err := (&config.PricingConfig{
		DefaultFamily: "sonnet",
		StreamModel:   "claude-3-7-sonnet-20250219",
		Families: []config.PriceEntry{
			{Name: "opus", Match: "opus", Input: 15, Output: 75, CacheWrite: 18.75, CacheRead: 1.5},
			{Name: "sonnet", Match: "sonnet", Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.3},
			{Name: "haiku", Match: "haiku", Input: 0.8, Output: 4, CacheWrite: 1, CacheRead: 0.08},
		},
	}).Build()
	if err != nil {
		t.Fatalf("build pricing: %v", err)
	}
	return p
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Streaming.KeepAliveInterval = time.Hour
	return cfg
}

// fakeStream replays events, then ends with err (io.EOF when nil). With
// block set it waits for ctx instead of ending.
type fakeStream struct {
	ctx    context.Context
	events []anthropic.StreamEvent
	err    error
	block  bool
	delay  time.Duration
	pos    int
	closed *atomic.Bool
}

func (s *fakeStream) Recv() (anthropic.StreamEvent, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
			return anthropic.StreamEvent{}, s.ctx.Err()
		}
	}
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.block {
		<-s.ctx.Done()
		return anthropic.StreamEvent{}, s.ctx.Err()
	}
	if s.err != nil {
		return anthropic.StreamEvent{}, s.err
	}
	return anthropic.StreamEvent{}, io.EOF
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeUpstream struct {
	chatResp *anthropic.MessageResponse
	chatRaw  []byte
	chatErr  error

	events    []anthropic.StreamEvent
	streamErr error
	openErr   error
	block     bool
	delay     time.Duration
	opened    chan struct{}

	calls    atomic.Int32
	closed   atomic.Bool
	gotReq   anthropic.Request
	gotToken string
}

func (f *fakeUpstream) Chat(ctx context.Context, token string, req anthropic.Request) (*anthropic.MessageResponse, []byte, error) {
	f.calls.Add(1)
	f.gotReq, f.gotToken = req, token
	if f.chatErr != nil {
		return nil, nil, f.chatErr
	}
	return f.chatResp, f.chatRaw, nil
}

func (f *fakeUpstream) ChatStream(ctx context.Context, token string, req anthropic.Request) (anthropic.Stream, error) {
	f.calls.Add(1)
	f.gotReq, f.gotToken = req, token
	if f.opened != nil {
		close(f.opened)
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeStream{
		ctx:    ctx,
		events: f.events,
		err:    f.streamErr,
		block:  f.block,
		delay:  f.delay,
		closed: &f.closed,
	}, nil
}

func newTestHandler(t *testing.T, up Upstream, cfg *config.Config, evaluator PolicyEvaluator) (*Handler, *telemetry.Metrics) {
	t.Helper()
	pricing := testPricing(t)
	metrics := telemetry.NewMetricsWith(prometheus.NewRegistry())
	breaker := health.NewBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.RecoveryProbeInterval)
	h := NewHandler(up,
		func() *config.Config { return cfg },
		func() *config.Pricing { return pricing },
		breaker, evaluator, metrics)
	h.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return h, metrics
}

type sseEvent struct {
	name string
	data map[string]any
}

// parseSSE splits a recorded stream body into named events. Comment frames
// are counted separately.
func parseSSE(t *testing.T, body string) (events []sseEvent, comments int) {
	t.Helper()
	for _, frame := range strings.Split(body, "\n\n") {
		if frame == "" {
			continue
		}
		if strings.HasPrefix(frame, ":") {
			comments++
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(frame, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.data); err != nil {
					t.Fatalf("bad event data %q: %v", line, err)
				}
			}
		}
		events = append(events, ev)
	}
	return events, comments
}

func eventNames(events []sseEvent) []string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.name
	}
	return names
}

func messageStart(model string, usage anthropic.Usage, content ...anthropic.ContentBlock) anthropic.StreamEvent {
	return anthropic.StreamEvent{
		Type: anthropic.EventMessageStart,
		Name: string(anthropic.EventMessageStart),
		Message: &anthropic.MessageResponse{
			Model:   model,
			Content: content,
			Usage:   usage,
		},
	}
}

func textDelta(text string) anthropic.StreamEvent {
	return anthropic.StreamEvent{
		Type:  anthropic.EventContentBlockDelta,
		Delta: &anthropic.Delta{Type: "text_delta", Text: text},
	}
}

func messageDelta(usage *anthropic.Usage) anthropic.StreamEvent {
	return anthropic.StreamEvent{
		Type:         anthropic.EventMessageDelta,
		MessageDelta: &anthropic.MessageDelta{StopReason: "end_turn"},
		Usage:        usage,
	}
}

func simple(typ anthropic.EventType) anthropic.StreamEvent {
	return anthropic.StreamEvent{Type: typ, Name: string(typ)}
}
