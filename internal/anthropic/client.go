// Package anthropic is a minimal client for the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/types"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "relay-gateway/1.0"
	maxErrorBody    = 64 * 1024
)

// Request is one upstream call. Config keys are merged into the top level of
// the request body; messages, system and stream are always set by the client.
type Request struct {
	Messages []types.Message
	System   string
	Config   map[string]any
}

// Client talks to a single Messages API endpoint. The caller's token is passed
// per call because it arrives with each inbound request.
type Client struct {
	messagesURL      string
	apiVersion       string
	defaultModel     string
	defaultMaxTokens int
	timeout          time.Duration
	headers          map[string]string
	http             *http.Client
}

func NewClient(cfg config.UpstreamConfig, httpClient *http.Client) *Client {
	return &Client{
		messagesURL:      strings.TrimRight(cfg.BaseURL, "/") + "/messages",
		apiVersion:       cfg.APIVersion,
		defaultModel:     cfg.DefaultModel,
		defaultMaxTokens: cfg.DefaultMaxTokens,
		timeout:          cfg.Timeout,
		headers:          cfg.Headers,
		http:             httpClient,
	}
}

// NewHTTPClient builds the pooled transport used for upstream calls. It has no
// overall timeout so long streams are not cut; Chat applies its own deadline.
func NewHTTPClient(cfg config.UpstreamConfig) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConns,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// Chat performs one non-streaming call and returns the decoded reply and its raw body.
func (c *Client) Chat(ctx context.Context, token string, req Request) (*MessageResponse, []byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := c.newRequest(ctx, token, req, false)
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("anthropic chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, nil, parseAPIError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read anthropic response: %w", err)
	}

	var msg MessageResponse
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal anthropic response: %w", err)
	}
	return &msg, body, nil
}

// ChatStream opens a streaming call. The returned Stream owns the response
// body and must be closed by the caller.
func (c *Client) ChatStream(ctx context.Context, token string, req Request) (Stream, error) {
	httpReq, err := c.newRequest(ctx, token, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic stream request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, parseAPIError(resp)
	}
	return newSSEStream(resp.Body), nil
}

func (c *Client) newRequest(ctx context.Context, token string, req Request, stream bool) (*http.Request, error) {
	data, err := json.Marshal(c.buildBody(req, stream))
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("x-api-key", token)
	httpReq.Header.Set("anthropic-version", c.apiVersion)
	for k, v := range c.headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}
	return httpReq, nil
}

func (c *Client) buildBody(req Request, stream bool) map[string]any {
	body := make(map[string]any, len(req.Config)+5)
	maps.Copy(body, req.Config)

	if _, ok := body["model"]; !ok {
		body["model"] = c.defaultModel
	}
	if _, ok := body["max_tokens"]; !ok {
		body["max_tokens"] = c.defaultMaxTokens
	}

	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}
	body["messages"] = messages
	if req.System != "" {
		body["system"] = req.System
	} else {
		delete(body, "system")
	}
	if stream {
		body["stream"] = true
	} else {
		delete(body, "stream")
	}
	return body
}

type apiErrorResponse struct {
	Error APIError `json:"error"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		apiErr.Error.Status = resp.StatusCode
		return &apiErr.Error
	}
	return &APIError{
		Status:  resp.StatusCode,
		Type:    "http_error",
		Message: strings.TrimSpace(string(body)),
	}
}
