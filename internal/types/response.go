package types

import (
	"encoding/json"
	"time"
)

// ContentBlock is one unit of generated output. Type selects which of the
// remaining fields carry data; the others stay empty and are omitted on the wire.
type ContentBlock struct {
	Type        string          `json:"type"`
	Text        string          `json:"text,omitempty"`
	Thinking    string          `json:"thinking,omitempty"`
	Signature   string          `json:"signature,omitempty"`
	Data        string          `json:"data,omitempty"`
	PartialJSON string          `json:"partial_json,omitempty"`
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
}

// Usage is the usage object shared by the JSON response and the usage stream event.
type Usage struct {
	TotalCost string         `json:"total_cost"`
	Breakdown UsageBreakdown `json:"breakdown"`
}

type UsageBreakdown struct {
	InputTokens       int    `json:"input_tokens"`
	OutputTokens      int    `json:"output_tokens"`
	CachedWriteTokens int    `json:"cached_write_tokens"`
	CachedReadTokens  int    `json:"cached_read_tokens"`
	TotalTokens       int    `json:"total_tokens"`
	TotalCost         string `json:"total_cost"`

	// CostUSD is the unrounded cost, kept for metrics and logs.
	CostUSD float64 `json:"-"`
}

// ChatResponse is the aggregated non-streaming response document.
type ChatResponse struct {
	Created          time.Time         `json:"created"`
	Content          []ContentBlock    `json:"content"`
	ProviderResponse *ProviderResponse `json:"provider_response,omitempty"`
	Usage            Usage             `json:"usage"`
}

// ProviderResponse echoes the raw upstream reply when the caller asked for verbose output.
type ProviderResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}
