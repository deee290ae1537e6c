package types

// ChatRequest is the inbound unified chat request. It is not modified after decoding;
// handlers derive new values from it instead.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	System   string    `json:"system,omitempty"`
	Stream   bool      `json:"stream"`
	Verbose  bool      `json:"verbose"`

	// ProviderConfig is forwarded to the upstream as extra top-level body fields
	// (model, max_tokens, temperature, thinking, ...).
	ProviderConfig map[string]any `json:"provider_config,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
