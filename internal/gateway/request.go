package gateway

import (
	"errors"
	"fmt"

	"github.com/af-corp/relay-gateway/internal/types"
)

var (
	ErrNoMessages          = errors.New("messages must not be empty")
	ErrInvalidRole         = errors.New("invalid message role")
	ErrInvalidSystemPrompt = errors.New("invalid system prompt placement")
)

// validateRequest checks a decoded request before anything is sent upstream.
// A system prompt may come from the system field or from a leading system
// message, never both and never later in the conversation.
func validateRequest(req *types.ChatRequest) error {
	if len(req.Messages) == 0 {
		return ErrNoMessages
	}
	for i, m := range req.Messages {
		switch m.Role {
		case types.RoleUser, types.RoleAssistant:
		case types.RoleSystem:
			if req.System != "" {
				return fmt.Errorf("%w: system field and system message both set", ErrInvalidSystemPrompt)
			}
			if i != 0 {
				return fmt.Errorf("%w: system message at position %d", ErrInvalidSystemPrompt, i)
			}
		default:
			return fmt.Errorf("%w %q at position %d", ErrInvalidRole, m.Role, i)
		}
	}
	if len(conversation(req)) == 0 {
		return ErrNoMessages
	}
	return nil
}

// systemPrompt returns the system field or the content of a leading system message.
func systemPrompt(req *types.ChatRequest) string {
	if req.System != "" {
		return req.System
	}
	if len(req.Messages) > 0 && req.Messages[0].Role == types.RoleSystem {
		return req.Messages[0].Content
	}
	return ""
}

// conversation returns the messages without system entries.
func conversation(req *types.ChatRequest) []types.Message {
	out := make([]types.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role != types.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
