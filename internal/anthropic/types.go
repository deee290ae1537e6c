package anthropic

import (
	"encoding/json"
	"fmt"
)

// ContentBlock is a content block as the Messages API returns it.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Data      string          `json:"data,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// MessageResponse is the body of a non-streaming reply and the message of message_start.
type MessageResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// Delta is the payload of content_block_delta.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	Data        string `json:"data,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// MessageDelta is the delta payload of message_delta.
type MessageDelta struct {
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

type EventType string

const (
	EventMessageStart      EventType = "message_start"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventMessageDelta      EventType = "message_delta"
	EventMessageStop       EventType = "message_stop"
	EventPing              EventType = "ping"
	EventError             EventType = "error"
	EventUnknown           EventType = "unknown"
)

// StreamEvent is one upstream streaming event. Type is the discriminant; only
// the payload fields belonging to that type are set:
//
//	message_start        Message
//	content_block_start  Index, ContentBlock
//	content_block_delta  Index, Delta
//	content_block_stop   Index
//	message_delta        MessageDelta, Usage (optional)
//	error                Error
//
// Types this package does not know decode as EventUnknown with Name holding
// the original type string.
type StreamEvent struct {
	Type EventType
	Name string

	Index        int
	Message      *MessageResponse
	ContentBlock *ContentBlock
	Delta        *Delta
	MessageDelta *MessageDelta
	Usage        *Usage
	Error        *APIError
}

type rawStreamEvent struct {
	Type         string           `json:"type"`
	Index        int              `json:"index"`
	Message      *MessageResponse `json:"message"`
	ContentBlock *ContentBlock    `json:"content_block"`
	Delta        json.RawMessage  `json:"delta"`
	Usage        *Usage           `json:"usage"`
	Error        *APIError        `json:"error"`
}

func knownEventType(t EventType) bool {
	switch t {
	case EventMessageStart, EventContentBlockStart, EventContentBlockDelta, EventContentBlockStop,
		EventMessageDelta, EventMessageStop, EventPing, EventError:
		return true
	}
	return false
}

// decodeStreamEvent decodes one SSE frame. The JSON "type" field wins over the
// SSE event name when both are present. The payload of a type this package
// does not know is never decoded, so it cannot fail.
func decodeStreamEvent(name string, data []byte) (StreamEvent, error) {
	var head struct {
		Type string `json:"type"`
	}
	headErr := json.Unmarshal(data, &head)
	typ := head.Type
	if headErr != nil || typ == "" {
		typ = name
	}
	if typ == "" && headErr != nil {
		return StreamEvent{}, fmt.Errorf("decode stream event: %w", headErr)
	}
	if !knownEventType(EventType(typ)) {
		return StreamEvent{Type: EventUnknown, Name: typ}, nil
	}
	if headErr != nil {
		return StreamEvent{}, fmt.Errorf("decode stream event %q: %w", typ, headErr)
	}

	var raw rawStreamEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return StreamEvent{}, fmt.Errorf("decode stream event %q: %w", typ, err)
	}

	ev := StreamEvent{Type: EventType(typ), Name: typ, Index: raw.Index}
	switch ev.Type {
	case EventMessageStart:
		if raw.Message == nil {
			return StreamEvent{}, fmt.Errorf("message_start without message")
		}
		ev.Message = raw.Message
	case EventContentBlockStart:
		ev.ContentBlock = raw.ContentBlock
	case EventContentBlockDelta:
		var d Delta
		if err := json.Unmarshal(raw.Delta, &d); err != nil {
			return StreamEvent{}, fmt.Errorf("decode content_block_delta: %w", err)
		}
		ev.Delta = &d
	case EventMessageDelta:
		var md MessageDelta
		if len(raw.Delta) > 0 {
			if err := json.Unmarshal(raw.Delta, &md); err != nil {
				return StreamEvent{}, fmt.Errorf("decode message_delta: %w", err)
			}
		}
		ev.MessageDelta = &md
		ev.Usage = raw.Usage
	case EventError:
		apiErr := raw.Error
		if apiErr == nil {
			apiErr = &APIError{Type: "unknown_error", Message: string(data)}
		}
		ev.Error = apiErr
	}
	return ev, nil
}

// APIError is an error reported by the upstream, either as an HTTP error body
// or as an in-stream error event.
type APIError struct {
	Status  int    `json:"-"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("anthropic error %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic error (%s): %s", e.Type, e.Message)
}
