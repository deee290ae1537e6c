package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventName is the SSE event name of a downstream event.
type EventName string

const (
	EventStart       EventName = "start"
	EventContent     EventName = "content"
	EventUsage       EventName = "usage"
	EventMessageStop EventName = "message_stop"
	EventError       EventName = "error"
	EventDone        EventName = "done"
)

// Terminal reports whether the event closes a stream.
func (n EventName) Terminal() bool {
	return n == EventDone || n == EventError
}

// Event is one downstream stream event. Name selects the populated fields:
//
//	start        Created
//	content      Content
//	usage        Usage
//	message_stop (none)
//	error        Message, Code
//	done         (none)
type Event struct {
	Name    EventName
	Created time.Time
	Content []ContentBlock
	Usage   *Usage
	Message string
	Code    int
}

func StartEvent(at time.Time) Event { return Event{Name: EventStart, Created: at} }

func ContentEvent(blocks []ContentBlock) Event { return Event{Name: EventContent, Content: blocks} }

func UsageEvent(u Usage) Event { return Event{Name: EventUsage, Usage: &u} }

func MessageStopEvent() Event { return Event{Name: EventMessageStop} }

func ErrorEvent(message string, code int) Event {
	return Event{Name: EventError, Message: message, Code: code}
}

func DoneEvent() Event { return Event{Name: EventDone} }

type startPayload struct {
	Created time.Time `json:"created"`
}

type contentPayload struct {
	Content []ContentBlock `json:"content"`
}

type usagePayload struct {
	Usage Usage `json:"usage"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// MarshalJSON encodes only the payload belonging to the event name.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Name {
	case EventStart:
		return json.Marshal(startPayload{Created: e.Created})
	case EventContent:
		content := e.Content
		if content == nil {
			content = []ContentBlock{}
		}
		return json.Marshal(contentPayload{Content: content})
	case EventUsage:
		if e.Usage == nil {
			return nil, fmt.Errorf("usage event without usage")
		}
		return json.Marshal(usagePayload{Usage: *e.Usage})
	case EventError:
		return json.Marshal(errorPayload{Message: e.Message, Code: e.Code})
	case EventMessageStop, EventDone:
		return []byte("{}"), nil
	default:
		return nil, fmt.Errorf("unknown event name %q", e.Name)
	}
}
