package gateway

import (
	"github.com/af-corp/relay-gateway/internal/anthropic"
	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/cost"
	"github.com/af-corp/relay-gateway/internal/types"
)

// translator turns upstream stream events into downstream events. One
// translator serves one stream; its fields are the state carried between
// events.
type translator struct {
	pricing *config.Pricing

	// model and startUsage come from message_start. Later message_delta usage
	// often reports only output tokens.
	model      string
	startUsage anthropic.Usage

	usage  *types.Usage
	tokens cost.Tokens
}

func newTranslator(pricing *config.Pricing) *translator {
	return &translator{pricing: pricing}
}

// translate maps one upstream event to at most one downstream event.
func (t *translator) translate(ev anthropic.StreamEvent) (types.Event, bool) {
	switch ev.Type {
	case anthropic.EventMessageStart:
		if ev.Message == nil {
			return types.Event{}, false
		}
		t.model = ev.Message.Model
		t.startUsage = ev.Message.Usage
		if len(ev.Message.Content) == 0 {
			return types.Event{}, false
		}
		return types.ContentEvent(mapBlocks(ev.Message.Content)), true

	case anthropic.EventContentBlockDelta:
		if ev.Delta == nil {
			return types.Event{}, false
		}
		return types.ContentEvent([]types.ContentBlock{deltaBlock(*ev.Delta)}), true

	case anthropic.EventMessageDelta:
		if ev.Usage == nil {
			return types.Event{}, false
		}
		t.tokens = t.mergeUsage(*ev.Usage)
		usage := buildUsage(t.pricingModel(), t.tokens, t.pricing.Table)
		t.usage = &usage
		return types.UsageEvent(usage), true

	case anthropic.EventMessageStop:
		return types.MessageStopEvent(), true

	default:
		return types.Event{}, false
	}
}

// deltaBlock builds the single content block for a content_block_delta.
func deltaBlock(d anthropic.Delta) types.ContentBlock {
	if isThinkingDelta(d.Type) {
		return types.ContentBlock{
			Type:      d.Type,
			Thinking:  d.Thinking,
			Signature: d.Signature,
			Data:      d.Data,
		}
	}
	return types.ContentBlock{
		Type:        d.Type,
		Text:        d.Text,
		Signature:   d.Signature,
		Data:        d.Data,
		PartialJSON: d.PartialJSON,
	}
}

func isThinkingDelta(tag string) bool {
	return tag == "thinking" || tag == "thinking_delta"
}

// mergeUsage fills counters the delta left at zero from message_start.
func (t *translator) mergeUsage(u anthropic.Usage) cost.Tokens {
	tokens := tokensFrom(u)
	if tokens.Input == 0 {
		tokens.Input = t.startUsage.InputTokens
	}
	if tokens.CacheWrite == 0 {
		tokens.CacheWrite = t.startUsage.CacheCreationInputTokens
	}
	if tokens.CacheRead == 0 {
		tokens.CacheRead = t.startUsage.CacheReadInputTokens
	}
	return tokens
}

// pricingModel is the model named by message_start, or the configured
// stream model when the upstream never sent one.
func (t *translator) pricingModel() string {
	if t.model != "" {
		return t.model
	}
	return t.pricing.StreamModel
}
