package gateway

import (
	"github.com/af-corp/relay-gateway/internal/anthropic"
	"github.com/af-corp/relay-gateway/internal/cost"
	"github.com/af-corp/relay-gateway/internal/types"
)

func tokensFrom(u anthropic.Usage) cost.Tokens {
	return cost.Tokens{
		Input:      u.InputTokens,
		Output:     u.OutputTokens,
		CacheWrite: u.CacheCreationInputTokens,
		CacheRead:  u.CacheReadInputTokens,
	}
}

// buildUsage prices tokens for model and renders the usage object.
func buildUsage(model string, tokens cost.Tokens, table *cost.Table) types.Usage {
	c := cost.Cost(model, tokens, table)
	formatted := cost.Format(c)
	return types.Usage{
		TotalCost: formatted,
		Breakdown: types.UsageBreakdown{
			InputTokens:       tokens.Input,
			OutputTokens:      tokens.Output,
			CachedWriteTokens: tokens.CacheWrite,
			CachedReadTokens:  tokens.CacheRead,
			TotalTokens:       tokens.Total(),
			TotalCost:         formatted,
			CostUSD:           c,
		},
	}
}

func mapBlock(b anthropic.ContentBlock) types.ContentBlock {
	return types.ContentBlock{
		Type:      b.Type,
		Text:      b.Text,
		Thinking:  b.Thinking,
		Signature: b.Signature,
		Data:      b.Data,
		ID:        b.ID,
		Name:      b.Name,
		Input:     b.Input,
	}
}

func mapBlocks(blocks []anthropic.ContentBlock) []types.ContentBlock {
	out := make([]types.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, mapBlock(b))
	}
	return out
}
