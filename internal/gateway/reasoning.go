package gateway

import (
	"maps"

	"github.com/af-corp/relay-gateway/internal/config"
)

// applyReasoningDefault returns a copy of cfg with an extended-thinking block.
// A caller "reasoning" object is rewritten to the upstream "thinking" shape;
// when neither key is present the configured default is added. Explicit
// caller values always win, and applying it twice changes nothing.
func applyReasoningDefault(cfg map[string]any, def config.ReasoningConfig) map[string]any {
	out := make(map[string]any, len(cfg)+1)
	maps.Copy(out, cfg)

	if r, ok := out["reasoning"]; ok {
		delete(out, "reasoning")
		if _, has := out["thinking"]; !has {
			out["thinking"] = reasoningToThinking(r, def.BudgetTokens)
		}
		return out
	}
	if _, ok := out["thinking"]; ok || !def.Enabled {
		return out
	}
	out["thinking"] = map[string]any{
		"type":          "enabled",
		"budget_tokens": def.BudgetTokens,
	}
	return out
}

// reasoningToThinking rewrites a caller reasoning object. An enabled block
// without a budget gets defaultBudget, since the upstream requires one.
func reasoningToThinking(r any, defaultBudget int) any {
	m, ok := r.(map[string]any)
	if !ok {
		return r
	}
	typ, _ := m["type"].(string)
	if typ == "" {
		typ = "enabled"
	}
	thinking := map[string]any{"type": typ}
	if typ == "disabled" {
		return thinking
	}
	if b, ok := m["budget_tokens"]; ok {
		thinking["budget_tokens"] = b
	} else if b, ok := m["budget"]; ok {
		thinking["budget_tokens"] = b
	} else if defaultBudget > 0 {
		thinking["budget_tokens"] = defaultBudget
	}
	return thinking
}

// thinkingBudget reads the budget out of a merged provider config, for policy input.
func thinkingBudget(cfg map[string]any) int {
	t, ok := cfg["thinking"].(map[string]any)
	if !ok {
		return 0
	}
	return intValue(t["budget_tokens"])
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
