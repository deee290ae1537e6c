package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/af-corp/relay-gateway/internal/config"
)

func testCfg(bundle string) func() config.PolicyConfig {
	return func() config.PolicyConfig {
		return config.PolicyConfig{
			Enabled:           true,
			BundlePath:        bundle,
			EvaluationTimeout: 100 * time.Millisecond,
		}
	}
}

const defaultPolicy = `
package relay.policy

import rego.v1

default allow := true
default reason := ""

deny contains msg if {
	input.request.thinking_budget > 32000
	msg := "thinking budget above 32000 tokens"
}

deny contains msg if {
	input.request.verbose
	input.caller.key_id == ""
	msg := "verbose output requires a gateway key"
}

allow := false if {
	count(deny) > 0
}

reason := concat("; ", deny) if {
	count(deny) > 0
}
`

func loadTestEvaluator(t *testing.T, policy string) *Evaluator {
	t.Helper()
	e := NewEvaluator(testCfg(""))
	if err := e.LoadFromModules(map[string]string{"test.rego": policy}); err != nil {
		t.Fatalf("failed to load policy: %v", err)
	}
	return e
}

func TestEvaluator_Decisions(t *testing.T) {
	e := loadTestEvaluator(t, defaultPolicy)

	tests := []struct {
		name    string
		input   Input
		allowed bool
		reason  string
	}{
		{
			name:    "plain request",
			input:   Input{Request: RequestInput{MessageCount: 1, Model: "claude-3-7-sonnet-20250219"}},
			allowed: true,
		},
		{
			name:    "large thinking budget",
			input:   Input{Request: RequestInput{ThinkingBudget: 64000}},
			allowed: false,
			reason:  "thinking budget above 32000 tokens",
		},
		{
			name:    "verbose anonymous",
			input:   Input{Request: RequestInput{Verbose: true}},
			allowed: false,
			reason:  "verbose output requires a gateway key",
		},
		{
			name:    "verbose with key",
			input:   Input{Request: RequestInput{Verbose: true}, Caller: CallerInput{KeyID: "key-1"}},
			allowed: true,
		},
	}

	for _, tt := range tests {
		allowed, reason, err := e.Evaluate(context.Background(), tt.input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if allowed != tt.allowed {
			t.Errorf("%s: expected allowed=%v, got %v (%s)", tt.name, tt.allowed, allowed, reason)
		}
		if reason != tt.reason {
			t.Errorf("%s: expected reason %q, got %q", tt.name, tt.reason, reason)
		}
	}
}

func TestEvaluator_NoPoliciesLoaded_FailClosed(t *testing.T) {
	e := NewEvaluator(testCfg(""))

	allowed, reason, _ := e.Evaluate(context.Background(), Input{})
	if allowed {
		t.Error("expected denied when no policies loaded")
	}
	if reason != "no policies loaded" {
		t.Errorf("unexpected reason %q", reason)
	}
}

func TestEvaluator_InvalidModule(t *testing.T) {
	e := NewEvaluator(testCfg(""))
	if err := e.LoadFromModules(map[string]string{"bad.rego": "package relay.policy\nallow := "}); err == nil {
		t.Error("expected compile error for invalid module")
	}
}

func TestEvaluator_CustomDenyAllPolicy(t *testing.T) {
	denyAll := `
package relay.policy

import rego.v1

allow := false
reason := "all requests denied"
`
	e := loadTestEvaluator(t, denyAll)

	allowed, reason, err := e.Evaluate(context.Background(), Input{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("expected denied by deny-all policy")
	}
	if reason != "all requests denied" {
		t.Errorf("expected 'all requests denied', got %s", reason)
	}
}

func TestEvaluator_LoadFromBundle(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "relay.rego"), []byte(defaultPolicy), 0o644)
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a policy"), 0o644)

	e := NewEvaluator(testCfg(dir))
	if err := e.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	allowed, _, err := e.Evaluate(context.Background(), Input{Request: RequestInput{MessageCount: 2}})
	if err != nil || !allowed {
		t.Errorf("expected allowed, got %v (%v)", allowed, err)
	}
}

func TestEvaluator_EmptyBundleDenies(t *testing.T) {
	e := NewEvaluator(testCfg(t.TempDir()))
	if err := e.LoadFromModules(map[string]string{"test.rego": defaultPolicy}); err != nil {
		t.Fatal(err)
	}
	if err := e.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if allowed, _, _ := e.Evaluate(context.Background(), Input{}); allowed {
		t.Error("expected reload of an empty bundle to drop the old policies")
	}
}

func TestEvaluator_Disabled(t *testing.T) {
	e := NewEvaluator(func() config.PolicyConfig { return config.PolicyConfig{Enabled: false} })
	if e.Enabled() {
		t.Error("expected evaluator to be disabled")
	}
}

func TestEvaluator_ShippedBundle(t *testing.T) {
	e := NewEvaluator(testCfg(filepath.Join("..", "..", "configs", "policies")))
	if err := e.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	allowed, _, err := e.Evaluate(context.Background(), Input{Request: RequestInput{MessageCount: 1, ThinkingBudget: 16000}})
	if err != nil || !allowed {
		t.Errorf("expected default request allowed, got %v (%v)", allowed, err)
	}
	allowed, reason, _ := e.Evaluate(context.Background(), Input{Request: RequestInput{MessageCount: 1, ThinkingBudget: 64000}})
	if allowed || reason == "" {
		t.Errorf("expected oversized thinking budget denied with a reason, got %v %q", allowed, reason)
	}
}
