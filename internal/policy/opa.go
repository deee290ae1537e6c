// Package policy evaluates inbound chat requests against OPA Rego policies.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/af-corp/relay-gateway/internal/config"
)

const query = "[data.relay.policy.allow, data.relay.policy.reason]"

// Input is the document exposed to Rego as `input`.
type Input struct {
	Request RequestInput `json:"request"`
	Caller  CallerInput  `json:"caller"`
	Time    TimeInput    `json:"time"`
}

type RequestInput struct {
	Stream         bool   `json:"stream"`
	Verbose        bool   `json:"verbose"`
	MessageCount   int    `json:"message_count"`
	Model          string `json:"model"`
	MaxTokens      int    `json:"max_tokens"`
	ThinkingBudget int    `json:"thinking_budget"`
}

type CallerInput struct {
	KeyID string `json:"key_id"`
	Name  string `json:"name"`
	// MaxBudgetTokens is the key's thinking budget cap, 0 when unlimited.
	MaxBudgetTokens int `json:"max_budget_tokens"`
}

type TimeInput struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// Evaluator holds the compiled policy query. It is safe for concurrent use and
// can be reloaded while requests are being evaluated.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.PolicyConfig
}

// NewEvaluator creates a policy evaluator. Call Load to compile policies.
func NewEvaluator(cfg func() config.PolicyConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

func (e *Evaluator) Enabled() bool { return e.cfg().Enabled }

// Load compiles every .rego file in the configured bundle path. An empty
// bundle leaves the evaluator without policies, which denies everything.
func (e *Evaluator) Load() error {
	cfg := e.cfg()
	modules, err := LoadRegoFiles(cfg.BundlePath)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		slog.Warn("no rego files found", "path", cfg.BundlePath)
		e.mu.Lock()
		e.prepared = nil
		e.mu.Unlock()
		return nil
	}
	if err := e.LoadFromModules(modules); err != nil {
		return err
	}
	slog.Info("opa policies loaded", "modules", len(modules), "path", cfg.BundlePath)
	return nil
}

// LoadFromModules compiles policies from in-memory module sources.
func (e *Evaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(query)}
	for _, name := range slices.Sorted(maps.Keys(modules)) {
		opts = append(opts, rego.Module(name, modules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate runs the policy and returns the decision and the policy's reason.
// Missing policies, evaluation errors and malformed results all deny.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) (bool, string, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return false, "no policies loaded", nil
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, "policy evaluation error", fmt.Errorf("evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result", nil
	}

	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}

	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return allowed, reason, nil
}
