// Package cost prices token usage against a per-family pricing table.
package cost

import (
	"fmt"
	"strings"
)

const tokensPerMillion = 1_000_000.0

// Price holds per-million-token prices in USD.
type Price struct {
	Input      float64
	Output     float64
	CacheWrite float64
	CacheRead  float64
}

// Family maps a model-id substring to its prices.
type Family struct {
	Name  string
	Match string
	Price Price
}

// Tokens is the token breakdown of one usage report.
type Tokens struct {
	Input      int
	Output     int
	CacheWrite int
	CacheRead  int
}

// Total returns input + output tokens. Cache tokens are billed separately and not counted.
func (t Tokens) Total() int {
	return t.Input + t.Output
}

// Table resolves model ids to prices. It is never mutated after NewTable returns,
// so a single *Table can be shared by every in-flight request.
type Table struct {
	families []Family
	fallback Family
}

// NewTable builds a table from families listed in match priority order.
// defaultFamily names the family used when no substring matches.
func NewTable(families []Family, defaultFamily string) (*Table, error) {
	if len(families) == 0 {
		return nil, fmt.Errorf("pricing table has no families")
	}
	t := &Table{families: make([]Family, len(families))}
	copy(t.families, families)

	found := false
	for _, f := range t.families {
		if f.Match == "" {
			return nil, fmt.Errorf("pricing family %q has empty match", f.Name)
		}
		if f.Price.Input < 0 || f.Price.Output < 0 || f.Price.CacheWrite < 0 || f.Price.CacheRead < 0 {
			return nil, fmt.Errorf("pricing family %q has negative price", f.Name)
		}
		if f.Name == defaultFamily {
			t.fallback = f
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("default pricing family %q not defined", defaultFamily)
	}
	return t, nil
}

// Resolve returns the first family whose match string is contained in model,
// or the default family when none matches.
func (t *Table) Resolve(model string) Family {
	for _, f := range t.families {
		if strings.Contains(model, f.Match) {
			return f
		}
	}
	return t.fallback
}

// Families returns a copy of the families in priority order.
func (t *Table) Families() []Family {
	out := make([]Family, len(t.families))
	copy(out, t.families)
	return out
}

// Cost computes the USD cost of tokens for model. The result is not rounded.
func Cost(model string, tokens Tokens, table *Table) float64 {
	p := table.Resolve(model).Price
	return float64(tokens.Input)/tokensPerMillion*p.Input +
		float64(tokens.Output)/tokensPerMillion*p.Output +
		float64(tokens.CacheWrite)/tokensPerMillion*p.CacheWrite +
		float64(tokens.CacheRead)/tokensPerMillion*p.CacheRead
}

// Format renders a cost as a dollar string with three decimals.
func Format(c float64) string {
	return fmt.Sprintf("$%.3f", c)
}
