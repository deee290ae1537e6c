package config

import (
	"fmt"

	"github.com/af-corp/relay-gateway/internal/cost"
)

// PricingConfig is the on-disk form of pricing.yaml.
type PricingConfig struct {
	DefaultFamily string       `yaml:"default_family"`
	StreamModel   string       `yaml:"stream_model"`
	Families      []PriceEntry `yaml:"families"`
}

// PriceEntry is one model family, priced per million tokens.
type PriceEntry struct {
	Name       string  `yaml:"name"`
	Match      string  `yaml:"match"`
	Input      float64 `yaml:"input"`
	Output     float64 `yaml:"output"`
	CacheWrite float64 `yaml:"cache_write"`
	CacheRead  float64 `yaml:"cache_read"`
}

// Pricing is the resolved, read-only pricing state handed to each request.
type Pricing struct {
	Table *cost.Table
	// StreamModel prices mid-stream usage when the upstream never named its model.
	StreamModel string
}

// Build converts the file form into an immutable Pricing.
func (p *PricingConfig) Build() (*Pricing, error) {
	families := make([]cost.Family, 0, len(p.Families))
	for _, e := range p.Families {
		name := e.Name
		if name == "" {
			name = e.Match
		}
		families = append(families, cost.Family{
			Name:  name,
			Match: e.Match,
			Price: cost.Price{
				Input:      e.Input,
				Output:     e.Output,
				CacheWrite: e.CacheWrite,
				CacheRead:  e.CacheRead,
			},
		})
	}
	table, err := cost.NewTable(families, p.DefaultFamily)
	if err != nil {
		return nil, fmt.Errorf("build pricing table: %w", err)
	}
	if p.StreamModel == "" {
		return nil, fmt.Errorf("pricing.stream_model must be set")
	}
	return &Pricing{Table: table, StreamModel: p.StreamModel}, nil
}
