package search

import (
	"fmt"

	"github.com/fyrsmithlabs/seer/internal/config"
)

// FromConfig builds every enabled provider. At least one must be enabled.
func FromConfig(cfg *config.Config, opts ...Option) ([]Provider, error) {
	var providers []Provider
	if cfg.Exa.Enabled() {
		exa, err := NewExa(cfg.Exa, opts...)
		if err != nil {
			return nil, err
		}
		providers = append(providers, exa)
	}
	if cfg.Perplexity.Enabled() {
		pplx, err := NewPerplexity(cfg.Perplexity, opts...)
		if err != nil {
			return nil, err
		}
		providers = append(providers, pplx)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no search provider enabled", config.ErrFatalConfiguration)
	}
	return providers, nil
}
