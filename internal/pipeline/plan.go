package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/search"
)

// Result count bounds for a QueryPlan.
const (
	MinNumResults     = 5
	MaxNumResults     = 50
	DefaultNumResults = 25
)

// QueryPlan describes what to search for in one run.
type QueryPlan struct {
	Queries     []string `json:"queries"`
	NumResults  int      `json:"num_results,omitempty"`
	RecencyDays int      `json:"recency_days,omitempty"`
	Country     string   `json:"country,omitempty"`
	Domains     []string `json:"domains,omitempty"`
}

// Validate checks the plan. A zero NumResults is allowed and replaced by
// the default.
func (p QueryPlan) Validate() error {
	if len(p.queries()) == 0 {
		return fmt.Errorf("%w: at least one query is required", ErrInvalidPlan)
	}
	if p.NumResults != 0 && (p.NumResults < MinNumResults || p.NumResults > MaxNumResults) {
		return fmt.Errorf("%w: num_results must be in [%d,%d], got %d",
			ErrInvalidPlan, MinNumResults, MaxNumResults, p.NumResults)
	}
	if p.RecencyDays < 0 {
		return fmt.Errorf("%w: recency_days must not be negative", ErrInvalidPlan)
	}
	return nil
}

// PerProvider is how many results each provider is asked for per query:
// the requested total split between the two providers, rounded up.
func (p QueryPlan) PerProvider() int {
	n := p.NumResults
	if n == 0 {
		n = DefaultNumResults
	}
	return (n + 1) / 2
}

// Constraints converts the plan filters for the provider adapters.
func (p QueryPlan) Constraints() search.Constraints {
	return search.Constraints{
		RecencyDays: p.RecencyDays,
		Country:     p.Country,
		Domains:     p.Domains,
	}
}

func (p QueryPlan) queries() []string {
	var out []string
	for _, q := range p.Queries {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

func (p QueryPlan) withDefaults(s Settings) QueryPlan {
	p.Queries = p.queries()
	if p.NumResults == 0 {
		p.NumResults = s.DefaultResults
	}
	if p.RecencyDays == 0 {
		p.RecencyDays = s.RecencyDays
	}
	return p
}

// Budgets bound each stage. Zero values disable the bound.
type Budgets struct {
	Run            time.Duration
	SearchTimeout  time.Duration
	SearchMaxItems int
	FuseMaxItems   int
	EmbedTimeout   time.Duration
}

// Settings are the tunables of an Orchestrator.
type Settings struct {
	RRFK             int
	MMRLambda        float64
	FinalCount       int
	NoveltyThreshold float64
	NoveltyWindow    time.Duration
	MinResults       int
	AllowEmpty       bool
	DefaultResults   int
	RecencyDays      int
	Budgets          Budgets
}

// SettingsFromConfig maps the loaded configuration. The rerank timeout is
// enforced by the reranker itself.
func SettingsFromConfig(cfg *config.Config) Settings {
	r, p := cfg.Ranking, cfg.Pipeline
	return Settings{
		RRFK:             r.RRFK,
		MMRLambda:        r.MMRLambda,
		FinalCount:       r.FinalCount,
		NoveltyThreshold: r.NoveltyThreshold,
		NoveltyWindow:    r.NoveltyWindow.Duration(),
		MinResults:       r.MinResults,
		AllowEmpty:       r.AllowEmpty,
		DefaultResults:   p.DefaultResults,
		RecencyDays:      p.RecencyDays,
		Budgets: Budgets{
			Run:            p.RunTimeout.Duration(),
			SearchTimeout:  p.SearchTimeout.Duration(),
			SearchMaxItems: p.SearchMaxItems,
			FuseMaxItems:   p.FuseMaxItems,
			EmbedTimeout:   p.EmbedTimeout.Duration(),
		},
	}
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.Default())
}
