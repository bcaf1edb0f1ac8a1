package search

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/fyrsmithlabs/seer/internal/config"
)

const (
	PerplexityName           = "perplexity"
	defaultPerplexityBaseURL = "https://api.perplexity.ai"
	perplexityMaxResults     = 20
	perplexityMaxDomains     = 20
	perplexityTokensPerPage  = 1024
	rankDecay                = 0.2
)

// Perplexity searches the Perplexity index. It returns no relevance score,
// so results are scored by rank with RankScore.
type Perplexity struct {
	apiKey  string
	baseURL string
	t       *transport
}

type perplexityRequest struct {
	Query              string   `json:"query"`
	MaxResults         int      `json:"max_results"`
	MaxTokensPerPage   int      `json:"max_tokens_per_page"`
	Country            string   `json:"country,omitempty"`
	SearchDomainFilter []string `json:"search_domain_filter,omitempty"`
}

type perplexityResponse struct {
	ID      string `json:"id"`
	Results []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		Snippet     string `json:"snippet"`
		Date        string `json:"date"`
		LastUpdated string `json:"last_updated"`
	} `json:"results"`
}

// NewPerplexity creates a Perplexity adapter. A missing API key is a fatal
// configuration error.
func NewPerplexity(cfg config.ProviderConfig, opts ...Option) (*Perplexity, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: perplexity api_key (PERPLEXITY_SEARCH_API_KEY) is required", config.ErrFatalConfiguration)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultPerplexityBaseURL
	}
	return &Perplexity{
		apiKey:  cfg.APIKey.Value(),
		baseURL: strings.TrimRight(baseURL, "/"),
		t:       newTransport(PerplexityName, cfg, opts),
	}, nil
}

// Name implements Provider.
func (p *Perplexity) Name() string { return PerplexityName }

// Search queries the index. count is clamped to 1..20 and at most 20
// domains are sent.
func (p *Perplexity) Search(ctx context.Context, query string, count int, c Constraints) ([]SearchResult, error) {
	count = min(max(count, 1), perplexityMaxResults)
	domains := c.Domains
	if len(domains) > perplexityMaxDomains {
		domains = domains[:perplexityMaxDomains]
	}
	req := perplexityRequest{
		Query:              query,
		MaxResults:         count,
		MaxTokensPerPage:   perplexityTokensPerPage,
		Country:            c.Country,
		SearchDomainFilter: domains,
	}

	body, err := p.t.postJSON(ctx, "search", p.baseURL+"/search",
		map[string]string{"Authorization": "Bearer " + p.apiKey}, req)
	if err != nil {
		return nil, err
	}

	var resp perplexityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, p.t.fail("decode", fmt.Errorf("parse response: %w", err))
	}

	results := make([]SearchResult, 0, len(resp.Results))
	for i, r := range resp.Results {
		// publication date first, crawl date as fallback
		published := r.Date
		if published == "" {
			published = r.LastUpdated
		}
		results = append(results, SearchResult{
			ID:            r.URL,
			Title:         r.Title,
			URL:           r.URL,
			Text:          r.Snippet,
			Score:         RankScore(i + 1),
			ScoreSource:   ScoreRank,
			PublishedDate: published,
			Provider:      PerplexityName,
		})
	}
	return results, nil
}

// RankScore is the synthetic relevance of the 1-based rank: 1.0, 0.82,
// 0.67, 0.55, ...
func RankScore(rank int) float64 {
	if rank < 1 {
		rank = 1
	}
	return math.Exp(-rankDecay * float64(rank-1))
}
