package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/seer/internal/config"
)

const (
	ExaName            = "exa"
	defaultExaBaseURL  = "https://api.exa.ai"
	defaultRecencyDays = 7
)

// Exa searches the Exa neural index. Results carry native scores.
type Exa struct {
	apiKey  string
	baseURL string
	t       *transport
}

type exaRequest struct {
	Query              string      `json:"query"`
	Type               string      `json:"type"`
	UseAutoprompt      bool        `json:"useAutoprompt"`
	NumResults         int         `json:"numResults"`
	StartPublishedDate string      `json:"startPublishedDate,omitempty"`
	IncludeDomains     []string    `json:"includeDomains,omitempty"`
	Contents           exaContents `json:"contents"`
}

type exaContents struct {
	Text bool `json:"text"`
}

type exaResponse struct {
	Results []struct {
		ID            string   `json:"id"`
		Title         string   `json:"title"`
		URL           string   `json:"url"`
		Text          string   `json:"text"`
		Score         *float64 `json:"score"`
		PublishedDate string   `json:"publishedDate"`
		Author        string   `json:"author"`
	} `json:"results"`
}

// NewExa creates an Exa adapter. A missing API key is a fatal
// configuration error.
func NewExa(cfg config.ProviderConfig, opts ...Option) (*Exa, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: exa api_key (EXA_API_KEY) is required", config.ErrFatalConfiguration)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultExaBaseURL
	}
	return &Exa{
		apiKey:  cfg.APIKey.Value(),
		baseURL: strings.TrimRight(baseURL, "/"),
		t:       newTransport(ExaName, cfg, opts),
	}, nil
}

// Name implements Provider.
func (e *Exa) Name() string { return ExaName }

// Search runs a neural search limited to the last c.RecencyDays days
// (7 when unset).
func (e *Exa) Search(ctx context.Context, query string, count int, c Constraints) ([]SearchResult, error) {
	days := c.RecencyDays
	if days <= 0 {
		days = defaultRecencyDays
	}
	if count <= 0 {
		count = 10
	}
	req := exaRequest{
		Query:              query,
		Type:               "neural",
		UseAutoprompt:      true,
		NumResults:         count,
		StartPublishedDate: e.t.now().AddDate(0, 0, -days).Format(time.DateOnly),
		IncludeDomains:     c.Domains,
		Contents:           exaContents{Text: true},
	}

	body, err := e.t.postJSON(ctx, "search", e.baseURL+"/search",
		map[string]string{"x-api-key": e.apiKey}, req)
	if err != nil {
		return nil, err
	}

	var resp exaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, e.t.fail("decode", fmt.Errorf("parse response: %w", err))
	}

	results := make([]SearchResult, 0, len(resp.Results))
	for i, r := range resp.Results {
		id := r.ID
		if id == "" {
			id = r.URL
		}
		score, source := RankScore(i+1), ScoreRank
		if r.Score != nil {
			score, source = *r.Score, ScoreNative
		}
		results = append(results, SearchResult{
			ID:            id,
			Title:         r.Title,
			URL:           r.URL,
			Text:          r.Text,
			Score:         score,
			ScoreSource:   source,
			PublishedDate: r.PublishedDate,
			Author:        r.Author,
			Provider:      ExaName,
		})
	}
	return results, nil
}
