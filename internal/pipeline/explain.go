package pipeline

import (
	"errors"

	"github.com/fyrsmithlabs/seer/internal/normalize"
	"github.com/fyrsmithlabs/seer/internal/ranking"
	"github.com/fyrsmithlabs/seer/internal/search"
)

// ExplainItem is an article described by hand, outside of a run.
type ExplainItem struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	Snippet       string `json:"snippet,omitempty"`
	PublishedDate string `json:"published_date,omitempty"`
}

// Explanation is the heuristic view of one article.
type Explanation struct {
	Document  normalize.Document `json:"document"`
	Breakdown ranking.Breakdown  `json:"breakdown"`
	Text      string             `json:"text"`
}

// Explain normalizes item the way search results are normalized and
// scores it for profile.
func Explain(scorer *ranking.Scorer, item ExplainItem, profile ranking.UserProfile) (Explanation, error) {
	if scorer == nil {
		return Explanation{}, errors.New("explain: scorer is required")
	}
	if item.URL == "" && item.Title == "" {
		return Explanation{}, errors.New("explain: url or title is required")
	}
	doc := normalize.New(nil, nil).Normalize(search.SearchResult{
		URL:           item.URL,
		Title:         item.Title,
		Text:          item.Snippet,
		PublishedDate: item.PublishedDate,
	})
	return Explanation{
		Document:  doc,
		Breakdown: scorer.Breakdown(doc, profile),
		Text:      scorer.Explain(doc, profile, 0),
	}, nil
}

// Explain scores item with the orchestrator's scorer.
func (o *Orchestrator) Explain(item ExplainItem, profile ranking.UserProfile) (Explanation, error) {
	return Explain(o.scorer, item, profile)
}
