package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/pipeline"
	"github.com/fyrsmithlabs/seer/internal/ranking"
)

// profileInput is shared by both tools.
type profileInput struct {
	UserID     string   `json:"user_id,omitempty" jsonschema:"User ID; enables novelty filtering against past deliveries"`
	Role       string   `json:"role,omitempty" jsonschema:"Job role, e.g. CTO"`
	Industries []string `json:"industries,omitempty" jsonschema:"Industries the user works in"`
	Interests  []string `json:"interests,omitempty" jsonschema:"Topics of interest"`
	Tools      []string `json:"tools,omitempty" jsonschema:"Tools and products the user follows"`
	Problems   []string `json:"problems,omitempty" jsonschema:"Problems the user is trying to solve"`
}

func (p profileInput) profile() ranking.UserProfile {
	return ranking.UserProfile{
		UserID:     p.UserID,
		Role:       p.Role,
		Industries: p.Industries,
		Interests:  p.Interests,
		Tools:      p.Tools,
		Problems:   p.Problems,
	}
}

type retrieveNewsInput struct {
	Profile     profileInput `json:"profile,omitempty" jsonschema:"Who the news is for"`
	Queries     []string     `json:"queries" jsonschema:"Search queries; at least one is required"`
	NumResults  int          `json:"num_results,omitempty" jsonschema:"Results requested across providers, 5 to 50 (default 25)"`
	RecencyDays int          `json:"recency_days,omitempty" jsonschema:"Only consider articles published within this many days"`
	Country     string       `json:"country,omitempty" jsonschema:"ISO country code to bias results"`
	Domains     []string     `json:"domains,omitempty" jsonschema:"Restrict results to these domains"`
}

type newsItem struct {
	Rank        int      `json:"rank" jsonschema:"1-based position"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Domain      string   `json:"domain"`
	PublishedAt string   `json:"published_at,omitempty" jsonschema:"RFC 3339 publication time, empty when unknown"`
	Snippet     string   `json:"snippet,omitempty"`
	Score       float64  `json:"score" jsonschema:"Final ranking score"`
	Rationale   string   `json:"rationale,omitempty" jsonschema:"Reranker explanation"`
	Sources     []string `json:"sources,omitempty" jsonschema:"Providers that returned this article"`
}

type retrieveNewsOutput struct {
	RunID     string     `json:"run_id"`
	Stage     string     `json:"stage" jsonschema:"Last completed stage"`
	Degraded  bool       `json:"degraded" jsonschema:"True when a provider failed or a stage fell back"`
	Warnings  []string   `json:"warnings,omitempty"`
	Fallbacks []string   `json:"fallbacks,omitempty"`
	Error     string     `json:"error,omitempty" jsonschema:"Set when the run stopped early; items hold the partial ranking"`
	Items     []newsItem `json:"items"`
}

type explainScoreInput struct {
	Profile       profileInput `json:"profile,omitempty" jsonschema:"Who the score is computed for"`
	URL           string       `json:"url" jsonschema:"Article URL"`
	Title         string       `json:"title" jsonschema:"Article title"`
	Snippet       string       `json:"snippet,omitempty" jsonschema:"Article text or summary"`
	PublishedDate string       `json:"published_date,omitempty" jsonschema:"Publication date in any common format"`
}

type explainScoreOutput struct {
	Score         float64 `json:"score" jsonschema:"Heuristic score, 0 to 100"`
	Recency       float64 `json:"recency"`
	Authority     float64 `json:"authority"`
	AuthorityTier string  `json:"authority_tier"`
	ProfileMatch  float64 `json:"profile_match"`
	Domain        string  `json:"domain"`
	Explanation   string  `json:"explanation"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve_news",
		Description: "Search news providers for the given queries and return articles ranked for the user's profile, deduplicated, diversified and filtered against what the user already saw",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args retrieveNewsInput) (*mcp.CallToolResult, retrieveNewsOutput, error) {
		call := s.metrics.begin(ctx, "retrieve_news")
		out, err := s.retrieveNews(ctx, args)
		call.end(len(out.Items), out.Error != "", err)
		if err != nil {
			return nil, retrieveNewsOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: renderNews(out)}},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "explain_score",
		Description: "Explain the heuristic score of one article for a profile: recency, source authority and profile match",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args explainScoreInput) (*mcp.CallToolResult, explainScoreOutput, error) {
		call := s.metrics.begin(ctx, "explain_score")
		out, err := s.explainScore(args)
		call.end(-1, false, err)
		if err != nil {
			return nil, explainScoreOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: out.Explanation}},
		}, out, nil
	})
}

// retrieveNews runs the pipeline. A run that stopped at a stage error still
// returns its partial ranking with Error set.
func (s *Server) retrieveNews(ctx context.Context, args retrieveNewsInput) (retrieveNewsOutput, error) {
	if id := args.Profile.UserID; id != "" {
		if err := logging.ValidateID(id, "user_id"); err != nil {
			return retrieveNewsOutput{}, fmt.Errorf("invalid user_id: %w", err)
		}
		ctx = logging.WithUserID(ctx, id)
	}
	plan := pipeline.QueryPlan{
		Queries:     args.Queries,
		NumResults:  args.NumResults,
		RecencyDays: args.RecencyDays,
		Country:     args.Country,
		Domains:     args.Domains,
	}

	res, err := s.pipeline.Run(ctx, args.Profile.profile(), plan)
	var stageErr *pipeline.StageError
	if err != nil && (!errors.As(err, &stageErr) || res == nil) {
		return retrieveNewsOutput{}, err
	}

	out := retrieveNewsOutput{
		RunID:     res.RunID,
		Stage:     string(res.Stage),
		Degraded:  res.Degraded(),
		Warnings:  res.Warnings,
		Fallbacks: res.Fallbacks,
		Items:     make([]newsItem, 0, len(res.Documents)),
	}
	if err != nil {
		out.Error = err.Error()
		s.logger.Warn(ctx, "retrieve_news returned a partial ranking", zap.Error(err))
	}
	for _, d := range res.Documents {
		item := newsItem{
			Rank:      d.Rank,
			Title:     d.Title,
			URL:       d.URL,
			Domain:    d.Domain,
			Snippet:   d.Snippet,
			Score:     d.FinalScore,
			Rationale: d.Rationale,
			Sources:   d.Sources,
		}
		if d.PublishedAt != nil {
			item.PublishedAt = d.PublishedAt.Format(time.RFC3339)
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (s *Server) explainScore(args explainScoreInput) (explainScoreOutput, error) {
	exp, err := s.pipeline.Explain(pipeline.ExplainItem{
		URL:           args.URL,
		Title:         args.Title,
		Snippet:       args.Snippet,
		PublishedDate: args.PublishedDate,
	}, args.Profile.profile())
	if err != nil {
		return explainScoreOutput{}, err
	}
	b := exp.Breakdown
	return explainScoreOutput{
		Score:         b.Score,
		Recency:       b.Recency,
		Authority:     b.Authority,
		AuthorityTier: ranking.AuthorityTier(b.Authority),
		ProfileMatch:  b.ProfileMatch,
		Domain:        exp.Document.Domain,
		Explanation:   exp.Text,
	}, nil
}

func renderNews(out retrieveNewsOutput) string {
	var sb strings.Builder
	if len(out.Items) == 0 {
		sb.WriteString("No new articles found.\n")
	}
	for _, it := range out.Items {
		fmt.Fprintf(&sb, "%d. %s (%s)\n   %s\n", it.Rank, it.Title, it.Domain, it.URL)
		if it.Rationale != "" {
			fmt.Fprintf(&sb, "   %s\n", it.Rationale)
		}
	}
	if out.Error != "" {
		fmt.Fprintf(&sb, "\nRun stopped at %s: %s\n", out.Stage, out.Error)
	}
	for _, w := range out.Warnings {
		fmt.Fprintf(&sb, "warning: %s\n", w)
	}
	return sb.String()
}
