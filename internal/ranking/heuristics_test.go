package ranking

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/normalize"
)

var testNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func ptime(t time.Time) *time.Time { return &t }

func testScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultWeights(), 0, nil, func() time.Time { return testNow })
	require.NoError(t, err)
	return s
}

func TestNewScorer_Weights(t *testing.T) {
	tests := []struct {
		name    string
		w       Weights
		wantErr bool
	}{
		{"defaults", DefaultWeights(), false},
		{"within tolerance", Weights{0.405, 0.3, 0.3}, false},
		{"sum too high", Weights{0.5, 0.3, 0.3}, true},
		{"sum too low", Weights{0.2, 0.3, 0.3}, true},
		{"negative", Weights{1.2, -0.2, 0}, true},
		{"single signal", Weights{1, 0, 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScorer(tt.w, 0, nil, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidWeights))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestScorerFromConfig(t *testing.T) {
	cfg := config.Default().Ranking
	s, err := ScorerFromConfig(cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultWeights(), s.weights)
	assert.Equal(t, 7*24*time.Hour, s.halfLife)

	cfg.ProfileWeight = 0.9
	_, err = ScorerFromConfig(cfg, nil, nil)
	assert.Error(t, err)
}

func TestBreakdown_Recency(t *testing.T) {
	s := testScorer(t)
	tests := []struct {
		name      string
		published *time.Time
		want      float64
	}{
		{"no date", nil, 0.3},
		{"future", ptime(testNow.Add(time.Hour)), 1.0},
		{"now", ptime(testNow), 1.0},
		{"one half-life", ptime(testNow.Add(-7 * 24 * time.Hour)), 0.5},
		{"two half-lives", ptime(testNow.Add(-14 * 24 * time.Hour)), 0.25},
		{"ancient is floored", ptime(testNow.AddDate(-5, 0, 0)), 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := s.Breakdown(normalize.Document{PublishedAt: tt.published}, UserProfile{})
			assert.InDelta(t, tt.want, b.Recency, 1e-9)
		})
	}
}

func TestBreakdown_ProfileMatch(t *testing.T) {
	s := testScorer(t)
	doc := normalize.Document{
		Title:   "Robotics startup raises funds",
		Snippet: "The healthcare robotics company builds surgical robots.",
	}

	empty := s.Breakdown(doc, UserProfile{})
	assert.Equal(t, 0.5, empty.ProfileMatch, "empty profile is neutral")

	half := s.Breakdown(doc, UserProfile{Interests: []string{"robotics", "quantum"}})
	assert.Equal(t, 0.5, half.ProfileMatch)

	full := s.Breakdown(doc, UserProfile{Industries: []string{"healthcare"}, Interests: []string{"robotics"}})
	assert.Equal(t, 1.0, full.ProfileMatch)

	// twelve terms, two matched: divided by the ten-term cap
	many := UserProfile{Interests: strings.Fields("robotics healthcare alpha beta gamma delta epsilon zeta eta theta iota kappa")}
	assert.InDelta(t, 0.2, s.Breakdown(doc, many).ProfileMatch, 1e-9)
}

// A document with no date from a known source, for an empty profile:
// 100 * (0.4*0.3 + 0.3*1.0 + 0.3*0.5) = 57.
func TestScore_NullDateKnownSource(t *testing.T) {
	s := testScorer(t)
	doc := normalize.Document{Domain: "techcrunch.com", Title: "Untimed"}
	assert.InDelta(t, 57.0, s.Score(doc, UserProfile{}), 1e-9)
}

func TestScore_Bounds(t *testing.T) {
	s := testScorer(t)
	best := normalize.Document{
		Domain:      "openai.com",
		Title:       "robotics",
		PublishedAt: ptime(testNow),
	}
	assert.InDelta(t, 100.0, s.Score(best, UserProfile{Interests: []string{"robotics"}}), 1e-9)

	worst := normalize.Document{Domain: "x.y", PublishedAt: ptime(testNow.AddDate(-10, 0, 0))}
	table := NewAuthorityTable(0)
	s2, err := NewScorer(DefaultWeights(), 0, table, func() time.Time { return testNow })
	require.NoError(t, err)
	score := s2.Score(worst, UserProfile{Interests: []string{"robotics"}})
	assert.InDelta(t, 0.4, score, 1e-9, "only the recency floor remains")
	assert.False(t, math.IsNaN(score))
}

func TestScoreAll(t *testing.T) {
	s := testScorer(t)
	docs := []normalize.Document{
		{ID: "a", Domain: "someblog.net"},
		{ID: "b", Domain: "techcrunch.com", PublishedAt: ptime(testNow)},
	}
	ranked := s.ScoreAll(docs, UserProfile{})
	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].ID, "input order kept")

	for i, r := range ranked {
		h, ok := r.StageScore(StageHeuristic)
		require.True(t, ok)
		assert.Equal(t, s.Score(docs[i], UserProfile{}), h)
		assert.Equal(t, h, r.FinalScore)
	}
}

func TestExplain(t *testing.T) {
	s := testScorer(t)
	doc := normalize.Document{
		Title:       "GPUs get cheaper",
		Domain:      "techcrunch.com",
		Provider:    "exa",
		PublishedAt: ptime(testNow.Add(-48 * time.Hour)),
		Snippet:     "short",
	}
	out := s.Explain(doc, UserProfile{}, 3)
	assert.True(t, strings.HasPrefix(out, "Rank #3 - Score: "))
	assert.Contains(t, out, "Title: GPUs get cheaper")
	assert.Contains(t, out, "Source: TechCrunch (techcrunch.com, Premium, authority 1.00)")
	assert.Contains(t, out, "published 2025-03-13, 2d ago")
	assert.Contains(t, out, "Provider: exa")

	undated := s.Explain(normalize.Document{Title: "x"}, UserProfile{}, 0)
	assert.True(t, strings.HasPrefix(undated, "Score: "))
	assert.Contains(t, undated, "no publication date")
	assert.Contains(t, undated, "Unknown Source")
}
