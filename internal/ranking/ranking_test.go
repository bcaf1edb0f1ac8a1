package ranking

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/seer/internal/normalize"
)

func TestSetStageScore_WriteOnce(t *testing.T) {
	d := NewRankedDocument(normalize.Document{ID: "a"})

	require.NoError(t, d.SetStageScore(StageHeuristic, 42))
	assert.Equal(t, 42.0, d.FinalScore)

	require.NoError(t, d.SetStageScore(StageFusion, 0.03))
	assert.Equal(t, 0.03, d.FinalScore, "final score follows the last stage")

	err := d.SetStageScore(StageHeuristic, 99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStageScoreSet))
	h, ok := d.StageScore(StageHeuristic)
	assert.True(t, ok)
	assert.Equal(t, 42.0, h)
}

func TestSetStageScore_ZeroValueDocument(t *testing.T) {
	var d RankedDocument
	require.NoError(t, d.SetStageScore(StageMMR, 1))
	assert.Equal(t, 1.0, d.Scores[StageMMR])
}

func TestClone_DoesNotShareState(t *testing.T) {
	d := NewRankedDocument(normalize.Document{ID: "a"})
	require.NoError(t, d.SetStageScore(StageHeuristic, 10))
	d.Sources = []string{"exa"}

	c := d.Clone()
	require.NoError(t, c.SetStageScore(StageFusion, 1))
	c.Sources[0] = "perplexity"

	_, ok := d.StageScore(StageFusion)
	assert.False(t, ok)
	assert.Equal(t, "exa", d.Sources[0])
}

func TestAssignRanks(t *testing.T) {
	docs := Wrap([]normalize.Document{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	AssignRanks(docs)
	for i, d := range docs {
		assert.Equal(t, i+1, d.Rank)
	}
}

func TestUserProfile_Terms(t *testing.T) {
	p := UserProfile{
		Role:       "ML Engineer",
		Industries: []string{"Healthcare"},
		Interests:  []string{"LLM agents", "the agents of change"},
		Tools:      []string{"PyTorch"},
	}
	assert.Equal(t, []string{"ml", "engineer", "healthcare", "llm", "agents", "change", "pytorch"}, p.Terms())
	assert.False(t, p.IsEmpty())
	assert.True(t, UserProfile{UserID: "u1"}.IsEmpty())
}

func TestUserProfile_Summary(t *testing.T) {
	p := UserProfile{Role: "CTO", Interests: []string{"robotics", " ", "chips"}}
	assert.Equal(t, "Role: CTO\nInterests: robotics, chips\n", p.Summary())
	assert.Equal(t, "No profile information.\n", UserProfile{}.Summary())
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"lowercases and splits", "OpenAI's GPT-5 launch", []string{"openai", "gpt", "launch"}},
		{"drops stopwords", "the state of the art", []string{"state", "art"}},
		{"keeps two letter terms", "AI and ML", []string{"ai", "ml"}},
		{"drops single runes", "a b c dd", []string{"dd"}},
		{"keeps underscores", "snake_case names", []string{"snake_case", "names"}},
		{"empty", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestOverlap(t *testing.T) {
	set := TermSet("robots learn to walk")
	assert.Equal(t, 0.5, Overlap([]string{"robots", "swim"}, set))
	assert.Equal(t, 0.5, Overlap([]string{"robots", "robots", "swim"}, set), "duplicates count once")
	assert.Equal(t, 0.0, Overlap(nil, set))
}
