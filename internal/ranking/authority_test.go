package ranking

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorityTable_Score(t *testing.T) {
	table := NewAuthorityTable(0.5)
	tests := []struct {
		domain string
		want   float64
	}{
		{"techcrunch.com", 1.0},
		{"www.TechCrunch.com", 1.0},
		{"arxiv.org", 0.95},
		{"nature.com", 0.9},
		{"zdnet.com", 0.85},
		{"github.com", 0.8},
		{"medium.com", 0.75},
		{"reuters.com", 0.7},
		{"wikipedia.org", 0.65},
		{"someblog.net", 0.5},
		{"unknown", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Score(tt.domain))
		})
	}
}

func TestAuthorityTable_DefaultClamped(t *testing.T) {
	assert.Equal(t, 1.0, NewAuthorityTable(3).Default())
	assert.Equal(t, 0.0, NewAuthorityTable(-1).Default())
}

func writeAuthorityFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestAuthorityTable_LoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authority.toml")
	writeAuthorityFile(t, path, `
default = 0.4

[domains]
"someblog.net" = 0.9
"www.TechCrunch.com" = 0.2
"inflated.io" = 7
`)
	table := NewAuthorityTable(0.5)
	require.NoError(t, table.LoadOverrides(path))

	assert.Equal(t, 0.9, table.Score("someblog.net"))
	assert.Equal(t, 0.2, table.Score("techcrunch.com"), "overrides beat the built-in table")
	assert.Equal(t, 1.0, table.Score("inflated.io"), "scores are clamped")
	assert.Equal(t, 0.4, table.Score("nobody.org"))
	assert.Equal(t, 3, table.Overrides())
}

func TestAuthorityTable_LoadOverridesInvalidKeepsTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authority.toml")
	writeAuthorityFile(t, path, "[domains]\n\"someblog.net\" = 0.9\n")
	table := NewAuthorityTable(0.5)
	require.NoError(t, table.LoadOverrides(path))

	writeAuthorityFile(t, path, "[domains\nbroken")
	require.Error(t, table.LoadOverrides(path))
	assert.Equal(t, 0.9, table.Score("someblog.net"))

	require.Error(t, table.LoadOverrides(filepath.Join(t.TempDir(), "missing.toml")))
}

func TestAuthorityTier(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{1.0, "Premium"},
		{0.95, "Premium"},
		{0.9, "Academic"},
		{0.85, "Respected"},
		{0.8, "Community"},
		{0.75, "Mainstream"},
		{0.7, "Mainstream"},
		{0.65, "Reference"},
		{0.5, "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AuthorityTier(tt.score), "score %.2f", tt.score)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		domain string
		want   string
	}{
		{"techcrunch.com", "TechCrunch"},
		{"stanford.edu", "Stanford HAI"},
		{"huggingface.co", "Hugging Face"},
		{"", "Unknown Source"},
		{"unknown", "Unknown Source"},
		{"ai.dev", "AI"},
		{"llm.report", "LLM"},
		{"someblog.net", "Someblog"},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayName(tt.domain))
		})
	}
}

func TestReadTime(t *testing.T) {
	assert.Equal(t, 1, ReadTime(0))
	assert.Equal(t, 1, ReadTime(600))
	assert.Equal(t, 2, ReadTime(2500))
	assert.Equal(t, 4, ReadTime(5000))
}

func TestAuthorityWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authority.toml")
	writeAuthorityFile(t, path, "[domains]\n\"someblog.net\" = 0.9\n")

	table := NewAuthorityTable(0.5)
	w, err := NewAuthorityWatcher(table, path, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.9, table.Score("someblog.net"), "file is loaded on construction")

	reloaded := make(chan error, 16)
	w.OnReload(func(err error) {
		select {
		case reloaded <- err:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	writeAuthorityFile(t, path, "[domains]\n\"someblog.net\" = 0.3\n")

	require.Eventually(t, func() bool {
		return table.Score("someblog.net") == 0.3
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case err := <-reloaded:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reload callback not called")
	}
}

func TestAuthorityWatcher_MissingFile(t *testing.T) {
	_, err := NewAuthorityWatcher(NewAuthorityTable(0.5), filepath.Join(t.TempDir(), "none.toml"), nil)
	require.Error(t, err)
}
