package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestHome points HOME at a temp dir and clears provider credentials
// so tests do not depend on the developer's shell.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"EXA_API_KEY", "PERPLEXITY_SEARCH_API_KEY", "PERPLEXITY_API_KEY",
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY",
	} {
		t.Setenv(key, "")
	}
	return home
}

func writeConfig(t *testing.T, home, content string, perm os.FileMode) string {
	t.Helper()
	dir := filepath.Join(home, ".config", "seer")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, `server:
  http_port: 8181
exa:
  api_key: exa-test-key
ranking:
  rrf_k: 30
  mmr_lambda: 0.5
  novelty_window: 72h
reranker:
  backend: lexical
`, 0600)

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("Server.Port = %d, want 8181", cfg.Server.Port)
	}
	if cfg.Exa.APIKey.Value() != "exa-test-key" {
		t.Errorf("Exa.APIKey not loaded")
	}
	if cfg.Ranking.RRFK != 30 {
		t.Errorf("Ranking.RRFK = %d, want 30", cfg.Ranking.RRFK)
	}
	if cfg.Ranking.MMRLambda != 0.5 {
		t.Errorf("Ranking.MMRLambda = %v, want 0.5", cfg.Ranking.MMRLambda)
	}
	if cfg.Ranking.NoveltyWindow.Duration() != 72*time.Hour {
		t.Errorf("Ranking.NoveltyWindow = %v, want 72h", cfg.Ranking.NoveltyWindow.Duration())
	}
	// untouched keys keep their defaults
	if cfg.Ranking.NoveltyThreshold != 0.85 {
		t.Errorf("Ranking.NoveltyThreshold = %v, want default 0.85", cfg.Ranking.NoveltyThreshold)
	}
	if cfg.Ranking.RecencyWeight != 0.4 {
		t.Errorf("Ranking.RecencyWeight = %v, want default 0.4", cfg.Ranking.RecencyWeight)
	}
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, `server:
  http_port: 8181
reranker:
  backend: none
`, 0600)

	t.Setenv("SERVER_HTTP_PORT", "9191")
	t.Setenv("RANKING_RRF_K", "42")
	t.Setenv("PERPLEXITY_SEARCH_API_KEY", "pplx-test")

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Ranking.RRFK != 42 {
		t.Errorf("Ranking.RRFK = %d, want 42", cfg.Ranking.RRFK)
	}
	if !cfg.Perplexity.Enabled() {
		t.Errorf("Perplexity should be enabled from PERPLEXITY_SEARCH_API_KEY")
	}
	if cfg.Exa.Enabled() {
		t.Errorf("Exa should be disabled without a key")
	}
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	home := setupTestHome(t)
	t.Setenv("EXA_API_KEY", "exa-test")
	t.Setenv("RERANKER_BACKEND", "lexical")

	cfg, err := LoadWithFile(filepath.Join(home, ".config", "seer", "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want default 9090", cfg.Server.Port)
	}
	if cfg.Reranker.Backend != "lexical" {
		t.Errorf("Reranker.Backend = %q, want lexical", cfg.Reranker.Backend)
	}
}

func TestLoadWithFile_MissingCredentialsIsFatal(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, "reranker:\n  backend: none\n", 0600)

	_, err := LoadWithFile(path)
	if err == nil {
		t.Fatal("LoadWithFile() expected error without provider credentials")
	}
	if !errors.Is(err, ErrFatalConfiguration) {
		t.Errorf("error = %v, want ErrFatalConfiguration", err)
	}
}

func TestLoadUnchecked_SkipsCredentialCheck(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, "ranking:\n  mmr_lambda: 0.5\n", 0600)

	cfg, err := LoadUnchecked(path)
	if err != nil {
		t.Fatalf("LoadUnchecked() error = %v", err)
	}
	if cfg.Exa.Enabled() || cfg.Perplexity.Enabled() {
		t.Error("expected no provider credentials")
	}
	if cfg.Ranking.MMRLambda != 0.5 {
		t.Errorf("Ranking.MMRLambda = %v, want 0.5", cfg.Ranking.MMRLambda)
	}
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, "exa:\n  api_key: x\n", 0644)

	if _, err := LoadWithFile(path); err == nil {
		t.Error("LoadWithFile() expected error for 0644 config file")
	}
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  http_port: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadWithFile(path); err == nil {
		t.Error("LoadWithFile() expected error for path outside allowed dirs")
	}
}

func TestValidateConfigPath(t *testing.T) {
	home := setupTestHome(t)

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"user config dir", filepath.Join(home, ".config", "seer", "config.yaml"), false},
		{"nested user dir", filepath.Join(home, ".config", "seer", "profiles", "a.yaml"), false},
		{"system dir", "/etc/seer/config.yaml", false},
		{"sibling prefix", "/etc/seer-evil/config.yaml", true},
		{"traversal", filepath.Join(home, ".config", "seer", "..", "..", "x.yaml"), true},
		{"tmp", "/tmp/config.yaml", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateConfigPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SERVER_HTTP_PORT", "server.http_port"},
		{"EXA_API_KEY", "exa.api_key"},
		{"PIPELINE_RUN_TIMEOUT", "pipeline.run_timeout"},
		{"PATH", ""},
		{"HOME", ""},
		{"UNKNOWN_SECTION_VALUE", ""},
	}
	for _, tt := range tests {
		if got := envKey(tt.in); got != tt.want {
			t.Errorf("envKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SEER_TEST_FROM_FILE=from-file\nSEER_TEST_PRESET=file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SEER_TEST_PRESET", "process")
	t.Setenv("SEER_TEST_FROM_FILE", "")
	os.Unsetenv("SEER_TEST_FROM_FILE")

	if err := LoadEnvFiles(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadEnvFiles() error = %v", err)
	}
	if got := os.Getenv("SEER_TEST_FROM_FILE"); got != "from-file" {
		t.Errorf("SEER_TEST_FROM_FILE = %q, want from-file", got)
	}
	if got := os.Getenv("SEER_TEST_PRESET"); got != "process" {
		t.Errorf("SEER_TEST_PRESET = %q, want process (environment wins)", got)
	}
}
