package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1 << 20
	systemConfigDir   = "/etc/seer"
	configFileName    = "config.yaml"
)

// sections lists the top-level keys environment variables may target.
var sections = map[string]bool{
	"server": true, "exa": true, "perplexity": true, "anthropic": true,
	"openai": true, "ranking": true, "reranker": true, "embeddings": true,
	"delivery": true, "pipeline": true, "nats": true, "logging": true,
	"telemetry": true,
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables, then validates.
//
// Precedence (highest to lowest):
//  1. Environment variables (EXA_API_KEY, RANKING_MMR_LAMBDA, ...)
//  2. YAML config file (~/.config/seer/config.yaml by default)
//  3. Default()
//
// Environment variables map to keys by splitting on the first underscore:
//
//	SERVER_HTTP_PORT      -> server.http_port
//	RANKING_RRF_K         -> ranking.rrf_k
//	PIPELINE_RUN_TIMEOUT  -> pipeline.run_timeout
//
// Variables whose first segment is not a known section, and empty
// variables, are ignored.
//
// The file must live under ~/.config/seer/ or /etc/seer/, be 0600 or 0400
// and be at most 1MB. A missing file is not an error.
func LoadWithFile(configPath string) (*Config, error) {
	cfg, err := LoadUnchecked(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnchecked is LoadWithFile without Validate, for commands that never
// contact a provider.
func LoadUnchecked(configPath string) (*Config, error) {
	if configPath == "" {
		dir, err := userConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, configFileName)
	}
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path %s: %w", configPath, err)
	}

	k := koanf.New(".")
	content, err := readConfigFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}
	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyCredentialFallbacks(cfg)
	return cfg, nil
}

func envValue(key, value string) (string, interface{}) {
	if value == "" {
		return "", nil
	}
	return envKey(key), value
}

// envKey maps SECTION_FIELD_NAME to section.field_name. Unknown sections
// return "" so koanf skips them.
func envKey(s string) string {
	section, rest, ok := strings.Cut(strings.ToLower(s), "_")
	if !ok || !sections[section] {
		return ""
	}
	return section + "." + rest
}

// readConfigFile checks mode and size on the open descriptor, so the file
// cannot be swapped between the check and the read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if err := checkConfigFile(info); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return content, nil
}

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are skipped and variables already set win.
func LoadEnvFiles(paths ...string) error {
	var present []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) (string, error) {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home directory: %w", err)
	}
	return filepath.Join(home, rest), nil
}

func userConfigDir() (string, error) {
	return ExpandHome("~/.config/seer")
}

// validateConfigPath requires the path, after resolving symlinks, to sit
// below ~/.config/seer or /etc/seer.
func validateConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	userDir, err := userConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{userDir, systemConfigDir} {
		if strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("must be under %s/ or %s/", userDir, systemConfigDir)
}

func checkConfigFile(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0o600 && perm != 0o400 {
			return fmt.Errorf("mode %v is readable by others, use 0600 or 0400", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("%d bytes exceeds the %d byte limit", info.Size(), maxConfigFileSize)
	}
	return nil
}
