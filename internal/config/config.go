// Package config provides configuration loading for seer.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then environment variables. Credentials use the Secret type so they never
// leak through logs or JSON encoding.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"
)

// ErrFatalConfiguration marks configuration problems that must stop the
// process before any pipeline run starts (missing credentials, invalid
// ranges).
var ErrFatalConfiguration = errors.New("fatal configuration error")

// Config holds the complete seer configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Exa        ProviderConfig   `koanf:"exa"`
	Perplexity ProviderConfig   `koanf:"perplexity"`
	Anthropic  LLMConfig        `koanf:"anthropic"`
	OpenAI     LLMConfig        `koanf:"openai"`
	Ranking    RankingConfig    `koanf:"ranking"`
	Reranker   RerankerConfig   `koanf:"reranker"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Delivery   DeliveryConfig   `koanf:"delivery"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	NATS       NATSConfig       `koanf:"nats"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	JobCacheSize    int      `koanf:"job_cache_size"`
}

// ProviderConfig configures one upstream search provider.
type ProviderConfig struct {
	APIKey     Secret   `koanf:"api_key"`
	BaseURL    string   `koanf:"base_url"`
	Timeout    Duration `koanf:"timeout"`
	RateLimit  float64  `koanf:"rate_limit"` // requests per second
	Burst      int      `koanf:"burst"`
	MaxRetries int      `koanf:"max_retries"`
	Disabled   bool     `koanf:"disabled"`
}

// Enabled reports whether the provider should take part in searches.
func (p ProviderConfig) Enabled() bool {
	return !p.Disabled && p.APIKey.IsSet()
}

// LLMConfig configures a language-model completion endpoint.
type LLMConfig struct {
	APIKey  Secret   `koanf:"api_key"`
	BaseURL string   `koanf:"base_url"`
	Model   string   `koanf:"model"`
	Timeout Duration `koanf:"timeout"`
}

// RankingConfig holds the tunable ranking constants.
type RankingConfig struct {
	RecencyWeight    float64  `koanf:"recency_weight"`
	AuthorityWeight  float64  `koanf:"authority_weight"`
	ProfileWeight    float64  `koanf:"profile_weight"`
	RecencyHalfLife  Duration `koanf:"recency_half_life"`
	AuthorityDefault float64  `koanf:"authority_default"`
	AuthorityFile    string   `koanf:"authority_file"`
	RRFK             int      `koanf:"rrf_k"`
	MMRLambda        float64  `koanf:"mmr_lambda"`
	FinalCount       int      `koanf:"final_count"`
	NoveltyThreshold float64  `koanf:"novelty_threshold"`
	NoveltyWindow    Duration `koanf:"novelty_window"`
	MinResults       int      `koanf:"min_results"`
	AllowEmpty       bool     `koanf:"allow_empty"`
}

// RerankerConfig selects and bounds the semantic reranker.
type RerankerConfig struct {
	Backend  string `koanf:"backend"`  // llm, lexical, none
	Provider string `koanf:"provider"` // anthropic, openai
	TopK     int    `koanf:"top_k"`
}

// EmbeddingsConfig selects the embedding backend.
type EmbeddingsConfig struct {
	Provider string   `koanf:"provider"` // tei, openai, fastembed
	BaseURL  string   `koanf:"base_url"`
	Model    string   `koanf:"model"`
	APIKey   Secret   `koanf:"api_key"`
	CacheDir string   `koanf:"cache_dir"`
	Timeout  Duration `koanf:"timeout"`
	Disabled bool     `koanf:"disabled"`
	// BatchSize caps texts per request. Zero uses the backend default.
	BatchSize int `koanf:"batch_size"`
	// RuntimeDir holds the ONNX runtime used by fastembed. ONNX_PATH wins
	// when set.
	RuntimeDir string `koanf:"runtime_dir"`
}

// DeliveryConfig selects where delivered documents are recorded.
type DeliveryConfig struct {
	Backend       string   `koanf:"backend"` // memory, chromem, qdrant, redis
	Path          string   `koanf:"path"`
	Collection    string   `koanf:"collection"`
	VectorSize    int      `koanf:"vector_size"`
	QdrantHost    string   `koanf:"qdrant_host"`
	QdrantPort    int      `koanf:"qdrant_port"`
	QdrantAPIKey  Secret   `koanf:"qdrant_api_key"`
	QdrantTLS     bool     `koanf:"qdrant_tls"`
	RedisAddr     string   `koanf:"redis_addr"`
	RedisPassword Secret   `koanf:"redis_password"`
	RedisDB       int      `koanf:"redis_db"`
	Retention     Duration `koanf:"retention"`
}

// PipelineConfig holds per-stage budgets.
type PipelineConfig struct {
	RunTimeout     Duration `koanf:"run_timeout"`
	SearchTimeout  Duration `koanf:"search_timeout"`
	SearchMaxItems int      `koanf:"search_max_items"`
	FuseMaxItems   int      `koanf:"fuse_max_items"`
	RerankTimeout  Duration `koanf:"rerank_timeout"`
	EmbedTimeout   Duration `koanf:"embed_timeout"`
	DefaultResults int      `koanf:"default_results"`
	RecencyDays    int      `koanf:"recency_days"`
}

// NATSConfig enables publishing job events to NATS when URL is set.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig is the file/env facing subset of logging options.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is the file/env facing subset of telemetry options.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	// Logs ships zap records to the collector through the OTLP log
	// exporter in addition to the local output.
	Logs bool `koanf:"logs"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
			JobCacheSize:    256,
		},
		Exa: ProviderConfig{
			BaseURL:    "https://api.exa.ai",
			Timeout:    Duration(15 * time.Second),
			RateLimit:  5,
			Burst:      5,
			MaxRetries: 2,
		},
		Perplexity: ProviderConfig{
			BaseURL:    "https://api.perplexity.ai",
			Timeout:    Duration(15 * time.Second),
			RateLimit:  5,
			Burst:      5,
			MaxRetries: 2,
		},
		Anthropic: LLMConfig{
			BaseURL: "https://api.anthropic.com",
			Model:   "claude-3-5-sonnet-20241022",
			Timeout: Duration(30 * time.Second),
		},
		OpenAI: LLMConfig{
			BaseURL: "https://api.openai.com",
			Model:   "gpt-4o-mini",
			Timeout: Duration(30 * time.Second),
		},
		Ranking: RankingConfig{
			RecencyWeight:    0.4,
			AuthorityWeight:  0.3,
			ProfileWeight:    0.3,
			RecencyHalfLife:  Duration(7 * 24 * time.Hour),
			AuthorityDefault: 0.5,
			RRFK:             60,
			MMRLambda:        0.7,
			FinalCount:       10,
			NoveltyThreshold: 0.85,
			NoveltyWindow:    Duration(7 * 24 * time.Hour),
			MinResults:       5,
		},
		Reranker: RerankerConfig{
			Backend:  "llm",
			Provider: "anthropic",
			TopK:     20,
		},
		Embeddings: EmbeddingsConfig{
			Provider: "tei",
			BaseURL:  "http://localhost:8080",
			Model:    "BAAI/bge-small-en-v1.5",
			Timeout:  Duration(15 * time.Second),
		},
		Delivery: DeliveryConfig{
			Backend:    "memory",
			Path:       "~/.config/seer/deliveries",
			Collection: "seer_deliveries",
			VectorSize: 384,
			QdrantHost: "localhost",
			QdrantPort: 6334,
			RedisAddr:  "localhost:6379",
			Retention:  Duration(30 * 24 * time.Hour),
		},
		Pipeline: PipelineConfig{
			RunTimeout:     Duration(90 * time.Second),
			SearchTimeout:  Duration(20 * time.Second),
			SearchMaxItems: 200,
			FuseMaxItems:   50,
			RerankTimeout:  Duration(20 * time.Second),
			EmbedTimeout:   Duration(15 * time.Second),
			DefaultResults: 25,
			RecencyDays:    7,
		},
		NATS: NATSConfig{
			SubjectPrefix: "seer.jobs",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "seer",
			Insecure:    true,
			SampleRate:  1.0,
			Logs:        true,
		},
	}
}

// applyCredentialFallbacks fills credentials from the environment variable
// names the upstream services document, when the config left them empty.
func applyCredentialFallbacks(cfg *Config) {
	fallback := func(dst *Secret, keys ...string) {
		if dst.IsSet() {
			return
		}
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = Secret(v)
				return
			}
		}
	}
	fallback(&cfg.Exa.APIKey, "EXA_API_KEY")
	fallback(&cfg.Perplexity.APIKey, "PERPLEXITY_SEARCH_API_KEY", "PERPLEXITY_API_KEY")
	fallback(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	fallback(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	if cfg.Embeddings.Provider == "openai" && !cfg.Embeddings.APIKey.IsSet() {
		cfg.Embeddings.APIKey = cfg.OpenAI.APIKey
	}
}

// RerankerLLM returns the LLM settings selected by reranker.provider.
func (c *Config) RerankerLLM() LLMConfig {
	if c.Reranker.Provider == "openai" {
		return c.OpenAI
	}
	return c.Anthropic
}

// Validate checks the configuration. Every returned error wraps
// ErrFatalConfiguration.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		fail("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		fail("server.shutdown_timeout must be positive")
	}

	if !c.Exa.Enabled() && !c.Perplexity.Enabled() {
		fail("no search provider credentials: set EXA_API_KEY or PERPLEXITY_SEARCH_API_KEY")
	}

	r := c.Ranking
	for name, w := range map[string]float64{
		"recency_weight":   r.RecencyWeight,
		"authority_weight": r.AuthorityWeight,
		"profile_weight":   r.ProfileWeight,
	} {
		if w < 0 || w > 1 {
			fail("ranking.%s must be in [0,1], got %v", name, w)
		}
	}
	if sum := r.RecencyWeight + r.AuthorityWeight + r.ProfileWeight; math.Abs(sum-1) > 0.01 {
		fail("ranking weights must sum to 1.0, got %.3f", sum)
	}
	if r.RecencyHalfLife.Duration() <= 0 {
		fail("ranking.recency_half_life must be positive")
	}
	if r.AuthorityDefault < 0 || r.AuthorityDefault > 1 {
		fail("ranking.authority_default must be in [0,1], got %v", r.AuthorityDefault)
	}
	if r.RRFK <= 0 {
		fail("ranking.rrf_k must be positive, got %d", r.RRFK)
	}
	if r.MMRLambda < 0 || r.MMRLambda > 1 {
		fail("ranking.mmr_lambda must be in [0,1], got %v", r.MMRLambda)
	}
	if r.FinalCount <= 0 {
		fail("ranking.final_count must be positive, got %d", r.FinalCount)
	}
	if r.NoveltyThreshold <= 0 || r.NoveltyThreshold > 1 {
		fail("ranking.novelty_threshold must be in (0,1], got %v", r.NoveltyThreshold)
	}
	if r.MinResults < 0 {
		fail("ranking.min_results cannot be negative")
	}

	switch c.Reranker.Backend {
	case "llm":
		switch c.Reranker.Provider {
		case "anthropic", "openai":
			if !c.RerankerLLM().APIKey.IsSet() {
				fail("reranker backend llm requires %s api_key", c.Reranker.Provider)
			}
		default:
			fail("unknown reranker.provider %q (expected anthropic or openai)", c.Reranker.Provider)
		}
	case "lexical", "none":
	default:
		fail("unknown reranker.backend %q (expected llm, lexical or none)", c.Reranker.Backend)
	}
	if c.Reranker.TopK <= 0 {
		fail("reranker.top_k must be positive, got %d", c.Reranker.TopK)
	}

	if !c.Embeddings.Disabled {
		switch c.Embeddings.Provider {
		case "tei", "fastembed":
		case "openai":
			if !c.Embeddings.APIKey.IsSet() {
				fail("embeddings provider openai requires an api_key")
			}
		default:
			fail("unknown embeddings.provider %q (expected tei, openai or fastembed)", c.Embeddings.Provider)
		}
	}

	switch c.Delivery.Backend {
	case "memory", "chromem", "qdrant", "redis":
	default:
		fail("unknown delivery.backend %q (expected memory, chromem, qdrant or redis)", c.Delivery.Backend)
	}
	if c.Delivery.VectorSize <= 0 {
		fail("delivery.vector_size must be positive")
	}

	p := c.Pipeline
	if p.SearchTimeout.Duration() <= 0 || p.RerankTimeout.Duration() <= 0 || p.EmbedTimeout.Duration() <= 0 {
		fail("pipeline stage timeouts must be positive")
	}
	if p.DefaultResults < 5 || p.DefaultResults > 50 {
		fail("pipeline.default_results must be in [5,50], got %d", p.DefaultResults)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatalConfiguration, errors.Join(errs...))
}
