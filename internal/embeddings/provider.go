package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/logging"
)

// Backend names accepted by FromConfig.
const (
	BackendTEI       = "tei"
	BackendOpenAI    = "openai"
	BackendFastEmbed = "fastembed"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// Sentinel errors. Provider errors wrap one of these.
var (
	ErrEmptyInput      = errors.New("embeddings: empty input")
	ErrInvalidConfig   = errors.New("embeddings: invalid configuration")
	ErrEmbeddingFailed = errors.New("embeddings: request failed")
)

// Provider turns text into vectors. Implementations are safe for
// concurrent use.
type Provider interface {
	// EmbedDocuments returns one vector per text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Close() error
}

// FromConfig creates the provider selected by cfg.Provider, instrumented
// with otel metrics. It returns (nil, nil) when embeddings are disabled.
func FromConfig(cfg config.EmbeddingsConfig, logger *logging.Logger) (Provider, error) {
	if cfg.Disabled {
		return nil, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case BackendTEI, "":
		p, err = NewService(Config{
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			APIKey:   cfg.APIKey.Value(),
			Timeout:  cfg.Timeout.Duration(),
			MaxBatch: cfg.BatchSize,
		})
	case BackendOpenAI:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultOpenAIBaseURL
		}
		p, err = NewOpenAIProvider(Config{
			BaseURL:  baseURL,
			Model:    cfg.Model,
			APIKey:   cfg.APIKey.Value(),
			MaxBatch: cfg.BatchSize,
		})
	case BackendFastEmbed:
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:      cfg.Model,
			CacheDir:   cfg.CacheDir,
			RuntimeDir: cfg.RuntimeDir,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return Instrument(p, cfg.Model, logger), nil
}

// detectDimensionFromModel guesses a vector length from the model name:
// the local model table first, then OpenAI names, then size hints, else 384.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	}
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "base"):
		return 768
	case strings.Contains(m, "large"):
		return 1024
	default:
		return 384
	}
}
