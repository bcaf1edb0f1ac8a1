package embeddings

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const defaultOpenAIBatch = 512

// keylessToken satisfies langchaingo for local servers that take no key.
const keylessToken = "unused"

// OpenAIProvider embeds through any OpenAI-compatible /embeddings endpoint
// using langchaingo's client.
type OpenAIProvider struct {
	embedder *embeddings.EmbedderImpl
	guessed  int
	observed atomic.Int64
}

func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	token := cfg.APIKey
	if token == "" {
		token = keylessToken
	}
	batch := cfg.MaxBatch
	if batch <= 0 {
		batch = defaultOpenAIBatch
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(batch),
		embeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	return &OpenAIProvider{embedder: embedder, guessed: detectDimensionFromModel(cfg.Model)}, nil
}

func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	p.observe(vectors[0])
	return vectors, nil
}

func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	p.observe(vector)
	return vector, nil
}

func (p *OpenAIProvider) observe(v []float32) {
	if len(v) > 0 {
		p.observed.CompareAndSwap(0, int64(len(v)))
	}
}

// Dimension is the length of the first returned vector, or a guess from
// the model name until then.
func (p *OpenAIProvider) Dimension() int {
	if d := p.observed.Load(); d > 0 {
		return int(d)
	}
	return p.guessed
}

func (p *OpenAIProvider) Close() error { return nil }
