package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const (
	defaultTEITimeout  = 15 * time.Second
	defaultTEIMaxBatch = 32
	maxErrorBody       = 4096
)

// Config configures the HTTP embedding backends.
type Config struct {
	BaseURL string
	Model   string
	// APIKey is sent as a bearer token. TEI usually runs without one.
	APIKey string
	// Timeout bounds a single request. Zero uses 15s.
	Timeout time.Duration
	// MaxBatch caps the texts per TEI request. Zero uses 32, which matches
	// the server's default --max-client-batch-size.
	MaxBatch int
}

// Validate reports a missing base URL or model.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// Service embeds through a Text Embeddings Inference server's /embed route.
// Document sets larger than MaxBatch are split into sequential requests.
type Service struct {
	client   *http.Client
	endpoint string
	apiKey   string
	maxBatch int
	guessed  int
	observed atomic.Int64
}

type embedRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

// NewService validates cfg and returns a TEI client.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTEITimeout
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = defaultTEIMaxBatch
	}
	return &Service{
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/embed",
		apiKey:   cfg.APIKey,
		maxBatch: maxBatch,
		guessed:  detectDimensionFromModel(cfg.Model),
	}, nil
}

// EmbedDocuments returns one vector per text, in order.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.maxBatch {
		batch := texts[start:min(start+s.maxBatch, len(texts))]
		vectors, err := s.post(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(batch))
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery embeds a single text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := s.post(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for 1 text", ErrEmbeddingFailed, len(vectors))
	}
	return vectors[0], nil
}

func (s *Service) post(ctx context.Context, inputs any) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbeddingFailed, err)
	}
	if err := s.checkDimension(vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// checkDimension requires every vector to match the first one the server
// ever returned, and records that length on first sight.
func (s *Service) checkDimension(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	want := int64(len(vectors[0]))
	if want == 0 {
		return fmt.Errorf("%w: zero-length vector", ErrEmbeddingFailed)
	}
	if !s.observed.CompareAndSwap(0, want) {
		want = s.observed.Load()
	}
	for i, v := range vectors {
		if int64(len(v)) != want {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbeddingFailed, i, len(v), want)
		}
	}
	return nil
}

// Dimension is the length the server has returned, or a guess from the
// model name before the first response.
func (s *Service) Dimension() int {
	if d := s.observed.Load(); d > 0 {
		return int(d)
	}
	return s.guessed
}

// Close is a no-op.
func (s *Service) Close() error {
	return nil
}
