//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/logging"
)

const (
	defaultModelCache = "~/.config/seer/models"
	defaultMaxLength  = 512
	passageBatchSize  = 256
)

// FastEmbedConfig configures the local ONNX provider.
type FastEmbedConfig struct {
	// Model is a BAAI or sentence-transformers name, or its fastembed id.
	// Empty selects BAAI/bge-small-en-v1.5.
	Model string
	// CacheDir holds downloaded model weights.
	CacheDir string
	// RuntimeDir holds the ONNX shared library.
	RuntimeDir string
	MaxLength  int
}

// FastEmbedProvider embeds candidates on-host with an ONNX model.
// The session is not safe for concurrent inference, so calls serialize.
type FastEmbedProvider struct {
	mu    sync.Mutex
	model *fastembed.FlagEmbedding
	info  localModel
}

// NewFastEmbedProvider loads the model, installing the ONNX runtime first
// when neither ONNX_PATH nor RuntimeDir provides one.
func NewFastEmbedProvider(cfg FastEmbedConfig, logger *logging.Logger) (*FastEmbedProvider, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	info, ok := lookupLocalModel(cfg.Model)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported local model %q (supported: %s)", ErrInvalidConfig, cfg.Model, localModelNames())
	}

	ctx := context.Background()
	installer, err := newRuntimeInstaller(cfg.RuntimeDir, logger)
	if err != nil {
		return nil, err
	}
	lib, err := installer.ensure(ctx)
	if err != nil {
		return nil, err
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = defaultModelCache
	}
	if cacheDir, err = config.ExpandHome(cacheDir); err != nil {
		return nil, err
	}
	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}

	quiet := false
	model, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                fastembed.EmbeddingModel(info.id),
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", info.name, err)
	}
	logger.Info(ctx, "local embedding model loaded",
		zap.String("model", info.name),
		zap.Int("dimension", info.dim),
		zap.String("onnx_path", lib))

	return &FastEmbedProvider{model: model, info: info}, nil
}

// EmbedDocuments embeds texts as passages.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil, fmt.Errorf("%w: provider closed", ErrEmbeddingFailed)
	}
	vecs, err := p.model.PassageEmbed(texts, passageBatchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vecs, nil
}

// EmbedQuery embeds text as a query.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil, fmt.Errorf("%w: provider closed", ErrEmbeddingFailed)
	}
	vec, err := p.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

func (p *FastEmbedProvider) Dimension() int { return p.info.dim }

// Close destroys the ONNX session. It is safe to call twice.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Destroy()
	p.model = nil
	return err
}
