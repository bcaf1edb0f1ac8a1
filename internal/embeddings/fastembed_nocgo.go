//go:build !cgo

package embeddings

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/seer/internal/logging"
)

// ErrFastEmbedNotAvailable is returned by binaries built without cgo.
var ErrFastEmbedNotAvailable = errors.New("fastembed: binary built without cgo, use the tei or openai provider")

// FastEmbedConfig configures the local ONNX provider.
type FastEmbedConfig struct {
	Model      string
	CacheDir   string
	RuntimeDir string
	MaxLength  int
}

// FastEmbedProvider is unavailable without cgo.
type FastEmbedProvider struct{}

// NewFastEmbedProvider always fails without cgo.
func NewFastEmbedProvider(FastEmbedConfig, *logging.Logger) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) Dimension() int { return 0 }

func (*FastEmbedProvider) Close() error { return nil }
