package embeddings

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/ranking"
)

// DocumentText is the text embedded for a document: its title and snippet.
func DocumentText(doc ranking.RankedDocument) string {
	return strings.TrimSpace(doc.Title + "\n" + doc.Snippet)
}

// Attach sets Embedding on every document it can embed and returns how
// many were embedded. The whole batch is tried first; when it fails each
// document is retried alone. Documents that still fail, or have no text,
// keep a nil Embedding. Attach stops retrying once ctx is done.
func Attach(ctx context.Context, p Provider, docs []ranking.RankedDocument, logger *logging.Logger) int {
	if p == nil || len(docs) == 0 {
		return 0
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var (
		idx   []int
		texts []string
	)
	for i := range docs {
		if text := DocumentText(docs[i]); text != "" {
			idx = append(idx, i)
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		return 0
	}

	vectors, err := p.EmbedDocuments(ctx, texts)
	if err == nil && len(vectors) == len(texts) {
		for j, i := range idx {
			docs[i].Embedding = vectors[j]
		}
		return len(idx)
	}
	logger.Warn(ctx, "batch embedding failed, retrying per document",
		zap.Int("documents", len(texts)), zap.Error(err))

	embedded := 0
	for j, i := range idx {
		if ctx.Err() != nil {
			logger.Warn(ctx, "embedding stopped early", zap.Int("embedded", embedded), zap.Error(ctx.Err()))
			break
		}
		vector, err := p.EmbedDocuments(ctx, texts[j:j+1])
		if err == nil && len(vector) != 1 {
			err = ErrEmbeddingFailed
		}
		if err != nil {
			logger.Warn(ctx, "document embedding failed",
				zap.String("document_id", docs[i].ID), zap.Error(err))
			continue
		}
		docs[i].Embedding = vector[0]
		embedded++
	}
	return embedded
}
