// Package reranker reorders fused candidates by semantic relevance to a
// user profile.
//
// Rerankers never fail a run on backend trouble: errors, timeouts and
// unusable output produce the input order with Fallback set. Only
// cancellation of the caller's context is returned as an error.
package reranker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/llm"
	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/ranking"
)

// Backend names.
const (
	BackendLLM     = "llm"
	BackendLexical = "lexical"
	BackendNone    = "none"
)

const (
	// DefaultTopK bounds how many candidates a backend scores.
	DefaultTopK = 20

	// DefaultTimeout bounds one backend call.
	DefaultTimeout = 20 * time.Second
)

// ErrNilContext is returned when a nil context is passed to Rerank.
var ErrNilContext = errors.New("context cannot be nil")

// Result is a reranked list. Documents beyond the scored head keep their
// input order after it.
type Result struct {
	Documents []ranking.RankedDocument
	Fallback  bool
	Reason    string
}

// Reranker reorders candidates for a profile.
type Reranker interface {
	Rerank(ctx context.Context, docs []ranking.RankedDocument, profile ranking.UserProfile) (Result, error)
	Name() string
}

// New builds the reranker selected by cfg.Reranker.Backend. client may be
// nil unless the backend is llm.
func New(cfg *config.Config, client llm.Client, logger *logging.Logger) (Reranker, error) {
	topK := cfg.Reranker.TopK
	switch cfg.Reranker.Backend {
	case BackendLLM:
		if client == nil {
			return nil, fmt.Errorf("%w: llm reranker requires a client", config.ErrFatalConfiguration)
		}
		return NewLLM(client, topK, cfg.Pipeline.RerankTimeout.Duration(), logger), nil
	case BackendLexical:
		return NewLexical(topK), nil
	case BackendNone, "":
		return Passthrough{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown reranker backend %q", config.ErrFatalConfiguration, cfg.Reranker.Backend)
	}
}

// fallback returns docs in input order with the rerank score set to their
// current final score.
func fallback(docs []ranking.RankedDocument, reason string) Result {
	out := make([]ranking.RankedDocument, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
		out[i].Fallback = true
		// every input document gets exactly one rerank score
		_ = out[i].SetStageScore(ranking.StageRerank, d.FinalScore)
	}
	ranking.AssignRanks(out)
	return Result{Documents: out, Fallback: true, Reason: reason}
}

// Passthrough keeps the input order and uses the final score as the
// rerank score.
type Passthrough struct{}

// Name implements Reranker.
func (Passthrough) Name() string { return BackendNone }

// Rerank implements Reranker.
func (Passthrough) Rerank(ctx context.Context, docs []ranking.RankedDocument, _ ranking.UserProfile) (Result, error) {
	if ctx == nil {
		return Result{}, ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	res := fallback(docs, "")
	for i := range res.Documents {
		res.Documents[i].Fallback = false
	}
	res.Fallback = false
	return res, nil
}

// split bounds the scored head to topK.
func split(docs []ranking.RankedDocument, topK int) (head, tail []ranking.RankedDocument) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	k := min(topK, len(docs))
	return docs[:k], docs[k:]
}
