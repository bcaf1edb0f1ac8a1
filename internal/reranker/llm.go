package reranker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/llm"
	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/ranking"
)

// LLMReranker asks a language model to score the top candidates.
type LLMReranker struct {
	client  llm.Client
	topK    int
	timeout time.Duration
	logger  *logging.Logger
}

// NewLLM returns an LLM reranker. Zero topK or timeout use the defaults.
func NewLLM(client llm.Client, topK int, timeout time.Duration, logger *logging.Logger) *LLMReranker {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LLMReranker{client: client, topK: topK, timeout: timeout, logger: logger}
}

// Name implements Reranker.
func (r *LLMReranker) Name() string {
	return BackendLLM + ":" + r.client.Name()
}

// Rerank implements Reranker.
func (r *LLMReranker) Rerank(ctx context.Context, docs []ranking.RankedDocument, profile ranking.UserProfile) (Result, error) {
	if ctx == nil {
		return Result{}, ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(docs) == 0 {
		return Result{Documents: []ranking.RankedDocument{}}, nil
	}

	head, tail := split(docs, r.topK)

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()
	raw, err := r.client.Complete(callCtx, buildPrompt(head, profile))
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if err != nil {
		reason := "backend error: " + err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Sprintf("timed out after %s", r.timeout)
		}
		return r.degrade(ctx, docs, reason, err), nil
	}

	scores, err := parseScores(raw)
	if err != nil {
		return r.degrade(ctx, docs, "malformed output", err), nil
	}

	byID := make(map[string]llmScore, len(scores))
	for _, s := range scores {
		if _, dup := byID[s.ID]; !dup {
			byID[s.ID] = s
		}
	}
	var scored, omitted []ranking.RankedDocument
	for _, d := range head {
		c := d.Clone()
		if s, ok := byID[d.ID]; ok {
			_ = c.SetStageScore(ranking.StageRerank, s.Score)
			c.Rationale = s.Reason
			scored = append(scored, c)
			continue
		}
		_ = c.SetStageScore(ranking.StageRerank, 0)
		omitted = append(omitted, c)
	}
	if len(scored) == 0 {
		return r.degrade(ctx, docs, "no candidate ids in output", nil), nil
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Scores[ranking.StageRerank] > scored[j].Scores[ranking.StageRerank]
	})

	out := make([]ranking.RankedDocument, 0, len(docs))
	out = append(out, scored...)
	out = append(out, omitted...)
	for _, d := range tail {
		c := d.Clone()
		_ = c.SetStageScore(ranking.StageRerank, 0)
		out = append(out, c)
	}
	ranking.AssignRanks(out)

	r.logger.Debug(ctx, "reranked candidates",
		zap.String("reranker", r.Name()),
		zap.Int("scored", len(scored)),
		zap.Int("omitted", len(omitted)),
		zap.Int("beyond_top_k", len(tail)),
		zap.Duration("duration", time.Since(start)))
	return Result{Documents: out}, nil
}

func (r *LLMReranker) degrade(ctx context.Context, docs []ranking.RankedDocument, reason string, err error) Result {
	fields := []zap.Field{zap.String("reranker", r.Name()), zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	r.logger.Warn(ctx, "rerank fell back to fusion order", fields...)
	return fallback(docs, reason)
}
