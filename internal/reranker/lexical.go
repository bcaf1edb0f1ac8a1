package reranker

import (
	"context"
	"math"
	"sort"

	"github.com/fyrsmithlabs/seer/internal/ranking"
)

// LexicalReranker scores the head by term overlap with the profile,
// combined half and half with the min-max normalised prior score. It needs
// no external service.
type LexicalReranker struct {
	topK int
}

// NewLexical returns a lexical reranker. Zero topK uses DefaultTopK.
func NewLexical(topK int) *LexicalReranker {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &LexicalReranker{topK: topK}
}

// Name implements Reranker.
func (r *LexicalReranker) Name() string { return BackendLexical }

// Rerank implements Reranker. An empty profile keeps the input order.
func (r *LexicalReranker) Rerank(ctx context.Context, docs []ranking.RankedDocument, profile ranking.UserProfile) (Result, error) {
	if ctx == nil {
		return Result{}, ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	const priorWeight, overlapWeight = 0.5, 0.5

	head, tail := split(docs, r.topK)
	terms := profile.Terms()
	prior := minMax(head)

	out := make([]ranking.RankedDocument, 0, len(docs))
	for i, d := range head {
		c := d.Clone()
		score := prior[i]
		if len(terms) > 0 {
			overlap := ranking.Overlap(terms, ranking.TermSet(d.Title+" "+d.Snippet))
			score = priorWeight*prior[i] + overlapWeight*overlap
		}
		_ = c.SetStageScore(ranking.StageRerank, score)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Scores[ranking.StageRerank] > out[j].Scores[ranking.StageRerank]
	})
	for _, d := range tail {
		c := d.Clone()
		_ = c.SetStageScore(ranking.StageRerank, 0)
		out = append(out, c)
	}
	ranking.AssignRanks(out)
	return Result{Documents: out}, nil
}

func minMax(docs []ranking.RankedDocument) []float64 {
	out := make([]float64, len(docs))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, d := range docs {
		lo = math.Min(lo, d.FinalScore)
		hi = math.Max(hi, d.FinalScore)
	}
	for i, d := range docs {
		if hi > lo {
			out[i] = (d.FinalScore - lo) / (hi - lo)
		} else {
			out[i] = 1
		}
	}
	return out
}
