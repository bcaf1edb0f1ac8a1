package ranking

import "math"

// DefaultMMRLambda weights relevance against diversity.
const DefaultMMRLambda = 0.7

// Relevance is the score diversity selection trades against similarity:
// the rerank score when present, otherwise the final score.
func Relevance(d RankedDocument) float64 {
	if s, ok := d.Scores[StageRerank]; ok {
		return s
	}
	return d.FinalScore
}

// SelectMMR greedily picks up to k candidates maximising
// lambda*rel - (1-lambda)*maxSim, where rel is min-max normalised over the
// candidates and maxSim is the highest cosine similarity to an already
// selected document (0 for the first pick). Ties keep input order. Each
// selected document records its marginal score under the mmr stage.
func SelectMMR(candidates []RankedDocument, k int, lambda float64) []RankedDocument {
	if k <= 0 || len(candidates) == 0 {
		return []RankedDocument{}
	}
	k = min(k, len(candidates))
	lambda = clamp01(lambda)

	rel := normalizedRelevance(candidates)
	picked := make([]bool, len(candidates))
	// maxSim[i] is the highest similarity of candidate i to the selection,
	// -Inf while nothing is selected. Negative similarities are kept.
	maxSim := make([]float64, len(candidates))
	for i := range maxSim {
		maxSim[i] = math.Inf(-1)
	}
	out := make([]RankedDocument, 0, k)

	for len(out) < k {
		best, bestScore := -1, math.Inf(-1)
		for i := range candidates {
			if picked[i] {
				continue
			}
			penalty := 0.0
			if len(out) > 0 {
				penalty = maxSim[i]
			}
			score := lambda*rel[i] - (1-lambda)*penalty
			if best < 0 || score > bestScore {
				best, bestScore = i, score
			}
		}
		picked[best] = true
		d := candidates[best].Clone()
		// a document is selected once
		_ = d.SetStageScore(StageMMR, bestScore)
		out = append(out, d)

		for i := range candidates {
			if picked[i] {
				continue
			}
			if sim := CosineSimilarity(candidates[i].Embedding, candidates[best].Embedding); sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}
	AssignRanks(out)
	return out
}

// normalizedRelevance min-max scales relevance over the finite values.
// NaN and -Inf map to 0, +Inf to 1.
func normalizedRelevance(docs []RankedDocument) []float64 {
	rel := make([]float64, len(docs))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, d := range docs {
		r := Relevance(d)
		rel[i] = r
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		lo = math.Min(lo, r)
		hi = math.Max(hi, r)
	}
	for i, r := range rel {
		switch {
		case math.IsNaN(r), math.IsInf(r, -1):
			rel[i] = 0
		case math.IsInf(r, 1):
			rel[i] = 1
		case hi == lo:
			rel[i] = 1
		default:
			rel[i] = (r - lo) / (hi - lo)
		}
	}
	return rel
}
