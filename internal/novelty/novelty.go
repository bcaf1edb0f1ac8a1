// Package novelty removes documents that repeat what a user was recently
// shown.
package novelty

import (
	"sort"

	"github.com/fyrsmithlabs/seer/internal/delivery"
	"github.com/fyrsmithlabs/seer/internal/ranking"
)

// Defaults.
const (
	DefaultThreshold = 0.85
	DefaultMinKeep   = 5
)

// Result splits the input into kept and dropped documents. Restored counts
// the near-duplicates put back to honour the minimum.
type Result struct {
	Kept     []ranking.RankedDocument `json:"kept"`
	Dropped  []ranking.RankedDocument `json:"dropped"`
	Restored int                      `json:"restored"`
}

// Filter drops every document whose cosine similarity to some recent
// delivery is strictly greater than threshold. Documents without an
// embedding are always kept. When fewer than minKeep documents survive
// (minKeep is capped at len(selected)), the highest-scoring dropped ones are
// restored. Kept and Dropped preserve input order; Kept is re-ranked.
func Filter(selected []ranking.RankedDocument, recent *delivery.RecentDeliverySet, threshold float64, minKeep int) Result {
	minKeep = max(0, min(minKeep, len(selected)))

	var seen [][]float32
	if recent != nil {
		for _, item := range recent.Items {
			if len(item.Embedding) > 0 {
				seen = append(seen, item.Embedding)
			}
		}
	}

	keep := make([]bool, len(selected))
	var dropped []int
	for i, d := range selected {
		if len(d.Embedding) == 0 || !repeats(d.Embedding, seen, threshold) {
			keep[i] = true
			continue
		}
		dropped = append(dropped, i)
	}

	restored := 0
	if kept := len(selected) - len(dropped); kept < minKeep {
		byScore := append([]int(nil), dropped...)
		sort.SliceStable(byScore, func(a, b int) bool {
			return selected[byScore[a]].FinalScore > selected[byScore[b]].FinalScore
		})
		for _, i := range byScore[:minKeep-kept] {
			keep[i] = true
			restored++
		}
	}

	res := Result{Kept: []ranking.RankedDocument{}, Dropped: []ranking.RankedDocument{}, Restored: restored}
	for i, d := range selected {
		if keep[i] {
			res.Kept = append(res.Kept, d)
		} else {
			res.Dropped = append(res.Dropped, d)
		}
	}
	ranking.AssignRanks(res.Kept)
	return res
}

func repeats(embedding []float32, seen [][]float32, threshold float64) bool {
	for _, s := range seen {
		if ranking.CosineSimilarity(embedding, s) > threshold {
			return true
		}
	}
	return false
}
