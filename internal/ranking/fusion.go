package ranking

import (
	"sort"

	"github.com/fyrsmithlabs/seer/internal/normalize"
)

// DefaultRRFK is the reciprocal rank fusion smoothing constant.
const DefaultRRFK = 60

// ProviderRankings groups docs by provider and restores each provider's
// own order: provider score descending, then provider rank. The heuristic
// score plays no part here; Fuse uses it only to break ties.
func ProviderRankings(docs []RankedDocument) map[string][]RankedDocument {
	out := make(map[string][]RankedDocument)
	for _, d := range docs {
		out[d.Provider] = append(out[d.Provider], d)
	}
	for _, list := range out {
		sortStable(list, func(a, b RankedDocument) bool {
			if a.ProviderScore != b.ProviderScore {
				return a.ProviderScore > b.ProviderScore
			}
			return a.ProviderRank < b.ProviderRank
		})
	}
	return out
}

type fusedEntry struct {
	doc       RankedDocument
	score     float64
	heuristic float64
}

// Fuse merges per-provider rankings with reciprocal rank fusion. A document
// at 1-based rank r contributes 1/(k+r); documents are matched across
// providers by URL. The first provider in name order supplies the merged
// document. Ties go to the higher heuristic score, then the smaller ID.
// k <= 0 uses DefaultRRFK.
func Fuse(rankings map[string][]RankedDocument, k int) []RankedDocument {
	if k <= 0 {
		k = DefaultRRFK
	}
	providers := make([]string, 0, len(rankings))
	for p := range rankings {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	byKey := make(map[string]*fusedEntry)
	var order []string
	for _, p := range providers {
		for i, d := range rankings[p] {
			key := normalize.DedupKey(d.URL)
			if key == "" {
				key = "id:" + d.ID
			}
			e, ok := byKey[key]
			if !ok {
				e = &fusedEntry{doc: d.Clone()}
				e.doc.Sources = nil
				byKey[key] = e
				order = append(order, key)
			}
			e.score += 1 / float64(k+i+1)
			if h := d.Scores[StageHeuristic]; h > e.heuristic {
				e.heuristic = h
			}
			if !contains(e.doc.Sources, p) {
				e.doc.Sources = append(e.doc.Sources, p)
			}
		}
	}

	entries := make([]*fusedEntry, 0, len(order))
	for _, key := range order {
		entries = append(entries, byKey[key])
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.heuristic != b.heuristic {
			return a.heuristic > b.heuristic
		}
		return a.doc.ID < b.doc.ID
	})

	out := make([]RankedDocument, len(entries))
	for i, e := range entries {
		out[i] = e.doc
		// a document enters fusion once
		_ = out[i].SetStageScore(StageFusion, e.score)
	}
	AssignRanks(out)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
