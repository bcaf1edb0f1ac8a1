// Package ranking scores, fuses and diversifies normalized documents.
//
// A RankedDocument accumulates one score per pipeline stage. Stage scores
// are write-once; FinalScore is always the score of the last stage that
// ran, so every position in the output can be traced to a stage.
package ranking

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/seer/internal/normalize"
)

// Stage names a scoring stage.
type Stage string

const (
	StageHeuristic Stage = "heuristic"
	StageFusion    Stage = "fusion"
	StageRerank    Stage = "rerank"
	StageMMR       Stage = "mmr"
)

// ErrStageScoreSet is returned when a stage score would be overwritten.
var ErrStageScoreSet = errors.New("stage score already set")

// UserProfile describes who the ranking is personalised for. The pipeline
// never modifies it.
type UserProfile struct {
	UserID     string   `json:"user_id"`
	Role       string   `json:"role,omitempty"`
	Industries []string `json:"industries,omitempty"`
	Interests  []string `json:"interests,omitempty"`
	Tools      []string `json:"tools,omitempty"`
	Problems   []string `json:"problems,omitempty"`
}

// Terms returns the unique lowercase tokens of every profile field, in
// first-seen order.
func (p UserProfile) Terms() []string {
	var parts []string
	parts = append(parts, p.Role)
	parts = append(parts, p.Industries...)
	parts = append(parts, p.Interests...)
	parts = append(parts, p.Tools...)
	parts = append(parts, p.Problems...)

	seen := make(map[string]bool)
	var terms []string
	for _, tok := range Tokenize(strings.Join(parts, " ")) {
		if !seen[tok] {
			seen[tok] = true
			terms = append(terms, tok)
		}
	}
	return terms
}

// IsEmpty reports whether the profile carries no personalisation.
func (p UserProfile) IsEmpty() bool {
	return len(p.Terms()) == 0
}

// Summary renders the profile as one line per populated field.
func (p UserProfile) Summary() string {
	var b strings.Builder
	write := func(label string, values ...string) {
		var kept []string
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			fmt.Fprintf(&b, "%s: %s\n", label, strings.Join(kept, ", "))
		}
	}
	write("Role", p.Role)
	write("Industries", p.Industries...)
	write("Interests", p.Interests...)
	write("Tools", p.Tools...)
	write("Problems", p.Problems...)
	if b.Len() == 0 {
		return "No profile information.\n"
	}
	return b.String()
}

// RankedDocument is a Document with its scoring history.
type RankedDocument struct {
	normalize.Document

	Scores     map[Stage]float64 `json:"scores"`
	Rationale  string            `json:"rationale,omitempty"`
	FinalScore float64           `json:"final_score"`
	Rank       int               `json:"rank"`
	Fallback   bool              `json:"fallback,omitempty"`
	Sources    []string          `json:"sources,omitempty"`
}

// NewRankedDocument wraps doc with an empty score history.
func NewRankedDocument(doc normalize.Document) RankedDocument {
	return RankedDocument{Document: doc, Scores: make(map[Stage]float64, 4)}
}

// SetStageScore records the score of stage and makes it the final score.
// A stage can be scored once.
func (d *RankedDocument) SetStageScore(stage Stage, score float64) error {
	if d.Scores == nil {
		d.Scores = make(map[Stage]float64, 4)
	}
	if _, ok := d.Scores[stage]; ok {
		return fmt.Errorf("%w: %s on %s", ErrStageScoreSet, stage, d.ID)
	}
	d.Scores[stage] = score
	d.FinalScore = score
	return nil
}

// StageScore returns the score of stage, if recorded.
func (d RankedDocument) StageScore(stage Stage) (float64, bool) {
	s, ok := d.Scores[stage]
	return s, ok
}

// Clone returns a copy that does not share the score map or slices.
func (d RankedDocument) Clone() RankedDocument {
	c := d
	c.Scores = make(map[Stage]float64, len(d.Scores))
	for k, v := range d.Scores {
		c.Scores[k] = v
	}
	if d.Sources != nil {
		c.Sources = append([]string(nil), d.Sources...)
	}
	return c
}

// AssignRanks numbers docs 1..n in their current order.
func AssignRanks(docs []RankedDocument) {
	for i := range docs {
		docs[i].Rank = i + 1
	}
}

// Wrap converts documents into ranked documents without scores.
func Wrap(docs []normalize.Document) []RankedDocument {
	out := make([]RankedDocument, len(docs))
	for i, d := range docs {
		out[i] = NewRankedDocument(d)
	}
	return out
}

// sortStable orders docs by less, keeping input order for ties.
func sortStable(docs []RankedDocument, less func(a, b RankedDocument) bool) {
	sort.SliceStable(docs, func(i, j int) bool { return less(docs[i], docs[j]) })
}
