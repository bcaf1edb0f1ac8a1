package ranking

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/normalize"
)

const (
	// DefaultHalfLife is the age at which recency drops to 0.5.
	DefaultHalfLife = 7 * 24 * time.Hour

	// undatedRecency is the recency of documents without a usable date.
	undatedRecency = 0.3
	recencyFloor   = 0.01

	// neutralProfileMatch is used when the profile has no terms.
	neutralProfileMatch = 0.5
	maxProfileTerms     = 10

	weightTolerance = 0.01
)

// ErrInvalidWeights is returned for negative weights or weights that do not
// sum to one.
var ErrInvalidWeights = errors.New("invalid heuristic weights")

// Weights are the heuristic mix.
type Weights struct {
	Recency   float64
	Authority float64
	Profile   float64
}

// DefaultWeights returns 0.4 recency, 0.3 authority, 0.3 profile.
func DefaultWeights() Weights {
	return Weights{Recency: 0.4, Authority: 0.3, Profile: 0.3}
}

func (w Weights) validate() error {
	if w.Recency < 0 || w.Authority < 0 || w.Profile < 0 {
		return fmt.Errorf("%w: weights must be non-negative", ErrInvalidWeights)
	}
	sum := w.Recency + w.Authority + w.Profile
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %.3f, want 1.0", ErrInvalidWeights, sum)
	}
	return nil
}

// Breakdown holds the sub-scores behind a heuristic score. Sub-scores are
// in [0,1]; Score is in [0,100].
type Breakdown struct {
	Recency      float64 `json:"recency"`
	Authority    float64 `json:"authority"`
	ProfileMatch float64 `json:"profile_match"`
	Score        float64 `json:"score"`
}

// Scorer computes a cheap relevance prior from recency, source authority
// and lexical profile match.
type Scorer struct {
	weights   Weights
	halfLife  time.Duration
	authority *AuthorityTable
	now       func() time.Time
}

// NewScorer validates the weights. A zero halfLife uses DefaultHalfLife, a
// nil table uses the built-in authorities and a nil clock uses time.Now.
func NewScorer(w Weights, halfLife time.Duration, authority *AuthorityTable, now func() time.Time) (*Scorer, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	if authority == nil {
		authority = NewAuthorityTable(DefaultAuthority)
	}
	if now == nil {
		now = time.Now
	}
	return &Scorer{weights: w, halfLife: halfLife, authority: authority, now: now}, nil
}

// ScorerFromConfig builds a Scorer from the ranking section.
func ScorerFromConfig(cfg config.RankingConfig, authority *AuthorityTable, now func() time.Time) (*Scorer, error) {
	w := Weights{Recency: cfg.RecencyWeight, Authority: cfg.AuthorityWeight, Profile: cfg.ProfileWeight}
	return NewScorer(w, cfg.RecencyHalfLife.Duration(), authority, now)
}

// Authority returns the table the scorer reads.
func (s *Scorer) Authority() *AuthorityTable {
	return s.authority
}

// Score returns the heuristic score of doc for profile, in [0,100].
func (s *Scorer) Score(doc normalize.Document, profile UserProfile) float64 {
	return s.Breakdown(doc, profile).Score
}

// Breakdown returns the sub-scores of doc for profile.
func (s *Scorer) Breakdown(doc normalize.Document, profile UserProfile) Breakdown {
	return s.breakdown(doc, profile.Terms())
}

// ScoreAll wraps docs and records their heuristic score, keeping input
// order.
func (s *Scorer) ScoreAll(docs []normalize.Document, profile UserProfile) []RankedDocument {
	terms := profile.Terms()
	out := make([]RankedDocument, len(docs))
	for i, doc := range docs {
		out[i] = NewRankedDocument(doc)
		// fresh documents have no stage scores yet
		_ = out[i].SetStageScore(StageHeuristic, s.breakdown(doc, terms).Score)
	}
	return out
}

func (s *Scorer) breakdown(doc normalize.Document, terms []string) Breakdown {
	b := Breakdown{
		Recency:      clamp01(s.recency(doc.PublishedAt)),
		Authority:    clamp01(s.authority.Score(doc.Domain)),
		ProfileMatch: clamp01(profileMatch(doc, terms)),
	}
	b.Score = 100 * (s.weights.Recency*b.Recency +
		s.weights.Authority*b.Authority +
		s.weights.Profile*b.ProfileMatch)
	if math.IsNaN(b.Score) {
		b.Score = 0
	}
	return b
}

func (s *Scorer) recency(published *time.Time) float64 {
	if published == nil {
		return undatedRecency
	}
	age := s.now().Sub(*published)
	if age <= 0 {
		return 1
	}
	decay := math.Exp(-math.Ln2 / s.halfLife.Hours() * age.Hours())
	return math.Max(decay, recencyFloor)
}

func profileMatch(doc normalize.Document, terms []string) float64 {
	if len(terms) == 0 {
		return neutralProfileMatch
	}
	text := TermSet(doc.Title + " " + doc.Snippet)
	matched := 0
	for _, t := range terms {
		if text[t] {
			matched++
		}
	}
	return float64(matched) / float64(min(len(terms), maxProfileTerms))
}

// Explain renders a human-readable breakdown of doc's score. rank is
// 1-based; zero omits it.
func (s *Scorer) Explain(doc normalize.Document, profile UserProfile, rank int) string {
	b := s.Breakdown(doc, profile)
	var sb strings.Builder
	if rank > 0 {
		fmt.Fprintf(&sb, "Rank #%d - Score: %.1f\n", rank, b.Score)
	} else {
		fmt.Fprintf(&sb, "Score: %.1f\n", b.Score)
	}
	fmt.Fprintf(&sb, "Title: %s\n", doc.Title)
	fmt.Fprintf(&sb, "Source: %s (%s, %s, authority %.2f)\n",
		DisplayName(doc.Domain), doc.Domain, AuthorityTier(b.Authority), b.Authority)
	if doc.PublishedAt != nil {
		fmt.Fprintf(&sb, "Recency: %.2f (published %s, %s)\n",
			b.Recency, doc.PublishedAt.Format(time.DateOnly), humanAge(s.now().Sub(*doc.PublishedAt)))
	} else {
		fmt.Fprintf(&sb, "Recency: %.2f (no publication date)\n", b.Recency)
	}
	fmt.Fprintf(&sb, "Profile match: %.2f\n", b.ProfileMatch)
	fmt.Fprintf(&sb, "Read time: %d min\n", ReadTime(len([]rune(doc.Snippet))))
	if doc.Provider != "" {
		fmt.Fprintf(&sb, "Provider: %s\n", doc.Provider)
	}
	return sb.String()
}

func humanAge(age time.Duration) string {
	switch {
	case age <= 0:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}
