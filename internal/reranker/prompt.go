package reranker

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/seer/internal/normalize"
	"github.com/fyrsmithlabs/seer/internal/ranking"
)

const promptSnippetLength = 300

// ErrMalformedOutput is returned when model output holds no score list.
var ErrMalformedOutput = errors.New("malformed rerank output")

// llmScore is one parsed entry; Score is normalised to [0,1].
type llmScore struct {
	ID     string
	Score  float64
	Reason string
}

func buildPrompt(docs []ranking.RankedDocument, profile ranking.UserProfile) string {
	var b strings.Builder
	b.WriteString("You rank news articles for one reader.\n\nReader profile:\n")
	b.WriteString(profile.Summary())
	b.WriteString("\nCandidates:\n")
	for i, d := range docs {
		fmt.Fprintf(&b, "%d. id: %s\n   title: %s\n   source: %s\n   snippet: %s\n",
			i+1, d.ID, d.Title, d.Domain, normalize.Truncate(d.Snippet, promptSnippetLength))
	}
	b.WriteString(`
Score every candidate from 0 to 10 for how useful it is to this reader right now.
Respond with only a JSON array, one object per candidate, using the ids above:
[{"id": "<id>", "score": 7.5, "reason": "<one sentence>"}]
`)
	return b.String()
}

// rawScore accepts ids and scores as strings or numbers.
type rawScore struct {
	ID     json.RawMessage `json:"id"`
	Score  json.RawMessage `json:"score"`
	Reason string          `json:"reason"`
}

// parseScores extracts the score list from model output. Code fences and
// surrounding prose, brackets included, are tolerated: every '[' and '{' is
// tried in order and the first JSON value that yields usable entries wins.
// The list may be a bare array or the "rankings" field of an object.
// Scores are clamped to [0,10] and divided by 10; entries without an id or
// a numeric score are skipped.
func parseScores(output string) ([]llmScore, error) {
	text := stripFences(output)
	err := ErrMalformedOutput
	for i := 0; i < len(text); i++ {
		entries, ok := decodeAt(text[i:])
		if !ok {
			continue
		}
		var scores []llmScore
		if scores, err = convert(entries); err == nil {
			return scores, nil
		}
	}
	return nil, err
}

// decodeAt decodes the single JSON value at the start of s, ignoring
// whatever follows it.
func decodeAt(s string) ([]rawScore, bool) {
	switch s[0] {
	case '[':
		var entries []rawScore
		return entries, json.NewDecoder(strings.NewReader(s)).Decode(&entries) == nil
	case '{':
		var wrapped struct {
			Rankings []rawScore `json:"rankings"`
		}
		err := json.NewDecoder(strings.NewReader(s)).Decode(&wrapped)
		return wrapped.Rankings, err == nil && wrapped.Rankings != nil
	}
	return nil, false
}

func convert(entries []rawScore) ([]llmScore, error) {
	out := make([]llmScore, 0, len(entries))
	for _, e := range entries {
		id := scalar(e.ID)
		score, err := strconv.ParseFloat(scalar(e.Score), 64)
		if id == "" || err != nil || math.IsNaN(score) {
			continue
		}
		score = math.Max(0, math.Min(10, score))
		out = append(out, llmScore{ID: id, Score: score / 10, Reason: strings.TrimSpace(e.Reason)})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no usable entries", ErrMalformedOutput)
	}
	return out, nil
}

// scalar renders a JSON string or number as plain text.
func scalar(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
