// Package normalize converts raw provider hits into Documents: dates are
// parsed, the source domain extracted, text truncated to a snippet, and
// duplicate URLs collapsed.
package normalize

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/search"
)

const (
	// MaxSnippetLength bounds Document.Snippet in runes.
	MaxSnippetLength = 1000

	// MaxFutureSkew is how far past now a publication date may lie before
	// it is treated as an issue date.
	MaxFutureSkew = 14 * 24 * time.Hour

	// UnknownDomain is used when a URL has no usable host.
	UnknownDomain = "unknown"

	ellipsis = "..."
)

// Document is a normalized search result.
type Document struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	Snippet       string     `json:"snippet"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	PublishedRaw  string     `json:"published_raw,omitempty"`
	Domain        string     `json:"domain"`
	Author        string     `json:"author,omitempty"`
	Provider      string     `json:"provider"`
	ProviderScore float64    `json:"provider_score"`
	ProviderRank  int        `json:"provider_rank"`
	Embedding     []float32  `json:"-"`
}

// Normalizer converts SearchResults to Documents. The zero value uses
// time.Now and a nop logger.
type Normalizer struct {
	Now    func() time.Time
	Logger *logging.Logger
}

// New returns a Normalizer with the given clock.
func New(now func() time.Time, logger *logging.Logger) *Normalizer {
	return &Normalizer{Now: now, Logger: logger}
}

func (n *Normalizer) now() time.Time {
	if n == nil || n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

// Normalize converts one result. It never fails: unparsable dates become
// nil and unusable URLs get the "unknown" domain.
func (n *Normalizer) Normalize(r search.SearchResult) Document {
	id := r.ID
	if id == "" {
		id = r.URL
	}
	doc := Document{
		ID:            id,
		Title:         strings.TrimSpace(r.Title),
		URL:           r.URL,
		Snippet:       Truncate(r.Text, MaxSnippetLength),
		Domain:        ExtractDomain(r.URL),
		Author:        r.Author,
		Provider:      r.Provider,
		ProviderScore: r.Score,
	}

	if parsed := ParseDate(r.PublishedDate); parsed != nil {
		if parsed.After(n.now().Add(MaxFutureSkew)) {
			doc.PublishedRaw = r.PublishedDate
		} else {
			doc.PublishedAt = parsed
		}
	}
	return doc
}

// NormalizeBatch normalizes results in order and drops later duplicates of
// the same URL. ProviderRank is the 1-based position of the result among
// the input results of the same provider.
func (n *Normalizer) NormalizeBatch(ctx context.Context, results []search.SearchResult) []Document {
	docs := make([]Document, 0, len(results))
	seen := make(map[string]string, len(results))
	ranks := make(map[string]int)

	for _, r := range results {
		ranks[r.Provider]++
		key := DedupKey(r.URL)
		if first, dup := seen[key]; dup {
			n.logger().Debug(ctx, "dropping duplicate result",
				zap.String("url", r.URL),
				zap.String("provider", r.Provider),
				zap.String("kept_provider", first))
			continue
		}
		seen[key] = r.Provider

		doc := n.Normalize(r)
		doc.ProviderRank = ranks[r.Provider]
		docs = append(docs, doc)
	}
	return docs
}

func (n *Normalizer) logger() *logging.Logger {
	if n == nil || n.Logger == nil {
		return logging.NewNop()
	}
	return n.Logger
}

// DedupKey is the identity of a URL for duplicate detection: lowercase with
// trailing slashes removed.
func DedupKey(rawURL string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(rawURL)), "/")
}

// ExtractDomain returns the registrable-looking domain of rawURL: lowercase,
// without "www." or port, reduced to its last two labels. Hostless or
// single-label hosts (other than localhost) yield "unknown".
func ExtractDomain(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return UnknownDomain
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return UnknownDomain
	}
	host := u.Host
	if host == "" {
		return UnknownDomain
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return UnknownDomain
	}

	labels := strings.Split(host, ".")
	if len(labels) == 1 {
		if host == "localhost" {
			return host
		}
		return UnknownDomain
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// Truncate shortens text to at most maxRunes runes. When cut, three runes
// are reserved for "..." and the cut moves back to the last space if that
// keeps more than 80% of the budget.
func Truncate(text string, maxRunes int) string {
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	budget := maxRunes - len(ellipsis)
	if budget <= 0 {
		return string([]rune(text)[:maxRunes])
	}
	runes := []rune(text)[:budget]
	if idx := lastSpace(runes); float64(idx) > float64(budget)*0.8 {
		runes = runes[:idx]
	}
	return strings.TrimRight(string(runes), " \t\n\r") + ellipsis
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}
