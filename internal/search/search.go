// Package search adapts external news search providers to a common result
// shape.
//
// Providers differ in what they return: Exa reports a native relevance
// score per hit, Perplexity only an order. Perplexity results get a
// synthetic score derived from their rank so both can be treated alike
// downstream.
package search

import (
	"context"
	"errors"
	"fmt"
)

// ErrProviderUnavailable matches every error returned by a provider
// adapter.
var ErrProviderUnavailable = errors.New("search provider unavailable")

// ScoreSource describes where SearchResult.Score came from.
type ScoreSource string

const (
	ScoreNative ScoreSource = "native"
	ScoreRank   ScoreSource = "rank"
)

// SearchResult is one raw hit from a provider.
type SearchResult struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	URL           string      `json:"url"`
	Text          string      `json:"text"`
	Score         float64     `json:"score"`
	ScoreSource   ScoreSource `json:"score_source"`
	PublishedDate string      `json:"published_date,omitempty"`
	Author        string      `json:"author,omitempty"`
	Provider      string      `json:"provider"`
}

// Constraints narrow a search.
type Constraints struct {
	RecencyDays int
	Country     string
	Domains     []string
}

// Provider is a search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, count int, c Constraints) ([]SearchResult, error)
}

// ProviderError describes a failed provider call.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is reports ProviderError as ErrProviderUnavailable.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderUnavailable
}
