package pipeline

import (
	"context"
	"time"
)

// Stage names a step of a run, in execution order.
type Stage string

const (
	StageSearch     Stage = "search"
	StageNormalize  Stage = "normalize"
	StageHeuristics Stage = "heuristics"
	StageFuse       Stage = "fuse"
	StageRerank     Stage = "rerank"
	StageEmbed      Stage = "embed"
	StageMMR        Stage = "mmr"
	StageNovelty    Stage = "novelty"
	StageDone       Stage = "done"
)

// Stages lists every stage in execution order.
func Stages() []Stage {
	return []Stage{StageSearch, StageNormalize, StageHeuristics, StageFuse,
		StageRerank, StageEmbed, StageMMR, StageNovelty, StageDone}
}

// EventType classifies progress events.
type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventWarning   EventType = "warning"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
)

// Event reports run progress.
type Event struct {
	Type    EventType `json:"type"`
	Step    Stage     `json:"step,omitempty"`
	Message string    `json:"message"`
	Count   int       `json:"count"`
	Time    time.Time `json:"time"`
}

// Terminal reports whether no event follows e.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventError
}

// ProgressSink receives the events of a run. Emit must not block for long.
type ProgressSink interface {
	Emit(ctx context.Context, e Event)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ctx context.Context, e Event)

// Emit implements ProgressSink.
func (f ProgressFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}
