// Package jobs tracks asynchronous pipeline runs.
//
// A Registry keeps each job's state, its progress events and its final
// result in a bounded LRU. Events are fanned out to in-process subscribers
// (the SSE stream) and, when a NATS connection is configured, published to
//
//	{prefix}.{user_id}.{job_id}.{event}
//
// so other processes can follow a run.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/pipeline"
)

const (
	DefaultSize          = 256
	DefaultSubjectPrefix = "seer.jobs"

	subscriberBuffer = 64
	anonymousUser    = "anonymous"
)

// ErrNotFound is returned for unknown or evicted job IDs.
var ErrNotFound = errors.New("job not found")

// State is the lifecycle state of a job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Finished reports whether the job can no longer change.
func (s State) Finished() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is a snapshot of one asynchronous run.
type Job struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	State     State            `json:"state"`
	Events    []pipeline.Event `json:"events"`
	Result    *pipeline.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type entry struct {
	job  Job
	subs map[int]chan pipeline.Event
}

// Options configures a Registry.
type Options struct {
	// Size bounds how many jobs are remembered. Defaults to DefaultSize.
	Size int
	// Conn publishes events to NATS when set.
	Conn          *nats.Conn
	SubjectPrefix string
	Logger        *logging.Logger
	Now           func() time.Time
}

// Registry stores jobs. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	jobs    *lru.Cache[string, *entry]
	nextSub int

	nc     *nats.Conn
	prefix string
	logger *logging.Logger
	now    func() time.Time

	wg sync.WaitGroup
}

// New creates a Registry.
func New(opts Options) (*Registry, error) {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = DefaultSubjectPrefix
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	// Evicted jobs release their subscribers. The callback runs inside
	// Add, which is only called with r.mu held.
	cache, err := lru.NewWithEvict(opts.Size, func(_ string, e *entry) {
		e.closeSubscribers()
	})
	if err != nil {
		return nil, fmt.Errorf("creating job cache: %w", err)
	}
	return &Registry{
		jobs:   cache,
		nc:     opts.Conn,
		prefix: strings.TrimSuffix(opts.SubjectPrefix, "."),
		logger: opts.Logger,
		now:    opts.Now,
	}, nil
}

// Create registers a pending job for userID and returns its ID.
func (r *Registry) Create(userID string) string {
	now := r.now()
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs.Add(id, &entry{
		job: Job{
			ID:        id,
			UserID:    userID,
			State:     StatePending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		subs: make(map[int]chan pipeline.Event),
	})
	return id
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs.Peek(id)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.snapshot(), nil
}

// Len returns the number of remembered jobs.
func (r *Registry) Len() int {
	return r.jobs.Len()
}

// Emit appends e to the job's event log, forwards it to subscribers and
// publishes it to NATS. Events for unknown jobs are dropped.
func (r *Registry) Emit(ctx context.Context, id string, e pipeline.Event) {
	if e.Time.IsZero() {
		e.Time = r.now()
	}

	r.mu.Lock()
	ent, ok := r.jobs.Peek(id)
	if !ok || ent.job.State.Finished() {
		r.mu.Unlock()
		return
	}
	ent.job.Events = append(ent.job.Events, e)
	ent.job.UpdatedAt = e.Time
	if ent.job.State == StatePending {
		ent.job.State = StateRunning
	}
	for _, ch := range ent.subs {
		select {
		case ch <- e:
		default:
			// slow subscriber; it still receives the final state on close
		}
	}
	userID := ent.job.UserID
	r.mu.Unlock()

	r.publish(ctx, userID, id, e)
}

// Sink returns a pipeline.ProgressSink that records events on job id.
func (r *Registry) Sink(id string) pipeline.ProgressSink {
	return pipeline.ProgressFunc(func(ctx context.Context, e pipeline.Event) {
		r.Emit(ctx, id, e)
	})
}

// Finish stores the run outcome and closes every subscription. A job whose
// run never emitted a terminal event gets one appended here.
func (r *Registry) Finish(ctx context.Context, id string, res *pipeline.Result, runErr error) {
	now := r.now()

	r.mu.Lock()
	ent, ok := r.jobs.Peek(id)
	if !ok || ent.job.State.Finished() {
		r.mu.Unlock()
		return
	}
	var final *pipeline.Event
	if n := len(ent.job.Events); n == 0 || !ent.job.Events[n-1].Terminal() {
		e := pipeline.Event{Type: pipeline.EventCompleted, Step: pipeline.StageDone, Message: "job finished", Time: now}
		if runErr != nil {
			e = pipeline.Event{Type: pipeline.EventError, Message: runErr.Error(), Time: now}
		}
		ent.job.Events = append(ent.job.Events, e)
		final = &e
	}
	ent.job.Result = res
	ent.job.UpdatedAt = now
	ent.job.State = StateCompleted
	if runErr != nil {
		ent.job.State = StateFailed
		ent.job.Error = runErr.Error()
	}
	if final != nil {
		for _, ch := range ent.subs {
			select {
			case ch <- *final:
			default:
			}
		}
	}
	ent.closeSubscribers()
	userID, state := ent.job.UserID, ent.job.State
	r.mu.Unlock()

	if final != nil {
		r.publish(ctx, userID, id, *final)
	}
	r.logger.Info(ctx, "job finished", zap.String("job_id", id), zap.String("state", string(state)))
}

// Subscribe returns the events recorded so far and a channel carrying the
// ones that follow. The channel is closed when the job finishes or is
// evicted; it is already closed for a finished job. cancel releases the
// subscription early.
func (r *Registry) Subscribe(id string) (past []pipeline.Event, live <-chan pipeline.Event, cancel func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.jobs.Peek(id)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	past = append([]pipeline.Event(nil), ent.job.Events...)
	ch := make(chan pipeline.Event, subscriberBuffer)
	if ent.job.State.Finished() {
		close(ch)
		return past, ch, func() {}, nil
	}

	key := r.nextSub
	r.nextSub++
	ent.subs[key] = ch
	cancel = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := ent.subs[key]; ok {
			delete(ent.subs, key)
			close(c)
		}
	}
	return past, ch, cancel, nil
}

// Go runs fn for job id on its own goroutine and records its outcome.
// ctx bounds the run; Wait blocks until every started run returns.
func (r *Registry) Go(ctx context.Context, id string, fn func(ctx context.Context, sink pipeline.ProgressSink) (*pipeline.Result, error)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		res, err := fn(ctx, r.Sink(id))
		r.Finish(ctx, id, res, err)
	}()
}

// Wait blocks until every run started with Go has finished.
func (r *Registry) Wait() {
	r.wg.Wait()
}

type message struct {
	JobID  string         `json:"job_id"`
	UserID string         `json:"user_id"`
	Event  pipeline.Event `json:"event"`
}

// Subject returns the NATS subject an event of type t for the job is
// published on.
func (r *Registry) Subject(userID, jobID string, t pipeline.EventType) string {
	return fmt.Sprintf("%s.%s.%s.%s", r.prefix, subjectToken(userID), jobID, t)
}

func (r *Registry) publish(ctx context.Context, userID, jobID string, e pipeline.Event) {
	if r.nc == nil {
		return
	}
	data, err := json.Marshal(message{JobID: jobID, UserID: userID, Event: e})
	if err != nil {
		r.logger.Warn(ctx, "marshal job event", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if err := r.nc.Publish(r.Subject(userID, jobID, e.Type), data); err != nil {
		r.logger.Warn(ctx, "publish job event",
			zap.String("job_id", jobID),
			zap.String("event", string(e.Type)),
			zap.Error(err))
	}
}

// subjectToken makes s safe to use as a single NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return anonymousUser
	}
	return strings.Map(func(c rune) rune {
		switch c {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return c
	}, s)
}

func (e *entry) snapshot() Job {
	j := e.job
	j.Events = append([]pipeline.Event(nil), e.job.Events...)
	return j
}

func (e *entry) closeSubscribers() {
	for k, ch := range e.subs {
		delete(e.subs, k)
		close(ch)
	}
}
