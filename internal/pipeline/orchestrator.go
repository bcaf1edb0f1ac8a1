package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/seer/internal/delivery"
	"github.com/fyrsmithlabs/seer/internal/embeddings"
	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/normalize"
	"github.com/fyrsmithlabs/seer/internal/novelty"
	"github.com/fyrsmithlabs/seer/internal/ranking"
	"github.com/fyrsmithlabs/seer/internal/reranker"
	"github.com/fyrsmithlabs/seer/internal/search"
)

const instrumentationName = "github.com/fyrsmithlabs/seer/internal/pipeline"

// tracer resolves against the current global provider on every run.
func tracer() trace.Tracer { return otel.Tracer(instrumentationName) }

const (
	defaultNoveltyWindow  = 7 * 24 * time.Hour
	defaultFinalCount     = 10
	maxConcurrentSearches = 8
)

// Deps are the collaborators of an Orchestrator. Embedder and Store may be
// nil: without an embedder MMR and novelty see no embeddings, without a
// store novelty runs against an empty history.
type Deps struct {
	Providers []search.Provider
	Scorer    *ranking.Scorer
	Reranker  reranker.Reranker
	Embedder  embeddings.Provider
	Store     delivery.Store
	Logger    *logging.Logger
	Now       func() time.Time
}

// Orchestrator runs the retrieval and ranking stages for one profile.
// It is safe for concurrent use.
type Orchestrator struct {
	providers  []search.Provider
	normalizer *normalize.Normalizer
	scorer     *ranking.Scorer
	reranker   reranker.Reranker
	embedder   embeddings.Provider
	store      delivery.Store
	settings   Settings
	logger     *logging.Logger
	metrics    *Metrics
	now        func() time.Time
	closers    []func() error
}

// New validates deps and fills unset settings with their defaults.
func New(deps Deps, settings Settings) (*Orchestrator, error) {
	if len(deps.Providers) == 0 {
		return nil, fmt.Errorf("%w: no search provider configured", ErrFatalConfiguration)
	}
	if deps.Scorer == nil {
		return nil, fmt.Errorf("%w: heuristic scorer is required", ErrFatalConfiguration)
	}
	if deps.Reranker == nil {
		deps.Reranker = reranker.Passthrough{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	if settings.RRFK <= 0 {
		settings.RRFK = ranking.DefaultRRFK
	}
	if settings.MMRLambda < 0 || settings.MMRLambda > 1 {
		settings.MMRLambda = ranking.DefaultMMRLambda
	}
	if settings.FinalCount <= 0 {
		settings.FinalCount = defaultFinalCount
	}
	if settings.NoveltyThreshold <= 0 {
		settings.NoveltyThreshold = novelty.DefaultThreshold
	}
	if settings.NoveltyWindow <= 0 {
		settings.NoveltyWindow = defaultNoveltyWindow
	}
	if settings.DefaultResults == 0 {
		settings.DefaultResults = DefaultNumResults
	}

	return &Orchestrator{
		providers:  deps.Providers,
		normalizer: normalize.New(deps.Now, deps.Logger),
		scorer:     deps.Scorer,
		reranker:   deps.Reranker,
		embedder:   deps.Embedder,
		store:      deps.Store,
		settings:   settings,
		logger:     deps.Logger,
		metrics:    NewMetrics(),
		now:        deps.Now,
	}, nil
}

// ProviderNames lists the configured search providers.
func (o *Orchestrator) ProviderNames() []string {
	names := make([]string, len(o.providers))
	for i, p := range o.providers {
		names[i] = p.Name()
	}
	return names
}

// Scorer returns the heuristic scorer.
func (o *Orchestrator) Scorer() *ranking.Scorer { return o.scorer }

// Store returns the delivery store, or nil.
func (o *Orchestrator) Store() delivery.Store { return o.store }

// Settings returns the effective settings.
func (o *Orchestrator) Settings() Settings { return o.settings }

// Close releases the embedder, the store and anything registered by Build.
func (o *Orchestrator) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		errs = append(errs, o.closers[i]())
	}
	return errors.Join(errs...)
}

// ProviderFailure records one failed provider call.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Query    string `json:"query"`
	Error    string `json:"error"`
}

// Result is the outcome of a run. After a StageError it holds the ranked
// output of the last stage that succeeded.
type Result struct {
	RunID           string                   `json:"run_id"`
	Documents       []ranking.RankedDocument `json:"documents"`
	Stage           Stage                    `json:"stage"`
	Warnings        []string                 `json:"warnings,omitempty"`
	Fallbacks       []string                 `json:"fallbacks,omitempty"`
	ProviderErrors  []ProviderFailure        `json:"provider_errors,omitempty"`
	StageTimings    map[Stage]time.Duration  `json:"stage_timings"`
	NoveltyDropped  int                      `json:"novelty_dropped"`
	NoveltyRestored int                      `json:"novelty_restored"`
	Err             *StageError              `json:"-"`
}

// Degraded reports whether the run lost quality to a failure or fallback.
func (r *Result) Degraded() bool {
	return len(r.Warnings) > 0 || len(r.Fallbacks) > 0 || len(r.ProviderErrors) > 0
}

type runOptions struct {
	sink  ProgressSink
	runID string
}

// RunOption customises one run.
type RunOption func(*runOptions)

// WithProgress sends the run's events to sink.
func WithProgress(sink ProgressSink) RunOption {
	return func(o *runOptions) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithRunID sets the run ID instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// Run executes search, normalize, heuristics, fuse, rerank, embed, mmr and
// novelty for profile.
//
// Provider failures, reranker fallbacks, missing embeddings and an
// unreadable delivery history degrade the result but do not fail the run.
// If every search call fails, or a run budget expires, Run returns the
// partial Result together with a *StageError. If ctx is cancelled Run
// returns (nil, *PipelineAbortedError).
func (o *Orchestrator) Run(ctx context.Context, profile ranking.UserProfile, plan QueryPlan, opts ...RunOption) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	ro := runOptions{sink: nopSink{}}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.runID == "" {
		ro.runID = uuid.NewString()
	}
	plan = plan.withDefaults(o.settings)

	ctx = logging.WithRunID(ctx, ro.runID)
	ctx = logging.WithUserID(ctx, profile.UserID)
	ctx, span := tracer().Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("run.id", ro.runID),
		attribute.Int("queries", len(plan.Queries)),
		attribute.Int("num_results", plan.NumResults),
	))
	defer span.End()

	budget := ctx
	if o.settings.Budgets.Run > 0 {
		var cancel context.CancelFunc
		budget, cancel = context.WithTimeout(ctx, o.settings.Budgets.Run)
		defer cancel()
	}

	r := &run{
		o:       o,
		ctx:     ctx,
		budget:  budget,
		sink:    ro.sink,
		profile: profile,
		plan:    plan,
		res: &Result{
			RunID:        ro.runID,
			Documents:    []ranking.RankedDocument{},
			StageTimings: make(map[Stage]time.Duration),
		},
	}

	o.logger.Info(ctx, "pipeline run started",
		zap.Strings("queries", plan.Queries),
		zap.Int("providers", len(o.providers)))
	r.emit(Event{Type: EventStarted, Message: fmt.Sprintf("searching %d queries across %d providers", len(plan.Queries), len(o.providers))})

	err := r.execute()

	// terminal events must reach the sink even when ctx is cancelled
	final := context.WithoutCancel(ctx)

	var aborted *PipelineAbortedError
	if errors.As(err, &aborted) {
		o.metrics.Runs.WithLabelValues("aborted").Inc()
		span.SetStatus(codes.Error, "aborted")
		o.logger.Info(final, "pipeline run aborted", zap.String("stage", string(aborted.Stage)), zap.Error(aborted.Err))
		r.sink.Emit(final, r.event(Event{Type: EventError, Step: aborted.Stage, Message: "run cancelled"}))
		return nil, err
	}

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		ranking.AssignRanks(r.res.Documents)
		r.res.Err = stageErr
		o.metrics.Runs.WithLabelValues("stage_error").Inc()
		span.RecordError(stageErr)
		span.SetStatus(codes.Error, stageErr.Error())
		o.logger.Error(final, "pipeline stage failed",
			zap.String("stage", string(stageErr.Stage)),
			zap.Int("partial_documents", len(r.res.Documents)),
			zap.Error(stageErr.Err))
		r.sink.Emit(final, r.event(Event{Type: EventError, Step: stageErr.Stage, Message: stageErr.Error(), Count: len(r.res.Documents)}))
		return r.res, stageErr
	}

	outcome := "success"
	if r.res.Degraded() {
		outcome = "degraded"
	}
	o.metrics.Runs.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.Int("documents", len(r.res.Documents)), attribute.String("outcome", outcome))
	o.logger.Info(final, "pipeline run completed",
		zap.Int("documents", len(r.res.Documents)),
		zap.Int("warnings", len(r.res.Warnings)),
		zap.Int("fallbacks", len(r.res.Fallbacks)),
		zap.String("outcome", outcome))
	r.sink.Emit(final, r.event(Event{Type: EventCompleted, Step: StageDone,
		Message: fmt.Sprintf("selected %d documents", len(r.res.Documents)), Count: len(r.res.Documents)}))
	return r.res, nil
}

// run holds the state of one Run call.
type run struct {
	o       *Orchestrator
	ctx     context.Context // caller's context
	budget  context.Context // ctx bounded by the run budget
	sink    ProgressSink
	profile ranking.UserProfile
	plan    QueryPlan
	res     *Result
}

func (r *run) execute() error {
	if err := r.interrupted(StageSearch); err != nil {
		return err
	}
	results, err := r.search()
	if err != nil {
		return err
	}

	if err := r.interrupted(StageNormalize); err != nil {
		return err
	}
	docs := r.normalize(results)

	ranked := r.heuristics(docs)

	if err := r.interrupted(StageFuse); err != nil {
		return err
	}
	fused := r.fuse(ranked)

	if err := r.interrupted(StageRerank); err != nil {
		return err
	}
	reranked, err := r.rerank(fused)
	if err != nil {
		return err
	}

	if err := r.interrupted(StageEmbed); err != nil {
		return err
	}
	r.embed(reranked)

	if err := r.interrupted(StageMMR); err != nil {
		return err
	}
	selected := r.mmr(reranked)

	if err := r.interrupted(StageNovelty); err != nil {
		return err
	}
	r.novelty(selected)

	r.res.Stage = StageDone
	return nil
}

// interrupted reports caller cancellation as an abort and an expired run
// budget as a StageError for stage.
func (r *run) interrupted(stage Stage) error {
	if err := r.ctx.Err(); err != nil {
		return &PipelineAbortedError{Stage: stage, Err: err}
	}
	if err := r.budget.Err(); err != nil {
		return &StageError{Stage: stage, Err: fmt.Errorf("%w: run exceeded %s: %w", ErrBudgetExceeded, r.o.settings.Budgets.Run, err)}
	}
	return nil
}

// stageSpan times one stage and owns its trace span.
type stageSpan struct {
	r     *run
	stage Stage
	span  trace.Span
	start time.Time
}

// begin starts the span and timer of stage.
func (r *run) begin(stage Stage) (context.Context, *stageSpan) {
	ctx, span := tracer().Start(r.budget, "pipeline."+string(stage))
	return ctx, &stageSpan{r: r, stage: stage, span: span, start: time.Now()}
}

// done marks the stage complete with count documents leaving it.
func (s *stageSpan) done(count int, message string) {
	d := time.Since(s.start)
	s.r.res.StageTimings[s.stage] = d
	s.r.res.Stage = s.stage
	s.r.o.metrics.StageDuration.WithLabelValues(string(s.stage)).Observe(d.Seconds())
	s.r.o.metrics.StageDocuments.WithLabelValues(string(s.stage)).Observe(float64(count))
	s.span.SetAttributes(attribute.Int("documents", count))
	s.span.End()
	s.r.emit(Event{Type: EventProgress, Step: s.stage, Message: message, Count: count})
}

// fail ends the stage without advancing Result.Stage.
func (s *stageSpan) fail(err error) {
	s.r.res.StageTimings[s.stage] = time.Since(s.start)
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
	s.span.End()
}

func (r *run) event(e Event) Event {
	if e.Time.IsZero() {
		e.Time = r.o.now()
	}
	return e
}

func (r *run) emit(e Event) {
	r.sink.Emit(r.ctx, r.event(e))
}

func (r *run) warn(stage Stage, message string) {
	r.res.Warnings = append(r.res.Warnings, fmt.Sprintf("%s: %s", stage, message))
	r.o.logger.Debug(r.ctx, "pipeline warning", zap.String("stage", string(stage)), zap.String("warning", message))
	r.emit(Event{Type: EventWarning, Step: stage, Message: message})
}

// setPartial records docs, best first, as the output of the last
// successful stage.
func (r *run) setPartial(docs []ranking.RankedDocument) {
	out := make([]ranking.RankedDocument, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].FinalScore > out[j].FinalScore })
	ranking.AssignRanks(out)
	r.res.Documents = out
}

func (r *run) search() (map[string][]search.SearchResult, error) {
	ctx, st := r.begin(StageSearch)

	type slot struct {
		results []search.SearchResult
		err     error
	}
	providers, queries := r.o.providers, r.plan.Queries
	slots := make([][]slot, len(providers))
	for i := range slots {
		slots[i] = make([]slot, len(queries))
	}
	count, constraints := r.plan.PerProvider(), r.plan.Constraints()
	timeout := r.o.settings.Budgets.SearchTimeout

	var g errgroup.Group
	g.SetLimit(maxConcurrentSearches)
	for pi, p := range providers {
		for qi, q := range queries {
			g.Go(func() error {
				callCtx := ctx
				if timeout > 0 {
					var cancel context.CancelFunc
					callCtx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				results, err := p.Search(callCtx, q, count, constraints)
				if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
					err = fmt.Errorf("%w: %s exceeded the %s search budget: %w", ErrBudgetExceeded, p.Name(), timeout, err)
				}
				slots[pi][qi] = slot{results: results, err: err}
				// failures stay in their slot so siblings keep running
				return nil
			})
		}
	}
	_ = g.Wait()

	if err := r.interrupted(StageSearch); err != nil {
		st.fail(err)
		return nil, err
	}

	out := make(map[string][]search.SearchResult, len(providers))
	var (
		errs      []error
		succeeded int
		total     int
	)
	for pi, p := range providers {
		for qi, q := range queries {
			s := slots[pi][qi]
			if s.err != nil {
				errs = append(errs, s.err)
				r.providerFailed(p.Name(), q, s.err)
				continue
			}
			succeeded++
			total += len(s.results)
			out[p.Name()] = append(out[p.Name()], s.results...)
		}
	}

	if succeeded == 0 {
		err := &StageError{Stage: StageSearch, Err: fmt.Errorf("%w: all %d search calls failed: %w",
			ErrProviderUnavailable, len(errs), errors.Join(errs...))}
		st.fail(err)
		return nil, err
	}

	if limit := r.o.settings.Budgets.SearchMaxItems; limit > 0 && total > limit {
		perProvider := (limit + len(out) - 1) / len(out)
		kept := 0
		for name, results := range out {
			if len(results) > perProvider {
				out[name] = results[:perProvider]
			}
			kept += len(out[name])
		}
		r.warn(StageSearch, fmt.Sprintf("%v: %d results truncated to %d", ErrBudgetExceeded, total, kept))
		total = kept
	}

	st.done(total, fmt.Sprintf("found %d results from %d providers", total, len(out)))
	return out, nil
}

// providerFailed logs a failed provider call exactly once and records it.
func (r *run) providerFailed(provider, query string, err error) {
	r.o.logger.Warn(r.ctx, "search provider failed",
		zap.String("provider", provider),
		zap.String("query", query),
		zap.Error(err))
	r.o.metrics.ProviderFailures.WithLabelValues(provider).Inc()
	r.res.ProviderErrors = append(r.res.ProviderErrors, ProviderFailure{Provider: provider, Query: query, Error: err.Error()})
	r.emit(Event{Type: EventWarning, Step: StageSearch, Message: fmt.Sprintf("%s failed: %v", provider, err)})
}

// normalize normalizes each provider's results separately so cross-provider
// duplicates survive until fusion merges them.
func (r *run) normalize(results map[string][]search.SearchResult) []normalize.Document {
	ctx, st := r.begin(StageNormalize)
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var docs []normalize.Document
	for _, name := range names {
		docs = append(docs, r.o.normalizer.NormalizeBatch(ctx, results[name])...)
	}
	st.done(len(docs), fmt.Sprintf("normalized %d documents", len(docs)))
	return docs
}

func (r *run) heuristics(docs []normalize.Document) []ranking.RankedDocument {
	_, st := r.begin(StageHeuristics)
	ranked := r.o.scorer.ScoreAll(docs, r.profile)
	r.setPartial(ranked)
	st.done(len(ranked), fmt.Sprintf("scored %d documents", len(ranked)))
	return ranked
}

func (r *run) fuse(ranked []ranking.RankedDocument) []ranking.RankedDocument {
	_, st := r.begin(StageFuse)
	fused := ranking.Fuse(ranking.ProviderRankings(ranked), r.o.settings.RRFK)
	if limit := r.o.settings.Budgets.FuseMaxItems; limit > 0 && len(fused) > limit {
		r.warn(StageFuse, fmt.Sprintf("%v: %d fused documents truncated to %d", ErrBudgetExceeded, len(fused), limit))
		fused = fused[:limit]
	}
	r.res.Documents = fused
	st.done(len(fused), fmt.Sprintf("fused into %d unique documents", len(fused)))
	return fused
}

func (r *run) rerank(fused []ranking.RankedDocument) ([]ranking.RankedDocument, error) {
	ctx, st := r.begin(StageRerank)
	res, err := r.o.reranker.Rerank(ctx, fused, r.profile)
	if err != nil {
		st.fail(err)
		if ierr := r.interrupted(StageRerank); ierr != nil {
			return nil, ierr
		}
		return nil, &StageError{Stage: StageRerank, Err: err}
	}
	if res.Fallback {
		r.o.metrics.RerankFallbacks.Inc()
		r.res.Fallbacks = append(r.res.Fallbacks, fmt.Sprintf("%s: %s", StageRerank, res.Reason))
		r.emit(Event{Type: EventWarning, Step: StageRerank, Message: "rerank fell back to fusion order: " + res.Reason})
	}
	r.res.Documents = res.Documents
	st.done(len(res.Documents), fmt.Sprintf("reranked %d documents with %s", len(res.Documents), r.o.reranker.Name()))
	return res.Documents, nil
}

// embed attaches embeddings in place. It is best effort: failures and the
// embed budget only leave documents without embeddings.
func (r *run) embed(docs []ranking.RankedDocument) {
	ctx, st := r.begin(StageEmbed)
	if r.o.embedder == nil {
		st.done(0, "embeddings disabled")
		return
	}
	if timeout := r.o.settings.Budgets.EmbedTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	n := embeddings.Attach(ctx, r.o.embedder, docs, r.o.logger)
	if n < len(docs) {
		msg := fmt.Sprintf("%d of %d documents have no embedding", len(docs)-n, len(docs))
		if r.ctx.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("%v: %s", ErrBudgetExceeded, msg)
		}
		r.warn(StageEmbed, msg)
	}
	st.done(n, fmt.Sprintf("embedded %d documents", n))
}

func (r *run) mmr(docs []ranking.RankedDocument) []ranking.RankedDocument {
	_, st := r.begin(StageMMR)
	selected := ranking.SelectMMR(docs, r.o.settings.FinalCount, r.o.settings.MMRLambda)
	r.res.Documents = selected
	st.done(len(selected), fmt.Sprintf("selected %d diverse documents", len(selected)))
	return selected
}

func (r *run) novelty(selected []ranking.RankedDocument) {
	ctx, st := r.begin(StageNovelty)
	recent := r.recent(ctx)

	minKeep := max(r.o.settings.MinResults, 1)
	if r.o.settings.AllowEmpty {
		minKeep = r.o.settings.MinResults
	}
	filtered := novelty.Filter(selected, recent, r.o.settings.NoveltyThreshold, minKeep)

	r.res.Documents = filtered.Kept
	r.res.NoveltyDropped = len(filtered.Dropped)
	r.res.NoveltyRestored = filtered.Restored
	st.done(len(filtered.Kept), fmt.Sprintf("kept %d documents, dropped %d already delivered", len(filtered.Kept), len(filtered.Dropped)))
}

// recent loads the user's delivery history. A missing store, an anonymous
// profile or a read failure yield an empty history.
func (r *run) recent(ctx context.Context) *delivery.RecentDeliverySet {
	since := r.o.now().Add(-r.o.settings.NoveltyWindow)
	empty := &delivery.RecentDeliverySet{UserID: r.profile.UserID, Since: since, Items: []delivery.DeliveredItem{}}
	if r.o.store == nil || r.profile.UserID == "" {
		return empty
	}
	set, err := r.o.store.Recent(ctx, r.profile.UserID, since)
	if err != nil {
		r.o.logger.Warn(r.ctx, "delivery history unavailable, novelty runs without it", zap.Error(err))
		r.warn(StageNovelty, "delivery history unavailable: "+err.Error())
		return empty
	}
	return set
}
