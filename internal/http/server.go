// Package http provides the seer HTTP API: synchronous retrieval,
// asynchronous jobs with SSE progress streams, and delivery recording.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/delivery"
	"github.com/fyrsmithlabs/seer/internal/jobs"
	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/normalize"
	"github.com/fyrsmithlabs/seer/internal/pipeline"
	"github.com/fyrsmithlabs/seer/internal/ranking"
)

const defaultHeartbeat = 30 * time.Second

// Pipeline runs retrievals. *pipeline.Orchestrator implements it.
type Pipeline interface {
	Run(ctx context.Context, profile ranking.UserProfile, plan pipeline.QueryPlan, opts ...pipeline.RunOption) (*pipeline.Result, error)
	ProviderNames() []string
}

// Server provides HTTP endpoints for seer.
type Server struct {
	echo     *echo.Echo
	pipeline Pipeline
	store    delivery.Store
	jobs     *jobs.Registry
	logger   *logging.Logger
	metrics  *serverMetrics
	config   *Config

	// ctx outlives requests and bounds asynchronous jobs.
	ctx    context.Context
	cancel context.CancelFunc

	// closing ends open event streams when shutdown begins.
	closing   chan struct{}
	closeOnce sync.Once
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
	// HeartbeatInterval spaces SSE keep-alive comments. Defaults to 30s.
	HeartbeatInterval time.Duration
}

// NewServer creates a new HTTP server. store may be nil, in which case
// POST /api/v1/deliveries answers 503.
func NewServer(p Pipeline, store delivery.Store, registry *jobs.Registry, logger *logging.Logger, cfg *Config) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("job registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics, err := newServerMetrics(otel.Meter(instrumentationName))
	if err != nil {
		logger.Warn(context.Background(), "http metrics unavailable", zap.Error(err))
		metrics, _ = newServerMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:     e,
		pipeline: p,
		store:    store,
		jobs:     registry,
		logger:   logger,
		metrics:  metrics,
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
		closing:  make(chan struct{}),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	e.Use(s.metrics.middleware)

	s.registerRoutes()
	return s, nil
}

// requestLogger puts the request ID on the request context and logs each
// request once it completes.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		if logging.ValidateID(rid, "requestID") == nil {
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), rid)))
		}

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/retrieve", s.handleRetrieve)
	v1.POST("/jobs", s.handleCreateJob)
	v1.GET("/jobs/:id", s.handleGetJob)
	v1.GET("/jobs/:id/stream", s.handleStream)
	v1.POST("/deliveries", s.handleDeliveries)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   s.config.Version,
		Providers: s.pipeline.ProviderNames(),
		Jobs:      s.jobs.Len(),
	})
}

func (s *Server) bindRetrieve(c echo.Context) (RetrieveRequest, error) {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid retrieve request", zap.Error(err))
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := req.QueryPlan.Validate(); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Profile.UserID != "" {
		if err := logging.ValidateID(req.Profile.UserID, "user_id"); err != nil {
			return req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return req, nil
}

// handleRetrieve runs the pipeline synchronously. The run is also recorded
// as a job so its documents can be referenced by POST /api/v1/deliveries.
func (s *Server) handleRetrieve(c echo.Context) error {
	req, err := s.bindRetrieve(c)
	if err != nil {
		return err
	}
	ctx := logging.WithUserID(c.Request().Context(), req.Profile.UserID)

	jobID := s.jobs.Create(req.Profile.UserID)
	s.metrics.jobStarted(ctx, modeSync)
	res, runErr := s.pipeline.Run(ctx, req.Profile, req.QueryPlan,
		pipeline.WithProgress(s.jobs.Sink(jobID)),
		pipeline.WithRunID(jobID))
	s.jobs.Finish(ctx, jobID, res, runErr)

	status, err := runStatus(runErr)
	if err != nil {
		return err
	}
	resp := RetrieveResponse{JobID: jobID, Result: res}
	if res != nil {
		resp.Degraded = res.Degraded()
	}
	if runErr != nil {
		resp.Error = runErr.Error()
	}
	return c.JSON(status, resp)
}

// runStatus maps a Run error to a response status. A non-nil error means
// there is no result body to send.
func runStatus(err error) (int, error) {
	var aborted *pipeline.PipelineAbortedError
	var stageErr *pipeline.StageError
	switch {
	case err == nil:
		return http.StatusOK, nil
	case errors.Is(err, pipeline.ErrInvalidPlan):
		return 0, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &aborted):
		return 0, echo.NewHTTPError(http.StatusServiceUnavailable, "run aborted")
	case errors.Is(err, pipeline.ErrProviderUnavailable):
		return http.StatusBadGateway, nil
	case errors.Is(err, pipeline.ErrBudgetExceeded):
		return http.StatusGatewayTimeout, nil
	case errors.As(err, &stageErr):
		return http.StatusInternalServerError, nil
	default:
		return 0, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// handleCreateJob starts an asynchronous run and returns its job ID.
func (s *Server) handleCreateJob(c echo.Context) error {
	req, err := s.bindRetrieve(c)
	if err != nil {
		return err
	}

	jobID := s.jobs.Create(req.Profile.UserID)
	ctx := logging.WithUserID(s.ctx, req.Profile.UserID)
	if rid := logging.RequestIDFromContext(c.Request().Context()); rid != "" {
		ctx = logging.WithRequestID(ctx, rid)
	}
	s.metrics.jobStarted(ctx, modeAsync)
	s.jobs.Go(ctx, jobID, func(ctx context.Context, sink pipeline.ProgressSink) (*pipeline.Result, error) {
		return s.pipeline.Run(ctx, req.Profile, req.QueryPlan,
			pipeline.WithProgress(sink),
			pipeline.WithRunID(jobID))
	})

	s.logger.Info(ctx, "job accepted", zap.String("job_id", jobID))
	return c.JSON(http.StatusAccepted, JobAccepted{
		JobID:     jobID,
		State:     jobs.StatePending,
		StatusURL: "/api/v1/jobs/" + jobID,
		StreamURL: "/api/v1/jobs/" + jobID + "/stream",
	})
}

func (s *Server) handleGetJob(c echo.Context) error {
	job, err := s.jobs.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}

// handleDeliveries records what a user was shown, either documents of a
// finished job or documents described in the request.
func (s *Server) handleDeliveries(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "delivery store not configured")
	}
	var req DeliveryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid delivery request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := logging.ValidateID(req.UserID, "user_id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := logging.WithUserID(c.Request().Context(), req.UserID)

	var docs []ranking.RankedDocument
	var missing []string
	switch {
	case req.JobID != "":
		job, err := s.jobs.Get(req.JobID)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		if job.UserID != "" && job.UserID != req.UserID {
			return echo.NewHTTPError(http.StatusForbidden, "job belongs to another user")
		}
		if job.Result == nil {
			return echo.NewHTTPError(http.StatusConflict, "job has no result")
		}
		docs, missing = selectDocuments(job.Result.Documents, req.DocumentIDs)
	case len(req.Documents) > 0:
		docs = describedDocuments(req.Documents)
	}
	if len(docs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no documents to record")
	}

	at := time.Now()
	if req.DeliveredAt != nil {
		at = *req.DeliveredAt
	}
	conf, err := s.store.Record(ctx, req.UserID, docs, at)
	if err != nil {
		s.logger.Error(ctx, "recording delivery failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "recording delivery failed")
	}
	return c.JSON(http.StatusCreated, DeliveryResponse{Confirmation: conf, Missing: missing})
}

// selectDocuments picks docs by ID, all of them when ids is empty, and
// reports the IDs that matched nothing.
func selectDocuments(docs []ranking.RankedDocument, ids []string) (selected []ranking.RankedDocument, missing []string) {
	if len(ids) == 0 {
		return docs, nil
	}
	byID := make(map[string]ranking.RankedDocument, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			selected = append(selected, d)
		} else {
			missing = append(missing, id)
		}
	}
	return selected, missing
}

func describedDocuments(in []DeliveryDocument) []ranking.RankedDocument {
	docs := make([]ranking.RankedDocument, 0, len(in))
	for _, d := range in {
		if d.URL == "" && d.ID == "" {
			continue
		}
		id := d.ID
		if id == "" {
			id = d.URL
		}
		docs = append(docs, ranking.NewRankedDocument(normalize.Document{
			ID:        id,
			URL:       d.URL,
			Title:     d.Title,
			Domain:    normalize.ExtractDomain(d.URL),
			Embedding: d.Embedding,
		}))
	}
	return docs
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(s.ctx, "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown stops accepting requests, then waits for running jobs until ctx
// expires, at which point they are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	s.closeOnce.Do(func() { close(s.closing) })
	err := s.echo.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn(ctx, "cancelling running jobs")
		s.cancel()
		<-done
	}
	s.cancel()
	return err
}
