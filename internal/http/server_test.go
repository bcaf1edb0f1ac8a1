package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/seer/internal/delivery"
	"github.com/fyrsmithlabs/seer/internal/jobs"
	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/pipeline"
	"github.com/fyrsmithlabs/seer/internal/ranking"
	"github.com/fyrsmithlabs/seer/internal/search"
)

type stubProvider struct {
	name string
	err  error
	// release, when set, holds Search until it is closed
	release chan struct{}
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Search(ctx context.Context, _ string, count int, _ search.Constraints) ([]search.SearchResult, error) {
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	out := make([]search.SearchResult, 0, count)
	for i := 0; i < min(count, 6); i++ {
		out = append(out, search.SearchResult{
			Title:         fmt.Sprintf("%s result %d", p.name, i+1),
			URL:           fmt.Sprintf("https://%s.example.com/story-%d", p.name, i+1),
			Text:          "AI infrastructure funding news",
			PublishedDate: time.Now().Add(-time.Duration(i+1) * time.Hour).Format(time.RFC3339),
			Score:         search.RankScore(i + 1),
			ScoreSource:   search.ScoreRank,
			Provider:      p.name,
		})
	}
	return out, nil
}

type testServer struct {
	*Server
	store *delivery.MemoryStore
}

func setupTestServer(t *testing.T, providers ...search.Provider) *testServer {
	t.Helper()
	if len(providers) == 0 {
		providers = []search.Provider{&stubProvider{name: "exa"}, &stubProvider{name: "perplexity"}}
	}
	scorer, err := ranking.NewScorer(ranking.DefaultWeights(), 0, ranking.NewAuthorityTable(ranking.DefaultAuthority), time.Now)
	require.NoError(t, err)
	store := delivery.NewMemoryStore(7 * 24 * time.Hour)

	orch, err := pipeline.New(pipeline.Deps{
		Providers: providers,
		Scorer:    scorer,
		Store:     store,
	}, pipeline.Settings{FinalCount: 5})
	require.NoError(t, err)

	registry, err := jobs.New(jobs.Options{})
	require.NoError(t, err)

	s, err := NewServer(orch, store, registry, logging.NewNop(), &Config{
		Host:              "localhost",
		Port:              0,
		Version:           "test",
		HeartbeatInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return &testServer{Server: s, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func retrieveBody(userID string, numResults int) map[string]any {
	return map[string]any{
		"profile":     map[string]any{"user_id": userID, "role": "CTO", "interests": []string{"AI infrastructure"}},
		"queries":     []string{"AI infrastructure funding"},
		"num_results": numResults,
	}
}

func TestNewServer(t *testing.T) {
	registry, err := jobs.New(jobs.Options{})
	require.NoError(t, err)
	orch := setupTestServer(t).pipeline

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(orch, nil, registry, logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9090, server.config.Port)
		assert.Equal(t, defaultHeartbeat, server.config.HeartbeatInterval)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(orch, nil, registry, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when pipeline is nil", func(t *testing.T) {
		_, err := NewServer(nil, nil, registry, logging.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pipeline cannot be nil")
	})

	t.Run("returns error when registry is nil", func(t *testing.T) {
		_, err := NewServer(orch, nil, nil, logging.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "job registry cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, []string{"exa", "perplexity"}, resp.Providers)
}

func TestHandleMetrics(t *testing.T) {
	server := setupTestServer(t)
	server.do(t, http.MethodPost, "/api/v1/retrieve", retrieveBody("u1", 10))

	rec := server.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "seer_pipeline_runs_total")
}

func TestHandleRetrieve(t *testing.T) {
	t.Run("returns ranked documents", func(t *testing.T) {
		server := setupTestServer(t)

		rec := server.do(t, http.MethodPost, "/api/v1/retrieve", retrieveBody("u1", 10))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp RetrieveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.JobID)
		assert.False(t, resp.Degraded)
		require.NotNil(t, resp.Result)
		assert.Len(t, resp.Result.Documents, 5)
		for i, d := range resp.Result.Documents {
			assert.Equal(t, i+1, d.Rank)
		}

		job, err := server.jobs.Get(resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StateCompleted, job.State)
	})

	validation := []struct {
		name string
		body any
		want string
	}{
		{"no queries", map[string]any{"queries": []string{" "}}, "at least one query"},
		{"too few results", retrieveBody("u1", 4), "num_results"},
		{"too many results", retrieveBody("u1", 51), "num_results"},
		{"invalid user id", retrieveBody("bad user!", 10), "user_id"},
	}
	for _, tt := range validation {
		t.Run(tt.name, func(t *testing.T) {
			server := setupTestServer(t)
			rec := server.do(t, http.MethodPost, "/api/v1/retrieve", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}

	t.Run("handles invalid json", func(t *testing.T) {
		server := setupTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/retrieve", strings.NewReader("invalid json"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("all providers failing is a bad gateway", func(t *testing.T) {
		boom := errors.New("upstream down")
		server := setupTestServer(t,
			&stubProvider{name: "exa", err: boom},
			&stubProvider{name: "perplexity", err: boom})

		rec := server.do(t, http.MethodPost, "/api/v1/retrieve", retrieveBody("u1", 10))
		assert.Equal(t, http.StatusBadGateway, rec.Code)

		var resp RetrieveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp.Error, "provider unavailable")
		assert.True(t, resp.Degraded)
	})

	t.Run("one failing provider degrades", func(t *testing.T) {
		server := setupTestServer(t,
			&stubProvider{name: "exa"},
			&stubProvider{name: "perplexity", err: errors.New("rate limited")})

		rec := server.do(t, http.MethodPost, "/api/v1/retrieve", retrieveBody("u1", 10))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RetrieveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Degraded)
		require.Len(t, resp.Result.ProviderErrors, 1)
		assert.Equal(t, "perplexity", resp.Result.ProviderErrors[0].Provider)
	})
}

func TestRunStatus(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    int
		httpErr int
	}{
		{"success", nil, http.StatusOK, 0},
		{"invalid plan", fmt.Errorf("%w: bad", pipeline.ErrInvalidPlan), 0, http.StatusBadRequest},
		{"aborted", &pipeline.PipelineAbortedError{Stage: pipeline.StageSearch, Err: context.Canceled}, 0, http.StatusServiceUnavailable},
		{"providers down", &pipeline.StageError{Stage: pipeline.StageSearch, Err: pipeline.ErrProviderUnavailable}, http.StatusBadGateway, 0},
		{"budget", &pipeline.StageError{Stage: pipeline.StageRerank, Err: pipeline.ErrBudgetExceeded}, http.StatusGatewayTimeout, 0},
		{"other stage", &pipeline.StageError{Stage: pipeline.StageFuse, Err: errors.New("x")}, http.StatusInternalServerError, 0},
		{"unknown", errors.New("x"), 0, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := runStatus(tt.err)
			if tt.httpErr != 0 {
				var he *echo.HTTPError
				require.ErrorAs(t, err, &he)
				assert.Equal(t, tt.httpErr, he.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestJobs(t *testing.T) {
	t.Run("create then poll", func(t *testing.T) {
		server := setupTestServer(t)

		rec := server.do(t, http.MethodPost, "/api/v1/jobs", retrieveBody("u1", 10))
		require.Equal(t, http.StatusAccepted, rec.Code)
		var accepted JobAccepted
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
		assert.Equal(t, jobs.StatePending, accepted.State)
		assert.Equal(t, "/api/v1/jobs/"+accepted.JobID+"/stream", accepted.StreamURL)

		server.jobs.Wait()

		rec = server.do(t, http.MethodGet, accepted.StatusURL, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var job jobs.Job
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		assert.Equal(t, jobs.StateCompleted, job.State)
		require.NotNil(t, job.Result)
		assert.Equal(t, accepted.JobID, job.Result.RunID)
		assert.NotEmpty(t, job.Events)
	})

	t.Run("unknown job", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(t, http.MethodGet, "/api/v1/jobs/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = server.do(t, http.MethodGet, "/api/v1/jobs/nope/stream", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid request", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, resp *http.Response) (events []sseEvent, heartbeats int) {
	t.Helper()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var cur sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == ": heartbeat":
			heartbeats++
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.name != "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	return events, heartbeats
}

func TestHandleStream(t *testing.T) {
	release := make(chan struct{})
	server := setupTestServer(t,
		&stubProvider{name: "exa", release: release},
		&stubProvider{name: "perplexity", release: release})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	rec := server.do(t, http.MethodPost, "/api/v1/jobs", retrieveBody("u1", 10))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted JobAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	resp, err := http.Get(ts.URL + accepted.StreamURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	time.AfterFunc(50*time.Millisecond, func() { close(release) })
	events, heartbeats := readEvents(t, resp)

	assert.Positive(t, heartbeats)
	require.NotEmpty(t, events)
	assert.Equal(t, "started", events[0].name)

	last := events[len(events)-1]
	assert.Equal(t, resultEvent, last.name)
	var job jobs.Job
	require.NoError(t, json.Unmarshal([]byte(last.data), &job))
	assert.Equal(t, jobs.StateCompleted, job.State)

	var steps []string
	for _, e := range events {
		if e.name == "progress" {
			var pe pipeline.Event
			require.NoError(t, json.Unmarshal([]byte(e.data), &pe))
			steps = append(steps, string(pe.Step))
		}
	}
	assert.Contains(t, steps, "search")
	assert.Contains(t, steps, "novelty")
	assert.Equal(t, "completed", events[len(events)-2].name)
}

func TestHandleStream_ReplaysFinishedJob(t *testing.T) {
	server := setupTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	rec := server.do(t, http.MethodPost, "/api/v1/jobs", retrieveBody("u1", 10))
	var accepted JobAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	server.jobs.Wait()

	resp, err := http.Get(ts.URL + accepted.StreamURL)
	require.NoError(t, err)
	defer resp.Body.Close()

	events, _ := readEvents(t, resp)
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "started", events[0].name)
	assert.Equal(t, resultEvent, events[len(events)-1].name)
}

func TestHandleDeliveries(t *testing.T) {
	t.Run("records documents of a job", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(t, http.MethodPost, "/api/v1/retrieve", retrieveBody("u1", 10))
		require.Equal(t, http.StatusOK, rec.Code)
		var run RetrieveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
		first := run.Result.Documents[0].ID

		rec = server.do(t, http.MethodPost, "/api/v1/deliveries", DeliveryRequest{
			UserID:      "u1",
			JobID:       run.JobID,
			DocumentIDs: []string{first, "missing-doc"},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp DeliveryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, []string{"missing-doc"}, resp.Missing)

		recent, err := server.store.Recent(context.Background(), "u1", time.Now().Add(-time.Hour))
		require.NoError(t, err)
		require.Equal(t, 1, recent.Len())
		assert.Equal(t, first, recent.Items[0].DocumentID)
	})

	t.Run("records described documents", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(t, http.MethodPost, "/api/v1/deliveries", DeliveryRequest{
			UserID: "u2",
			Documents: []DeliveryDocument{
				{URL: "https://example.com/a", Embedding: []float32{1, 0}},
				{ID: "b", URL: "https://example.com/b"},
				{},
			},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var resp DeliveryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("rejects another user's job", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(t, http.MethodPost, "/api/v1/retrieve", retrieveBody("owner", 10))
		var run RetrieveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

		rec = server.do(t, http.MethodPost, "/api/v1/deliveries", DeliveryRequest{UserID: "intruder", JobID: run.JobID})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	bad := []struct {
		name string
		req  DeliveryRequest
		want int
	}{
		{"missing user", DeliveryRequest{Documents: []DeliveryDocument{{URL: "https://x.com"}}}, http.StatusBadRequest},
		{"no documents", DeliveryRequest{UserID: "u"}, http.StatusBadRequest},
		{"unknown job", DeliveryRequest{UserID: "u", JobID: "nope"}, http.StatusNotFound},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			server := setupTestServer(t)
			rec := server.do(t, http.MethodPost, "/api/v1/deliveries", tt.req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	t.Run("no store configured", func(t *testing.T) {
		base := setupTestServer(t)
		registry, err := jobs.New(jobs.Options{})
		require.NoError(t, err)
		s, err := NewServer(base.pipeline, nil, registry, logging.NewNop(), nil)
		require.NoError(t, err)

		srv := &testServer{Server: s}
		rec := srv.do(t, http.MethodPost, "/api/v1/deliveries", DeliveryRequest{UserID: "u"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestServerLifecycle(t *testing.T) {
	server := setupTestServer(t)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
