package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/seer/internal/telemetry"
)

func installServerMetrics(t *testing.T) (*serverMetrics, *telemetry.Recorder) {
	t.Helper()
	rec := telemetry.Install(t)
	m, err := newServerMetrics(otel.Meter(instrumentationName))
	require.NoError(t, err)
	return m, rec
}

func sumByAttr(t *testing.T, rec *telemetry.Recorder, name, key string) map[string]int64 {
	t.Helper()
	m, ok := rec.Metric(context.Background(), name)
	require.True(t, ok, "%s not recorded", name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		label := ""
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok {
			label = v.Emit()
		}
		out[label] += dp.Value
	}
	return out
}

func TestServerMetrics_Middleware(t *testing.T) {
	m, rec := installServerMetrics(t)

	e := echo.New()
	e.Use(m.middleware)
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/api/v1/jobs/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})
	e.POST("/api/v1/retrieve", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "queries required")
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/api/v1/jobs/0b6c2d4e"},
		{http.MethodGet, "/api/v1/jobs/9f1a7c33"},
		{http.MethodPost, "/api/v1/retrieve"},
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.path, nil))
	}

	assert.Equal(t, map[string]int64{
		"/health":          1,
		"/api/v1/jobs/:id": 2,
		"/api/v1/retrieve": 1,
	}, sumByAttr(t, rec, "seer.http.requests", "route"))
	assert.Equal(t, map[string]int64{"200": 3, "400": 1},
		sumByAttr(t, rec, "seer.http.requests", "status"))
	assert.Equal(t, map[string]int64{"": 0}, sumByAttr(t, rec, "seer.http.in_flight", "route"))

	latency, ok := rec.Metric(context.Background(), "seer.http.duration")
	require.True(t, ok)
	var count uint64
	for _, dp := range latency.Data.(metricdata.Histogram[float64]).DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(4), count)
}

func TestServerMetrics_JobsAndStreams(t *testing.T) {
	m, rec := installServerMetrics(t)
	ctx := context.Background()

	m.jobStarted(ctx, modeSync)
	m.jobStarted(ctx, modeAsync)
	m.jobStarted(ctx, modeAsync)
	assert.Equal(t, map[string]int64{"sync": 1, "async": 2}, sumByAttr(t, rec, "seer.http.jobs", "mode"))

	closeFirst := m.streamOpened(ctx)
	m.streamOpened(ctx)
	closeFirst()
	assert.Equal(t, map[string]int64{"": 1}, sumByAttr(t, rec, "seer.http.streams", "mode"))
}

func TestRoutePath(t *testing.T) {
	e := echo.New()
	tests := []struct {
		path, want string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/api/v1/jobs/:id", "/api/v1/jobs/:id"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
			c.SetPath(tt.path)
			assert.Equal(t, tt.want, routePath(c))
		})
	}
}
