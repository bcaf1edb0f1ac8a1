package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/seer/internal/pipeline"
	"github.com/fyrsmithlabs/seer/internal/telemetry"
)

// callsByOutcome sums seer.mcp.tool.calls per tool/outcome pair.
func callsByOutcome(t *testing.T, rec *telemetry.Recorder) map[string]int64 {
	t.Helper()
	m, ok := rec.Metric(context.Background(), "seer.mcp.tool.calls")
	require.True(t, ok, "calls counter not recorded")
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		tool, _ := dp.Attributes.Value("tool")
		outcome, _ := dp.Attributes.Value("outcome")
		out[tool.AsString()+"/"+outcome.AsString()] += dp.Value
	}
	return out
}

func TestToolMetrics(t *testing.T) {
	rec := telemetry.Install(t)
	m, err := newToolMetrics(otel.Meter(instrumentationName))
	require.NoError(t, err)
	ctx := context.Background()

	m.begin(ctx, "retrieve_news").end(10, false, nil)
	m.begin(ctx, "retrieve_news").end(4, true, nil)
	m.begin(ctx, "retrieve_news").end(0, false, &pipeline.StageError{Stage: pipeline.StageSearch, Err: pipeline.ErrProviderUnavailable})
	m.begin(ctx, "explain_score").end(-1, false, nil)
	open := m.begin(ctx, "retrieve_news")

	assert.Equal(t, map[string]int64{
		"retrieve_news/ok":      1,
		"retrieve_news/partial": 1,
		"retrieve_news/error":   1,
		"explain_score/ok":      1,
	}, callsByOutcome(t, rec))

	inFlight, ok := rec.Metric(ctx, "seer.mcp.tool.in_flight")
	require.True(t, ok)
	var active int64
	for _, dp := range inFlight.Data.(metricdata.Sum[int64]).DataPoints {
		active += dp.Value
	}
	assert.Equal(t, int64(1), active)
	open.end(0, false, context.Canceled)

	docs, ok := rec.Metric(ctx, "seer.mcp.tool.documents")
	require.True(t, ok)
	hist := docs.Data.(metricdata.Histogram[int64])
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(4), hist.DataPoints[0].Count)
	assert.Equal(t, int64(14), hist.DataPoints[0].Sum)
	tool, _ := hist.DataPoints[0].Attributes.Value("tool")
	assert.Equal(t, "retrieve_news", tool.AsString())
}

func TestErrorReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"invalid plan", fmt.Errorf("%w: no queries", pipeline.ErrInvalidPlan), "invalid_request"},
		{"aborted", &pipeline.PipelineAbortedError{Stage: pipeline.StageSearch, Err: context.Canceled}, "aborted"},
		{"budget", &pipeline.StageError{Stage: pipeline.StageRerank, Err: pipeline.ErrBudgetExceeded}, "timeout"},
		{"providers down", &pipeline.StageError{Stage: pipeline.StageSearch, Err: pipeline.ErrProviderUnavailable}, "provider_unavailable"},
		{"configuration", fmt.Errorf("%w: no key", pipeline.ErrFatalConfiguration), "configuration"},
		{"missing argument", errors.New("url or title is required"), "invalid_request"},
		{"other", errors.New("store closed"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorReason(tt.err))
		})
	}
}
